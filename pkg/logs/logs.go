package logs

import (
	"fmt"
	"log"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"
	"k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/component-base/featuregate"
	"k8s.io/component-base/logs"
	logsapi "k8s.io/component-base/logs/api/v1"

	_ "k8s.io/component-base/logs/json/register"
)

// veilart follows the Kubernetes logging conventions: klog text output by
// default, JSON on request, and arbitrary verbosity levels instead of named
// severities. Errors and warnings go to stderr, info to stdout, so that log
// collectors can tell them apart without parsing.

var (
	// Only the essential logging flags are visible. The hidden ones still
	// work, e.g. --log-text-split-stream=false.
	visibleFlagNames = sets.New[string]("v", "vmodule", "logging-format")
	// Updated with values from the logging flags, even the hidden ones.
	configuration = logsapi.NewLoggingConfiguration()
	// Logging features are registered here; the feature-gates flag is hidden.
	features = featuregate.NewFeatureGate()
)

const (
	// Standard log verbosity levels.
	// Use these instead of integers in veilart code.
	Info  = 0
	Debug = 1
	Trace = 2
)

func init() {
	runtime.Must(logsapi.AddFeatureGates(features))
	// Turn on ALPHA options to enable the split-stream logging options.
	runtime.Must(features.OverrideDefault(logsapi.LoggingAlphaOptions, true))
}

// flagTweaks adjusts the component-base logging flags for a CLI audience.
var flagTweaks = map[string]func(f *pflag.Flag){
	"logging-format": func(f *pflag.Flag) {
		f.Usage = `Sets the log format. Permitted formats: "json", "text".`
	},
	"log-text-split-stream": splitStreamOn,
	"log-json-split-stream": splitStreamOn,
	// --log-level reads better than --v on a CLI; -v stays as the shorthand.
	"v": func(f *pflag.Flag) {
		f.Name = "log-level"
		f.Shorthand = "v"
		f.Usage = fmt.Sprintf("%s. 0=Info, 1=Debug, 2=Trace. Use 6-9 for increasingly verbose HTTP request logging. (default: 0)", f.Usage)
	},
}

func splitStreamOn(f *pflag.Flag) {
	f.DefValue = "true"
	runtime.Must(f.Value.Set("true"))
}

// AddFlags adds log related flags to the supplied flag set.
//
// Split-stream output is on by default.
func AddFlags(fs *pflag.FlagSet) {
	var logFlags pflag.FlagSet
	logsapi.AddFlags(configuration, &logFlags)
	features.AddFlag(&logFlags)
	logFlags.VisitAll(func(f *pflag.Flag) {
		if !visibleFlagNames.Has(f.Name) {
			_ = logFlags.MarkHidden(f.Name)
		}
		if tweak, ok := flagTweaks[f.Name]; ok {
			tweak(f)
		}
	})
	fs.AddFlagSet(&logFlags)
}

// Initialize uses k8s.io/component-base/logs to configure the global loggers:
// log, slog and klog. All are configured to write in the same format.
func Initialize() error {
	logs.InitLogs()
	if err := logsapi.ValidateAndApply(configuration, features); err != nil {
		return fmt.Errorf("invalid logging configuration: %w", err)
	}

	// logs.InitLogs made klog the slog backend. Route the standard library
	// logger (used by go-ethereum's RPC transport and kubo's client) there too.
	log.Default().SetOutput(LogToSlogWriter{Slog: slog.Default(), Source: "stdlib"})

	return nil
}

// errorWords mark a standard library log line as an error.
var errorWords = []string{"error", "failed"}

// LogToSlogWriter adapts slog to an io.Writer so that it can back a log.Logger.
type LogToSlogWriter struct {
	Slog   *slog.Logger
	Source string
}

func (w LogToSlogWriter) Write(p []byte) (int, error) {
	message := strings.TrimSuffix(string(p), "\n")
	logger := w.Slog.With("source", w.Source)
	for _, word := range errorWords {
		if strings.Contains(message, word) {
			logger.Error(message)
			return len(p), nil
		}
	}
	logger.Info(message)
	return len(p), nil
}
