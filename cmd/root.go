package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/veilart/gallery/internal/config"
	"github.com/veilart/gallery/pkg/logs"
)

var (
	cfgFile        string
	initMaxElapsed time.Duration
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "veilart",
	Short: "Encrypted art contest client",
	Long: `veilart submits artwork to the VeilArt contest contract and reads it back.

Scores and category votes are stored encrypted on chain. Only the contestant
who submitted an entry can decrypt its counters, through the encryption
relayer of the configured network.

Configuration is read from veilart.yaml (in the working directory or in
$HOME/.veilart), VEILART_* environment variables and flags, in increasing
order of precedence.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setFlagsFromEnv(config.EnvPrefix+"_", cmd.Flags())
		return logs.Initialize()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(
		&cfgFile,
		"config",
		"c",
		"",
		"Config file location. Without it, veilart.yaml is looked up in the working directory and then in $HOME/.veilart.",
	)
	rootCmd.PersistentFlags().DurationVar(
		&initMaxElapsed,
		"init-max-elapsed",
		time.Minute,
		"How long to keep retrying encryption service initialization before giving up.",
	)
	config.AddFlags(rootCmd.PersistentFlags())
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	logs.AddFlags(rootCmd.PersistentFlags())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func setFlagsFromEnv(prefix string, fs *pflag.FlagSet) {
	set := map[string]bool{}
	fs.Visit(func(f *pflag.Flag) {
		set[f.Name] = true
	})
	fs.VisitAll(func(f *pflag.Flag) {
		// ignore flags set from the commandline
		if set[f.Name] {
			return
		}
		// remove trailing _ to reduce common errors with the prefix, i.e. people setting it to MY_PROG_
		cleanPrefix := strings.TrimSuffix(prefix, "_")
		name := fmt.Sprintf("%s_%s", cleanPrefix, strings.Replace(strings.ToUpper(f.Name), "-", "_", -1))
		if e, ok := os.LookupEnv(name); ok {
			_ = f.Value.Set(e)
		}
	})
}
