// Package testutil holds helpers shared by tests.
package testutil

import (
	"regexp"
)

// StaticLogs replaces the parts of log lines that change from run to run
// (timestamps, process ids and source line numbers) with fixed values, so
// that tests can compare whole lines.
//
//	klog:   I1018 15:12:57.953433   22183 client.go:87] msg
//	     -> I0000 00:00:00.000000   00000 client.go:000] msg
//	slog:   time=2026-10-17T15:12:57.953+02:00 level=INFO msg=...
//	     -> time=<time> level=INFO msg=...
//	json:   {"ts":1729258473588.828,"caller":"fhe/coordinator.go:131",...}
//	     -> {"ts":0,"caller":"fhe/coordinator.go:000",...}
//	log:    2024/10/18 15:40:50 msg
//	     -> 0000/00/00 00:00:00 msg
func StaticLogs(input string) string {
	for _, r := range logReplacements {
		input = r.re.ReplaceAllString(input, r.with)
	}
	return input
}

var logReplacements = []struct {
	re   *regexp.Regexp
	with string
}{
	{regexp.MustCompile(`\d{4} \d{2}:\d{2}:\d{2}\.\d{6} +\d+ `), "0000 00:00:00.000000   00000 "},
	{regexp.MustCompile(`\d{4} \d{2}:\d{2}:\d{2}\.\d{6}\]`), "0000 00:00:00.000000]"},
	{regexp.MustCompile(` ([\w./-]+)\.go:\d+\]`), " $1.go:000]"},
	{regexp.MustCompile(`time=\S+`), "time=<time>"},
	{regexp.MustCompile(`"ts":[\d.]+`), `"ts":0`},
	{regexp.MustCompile(`"caller":"([^"]+)\.go:\d+"`), `"caller":"$1.go:000"`},
	{regexp.MustCompile(`\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2}`), "0000/00/00 00:00:00"},
}
