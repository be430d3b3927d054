package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/veilart/gallery/api"
)

const (
	outputText = "text"
	outputJSON = "json"
)

func addOutputFlag(cmd *cobra.Command, output *string) {
	cmd.Flags().StringVarP(output, "output", "o", outputText, "Output format, text or json.")
}

func checkOutput(output string) error {
	if output != outputText && output != outputJSON {
		return fmt.Errorf("unknown output format %q, use text or json", output)
	}
	return nil
}

func parseEntryID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid entry id %q", s)
	}
	return id, nil
}

func printEntries(w io.Writer, entries []api.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tCONTESTANT\tCATEGORIES\tSUBMITTED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", e.ID, e.Title, e.Contestant, strings.Join(e.Categories, ","), e.Timestamp)
	}
	return tw.Flush()
}

func printEntry(w io.Writer, e api.Entry) {
	fmt.Fprintf(w, "Entry %d: %s\n", e.ID, e.Title)
	fmt.Fprintf(w, "  Contestant:  %s\n", e.Contestant)
	fmt.Fprintf(w, "  Submitted:   %s\n", e.Timestamp)
	fmt.Fprintf(w, "  Categories:  %s\n", strings.Join(e.Categories, ", "))
	fmt.Fprintf(w, "  Tags:        %s\n", strings.Join(e.Tags, ", "))
	fmt.Fprintf(w, "  Image:       %s\n", e.ImageURL)
	if e.ScoresHandle != "" {
		fmt.Fprintf(w, "  Score:       %s (encrypted)\n", e.ScoresHandle)
	} else {
		fmt.Fprintf(w, "  Score:       not scored yet\n")
	}
	if e.Description != "" {
		fmt.Fprintf(w, "\n%s\n", e.Description)
	}
}

func printVotes(w io.Writer, votes []api.CategoryVotes) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tVOTES\tHANDLE")
	for _, v := range votes {
		count := "encrypted"
		switch {
		case !v.Present:
			count = "none yet"
		case v.Votes != nil:
			count = strconv.FormatUint(*v.Votes, 10)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", v.Category, count, v.Handle)
	}
	return tw.Flush()
}
