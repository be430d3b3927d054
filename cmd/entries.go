package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/veilart/gallery/api"
	"github.com/veilart/gallery/internal/gallery"
)

type listOptions struct {
	search     string
	categories []string
	contestant string
	mine       bool
	output     string
}

var (
	listOpts   listOptions
	showOutput string
)

var entriesCmd = &cobra.Command{
	Use:     "entries",
	Aliases: []string{"entry"},
	Short:   "Browse contest entries",
}

var entriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List entries, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkOutput(listOpts.output); err != nil {
			return err
		}
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.close()
		return runList(cmd.Context(), cmd.OutOrStdout(), e, listOpts)
	},
}

var entriesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one entry with its description",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkOutput(showOutput); err != nil {
			return err
		}
		id, err := parseEntryID(args[0])
		if err != nil {
			return err
		}
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.close()
		return runShow(cmd.Context(), cmd.OutOrStdout(), e, id, showOutput)
	},
}

func init() {
	rootCmd.AddCommand(entriesCmd)
	entriesCmd.AddCommand(entriesListCmd)
	entriesCmd.AddCommand(entriesShowCmd)

	entriesListCmd.Flags().StringVarP(&listOpts.search, "search", "s", "", "Only entries whose title or tags contain this text.")
	entriesListCmd.Flags().StringSliceVar(&listOpts.categories, "category", nil, "Only entries in any of these categories.")
	entriesListCmd.Flags().StringVar(&listOpts.contestant, "contestant", "", "Only entries submitted by this address.")
	entriesListCmd.Flags().BoolVar(&listOpts.mine, "mine", false, "Only entries submitted by the configured account.")
	addOutputFlag(entriesListCmd, &listOpts.output)
	addOutputFlag(entriesShowCmd, &showOutput)
}

func runList(ctx context.Context, w io.Writer, e *env, opts listOptions) error {
	svc, err := e.service()
	if err != nil {
		return err
	}

	filter := gallery.Filter{Search: opts.search, Categories: opts.categories}
	switch {
	case opts.mine:
		account, err := e.requireAccount(ctx)
		if err != nil {
			return err
		}
		filter.Contestant = account
	case opts.contestant != "":
		if !common.IsHexAddress(opts.contestant) {
			return fmt.Errorf("invalid contestant address %q", opts.contestant)
		}
		filter.Contestant = common.HexToAddress(opts.contestant)
	}

	entries, err := svc.ListEntries(ctx, filter)
	if err != nil {
		return err
	}

	views := make([]api.Entry, 0, len(entries))
	for _, entry := range entries {
		views = append(views, svc.View(entry))
	}
	if opts.output == outputJSON {
		return printJSON(w, views)
	}
	if len(views) == 0 {
		fmt.Fprintln(w, "No entries found.")
		return nil
	}
	return printEntries(w, views)
}

func runShow(ctx context.Context, w io.Writer, e *env, id uint64, output string) error {
	svc, err := e.service()
	if err != nil {
		return err
	}

	entry, err := svc.Entry(ctx, id)
	if err != nil {
		return err
	}
	view := svc.View(entry)
	view.Description, err = svc.Description(ctx, entry)
	if err != nil {
		// The entry is still worth showing without its description.
		klog.FromContext(ctx).Error(err, "Cannot load the description", "entry", id, "hash", entry.DescriptionHash)
	}

	if output == outputJSON {
		return printJSON(w, view)
	}
	printEntry(w, view)
	return nil
}
