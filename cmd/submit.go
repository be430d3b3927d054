package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/veilart/gallery/internal/gallery"
)

type submitOptions struct {
	title           string
	description     string
	descriptionFile string
	file            string
	tags            []string
	categories      []string
	output          string
}

var submitOpts submitOptions

var submitCmd = &cobra.Command{
	Use:   "submit --title <title> --file <artwork> --category <category>...",
	Short: "Submit an artwork to the contest",
	Long: `Upload the description and the artwork to IPFS and register the entry with
the contest contract. The entry can receive votes in the given categories only.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkOutput(submitOpts.output); err != nil {
			return err
		}
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.close()
		return runSubmit(cmd.Context(), cmd.OutOrStdout(), e, submitOpts)
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().StringVar(&submitOpts.title, "title", "", "Title of the artwork.")
	submitCmd.Flags().StringVar(&submitOpts.description, "description", "", "Description of the artwork.")
	submitCmd.Flags().StringVar(&submitOpts.descriptionFile, "description-file", "", "Read the description from this file instead.")
	submitCmd.Flags().StringVarP(&submitOpts.file, "file", "f", "", "The artwork file.")
	submitCmd.Flags().StringSliceVarP(&submitOpts.tags, "tag", "t", nil, "Tag of the artwork. Repeat or separate with commas.")
	submitCmd.Flags().StringSliceVar(&submitOpts.categories, "category", nil, "Category the artwork competes in. Repeat or separate with commas.")
	addOutputFlag(submitCmd, &submitOpts.output)
}

func runSubmit(ctx context.Context, w io.Writer, e *env, opts submitOptions) error {
	if _, err := e.requireAccount(ctx); err != nil {
		return err
	}
	svc, err := e.service()
	if err != nil {
		return err
	}

	sub := gallery.Submission{
		Title:       opts.title,
		Description: opts.description,
		Tags:        opts.tags,
		Categories:  opts.categories,
	}
	if opts.descriptionFile != "" {
		data, err := os.ReadFile(opts.descriptionFile)
		if err != nil {
			return err
		}
		sub.Description = string(data)
	}
	if opts.file != "" {
		data, err := os.ReadFile(opts.file)
		if err != nil {
			return err
		}
		sub.File = data
		sub.FileName = filepath.Base(opts.file)
		sub.ContentType = contentType(opts.file, data)
	}

	res, err := svc.Submit(ctx, sub)
	if err != nil {
		return err
	}

	if opts.output == outputJSON {
		return printJSON(w, res)
	}
	fmt.Fprintf(w, "Submitted entry %d\n", res.EntryID)
	fmt.Fprintf(w, "  Transaction: %s\n", res.TxHash)
	fmt.Fprintf(w, "  Image:       %s\n", res.ImageURL)
	return nil
}
