package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/veilart/gallery/api"
	"github.com/veilart/gallery/internal/gallery"
)

var (
	decryptVotes bool
	votesOutput  string
)

var scoreCmd = &cobra.Command{
	Use:   "score <id>",
	Short: "Add one point to the encrypted score of an entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseEntryID(args[0])
		if err != nil {
			return err
		}
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.close()
		return runScore(cmd.Context(), cmd.OutOrStdout(), e, id)
	},
}

var voteCmd = &cobra.Command{
	Use:   "vote <id> <category>",
	Short: "Vote for an entry in one of its categories",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseEntryID(args[0])
		if err != nil {
			return err
		}
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.close()
		return runVote(cmd.Context(), cmd.OutOrStdout(), e, id, args[1])
	},
}

var votesCmd = &cobra.Command{
	Use:   "votes <id>",
	Short: "Show the encrypted vote counters of an entry",
	Long: `Show the vote counter of every category of an entry. Counters are
encrypted; with --decrypt the contestant who submitted the entry can read them,
together with the score.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkOutput(votesOutput); err != nil {
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
		return runVotes(cmd.Context(), cmd.OutOrStdout(), e, id, decryptVotes, votesOutput)
	},
}

func init() {
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(voteCmd)
	rootCmd.AddCommand(votesCmd)
	votesCmd.Flags().BoolVar(&decryptVotes, "decrypt", false, "Decrypt the counters. Only the contestant may do this.")
	addOutputFlag(votesCmd, &votesOutput)
}

func runScore(ctx context.Context, w io.Writer, e *env, id uint64) error {
	if _, err := e.requireAccount(ctx); err != nil {
		return err
	}
	svc, err := e.service()
	if err != nil {
		return err
	}
	tx, err := svc.Score(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Scored entry %d (transaction %s)\n", tx.EntryID, tx.TxHash)
	return nil
}

func runVote(ctx context.Context, w io.Writer, e *env, id uint64, category string) error {
	if _, err := e.requireAccount(ctx); err != nil {
		return err
	}
	svc, err := e.service()
	if err != nil {
		return err
	}
	tx, err := svc.Vote(ctx, id, category)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Voted for entry %d in %s (transaction %s)\n", tx.EntryID, tx.Category, tx.TxHash)
	return nil
}

// entryVotes is the JSON form of the votes command.
type entryVotes struct {
	EntryID uint64              `json:"entryId"`
	Score   *uint64             `json:"score,omitempty"`
	Votes   []api.CategoryVotes `json:"votes"`
}

func runVotes(ctx context.Context, w io.Writer, e *env, id uint64, decrypt bool, output string) error {
	svc, err := e.service()
	if err != nil {
		return err
	}

	out := entryVotes{EntryID: id}
	out.Votes, err = svc.CategoryVotes(ctx, id)
	if err != nil {
		return err
	}

	if decrypt {
		if _, err := e.requireAccount(ctx); err != nil {
			return err
		}
		if err := initialize(ctx, e.coordinator, initMaxElapsed); err != nil {
			return err
		}
		for i := range out.Votes {
			v := &out.Votes[i]
			if !v.Present {
				continue
			}
			count, err := svc.DecryptCategoryVotes(ctx, id, v.Category)
			if err != nil {
				return fmt.Errorf("decrypting %q votes: %w", v.Category, err)
			}
			v.Votes = &count
		}
		score, err := svc.DecryptScore(ctx, id)
		switch {
		case errors.Is(err, gallery.ErrNoScore):
		case err != nil:
			return fmt.Errorf("decrypting score: %w", err)
		default:
			out.Score = &score
		}
	}

	if output == outputJSON {
		return printJSON(w, out)
	}
	if out.Score != nil {
		fmt.Fprintf(w, "Score: %d\n", *out.Score)
	}
	return printVotes(w, out.Votes)
}
