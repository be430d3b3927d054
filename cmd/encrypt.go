package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/veilart/gallery/api"
	"github.com/veilart/gallery/internal/fhe"
)

var encryptCmd = &cobra.Command{
	Use:   "encrypt <value[:type]>...",
	Short: "Encrypt values for the contest contract",
	Long: `Encrypt one or more unsigned integers for the configured account and contest
contract, and print their handles and the input proof as JSON.

Each value may be followed by its type, one of uint8, uint16, uint32 and
uint64 (the default), e.g. "veilart encrypt 1:uint8 42:uint32".`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		values, err := parseValues(args)
		if err != nil {
			return err
		}
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.close()
		return runEncrypt(cmd.Context(), cmd.OutOrStdout(), e, values)
	},
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt <handle>",
	Short: "Decrypt a handle the configured account may read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		handle, err := fhe.ParseHandle(args[0])
		if err != nil {
			return err
		}
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.close()
		return runDecrypt(cmd.Context(), cmd.OutOrStdout(), e, handle)
	},
}

func init() {
	rootCmd.AddCommand(encryptCmd)
	rootCmd.AddCommand(decryptCmd)
}

// parseValues parses arguments of the form "42" or "42:uint8".
func parseValues(args []string) ([]fhe.Value, error) {
	values := make([]fhe.Value, 0, len(args))
	for _, arg := range args {
		plaintext, typ, found := strings.Cut(arg, ":")
		width := fhe.Uint64
		if found {
			var err error
			if width, err = fhe.ParseBitWidth(typ); err != nil {
				return nil, err
			}
		}
		n, err := strconv.ParseUint(plaintext, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q: must be an unsigned integer", plaintext)
		}
		values = append(values, fhe.Value{Plaintext: n, Width: width})
	}
	return values, nil
}

func runEncrypt(ctx context.Context, w io.Writer, e *env, values []fhe.Value) error {
	account, err := e.requireAccount(ctx)
	if err != nil {
		return err
	}
	contest, err := e.requireContest()
	if err != nil {
		return err
	}
	if err := initialize(ctx, e.coordinator, initMaxElapsed); err != nil {
		return err
	}

	input, err := e.coordinator.EncryptValues(ctx, values, contest.Address(), account)
	if err != nil {
		return err
	}

	out := api.EncryptedInput{Proof: hexutil.Encode(input.Proof)}
	for _, h := range input.Handles {
		out.Handles = append(out.Handles, h.Hex())
	}
	return printJSON(w, out)
}

func runDecrypt(ctx context.Context, w io.Writer, e *env, handle fhe.Handle) error {
	account, err := e.requireAccount(ctx)
	if err != nil {
		return err
	}
	contest, err := e.requireContest()
	if err != nil {
		return err
	}
	if err := initialize(ctx, e.coordinator, initMaxElapsed); err != nil {
		return err
	}

	value, err := e.coordinator.Decrypt(ctx, handle, contest.Address(), account)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, value)
	return nil
}
