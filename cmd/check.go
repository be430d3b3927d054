package cmd

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/params"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/veilart/gallery/internal/config"
	"github.com/veilart/gallery/internal/ipfs"
	"github.com/veilart/gallery/pkg/client"
)

// minBalance is the smallest balance that comfortably pays for a few
// submissions and votes on a testnet.
var minBalance = new(big.Int).Div(big.NewInt(params.Ether), big.NewInt(20))

// submitGas is a generous estimate of the gas used by one submission.
const submitGas = 500_000

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that everything needed to take part in the contest is in place",
	Long: `Check the configuration, the connection to the chain, the account and its
balance, the contest contract, the encryption relayer and the IPFS provider.

Nothing is written. The command fails if any check fails.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}
		if !runChecks(cmd.Context(), cmd.OutOrStdout(), cfg, client.NewHTTPClient(nil, httpTimeout)) {
			return fmt.Errorf("some checks failed")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

type checkReport struct {
	w      io.Writer
	passed bool
}

func (r *checkReport) section(title string) {
	color.New(color.Bold).Fprintf(r.w, "\n%s\n", title)
}

func (r *checkReport) ok(format string, args ...any) {
	color.New(color.FgGreen).Fprint(r.w, "  ✓ ")
	fmt.Fprintf(r.w, format+"\n", args...)
}

func (r *checkReport) warn(format string, args ...any) {
	color.New(color.FgYellow).Fprint(r.w, "  ! ")
	fmt.Fprintf(r.w, format+"\n", args...)
}

func (r *checkReport) fail(format string, args ...any) {
	r.passed = false
	color.New(color.FgRed).Fprint(r.w, "  ✗ ")
	fmt.Fprintf(r.w, format+"\n", args...)
}

func (r *checkReport) info(format string, args ...any) {
	fmt.Fprintf(r.w, "    "+format+"\n", args...)
}

// runChecks writes a report of every check to w and reports whether all of
// them passed.
func runChecks(ctx context.Context, w io.Writer, cfg *config.Config, httpClient *http.Client) bool {
	r := &checkReport{w: w, passed: true}

	r.section("Configuration")
	if cfg.File != "" {
		r.info("file: %s", cfg.File)
	}
	if err := cfg.Validate(); err != nil {
		r.fail("invalid configuration: %s", err)
		return false
	}
	r.ok("configuration is valid")

	e, err := newEnv(ctx, cfg, httpClient)
	if err != nil {
		r.fail("%s", err)
		return false
	}
	defer e.close()

	r.section("Network")
	chainID, err := e.node.ChainID(ctx)
	switch {
	case err != nil:
		r.fail("cannot reach %s: %s", e.network.NetworkURL, err)
		// Everything below needs the node.
		return false
	case chainID.Uint64() != e.network.ChainID:
		r.fail("%s serves chain %d, expected %d (%s)", e.network.NetworkURL, chainID, e.network.ChainID, e.network.Name)
	default:
		r.ok("connected to %s", e.network.NetworkURL)
		r.info("chain id: %d (%s)", chainID, e.network.Name)
	}

	r.section("Account")
	if e.wallet == nil {
		r.fail("no account configured, set private-key or private-key-file")
	} else {
		balance, err := e.wallet.Balance(ctx)
		if err != nil {
			r.fail("cannot read the balance of %s: %s", e.wallet.Account().Hex(), err)
		} else {
			r.ok("account %s", e.wallet.Account().Hex())
			r.info("balance: %s ETH", formatUnits(balance, params.Ether))
			if balance.Cmp(minBalance) < 0 {
				r.fail("balance is below the recommended minimum of %s ETH, get more from a faucet", formatUnits(minBalance, params.Ether))
			}
		}
	}

	r.section("Contract")
	if e.contest == nil {
		r.fail("no contract address configured")
	} else {
		code, err := e.node.CodeAt(ctx, e.contest.Address(), nil)
		switch {
		case err != nil:
			r.fail("cannot read the code at %s: %s", e.contest.Address().Hex(), err)
		case len(code) == 0:
			r.fail("no contract deployed at %s", e.contest.Address().Hex())
		default:
			r.ok("contract deployed at %s", e.contest.Address().Hex())
			if next, err := e.contest.NextEntryID(ctx); err != nil {
				r.fail("cannot call the contract: %s", err)
			} else {
				r.info("entries: %d", next-1)
			}
		}
	}

	r.section("Gas")
	if price, err := e.node.SuggestGasPrice(ctx); err != nil {
		r.fail("cannot read the gas price: %s", err)
	} else {
		cost := new(big.Int).Mul(price, big.NewInt(submitGas))
		r.ok("gas price: %s gwei", formatUnits(price, params.GWei))
		r.info("estimated submission cost: %s ETH (%d gas)", formatUnits(cost, params.Ether), submitGas)
	}

	r.section("Encryption relayer")
	if err := initialize(ctx, e.coordinator, initMaxElapsed); err != nil {
		r.fail("%s", err)
	} else {
		r.ok("relayer %s is ready", e.network.RelayerURL)
	}

	r.section("IPFS")
	if e.store.Name() == ipfs.ProviderLocal {
		r.warn("no IPFS provider configured, uploads are only kept in memory")
	} else {
		r.ok("uploads go to %s", e.store.Name())
	}
	r.info("gateway: %s", e.cfg.IPFS.Gateway)

	fmt.Fprintln(w)
	if r.passed {
		color.New(color.FgGreen).Fprintln(w, "All checks passed.")
	} else {
		color.New(color.FgRed).Fprintln(w, "Some checks failed.")
	}
	return r.passed
}

// formatUnits renders amount divided by unit with up to four decimals.
func formatUnits(amount *big.Int, unit int64) string {
	f := new(big.Float).Quo(new(big.Float).SetInt(amount), new(big.Float).SetInt64(unit))
	return f.Text('f', 4)
}
