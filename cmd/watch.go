package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/veilart/gallery/internal/wallet"
	"github.com/veilart/gallery/pkg/logs"
)

type watchOptions struct {
	interval      time.Duration
	enableMetrics bool
	metricsAddr   string
}

var watchOpts watchOptions

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow account and network changes, keeping the encryption service ready",
	Long: `Poll the node for the account and the chain it serves. When the chain
changes, the encryption service is reset and initialized again for the
configured network.

With --enable-metrics, Prometheus metrics are served on /metrics.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer e.close()

		if watchOpts.enableMetrics {
			stop, err := serveMetrics(cmd.Context(), watchOpts.metricsAddr)
			if err != nil {
				return err
			}
			defer stop()
		}
		return runWatch(cmd.Context(), cmd.OutOrStdout(), e, watchOpts.interval)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVar(&watchOpts.interval, "interval", 5*time.Second, "How often to poll the node.")
	watchCmd.Flags().BoolVar(&watchOpts.enableMetrics, "enable-metrics", false, "Enables the Prometheus metrics server.")
	watchCmd.Flags().StringVar(&watchOpts.metricsAddr, "metrics-addr", ":8081", "Address of the Prometheus metrics server.")
}

// serveMetrics serves the default Prometheus registry on addr until the
// returned function is called.
func serveMetrics(ctx context.Context, addr string) (func(), error) {
	log := klog.FromContext(ctx).WithName("metrics")

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("starting the metrics server: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		log.Info("Serving metrics", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "Metrics server stopped")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}

// runWatch reports wallet events to w until ctx is done. A network change
// resets the encryption service; it is initialized again right away when
// the node serves the configured chain.
func runWatch(ctx context.Context, w io.Writer, e *env, interval time.Duration) error {
	log := klog.FromContext(ctx).WithName("watch")

	if e.wallet == nil {
		return fmt.Errorf("%w: set private-key or private-key-file", wallet.ErrNoAccount)
	}

	ready := func() {
		if err := initialize(ctx, e.coordinator, initMaxElapsed); err != nil {
			if ctx.Err() == nil {
				log.Error(err, "Encryption service is not ready")
			}
			return
		}
		fmt.Fprintf(w, "Encryption service ready for %s\n", e.network.Name)
	}

	events := e.wallet.Watch(ctx, interval)
	fmt.Fprintf(w, "Watching %s as %s\n", e.wallet.RPCURL(), e.wallet.Account().Hex())
	if ok, err := e.wallet.CheckNetwork(ctx, e.network.ChainID); err != nil {
		log.Error(err, "Cannot query the chain id")
	} else if ok {
		ready()
	} else {
		fmt.Fprintf(w, "Wrong network: expected chain %d (%s)\n", e.network.ChainID, e.network.Name)
	}

	for event := range events {
		switch event.Type {
		case wallet.AccountChanged:
			fmt.Fprintf(w, "Account changed to %s\n", event.Account.Hex())
		case wallet.NetworkChanged:
			fmt.Fprintf(w, "Network changed to chain %d\n", event.ChainID)
			e.coordinator.Reset()
			if event.ChainID != e.network.ChainID {
				fmt.Fprintf(w, "Wrong network: expected chain %d (%s)\n", e.network.ChainID, e.network.Name)
				continue
			}
			ready()
		}
		log.V(logs.Debug).Info("Wallet event", "type", event.Type, "account", event.Account, "chainID", event.ChainID)
	}
	return nil
}
