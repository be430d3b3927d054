package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/veilart/gallery/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration with secrets redacted",
	Long: `Print the configuration after merging the config file, environment
variables and flags. Problems are reported after the configuration is printed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}
		return showConfig(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
}

func showConfig(w io.Writer, cfg *config.Config) error {
	if cfg.File != "" {
		fmt.Fprintf(w, "# %s\n", cfg.File)
	}
	dump, err := cfg.Dump()
	if err != nil {
		return err
	}
	fmt.Fprint(w, dump)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
