package cmd

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/veilart/gallery/internal/ipfs"
	"github.com/veilart/gallery/pkg/client"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a file to IPFS and print its content identifier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		opts := cfg.IPFSOptions()
		opts.HTTPClient = client.NewHTTPClient(nil, httpTimeout)
		store, err := ipfs.NewStore(cmd.Context(), opts)
		if err != nil {
			return err
		}
		gateway := ipfs.NewGateway(cfg.IPFS.Gateway, opts.HTTPClient)

		name := args[0]
		data, err := os.ReadFile(name)
		if err != nil {
			return err
		}

		res, err := retryUpload(cmd.Context(), store, filepath.Base(name), contentType(name, data), data, uploadMaxElapsed)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.Hash)
		fmt.Fprintln(cmd.OutOrStdout(), gateway.URL(res.Hash))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd)
}

// contentType guesses the media type of a file from its extension, then from
// its content.
func contentType(name string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return http.DetectContentType(data)
}
