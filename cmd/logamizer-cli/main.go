// Command logamizer-cli runs the ingestion pipeline directly against
// local files, without standing up the HTTP API — useful for backfills,
// one-off reanalysis, and local development.
//
// Grounded on the cobra root/subcommand layout from the reference corpus's
// hibernator internal/app/cli package (root options threaded into each
// subcommand's RunE).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/allensuvorov/logamizer/internal/config"
)

type rootOptions struct {
	blobDir    string
	configFile string
	cfg        config.Config
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "logamizer-cli",
		Short: "Ingest and analyze web server logs from the command line",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.blobDir, "blob-dir", "./data/blobs", "directory backing the local blob store")

	cmd.AddCommand(newIngestCommand(opts))
	cmd.AddCommand(newReanalyzeCommand(opts))
	cmd.AddCommand(newReportCommand(opts))
	return cmd
}
