package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/allensuvorov/logamizer/internal/blobstore"
	"github.com/allensuvorov/logamizer/internal/httputil"
	"github.com/allensuvorov/logamizer/internal/model"
	"github.com/allensuvorov/logamizer/internal/pipeline"
	"github.com/allensuvorov/logamizer/internal/store"
	"github.com/allensuvorov/logamizer/internal/store/memstore"
)

type ingestOptions struct {
	root   *rootOptions
	siteID string
	kind   string
	format string
}

func newIngestCommand(root *rootOptions) *cobra.Command {
	opts := &ingestOptions{root: root}
	cmd := &cobra.Command{
		Use:   "ingest <path>",
		Short: "Ingest a single access or error log file for a site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), root, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.siteID, "site", "", "site id this log file belongs to (required)")
	cmd.Flags().StringVar(&opts.kind, "kind", "access", "log file kind: access or error")
	cmd.Flags().StringVar(&opts.format, "format", "auto", "access log format: nginx_combined, apache_combined, or auto")
	_ = cmd.MarkFlagRequired("site")
	return cmd
}

func runIngest(ctx context.Context, root *rootOptions, opts *ingestOptions, path string) error {
	blobs, err := blobstore.NewLocal(root.blobDir)
	if err != nil {
		return err
	}

	st := newProcessStore()
	if _, err := st.GetSite(ctx, opts.siteID); err != nil {
		site := model.Site{
			ID:      opts.siteID,
			Format:  model.LogFormat(opts.format),
			Anomaly: root.cfg.AnomalyParams(),
		}
		if err := st.PutSite(ctx, site); err != nil {
			return err
		}
	}

	lf, err := registerLocalFile(ctx, st, blobs, opts.siteID, model.LogFileKind(opts.kind), path)
	if err != nil {
		return fmt.Errorf("register %s: %w", path, err)
	}

	driver := pipeline.New(st, blobs, func(jobID string, percent int, message string) {
		fmt.Printf("[%s] %3d%% %s\n", jobID, percent, message)
	})
	jobID := httputil.NewID()
	if err := driver.RunIngest(ctx, jobID, lf.ID); err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}
	fmt.Printf("ingested %s as log file %s (job %s)\n", path, lf.ID, jobID)
	return printSiteReport(ctx, st, opts.siteID)
}

// newProcessStore returns a fresh in-memory store for a single CLI
// invocation. A future sqlstore-backed CLI run would dial a configured
// DATABASE_URL instead; see DESIGN.md.
func newProcessStore() store.Store {
	return memstore.New()
}
