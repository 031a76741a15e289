package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/allensuvorov/logamizer/internal/store"
)

type reportOptions struct {
	root   *rootOptions
	siteID string
	json   bool
}

// newReportCommand prints the findings, error groups, and hourly aggregates
// held for a site by the CLI's store. That store is a fresh in-memory store
// created for this invocation (newProcessStore), so results of an earlier
// `ingest` or `reanalyze` run are not visible to it; those commands print
// their own report when they finish.
func newReportCommand(root *rootOptions) *cobra.Command {
	opts := &reportOptions{root: root}
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print findings, error groups, and hourly aggregates for a site",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printSiteReportOpts(cmd.Context(), newProcessStore(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.siteID, "site", "", "site id to report on (required)")
	cmd.Flags().BoolVar(&opts.json, "json", false, "emit machine-readable JSON instead of a table")
	_ = cmd.MarkFlagRequired("site")
	return cmd
}

// printSiteReport is the plain, non-JSON report used by ingest and
// reanalyze right after they run, so the operator sees results without a
// separate `report` invocation against what would otherwise be a
// throwaway, process-local store.
func printSiteReport(ctx context.Context, st store.Store, siteID string) error {
	return printSiteReportOpts(ctx, st, &reportOptions{siteID: siteID})
}

func printSiteReportOpts(ctx context.Context, st store.Store, opts *reportOptions) error {
	findings, err := st.ListFindings(ctx, opts.siteID)
	if err != nil {
		return fmt.Errorf("list findings: %w", err)
	}
	groups, err := st.ListErrorGroups(ctx, opts.siteID)
	if err != nil {
		return fmt.Errorf("list error groups: %w", err)
	}
	hours, err := st.GetHourlyAggregates(ctx, opts.siteID, time.Time{}, time.Now().UTC().AddDate(1, 0, 0))
	if err != nil {
		return fmt.Errorf("list hourly aggregates: %w", err)
	}

	if opts.json {
		return json.NewEncoder(os.Stdout).Encode(map[string]any{
			"site_id":           opts.siteID,
			"findings":          findings,
			"error_groups":      groups,
			"hourly_aggregates": hours,
		})
	}

	fmt.Printf("site %s: %d hourly aggregates, %d findings, %d error groups\n",
		opts.siteID, len(hours), len(findings), len(groups))
	for _, h := range hours {
		fmt.Printf("  %s  requests=%d 2xx=%d 3xx=%d 4xx=%d 5xx=%d unique_ips=%d\n",
			h.HourBucket.Format(time.RFC3339), h.RequestsCount, h.Status2xx, h.Status3xx, h.Status4xx, h.Status5xx, h.UniqueIPs)
	}
	for _, f := range findings {
		fmt.Printf("  finding[%s] %s severity=%s %s\n", f.Fingerprint[:12], f.FindingType, f.Severity, f.Title)
	}
	for _, g := range groups {
		fmt.Printf("  error_group %s count=%d last_seen=%s %s\n",
			g.ErrorType, g.OccurrenceCount, g.LastSeen.Format(time.RFC3339), g.ErrorMessage)
	}
	return nil
}
