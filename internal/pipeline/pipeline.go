// Package pipeline is the driver that wires decode, parse, filter,
// aggregate, rules, anomaly, and error-grouping into the single-pass job
// spec.md §4.8 describes: "select parser by site's log format; stream
// events through the stages; enforce at-most-one in-flight job per log
// file; report progress and terminal status."
//
// Grounded on allensuvorov-tenexlog's internal/upload/handler.go, which
// already wires decode → parse → analyze → respond end to end for one
// file; this generalizes that single-request handler into a reusable,
// queueable job that can run against a blob store instead of a multipart
// request body, and that fans out to the aggregator, rule engine, and
// error grouper instead of one analyze call.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/allensuvorov/logamizer/internal/accesslog"
	"github.com/allensuvorov/logamizer/internal/aggregate"
	"github.com/allensuvorov/logamizer/internal/anomaly"
	"github.com/allensuvorov/logamizer/internal/decode"
	"github.com/allensuvorov/logamizer/internal/errorgroup"
	"github.com/allensuvorov/logamizer/internal/errorlog"
	"github.com/allensuvorov/logamizer/internal/filter"
	"github.com/allensuvorov/logamizer/internal/metrics"
	"github.com/allensuvorov/logamizer/internal/model"
	"github.com/allensuvorov/logamizer/internal/rules"
	"github.com/allensuvorov/logamizer/internal/store"
)

// BlobStore is the "Outbound: Blob store" collaborator from spec.md §6.
type BlobStore interface {
	Open(ctx context.Context, storageKey string) (model.ReadCloserWithName, error)
}

// ProgressSink is the "Outbound: Progress sink" collaborator:
// report(job_id, percent, message).
type ProgressSink func(jobID string, percent int, message string)

// ErrAlreadyInFlight is returned by RunIngest when a job for the same log
// file is already running, per spec.md §4.8's at-most-one-in-flight rule.
var ErrAlreadyInFlight = errors.New("pipeline: job already in flight for this log file")

// Driver owns one site's worth of pipeline stages plus its store and blob
// access; it is safe for concurrent use across different log files.
type Driver struct {
	Store      store.Store
	Blobs      BlobStore
	RuleConfig rules.Config
	TopK       int
	Progress   ProgressSink
	Log        *logrus.Logger

	SoftDeadline time.Duration

	mu        sync.Mutex
	inFlight  map[string]string // logFileID -> jobID
}

// New builds a Driver with the documented defaults (DefaultK top-K bound,
// DefaultConfig rule thresholds, a 10-minute soft deadline, and a default
// logrus logger writing to stderr; callers may replace Log afterwards).
func New(st store.Store, blobs BlobStore, progress ProgressSink) *Driver {
	log := logrus.New()
	return &Driver{
		Store:        st,
		Blobs:        blobs,
		RuleConfig:   rules.DefaultConfig(),
		TopK:         aggregate.DefaultK,
		Progress:     progress,
		Log:          log,
		SoftDeadline: 10 * time.Minute,
		inFlight:     make(map[string]string),
	}
}

func (d *Driver) claim(logFileID, jobID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.inFlight[logFileID]; ok {
		return false
	}
	d.inFlight[logFileID] = jobID
	return true
}

func (d *Driver) release(logFileID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inFlight, logFileID)
}

// RunIngest implements spec.md §6's `run_ingest(log_file_id)`: it claims
// the file, runs the full pipeline synchronously under the caller-supplied
// jobID, and returns the job's error (nil on success). Callers that want concurrent throughput across many files
// should dispatch RunIngest from the worker pool in queue.go rather than
// calling it inline on a hot path.
func (d *Driver) RunIngest(ctx context.Context, jobID, logFileID string) error {
	if !d.claim(logFileID, jobID) {
		return ErrAlreadyInFlight
	}
	defer d.release(logFileID)

	start := time.Now()
	lf, ok, err := d.Store.GetLogFile(ctx, logFileID)
	if err != nil {
		return fmt.Errorf("load log file %s: %w", logFileID, err)
	}
	if !ok {
		return fmt.Errorf("log file %s not found", logFileID)
	}

	// Coarse-grained idempotency: a log file that already completed is not
	// reprocessed. The check is per LogFile row, not per event.
	if lf.Status == model.StatusCompleted {
		d.report(jobID, 100, "already completed")
		return nil
	}

	site, err := d.Store.GetSite(ctx, lf.SiteID)
	if err != nil {
		return fmt.Errorf("load site %s: %w", lf.SiteID, err)
	}

	_ = d.Store.UpdateLogFileStatus(ctx, logFileID, model.StatusProcessing)

	var deadline time.Time
	if d.SoftDeadline > 0 {
		deadline = time.Now().Add(d.SoftDeadline)
	}

	var runErr error
	switch lf.Kind {
	case model.KindError:
		runErr = d.runErrorFile(ctx, jobID, lf, site, deadline)
	default:
		runErr = d.runAccessFile(ctx, jobID, lf, site, deadline)
	}

	status := model.StatusCompleted
	if runErr != nil {
		status = model.StatusFailed
		d.Log.WithFields(logrus.Fields{"log_file_id": logFileID, "job_id": jobID}).WithError(runErr).Error("ingest job failed")
	}
	_ = d.Store.UpdateLogFileStatus(ctx, logFileID, status)
	metrics.JobDurationSeconds.WithLabelValues(lf.SiteID, string(lf.Kind), string(status)).Observe(time.Since(start).Seconds())
	d.report(jobID, 100, string(status))
	return runErr
}

func (d *Driver) report(jobID string, percent int, message string) {
	if d.Progress != nil {
		d.Progress(jobID, percent, message)
	}
}

func deadlineExceeded(deadline time.Time) bool {
	return !deadline.IsZero() && time.Now().After(deadline)
}

// runAccessFile streams an access-log file through decode → parse →
// filter → aggregate/rules, then runs the anomaly detector over every
// freshly-touched hour (spec.md §4.6: "for each freshly-touched hour H in
// the file").
func (d *Driver) runAccessFile(ctx context.Context, jobID string, lf model.LogFile, site model.Site, deadline time.Time) error {
	rc, err := d.Blobs.Open(ctx, lf.StorageKey)
	if err != nil {
		return fmt.Errorf("open blob %s: %w", lf.StorageKey, err)
	}
	defer rc.Close()

	reader, err := decode.Open(rc.Name(), rc)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	hidden := filter.New(site.HiddenIPs)
	agg := aggregate.New(site.ID, d.TopK, func(lines int64, lastHour time.Time) {
		d.report(jobID, progressPercent(lines), fmt.Sprintf("processed %d lines, through hour %s", lines, lastHour.Format(time.RFC3339)))
	})
	engine := rules.NewEngine(d.RuleConfig)

	quality := model.ParseQuality{}
	onEvent := accesslog.Stream(site.Format, func(ev model.NormalizedEvent) {
		if !hidden.Allow(ev) {
			return
		}
		agg.Ingest(ev)
		for _, e := range engine.Step(site.ID, ev) {
			d.Log.WithFields(logrus.Fields{"log_file_id": lf.ID}).WithError(e).Warn("rule error")
		}
	})

	deadlineHit := false
	counters, err := decode.Scan(reader, func(line decode.Line) bool {
		if deadlineExceeded(deadline) {
			deadlineHit = true
			return false
		}
		quality.TotalLines++
		parsed := onEvent(line)
		if parsed {
			quality.ParsedLines++
			metrics.LinesProcessedTotal.WithLabelValues(site.ID, "parsed").Inc()
		} else {
			quality.FailedLines++
			metrics.LinesProcessedTotal.WithLabelValues(site.ID, "failed").Inc()
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	quality.EmptyLines = counters.EmptyLines
	quality.TotalLines = counters.TotalLines
	quality.Recompute()
	if err := d.Store.PutParseQuality(ctx, lf.ID, quality); err != nil {
		return fmt.Errorf("persist parse quality: %w", err)
	}

	for _, hourAgg := range agg.Flush() {
		merged, err := d.Store.UpsertHourlyAggregate(ctx, hourAgg)
		if err != nil {
			return fmt.Errorf("upsert hourly aggregate: %w", err)
		}
		if err := d.detectAnomalies(ctx, site, merged); err != nil {
			d.Log.WithFields(logrus.Fields{"site_id": site.ID}).WithError(err).Warn("anomaly detection failed")
		}
	}

	for _, f := range engine.Findings() {
		if _, err := d.Store.UpsertFinding(ctx, f, d.RuleConfig.EvidenceBound); err != nil {
			return fmt.Errorf("upsert finding: %w", err)
		}
		metrics.FindingsTotal.WithLabelValues(f.SiteID, f.FindingType, string(f.Severity)).Inc()
	}

	if deadlineHit {
		return fmt.Errorf("job exceeded its soft deadline after %d lines", quality.TotalLines)
	}
	return nil
}

func (d *Driver) detectAnomalies(ctx context.Context, site model.Site, hour model.HourlyAggregate) error {
	params := site.Anomaly
	if params.BaselineDays == 0 {
		params = model.DefaultAnomalyParams()
	}
	from := hour.HourBucket.AddDate(0, 0, -params.BaselineDays)
	baselineHours, err := d.Store.GetHourlyAggregates(ctx, site.ID, from, hour.HourBucket)
	if err != nil {
		return err
	}
	findings := anomaly.Detect(site.ID, hour, anomaly.Baseline{Hours: baselineHours}, params)
	for _, f := range findings {
		if _, err := d.Store.UpsertFinding(ctx, f, 20); err != nil {
			return err
		}
		metrics.AnomaliesTotal.WithLabelValues(f.SiteID, f.FindingType).Inc()
	}
	return nil
}

// runErrorFile streams an error-log file through decode → parse →
// canonicalize/fingerprint → group upsert, implementing spec.md §4.7 and
// the `analyze_errors` entry point from spec.md §6.
func (d *Driver) runErrorFile(ctx context.Context, jobID string, lf model.LogFile, site model.Site, deadline time.Time) error {
	rc, err := d.Blobs.Open(ctx, lf.StorageKey)
	if err != nil {
		return fmt.Errorf("open blob %s: %w", lf.StorageKey, err)
	}
	defer rc.Close()

	reader, err := decode.Open(rc.Name(), rc)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	quality := model.ParseQuality{}
	deadlineHit := false
	counters, err := decode.Scan(reader, func(line decode.Line) bool {
		if deadlineExceeded(deadline) {
			deadlineHit = true
			return false
		}
		quality.TotalLines++
		occ, perr := errorlog.Parse(line.Number, line.Text)
		if perr != nil {
			quality.FailedLines++
			return true
		}
		quality.ParsedLines++
		occ.LogFileID = lf.ID
		fp := errorgroup.FingerprintOf(occ)
		if _, err := d.Store.UpsertErrorGroup(ctx, site.ID, fp, occ); err != nil {
			d.Log.WithFields(logrus.Fields{"log_file_id": lf.ID}).WithError(err).Error("upsert error group")
			return true
		}
		if err := d.Store.InsertErrorOccurrence(ctx, occ); err != nil {
			d.Log.WithFields(logrus.Fields{"log_file_id": lf.ID}).WithError(err).Error("insert error occurrence")
		}
		if quality.TotalLines%10000 == 0 {
			d.report(jobID, progressPercent(quality.TotalLines), fmt.Sprintf("processed %d error lines", quality.TotalLines))
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	quality.EmptyLines = counters.EmptyLines
	quality.TotalLines = counters.TotalLines
	quality.Recompute()
	if err := d.Store.PutParseQuality(ctx, lf.ID, quality); err != nil {
		return fmt.Errorf("persist parse quality: %w", err)
	}
	if deadlineHit {
		return fmt.Errorf("job exceeded its soft deadline after %d lines", quality.TotalLines)
	}
	return nil
}

// progressPercent is a rough, monotonic estimate: lines processed don't
// know the file's total ahead of time, so this reports a log-scaled
// approximation capped at 99 until the job reports its final 100.
func progressPercent(lines int64) int {
	switch {
	case lines <= 0:
		return 0
	case lines < 1_000:
		return 10
	case lines < 10_000:
		return 30
	case lines < 100_000:
		return 60
	case lines < 1_000_000:
		return 85
	default:
		return 99
	}
}
