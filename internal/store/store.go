// Package store defines the persistence boundary the pipeline driver writes
// through: additive hourly aggregates, idempotent findings, and
// transactionally-upserted error groups (spec.md §4.4, §4.5, §4.7).
//
// Grounded on allensuvorov-tenexlog's database layer shape (a narrow
// interface the API handlers depend on, with one in-memory test double and
// one real backing store) and on etalazz-vsa's
// internal/ratelimiter/persistence/postgres.go idempotent-upsert pattern,
// adapted here from a single counters table into the three upsert paths
// Logamizer needs.
package store

import (
	"context"
	"time"

	"github.com/allensuvorov/logamizer/internal/model"
)

// Store is everything the pipeline driver and API handlers need from
// persistence. Two implementations exist: memstore (the default, and the
// one used by every package's tests) and sqlstore (optional, Postgres via
// lib/pq, for a deployment that wants durable state across restarts).
type Store interface {
	// Site settings.
	GetSite(ctx context.Context, siteID string) (model.Site, error)
	PutSite(ctx context.Context, site model.Site) error

	// LogFile lifecycle.
	GetLogFile(ctx context.Context, id string) (model.LogFile, bool, error)
	FindLogFileBySHA(ctx context.Context, siteID, sha256 string) (model.LogFile, bool, error)
	PutLogFile(ctx context.Context, lf model.LogFile) error
	UpdateLogFileStatus(ctx context.Context, id string, status model.LogFileStatus) error
	PutParseQuality(ctx context.Context, logFileID string, q model.ParseQuality) error

	// Hourly aggregates: additive upsert per spec.md §4.4.
	UpsertHourlyAggregate(ctx context.Context, agg model.HourlyAggregate) (model.HourlyAggregate, error)
	GetHourlyAggregates(ctx context.Context, siteID string, from, to time.Time) ([]model.HourlyAggregate, error)

	// Findings: idempotent upsert keyed by Fingerprint, merging evidence up
	// to the bound per spec.md §4.5/§9.
	UpsertFinding(ctx context.Context, f model.Finding, evidenceBound int) (model.Finding, error)
	ListFindings(ctx context.Context, siteID string) ([]model.Finding, error)

	// Error groups: atomic upsert by (site, fingerprint) per spec.md §4.7.
	UpsertErrorGroup(ctx context.Context, siteID string, fp [16]byte, occ model.ErrorOccurrence) (model.ErrorGroup, error)
	InsertErrorOccurrence(ctx context.Context, occ model.ErrorOccurrence) error
	ListErrorGroups(ctx context.Context, siteID string) ([]model.ErrorGroup, error)
	SetErrorGroupStatus(ctx context.Context, siteID string, fp [16]byte, status model.ErrorGroupStatus) error
}

// ErrNotFound is returned by GetSite and SetErrorGroupStatus (and by
// memstore's UpdateLogFileStatus) when the row is missing; GetLogFile and
// FindLogFileBySHA report a miss through their bool result instead.
var ErrNotFound = notFoundErr{}

type notFoundErr struct{}

func (notFoundErr) Error() string { return "store: not found" }
