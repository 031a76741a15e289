// Package model holds the shared data types that flow through the
// Logamizer ingest and analytics pipeline. None of these types are
// persisted by this package directly — see internal/store for that.
package model

import (
	"io"
	"time"
)

// ReadCloserWithName is what a blob store read returns: the byte stream
// plus the name it was stored under, so the decoder can sniff a .gz
// suffix without the caller threading the filename through separately.
type ReadCloserWithName interface {
	io.ReadCloser
	Name() string
}

// LogFormat names a supported access-log recognizer.
type LogFormat string

const (
	FormatNginxCombined  LogFormat = "nginx_combined"
	FormatApacheCombined LogFormat = "apache_combined"
	FormatAuto           LogFormat = "auto"
)

// LogFileKind distinguishes which pipeline path a LogFile takes.
type LogFileKind string

const (
	KindAccess LogFileKind = "access"
	KindError  LogFileKind = "error"
)

// LogFileStatus is the lifecycle state of an ingestion unit.
type LogFileStatus string

const (
	StatusPending    LogFileStatus = "pending"
	StatusProcessing LogFileStatus = "processing"
	StatusCompleted  LogFileStatus = "completed"
	StatusFailed     LogFileStatus = "failed"
)

// AnomalyParams configures the anomaly detector for a site. The pipeline
// driver replaces the whole value with DefaultAnomalyParams when
// BaselineDays is 0, and the detector falls back to the default ZThreshold
// when ZThreshold is not positive; other zero fields are used as given.
type AnomalyParams struct {
	BaselineDays        int
	MinBaselineHours     int
	ZThreshold           float64
	NewPathMinCount      int
}

// DefaultAnomalyParams returns the §6 configuration defaults.
func DefaultAnomalyParams() AnomalyParams {
	return AnomalyParams{
		BaselineDays:    7,
		MinBaselineHours: 24,
		ZThreshold:       3.0,
		NewPathMinCount:  10,
	}
}

// Site is the identity the pipeline operates on.
type Site struct {
	ID        string
	Name      string
	Domain    string
	Format    LogFormat
	Anomaly   AnomalyParams
	HiddenIPs []string // ordered; membership tests use a derived set
}

// HiddenIPSet returns a lookup set built from HiddenIPs.
func (s Site) HiddenIPSet() map[string]struct{} {
	set := make(map[string]struct{}, len(s.HiddenIPs))
	for _, ip := range s.HiddenIPs {
		set[ip] = struct{}{}
	}
	return set
}

// LogFile is one ingestion unit.
type LogFile struct {
	ID         string
	SiteID     string
	Filename   string
	SizeBytes  int64
	SHA256     string
	StorageKey string
	Kind       LogFileKind
	Status     LogFileStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NormalizedEvent is the canonical, transient shape produced by the parser
// for access-log lines. It is never persisted.
type NormalizedEvent struct {
	Timestamp  time.Time
	IP         string
	Method     string
	Path       string
	Status     int
	BytesSent  int64
	Referer    *string
	UserAgent  *string
	User       *string
	Protocol   string
	LineNumber int
	Raw        string
}

// ErrorOccurrence is a single parsed error-log event, prior to grouping.
type ErrorOccurrence struct {
	LogFileID   string
	GroupID     string // filled in by the error grouper on upsert
	Timestamp   time.Time
	ErrorType   string
	Message     string
	StackTrace  string
	FilePath    string
	FileLine    int
	FuncName    string
	RequestURL  string
	RequestMeth string
	IP          string
	UserAgent   string
	Context     map[string]string
	LineNumber  int
	Raw         string
}

// ErrorGroupStatus is mutated only by user action.
type ErrorGroupStatus string

const (
	ErrorUnresolved ErrorGroupStatus = "unresolved"
	ErrorResolved   ErrorGroupStatus = "resolved"
	ErrorIgnored    ErrorGroupStatus = "ignored"
)

// ErrorGroup is the deduplicated identity of recurring errors.
type ErrorGroup struct {
	SiteID          string
	Fingerprint     [16]byte
	ErrorType       string
	ErrorMessage    string
	FirstSeen       time.Time
	LastSeen        time.Time
	OccurrenceCount int64
	Status          ErrorGroupStatus
}

// Severity ranks a Finding or anomaly signal.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Evidence is a bounded sample of raw input backing a Finding.
type Evidence struct {
	Line int
	Raw  string
}

// Finding is a security or anomaly signal emitted by the rule engine or the
// anomaly detector, keyed for idempotent upsert by Fingerprint.
type Finding struct {
	SiteID      string
	FindingType string
	Severity    Severity
	Title       string
	Description string
	Evidence    []Evidence
	Fingerprint string // hash(rule_id, site, canonical_subject, time_window_key)
}

// TopEntry is one (key, count) pair in a bounded Top-K summary.
type TopEntry struct {
	Key   string
	Count int64
}

// HourlyAggregate is one row per (site, hour bucket).
type HourlyAggregate struct {
	SiteID        string
	HourBucket    time.Time
	RequestsCount int64
	Status2xx     int64
	Status3xx     int64
	Status4xx     int64
	Status5xx     int64
	UniqueIPs     int64
	TotalBytes    int64
	TopPaths      []TopEntry
	TopIPs        []TopEntry
	TopUserAgents []TopEntry
	TopStatusCodes []TopEntry
}

// ParseQuality is the persisted per-file quality report from §6.
type ParseQuality struct {
	TotalLines   int64
	ParsedLines  int64
	FailedLines  int64
	EmptyLines   int64
	SuccessRate  float64
}

// Recompute fills SuccessRate from the counted lines.
func (q *ParseQuality) Recompute() {
	denom := q.TotalLines - q.EmptyLines
	if denom <= 0 {
		q.SuccessRate = 0
		return
	}
	q.SuccessRate = float64(q.ParsedLines) / float64(denom)
}
