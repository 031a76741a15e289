// Package aggregate buckets the filtered event stream into hourly rows
// with additive counters and bounded Top-K summaries (spec.md §4.4).
//
// Grounded on allensuvorov-tenexlog's internal/analyze/rate.go, which
// already buckets events by (ip, minute) and computes per-bucket
// statistics in one pass; this generalizes that per-minute-per-IP
// bucketing into per-hour-per-site bucketing with four bounded Top-K
// summaries instead of one scalar count.
package aggregate

import (
	"strconv"
	"sync"
	"time"

	"github.com/allensuvorov/logamizer/internal/model"
)

// DefaultK is the Top-K bound named throughout spec.md (K=10).
const DefaultK = 10

// progressEvery matches spec.md §4.4: "reports ... to the pipeline driver
// at least every 10,000 events."
const progressEvery = 10_000

// bucket accumulates one (site, hour) row while it stays in memory.
type bucket struct {
	hour       time.Time
	requests   int64
	status2xx  int64
	status3xx  int64
	status4xx  int64
	status5xx  int64
	totalBytes int64
	ips        map[string]struct{}
	paths      *topK
	ipsTop     *topK
	uas        *topK
	statuses   *topK
}

func newBucket(hour time.Time, k int) *bucket {
	return &bucket{
		hour:     hour,
		ips:      make(map[string]struct{}),
		paths:    newTopK(k),
		ipsTop:   newTopK(k),
		uas:      newTopK(k),
		statuses: newTopK(k),
	}
}

func (b *bucket) add(ev model.NormalizedEvent) {
	b.requests++
	switch {
	case ev.Status >= 200 && ev.Status < 300:
		b.status2xx++
	case ev.Status >= 300 && ev.Status < 400:
		b.status3xx++
	case ev.Status >= 400 && ev.Status < 500:
		b.status4xx++
	case ev.Status >= 500 && ev.Status < 600:
		b.status5xx++
	}
	b.totalBytes += ev.BytesSent
	if ev.IP != "" {
		b.ips[ev.IP] = struct{}{}
		b.ipsTop.Add(ev.IP)
	}
	if ev.Path != "" {
		b.paths.Add(ev.Path)
	}
	if ev.UserAgent != nil {
		b.uas.Add(*ev.UserAgent)
	}
	b.statuses.Add(strconv.Itoa(ev.Status))
}

func (b *bucket) toAggregate(siteID string) model.HourlyAggregate {
	return model.HourlyAggregate{
		SiteID:         siteID,
		HourBucket:     b.hour,
		RequestsCount:  b.requests,
		Status2xx:      b.status2xx,
		Status3xx:      b.status3xx,
		Status4xx:      b.status4xx,
		Status5xx:      b.status5xx,
		UniqueIPs:      int64(len(b.ips)),
		TotalBytes:     b.totalBytes,
		TopPaths:       b.paths.Snapshot(),
		TopIPs:         b.ipsTop.Snapshot(),
		TopUserAgents:  b.uas.Snapshot(),
		TopStatusCodes: b.statuses.Snapshot(),
	}
}

// HourBucket floors a UTC timestamp to the hour, the aggregation key used
// throughout the pipeline.
func HourBucket(ts time.Time) time.Time {
	return ts.UTC().Truncate(time.Hour)
}

// ProgressFunc reports (lines_processed, last_hour_flushed) to the
// pipeline driver. It must not block the hot event path (spec.md §9); the
// Aggregator only calls it at most once per progressEvery events plus once
// on Flush, so a channel-backed sink with a small buffer is sufficient.
type ProgressFunc func(linesProcessed int64, lastHourFlushed time.Time)

// Aggregator accumulates hourly buckets for a single site in memory. It
// holds at most ~24h worth of buckets for a well-behaved file, bounding
// peak memory to O(active_hours * K) as required by spec.md §5.
type Aggregator struct {
	mu             sync.Mutex
	siteID         string
	k              int
	buckets        map[time.Time]*bucket
	touched        map[time.Time]struct{}
	linesProcessed int64
	lastFlushed    time.Time
	onProgress     ProgressFunc
}

// New creates an Aggregator for one site. k is the Top-K bound (pass
// DefaultK unless a test needs a smaller bound for determinism).
func New(siteID string, k int, onProgress ProgressFunc) *Aggregator {
	if k <= 0 {
		k = DefaultK
	}
	return &Aggregator{
		siteID:     siteID,
		k:          k,
		buckets:    make(map[time.Time]*bucket),
		touched:    make(map[time.Time]struct{}),
		onProgress: onProgress,
	}
}

// Ingest buckets one event by its hour and updates the bucket's counters
// and Top-K summaries. Safe for concurrent use: two jobs touching the same
// Aggregator instance serialize through the internal mutex, satisfying the
// commutative-additive requirement of spec.md §4.4 in-process; across
// jobs the same guarantee comes from the Store's upsert (memstore holds
// one store-wide mutex; sqlstore locks the row FOR UPDATE).
func (a *Aggregator) Ingest(ev model.NormalizedEvent) {
	hour := HourBucket(ev.Timestamp)

	a.mu.Lock()
	b, ok := a.buckets[hour]
	if !ok {
		b = newBucket(hour, a.k)
		a.buckets[hour] = b
	}
	b.add(ev)
	a.touched[hour] = struct{}{}
	a.linesProcessed++
	report := a.linesProcessed%progressEvery == 0
	lines := a.linesProcessed
	a.mu.Unlock()

	if report && a.onProgress != nil {
		a.onProgress(lines, hour)
	}
}

// Flush returns the in-memory state of every touched hour bucket as
// HourlyAggregate rows, ready for an additive upsert into the Store. It
// does not clear the Aggregator's state; callers that want a fresh
// Aggregator per job should simply discard it after Flush.
func (a *Aggregator) Flush() []model.HourlyAggregate {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]model.HourlyAggregate, 0, len(a.touched))
	for hour := range a.touched {
		out = append(out, a.buckets[hour].toAggregate(a.siteID))
	}
	if a.onProgress != nil && a.linesProcessed > 0 {
		a.lastFlushed = latestHour(a.touched)
		a.onProgress(a.linesProcessed, a.lastFlushed)
	}
	return out
}

// TouchedHours returns the set of hour buckets this run added data to,
// used by the pipeline driver to scope the anomaly detector (spec.md §4.6:
// "For each freshly-touched hour H in the file").
func (a *Aggregator) TouchedHours() []time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]time.Time, 0, len(a.touched))
	for h := range a.touched {
		out = append(out, h)
	}
	return out
}

func latestHour(set map[time.Time]struct{}) time.Time {
	var last time.Time
	for h := range set {
		if h.After(last) {
			last = h
		}
	}
	return last
}

// Merge combines two HourlyAggregate rows for the same (site, hour)
// additively: counters sum, Top-K summaries merge by summed count
// (spec.md §4.4). unique_ips sums as an over-estimate across runs — see
// SPEC_FULL.md's Open Question Decision; Reprocess below provides the
// exact alternative.
func Merge(existing, incoming model.HourlyAggregate) model.HourlyAggregate {
	k := DefaultK
	if n := len(existing.TopPaths); n > k {
		k = n
	}
	return model.HourlyAggregate{
		SiteID:         existing.SiteID,
		HourBucket:     existing.HourBucket,
		RequestsCount:  existing.RequestsCount + incoming.RequestsCount,
		Status2xx:      existing.Status2xx + incoming.Status2xx,
		Status3xx:      existing.Status3xx + incoming.Status3xx,
		Status4xx:      existing.Status4xx + incoming.Status4xx,
		Status5xx:      existing.Status5xx + incoming.Status5xx,
		UniqueIPs:      existing.UniqueIPs + incoming.UniqueIPs,
		TotalBytes:     existing.TotalBytes + incoming.TotalBytes,
		TopPaths:       MergeTop(existing.TopPaths, incoming.TopPaths, k),
		TopIPs:         MergeTop(existing.TopIPs, incoming.TopIPs, k),
		TopUserAgents:  MergeTop(existing.TopUserAgents, incoming.TopUserAgents, k),
		TopStatusCodes: MergeTop(existing.TopStatusCodes, incoming.TopStatusCodes, k),
	}
}

// Reprocess recomputes a single hour bucket's exact unique_ips by
// replaying every event the caller supplies (normally every event from
// every LogFile that has ever touched this site+hour). It is the "full
// reprocess path" named in spec.md §4.4's open question, as opposed to the
// additive over-estimate Ingest/Flush/Merge maintain incrementally.
func Reprocess(siteID string, hour time.Time, events []model.NormalizedEvent, k int) model.HourlyAggregate {
	b := newBucket(hour, k)
	for _, ev := range events {
		if HourBucket(ev.Timestamp) != hour {
			continue
		}
		b.add(ev)
	}
	return b.toAggregate(siteID)
}
