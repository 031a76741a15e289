// Package memstore is the in-memory reference implementation of
// internal/store.Store, used by every package's tests and as the default
// backing store for a single-process deployment.
//
// Grounded on allensuvorov-tenexlog's in-memory test double pattern (a
// single mutex-guarded struct satisfying the same interface the real
// store does), generalized here to the richer Logamizer schema.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/allensuvorov/logamizer/internal/aggregate"
	"github.com/allensuvorov/logamizer/internal/model"
	"github.com/allensuvorov/logamizer/internal/store"
)

type hourKey struct {
	siteID string
	hour   time.Time
}

type findingKey struct {
	siteID      string
	fingerprint string
}

type groupKey struct {
	siteID string
	fp     [16]byte
}

// Store is a mutex-guarded, process-local Store.
type Store struct {
	mu sync.Mutex

	sites    map[string]model.Site
	logFiles map[string]model.LogFile
	shaIndex map[string]string // siteID|sha256 -> logFileID
	quality  map[string]model.ParseQuality

	hours map[hourKey]model.HourlyAggregate

	findings map[findingKey]model.Finding

	groups      map[groupKey]model.ErrorGroup
	occurrences []model.ErrorOccurrence
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		sites:    make(map[string]model.Site),
		logFiles: make(map[string]model.LogFile),
		shaIndex: make(map[string]string),
		quality:  make(map[string]model.ParseQuality),
		hours:    make(map[hourKey]model.HourlyAggregate),
		findings: make(map[findingKey]model.Finding),
		groups:   make(map[groupKey]model.ErrorGroup),
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) GetSite(_ context.Context, siteID string) (model.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.sites[siteID]
	if !ok {
		return model.Site{}, store.ErrNotFound
	}
	return site, nil
}

func (s *Store) PutSite(_ context.Context, site model.Site) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sites[site.ID] = site
	return nil
}

func (s *Store) GetLogFile(_ context.Context, id string) (model.LogFile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lf, ok := s.logFiles[id]
	return lf, ok, nil
}

func (s *Store) FindLogFileBySHA(_ context.Context, siteID, sha256 string) (model.LogFile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.shaIndex[siteID+"|"+sha256]
	if !ok {
		return model.LogFile{}, false, nil
	}
	lf, ok := s.logFiles[id]
	return lf, ok, nil
}

func (s *Store) PutLogFile(_ context.Context, lf model.LogFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logFiles[lf.ID] = lf
	s.shaIndex[lf.SiteID+"|"+lf.SHA256] = lf.ID
	return nil
}

func (s *Store) UpdateLogFileStatus(_ context.Context, id string, status model.LogFileStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lf, ok := s.logFiles[id]
	if !ok {
		return store.ErrNotFound
	}
	lf.Status = status
	lf.UpdatedAt = time.Now().UTC()
	s.logFiles[id] = lf
	return nil
}

func (s *Store) PutParseQuality(_ context.Context, logFileID string, q model.ParseQuality) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quality[logFileID] = q
	return nil
}

// UpsertHourlyAggregate merges additively into any existing row for
// (site, hour), per spec.md §4.4.
func (s *Store) UpsertHourlyAggregate(_ context.Context, agg model.HourlyAggregate) (model.HourlyAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := hourKey{siteID: agg.SiteID, hour: agg.HourBucket}
	if existing, ok := s.hours[key]; ok {
		agg = aggregate.Merge(existing, agg)
	}
	s.hours[key] = agg
	return agg, nil
}

func (s *Store) GetHourlyAggregates(_ context.Context, siteID string, from, to time.Time) ([]model.HourlyAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.HourlyAggregate
	for k, v := range s.hours {
		if k.siteID != siteID {
			continue
		}
		if k.hour.Before(from) || !k.hour.Before(to) {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HourBucket.Before(out[j].HourBucket) })
	return out, nil
}

// UpsertFinding merges evidence for an existing fingerprint up to the
// bound, or inserts a new row, per spec.md §4.5/§9.
func (s *Store) UpsertFinding(_ context.Context, f model.Finding, evidenceBound int) (model.Finding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := findingKey{siteID: f.SiteID, fingerprint: f.Fingerprint}
	existing, ok := s.findings[key]
	if !ok {
		s.findings[key] = f
		return f, nil
	}
	merged := existing
	merged.Evidence = append(append([]model.Evidence{}, existing.Evidence...), f.Evidence...)
	if len(merged.Evidence) > evidenceBound {
		merged.Evidence = merged.Evidence[len(merged.Evidence)-evidenceBound:]
	}
	if severityRank(f.Severity) > severityRank(merged.Severity) {
		merged.Severity = f.Severity
	}
	s.findings[key] = merged
	return merged, nil
}

func severityRank(s model.Severity) int {
	switch s {
	case model.SeverityCritical:
		return 4
	case model.SeverityHigh:
		return 3
	case model.SeverityMedium:
		return 2
	case model.SeverityLow:
		return 1
	default:
		return 0
	}
}

func (s *Store) ListFindings(_ context.Context, siteID string) ([]model.Finding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Finding
	for k, v := range s.findings {
		if k.siteID == siteID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	return out, nil
}

// UpsertErrorGroup applies one occurrence to its group atomically under the
// store's lock, matching spec.md §4.7 step 3.
func (s *Store) UpsertErrorGroup(_ context.Context, siteID string, fp [16]byte, occ model.ErrorOccurrence) (model.ErrorGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := groupKey{siteID: siteID, fp: fp}
	existing, ok := s.groups[key]
	var updated model.ErrorGroup
	if !ok {
		updated = model.ErrorGroup{
			SiteID:          siteID,
			Fingerprint:     fp,
			ErrorType:       occ.ErrorType,
			ErrorMessage:    occ.Message,
			FirstSeen:       occ.Timestamp,
			LastSeen:        occ.Timestamp,
			OccurrenceCount: 1,
			Status:          model.ErrorUnresolved,
		}
	} else {
		updated = existing
		if occ.Timestamp.Before(updated.FirstSeen) {
			updated.FirstSeen = occ.Timestamp
		}
		if occ.Timestamp.After(updated.LastSeen) {
			updated.LastSeen = occ.Timestamp
		}
		updated.OccurrenceCount++
	}
	s.groups[key] = updated
	return updated, nil
}

func (s *Store) InsertErrorOccurrence(_ context.Context, occ model.ErrorOccurrence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.occurrences = append(s.occurrences, occ)
	return nil
}

func (s *Store) ListErrorGroups(_ context.Context, siteID string) ([]model.ErrorGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ErrorGroup
	for k, v := range s.groups {
		if k.siteID == siteID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.Before(out[j].LastSeen) })
	return out, nil
}

func (s *Store) SetErrorGroupStatus(_ context.Context, siteID string, fp [16]byte, status model.ErrorGroupStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := groupKey{siteID: siteID, fp: fp}
	g, ok := s.groups[key]
	if !ok {
		return store.ErrNotFound
	}
	g.Status = status
	s.groups[key] = g
	return nil
}
