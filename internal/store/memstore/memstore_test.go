package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allensuvorov/logamizer/internal/model"
	"github.com/allensuvorov/logamizer/internal/store"
)

func TestGetSiteReturnsErrNotFoundWhenMissing(t *testing.T) {
	s := New()
	_, err := s.GetSite(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPutAndGetSiteRoundTrips(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.PutSite(ctx, model.Site{ID: "s1", Name: "Example"}))
	got, err := s.GetSite(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Example", got.Name)
}

func TestFindLogFileBySHAIndexesOnInsert(t *testing.T) {
	s := New()
	ctx := context.Background()
	lf := model.LogFile{ID: "lf1", SiteID: "s1", SHA256: "abc"}
	require.NoError(t, s.PutLogFile(ctx, lf))

	found, ok, err := s.FindLogFileBySHA(ctx, "s1", "abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "lf1", found.ID)

	_, ok, err = s.FindLogFileBySHA(ctx, "s1", "does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateLogFileStatusRequiresExistingRow(t *testing.T) {
	s := New()
	ctx := context.Background()
	err := s.UpdateLogFileStatus(ctx, "missing", model.StatusCompleted)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.PutLogFile(ctx, model.LogFile{ID: "lf1", Status: model.StatusPending}))
	require.NoError(t, s.UpdateLogFileStatus(ctx, "lf1", model.StatusCompleted))
	got, _, err := s.GetLogFile(ctx, "lf1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
}

func TestUpsertHourlyAggregateMergesAdditively(t *testing.T) {
	s := New()
	ctx := context.Background()
	hour := time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC)

	first, err := s.UpsertHourlyAggregate(ctx, model.HourlyAggregate{SiteID: "s1", HourBucket: hour, RequestsCount: 5})
	require.NoError(t, err)
	assert.EqualValues(t, 5, first.RequestsCount)

	second, err := s.UpsertHourlyAggregate(ctx, model.HourlyAggregate{SiteID: "s1", HourBucket: hour, RequestsCount: 3})
	require.NoError(t, err)
	assert.EqualValues(t, 8, second.RequestsCount)
}

func TestGetHourlyAggregatesFiltersByRangeAndSorts(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := s.UpsertHourlyAggregate(ctx, model.HourlyAggregate{
			SiteID: "s1", HourBucket: base.Add(time.Duration(i) * time.Hour), RequestsCount: int64(i + 1),
		})
		require.NoError(t, err)
	}
	rows, err := s.GetHourlyAggregates(ctx, "s1", base.Add(time.Hour), base.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].HourBucket.Before(rows[1].HourBucket))
}

func TestUpsertFindingMergesEvidenceAndEscalatesSeverity(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := model.Finding{SiteID: "s1", Fingerprint: "fp1", Severity: model.SeverityMedium, Evidence: []model.Evidence{{Line: 1}}}
	first, err := s.UpsertFinding(ctx, base, 10)
	require.NoError(t, err)
	assert.Len(t, first.Evidence, 1)

	next := model.Finding{SiteID: "s1", Fingerprint: "fp1", Severity: model.SeverityCritical, Evidence: []model.Evidence{{Line: 2}}}
	merged, err := s.UpsertFinding(ctx, next, 10)
	require.NoError(t, err)
	assert.Len(t, merged.Evidence, 2)
	assert.Equal(t, model.SeverityCritical, merged.Severity)
}

func TestUpsertFindingClampsEvidenceToBound(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.UpsertFinding(ctx, model.Finding{SiteID: "s1", Fingerprint: "fp1", Evidence: []model.Evidence{{Line: 1}, {Line: 2}}}, 3)
	require.NoError(t, err)
	merged, err := s.UpsertFinding(ctx, model.Finding{SiteID: "s1", Fingerprint: "fp1", Evidence: []model.Evidence{{Line: 3}, {Line: 4}}}, 3)
	require.NoError(t, err)
	require.Len(t, merged.Evidence, 3)
	assert.EqualValues(t, 2, merged.Evidence[0].Line)
	assert.EqualValues(t, 4, merged.Evidence[2].Line)
}

func TestUpsertErrorGroupStartsAtOneThenIncrements(t *testing.T) {
	s := New()
	ctx := context.Background()
	fp := [16]byte{9}
	first, err := s.UpsertErrorGroup(ctx, "s1", fp, model.ErrorOccurrence{Timestamp: time.Unix(100, 0).UTC()})
	require.NoError(t, err)
	assert.EqualValues(t, 1, first.OccurrenceCount)

	second, err := s.UpsertErrorGroup(ctx, "s1", fp, model.ErrorOccurrence{Timestamp: time.Unix(200, 0).UTC()})
	require.NoError(t, err)
	assert.EqualValues(t, 2, second.OccurrenceCount)
	assert.Equal(t, time.Unix(200, 0).UTC(), second.LastSeen)
}

func TestSetErrorGroupStatusRequiresExistingGroup(t *testing.T) {
	s := New()
	ctx := context.Background()
	err := s.SetErrorGroupStatus(ctx, "s1", [16]byte{1}, model.ErrorResolved)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.UpsertErrorGroup(ctx, "s1", [16]byte{1}, model.ErrorOccurrence{Timestamp: time.Now().UTC()})
	require.NoError(t, err)
	require.NoError(t, s.SetErrorGroupStatus(ctx, "s1", [16]byte{1}, model.ErrorResolved))

	groups, err := s.ListErrorGroups(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, model.ErrorResolved, groups[0].Status)
}

var _ store.Store = (*Store)(nil)
