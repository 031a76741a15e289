package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allensuvorov/logamizer/internal/model"
)

func ev(ip string, status int, ts time.Time) model.NormalizedEvent {
	return model.NormalizedEvent{IP: ip, Status: status, Path: "/p", Timestamp: ts, BytesSent: 10}
}

func TestHourBucketFloorsToUTCHour(t *testing.T) {
	ts := time.Date(2024, 3, 1, 14, 37, 12, 0, time.UTC)
	bucket := HourBucket(ts)
	assert.Equal(t, time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC), bucket)
}

func TestIngestAndFlushBucketsByHour(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	a := New("site1", 10, nil)
	a.Ingest(ev("1.1.1.1", 200, base))
	a.Ingest(ev("1.1.1.1", 404, base.Add(10*time.Minute)))
	a.Ingest(ev("2.2.2.2", 500, base.Add(time.Hour+5*time.Minute)))

	rows := a.Flush()
	require.Len(t, rows, 2)

	byHour := map[time.Time]model.HourlyAggregate{}
	for _, r := range rows {
		byHour[r.HourBucket] = r
	}

	first := byHour[HourBucket(base)]
	assert.EqualValues(t, 2, first.RequestsCount)
	assert.EqualValues(t, 1, first.Status2xx)
	assert.EqualValues(t, 1, first.Status4xx)
	assert.EqualValues(t, 1, first.UniqueIPs)

	second := byHour[HourBucket(base.Add(time.Hour))]
	assert.EqualValues(t, 1, second.RequestsCount)
	assert.EqualValues(t, 1, second.Status5xx)
}

func TestTouchedHoursMatchesFlush(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := New("site1", 10, nil)
	a.Ingest(ev("1.1.1.1", 200, base))
	a.Ingest(ev("1.1.1.1", 200, base.Add(2*time.Hour)))
	assert.Len(t, a.TouchedHours(), 2)
}

func TestMergeIsAdditive(t *testing.T) {
	hour := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := model.HourlyAggregate{
		SiteID: "s", HourBucket: hour, RequestsCount: 5, Status2xx: 5, UniqueIPs: 2,
		TopPaths: []model.TopEntry{{Key: "/a", Count: 3}},
	}
	b := model.HourlyAggregate{
		SiteID: "s", HourBucket: hour, RequestsCount: 3, Status2xx: 2, Status4xx: 1, UniqueIPs: 1,
		TopPaths: []model.TopEntry{{Key: "/a", Count: 1}, {Key: "/b", Count: 2}},
	}
	merged := Merge(a, b)
	assert.EqualValues(t, 8, merged.RequestsCount)
	assert.EqualValues(t, 7, merged.Status2xx)
	assert.EqualValues(t, 1, merged.Status4xx)
	assert.EqualValues(t, 3, merged.UniqueIPs)
	require.Len(t, merged.TopPaths, 2)
	assert.Equal(t, "/a", merged.TopPaths[0].Key)
	assert.EqualValues(t, 4, merged.TopPaths[0].Count)
}

func TestReprocessComputesExactUniqueIPs(t *testing.T) {
	hour := time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC)
	events := []model.NormalizedEvent{
		ev("1.1.1.1", 200, hour.Add(time.Minute)),
		ev("1.1.1.1", 200, hour.Add(2*time.Minute)),
		ev("2.2.2.2", 200, hour.Add(3*time.Minute)),
		ev("3.3.3.3", 200, hour.Add(61*time.Minute)), // different hour, excluded
	}
	got := Reprocess("site1", hour, events, 10)
	assert.EqualValues(t, 3, got.RequestsCount)
	assert.EqualValues(t, 2, got.UniqueIPs)
}

func TestTopKKeepsHighestCountsWithinBound(t *testing.T) {
	k := newTopK(2)
	k.Add("a")
	k.Add("a")
	k.Add("b")
	k.Add("c")
	k.Add("c")
	k.Add("c")
	snap := k.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "c", snap[0].Key)
	assert.EqualValues(t, 3, snap[0].Count)
	assert.Equal(t, "a", snap[1].Key)
}

func TestTopKEvictsLowestCountOnceCapacityFull(t *testing.T) {
	// cap = 4*k = 4 distinct tracked keys for k=1; a 5th unseen key must
	// evict the current minimum.
	k := newTopK(1)
	k.Add("a")
	k.Add("b")
	k.Add("c")
	k.Add("d")
	for i := 0; i < 5; i++ {
		k.Add("winner")
	}
	snap := k.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "winner", snap[0].Key)
	assert.EqualValues(t, 5, snap[0].Count)
}

func TestMergeTopSumsCountsAndRespectsBound(t *testing.T) {
	a := []model.TopEntry{{Key: "x", Count: 5}, {Key: "y", Count: 1}}
	b := []model.TopEntry{{Key: "x", Count: 2}, {Key: "z", Count: 10}}
	merged := MergeTop(a, b, 2)
	require.Len(t, merged, 2)
	assert.Equal(t, "z", merged[0].Key)
	assert.Equal(t, "x", merged[1].Key)
	assert.EqualValues(t, 7, merged[1].Count)
}
