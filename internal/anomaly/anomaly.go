// Package anomaly implements the per-hour statistical anomaly detector from
// spec.md §4.6: a baseline mean/stddev comparison against the trailing
// window, plus a first-seen-path detector.
//
// Grounded on allensuvorov-tenexlog's internal/analyze/rate.go, which
// computes a per-IP mean/stddev baseline and a z-score over per-minute
// counts; this generalizes that same meanStd/z-score shape from a
// per-IP-per-minute series to a per-site-per-hour series, and replaces the
// confidence-squash display value with the severity bands spec.md §4.6
// spells out.
package anomaly

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
	"time"

	"github.com/allensuvorov/logamizer/internal/model"
)

// FindingType labels, used as model.Finding.FindingType.
const (
	TypeRequestsSpike = "anomaly.requests_spike"
	TypeErrorSpike    = "anomaly.error_spike"
	TypeNewPath       = "anomaly.new_path"
)

// epsilon is the z-score denominator floor from spec.md §4.6 ("z = (value -
// mean) / max(σ, ε) where ε = 1").
const epsilon = 1.0

// requestsFloor and errorsFloor are the absolute floors spec.md §4.6
// requires alongside the z-score threshold, so a quiet site's first busy
// hour isn't flagged purely because its baseline is near zero.
const (
	requestsFloor = 200
	errorsFloor   = 10
)

// Baseline holds the trailing-window hourly aggregates for one site, built
// by the caller from the Store (spec.md §4.6 step 1: "the set of hour
// buckets in the window [H - baseline_days, H), excluding H itself").
type Baseline struct {
	Hours []model.HourlyAggregate
}

// errorCount is the combined 4xx+5xx metric spec.md §4.6 scores alongside
// requests_count.
func errorCount(h model.HourlyAggregate) float64 {
	return float64(h.Status4xx + h.Status5xx)
}

func meanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))
	var ssq float64
	for _, x := range xs {
		d := x - mean
		ssq += d * d
	}
	std = math.Sqrt(ssq / float64(len(xs)))
	return mean, std
}

// Detect scores one freshly-touched hour against its baseline and returns
// the anomaly signals for it (spec.md §4.6). It returns no signals, not an
// error, when the baseline is too thin (min_baseline_hours gate) — a thin
// baseline is an expected steady state during a site's first week, not a
// failure.
func Detect(siteID string, hour model.HourlyAggregate, baseline Baseline, params model.AnomalyParams) []model.Finding {
	if len(baseline.Hours) < params.MinBaselineHours {
		return nil
	}

	var out []model.Finding

	requestsSeries := make([]float64, len(baseline.Hours))
	errorSeries := make([]float64, len(baseline.Hours))
	seenPaths := make(map[string]struct{})
	for i, h := range baseline.Hours {
		requestsSeries[i] = float64(h.RequestsCount)
		errorSeries[i] = errorCount(h)
		for _, p := range h.TopPaths {
			seenPaths[p.Key] = struct{}{}
		}
	}

	if f := scoreMetric(siteID, hour, TypeRequestsSpike, model.SeverityHigh,
		float64(hour.RequestsCount), requestsSeries, requestsFloor, params); f != nil {
		out = append(out, *f)
	}
	if f := scoreMetric(siteID, hour, TypeErrorSpike, model.SeverityCritical,
		errorCount(hour), errorSeries, errorsFloor, params); f != nil {
		out = append(out, *f)
	}

	for _, p := range hour.TopPaths {
		if _, ok := seenPaths[p.Key]; ok {
			continue
		}
		if p.Count < int64(params.NewPathMinCount) {
			continue
		}
		out = append(out, model.Finding{
			SiteID:      siteID,
			FindingType: TypeNewPath,
			Severity:    model.SeverityMedium,
			Title:       "New path observed",
			Description: "Path " + p.Key + " appeared in this hour with no occurrences in the trailing baseline.",
			Fingerprint: fingerprint(siteID, hour.HourBucket, TypeNewPath, p.Key),
		})
	}

	return out
}

func scoreMetric(siteID string, hour model.HourlyAggregate, findingType string, severity model.Severity, value float64, series []float64, floor float64, params model.AnomalyParams) *model.Finding {
	mean, std := meanStd(series)
	z := (value - mean) / math.Max(std, epsilon)
	threshold := params.ZThreshold
	if threshold <= 0 {
		threshold = model.DefaultAnomalyParams().ZThreshold
	}
	if z < threshold || value < floor {
		return nil
	}
	return &model.Finding{
		SiteID:      siteID,
		FindingType: findingType,
		Severity:    severity,
		Title:       "Statistical anomaly detected",
		Description: describe(findingType, hour.HourBucket, value, mean, z),
		Fingerprint: fingerprint(siteID, hour.HourBucket, findingType, "site"),
	}
}

func describe(findingType string, hour time.Time, value, mean, z float64) string {
	metric := "requests"
	if findingType == TypeErrorSpike {
		metric = "errors"
	}
	return "Hour " + hour.UTC().Format(time.RFC3339) + " " + metric +
		" value " + formatFloat(value) + " is " + formatFloat(z) +
		" standard deviations above the trailing baseline mean of " + formatFloat(mean) + "."
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(math.Round(f*100)/100, 'f', -1, 64)
}

// fingerprint gives each anomaly signal the idempotent identity spec.md
// §4.6 requires: "idempotent by (site, hour_bucket, anomaly_type,
// subject)".
func fingerprint(siteID string, hour time.Time, anomalyType, subject string) string {
	h := sha256.New()
	h.Write([]byte(siteID))
	h.Write([]byte{0})
	h.Write([]byte(hour.UTC().Format(time.RFC3339)))
	h.Write([]byte{0})
	h.Write([]byte(anomalyType))
	h.Write([]byte{0})
	h.Write([]byte(subject))
	return hex.EncodeToString(h.Sum(nil))
}
