package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/allensuvorov/logamizer/internal/aggregate"
	"github.com/allensuvorov/logamizer/internal/model"
)

func marshalTop(entries []model.TopEntry) ([]byte, error) {
	return json.Marshal(entries)
}

func unmarshalTop(raw []byte) ([]model.TopEntry, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []model.TopEntry
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type execer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertHourRow(ctx context.Context, tx execer, agg model.HourlyAggregate) (model.HourlyAggregate, error) {
	var existing model.HourlyAggregate
	var paths, ips, uas, statuses []byte
	err := tx.QueryRowContext(ctx,
		`SELECT requests_count, status_2xx, status_3xx, status_4xx, status_5xx, unique_ips, total_bytes,
		        top_paths, top_ips, top_user_agents, top_status_codes
		   FROM hourly_aggregates WHERE site_id = $1 AND hour_bucket = $2 FOR UPDATE`,
		agg.SiteID, agg.HourBucket).
		Scan(&existing.RequestsCount, &existing.Status2xx, &existing.Status3xx, &existing.Status4xx, &existing.Status5xx,
			&existing.UniqueIPs, &existing.TotalBytes, &paths, &ips, &uas, &statuses)

	merged := agg
	if err == nil {
		existing.SiteID, existing.HourBucket = agg.SiteID, agg.HourBucket
		if existing.TopPaths, err = unmarshalTop(paths); err != nil {
			return model.HourlyAggregate{}, err
		}
		if existing.TopIPs, err = unmarshalTop(ips); err != nil {
			return model.HourlyAggregate{}, err
		}
		if existing.TopUserAgents, err = unmarshalTop(uas); err != nil {
			return model.HourlyAggregate{}, err
		}
		if existing.TopStatusCodes, err = unmarshalTop(statuses); err != nil {
			return model.HourlyAggregate{}, err
		}
		merged = aggregate.Merge(existing, agg)
	} else if err != sql.ErrNoRows {
		return model.HourlyAggregate{}, err
	}

	pb, err := marshalTop(merged.TopPaths)
	if err != nil {
		return model.HourlyAggregate{}, err
	}
	ib, err := marshalTop(merged.TopIPs)
	if err != nil {
		return model.HourlyAggregate{}, err
	}
	ub, err := marshalTop(merged.TopUserAgents)
	if err != nil {
		return model.HourlyAggregate{}, err
	}
	sb, err := marshalTop(merged.TopStatusCodes)
	if err != nil {
		return model.HourlyAggregate{}, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO hourly_aggregates
		   (site_id, hour_bucket, requests_count, status_2xx, status_3xx, status_4xx, status_5xx,
		    unique_ips, total_bytes, top_paths, top_ips, top_user_agents, top_status_codes)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		 ON CONFLICT (site_id, hour_bucket) DO UPDATE SET
		   requests_count = EXCLUDED.requests_count, status_2xx = EXCLUDED.status_2xx,
		   status_3xx = EXCLUDED.status_3xx, status_4xx = EXCLUDED.status_4xx, status_5xx = EXCLUDED.status_5xx,
		   unique_ips = EXCLUDED.unique_ips, total_bytes = EXCLUDED.total_bytes,
		   top_paths = EXCLUDED.top_paths, top_ips = EXCLUDED.top_ips,
		   top_user_agents = EXCLUDED.top_user_agents, top_status_codes = EXCLUDED.top_status_codes`,
		merged.SiteID, merged.HourBucket, merged.RequestsCount, merged.Status2xx, merged.Status3xx,
		merged.Status4xx, merged.Status5xx, merged.UniqueIPs, merged.TotalBytes, pb, ib, ub, sb)
	if err != nil {
		return model.HourlyAggregate{}, err
	}
	return merged, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHourRow(r rowScanner) (model.HourlyAggregate, error) {
	var agg model.HourlyAggregate
	var paths, ips, uas, statuses []byte
	if err := r.Scan(&agg.SiteID, &agg.HourBucket, &agg.RequestsCount, &agg.Status2xx, &agg.Status3xx,
		&agg.Status4xx, &agg.Status5xx, &agg.UniqueIPs, &agg.TotalBytes, &paths, &ips, &uas, &statuses); err != nil {
		return model.HourlyAggregate{}, err
	}
	var err error
	if agg.TopPaths, err = unmarshalTop(paths); err != nil {
		return model.HourlyAggregate{}, err
	}
	if agg.TopIPs, err = unmarshalTop(ips); err != nil {
		return model.HourlyAggregate{}, err
	}
	if agg.TopUserAgents, err = unmarshalTop(uas); err != nil {
		return model.HourlyAggregate{}, err
	}
	if agg.TopStatusCodes, err = unmarshalTop(statuses); err != nil {
		return model.HourlyAggregate{}, err
	}
	return agg, nil
}

func upsertFindingRow(ctx context.Context, tx execer, f model.Finding, evidenceBound int) (model.Finding, error) {
	var existing model.Finding
	var evBytes []byte
	err := tx.QueryRowContext(ctx,
		`SELECT finding_type, severity, title, description, evidence
		   FROM findings WHERE site_id = $1 AND fingerprint = $2 FOR UPDATE`,
		f.SiteID, f.Fingerprint).
		Scan(&existing.FindingType, &existing.Severity, &existing.Title, &existing.Description, &evBytes)

	merged := f
	if err == nil {
		existing.SiteID, existing.Fingerprint = f.SiteID, f.Fingerprint
		if err := json.Unmarshal(evBytes, &existing.Evidence); err != nil {
			return model.Finding{}, err
		}
		merged = existing
		merged.Evidence = append(append([]model.Evidence{}, existing.Evidence...), f.Evidence...)
		if len(merged.Evidence) > evidenceBound {
			merged.Evidence = merged.Evidence[len(merged.Evidence)-evidenceBound:]
		}
		if severityRank(f.Severity) > severityRank(existing.Severity) {
			merged.Severity = f.Severity
		}
	} else if err != sql.ErrNoRows {
		return model.Finding{}, err
	}

	evJSON, err := json.Marshal(merged.Evidence)
	if err != nil {
		return model.Finding{}, err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO findings (site_id, fingerprint, finding_type, severity, title, description, evidence)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (site_id, fingerprint) DO UPDATE SET
		   severity = EXCLUDED.severity, evidence = EXCLUDED.evidence`,
		merged.SiteID, merged.Fingerprint, merged.FindingType, string(merged.Severity),
		merged.Title, merged.Description, evJSON)
	if err != nil {
		return model.Finding{}, err
	}
	return merged, nil
}

func scanFindingRow(r rowScanner) (model.Finding, error) {
	var f model.Finding
	var evBytes []byte
	if err := r.Scan(&f.SiteID, &f.Fingerprint, &f.FindingType, &f.Severity, &f.Title, &f.Description, &evBytes); err != nil {
		return model.Finding{}, err
	}
	if err := json.Unmarshal(evBytes, &f.Evidence); err != nil {
		return model.Finding{}, err
	}
	return f, nil
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
