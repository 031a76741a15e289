// Package sqlstore is the optional Postgres-backed implementation of
// internal/store.Store, for deployments that want durable state across
// restarts instead of memstore's process-local map.
//
// Grounded on etalazz-vsa's internal/ratelimiter/persistence/postgres.go:
// the same idempotent "INSERT ... ON CONFLICT DO UPDATE" shape, generalized
// from a single counters table into the three tables Logamizer needs
// (hourly_aggregates, findings, error_groups). Uses github.com/lib/pq as
// the driver, matching that example's stack.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/allensuvorov/logamizer/internal/model"
	"github.com/allensuvorov/logamizer/internal/store"
)

// Schema (reference):
//
// CREATE TABLE IF NOT EXISTS sites (
//   id TEXT PRIMARY KEY, name TEXT, domain TEXT, format TEXT,
//   baseline_days INT, min_baseline_hours INT, z_threshold DOUBLE PRECISION,
//   new_path_min_count INT, hidden_ips TEXT[]
// );
// CREATE TABLE IF NOT EXISTS site_hidden_ips (
//   site_id TEXT REFERENCES sites(id), ordinal INT, ip TEXT,
//   PRIMARY KEY (site_id, ordinal)
// );
// CREATE TABLE IF NOT EXISTS log_files (
//   id TEXT PRIMARY KEY, site_id TEXT NOT NULL, filename TEXT, size_bytes BIGINT,
//   sha256 TEXT, storage_key TEXT, kind TEXT, status TEXT,
//   created_at TIMESTAMPTZ, updated_at TIMESTAMPTZ,
//   UNIQUE(site_id, sha256)
// );
// CREATE TABLE IF NOT EXISTS parse_quality (
//   log_file_id TEXT PRIMARY KEY REFERENCES log_files(id),
//   total_lines BIGINT, parsed_lines BIGINT, failed_lines BIGINT,
//   empty_lines BIGINT, success_rate DOUBLE PRECISION
// );
// CREATE TABLE IF NOT EXISTS hourly_aggregates (
//   site_id TEXT, hour_bucket TIMESTAMPTZ,
//   requests_count BIGINT, status_2xx BIGINT, status_3xx BIGINT,
//   status_4xx BIGINT, status_5xx BIGINT, unique_ips BIGINT, total_bytes BIGINT,
//   top_paths JSONB, top_ips JSONB, top_user_agents JSONB, top_status_codes JSONB,
//   PRIMARY KEY (site_id, hour_bucket)
// );
// CREATE TABLE IF NOT EXISTS findings (
//   site_id TEXT, fingerprint TEXT, finding_type TEXT, severity TEXT,
//   title TEXT, description TEXT, evidence JSONB,
//   PRIMARY KEY (site_id, fingerprint)
// );
// CREATE TABLE IF NOT EXISTS error_groups (
//   site_id TEXT, fingerprint BYTEA, error_type TEXT, error_message TEXT,
//   first_seen TIMESTAMPTZ, last_seen TIMESTAMPTZ, occurrence_count BIGINT,
//   status TEXT, PRIMARY KEY (site_id, fingerprint)
// );
// CREATE TABLE IF NOT EXISTS error_occurrences (
//   log_file_id TEXT, group_fingerprint BYTEA, ts TIMESTAMPTZ, raw TEXT, line_number INT
// );

// Store is a Postgres-backed store.Store.
type Store struct {
	db             *sql.DB
	defaultTimeout time.Duration
}

// New wraps an already-opened *sql.DB (callers own its lifecycle).
func New(db *sql.DB) *Store {
	return &Store{db: db, defaultTimeout: 10 * time.Second}
}

var _ store.Store = (*Store)(nil)

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.defaultTimeout)
}

func (s *Store) GetSite(ctx context.Context, siteID string) (model.Site, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var site model.Site
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, domain, format, baseline_days, min_baseline_hours, z_threshold, new_path_min_count
		   FROM sites WHERE id = $1`, siteID).
		Scan(&site.ID, &site.Name, &site.Domain, &site.Format,
			&site.Anomaly.BaselineDays, &site.Anomaly.MinBaselineHours,
			&site.Anomaly.ZThreshold, &site.Anomaly.NewPathMinCount)
	if err == sql.ErrNoRows {
		return model.Site{}, store.ErrNotFound
	}
	if err != nil {
		return model.Site{}, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT ip FROM site_hidden_ips WHERE site_id = $1 ORDER BY ordinal`, siteID)
	if err != nil {
		return model.Site{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return model.Site{}, err
		}
		site.HiddenIPs = append(site.HiddenIPs, ip)
	}
	return site, rows.Err()
}

func (s *Store) PutSite(ctx context.Context, site model.Site) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sites (id, name, domain, format, baseline_days, min_baseline_hours, z_threshold, new_path_min_count)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name, domain = EXCLUDED.domain, format = EXCLUDED.format,
		   baseline_days = EXCLUDED.baseline_days, min_baseline_hours = EXCLUDED.min_baseline_hours,
		   z_threshold = EXCLUDED.z_threshold, new_path_min_count = EXCLUDED.new_path_min_count`,
		site.ID, site.Name, site.Domain, string(site.Format),
		site.Anomaly.BaselineDays, site.Anomaly.MinBaselineHours,
		site.Anomaly.ZThreshold, site.Anomaly.NewPathMinCount); err != nil {
		return fmt.Errorf("upsert site %s: %w", site.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM site_hidden_ips WHERE site_id = $1`, site.ID); err != nil {
		return err
	}
	for i, ip := range site.HiddenIPs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO site_hidden_ips (site_id, ordinal, ip) VALUES ($1,$2,$3)`, site.ID, i, ip); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GetLogFile(ctx context.Context, id string) (model.LogFile, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var lf model.LogFile
	err := s.db.QueryRowContext(ctx,
		`SELECT id, site_id, filename, size_bytes, sha256, storage_key, kind, status, created_at, updated_at
		   FROM log_files WHERE id = $1`, id).
		Scan(&lf.ID, &lf.SiteID, &lf.Filename, &lf.SizeBytes, &lf.SHA256, &lf.StorageKey,
			&lf.Kind, &lf.Status, &lf.CreatedAt, &lf.UpdatedAt)
	if err == sql.ErrNoRows {
		return model.LogFile{}, false, nil
	}
	if err != nil {
		return model.LogFile{}, false, err
	}
	return lf, true, nil
}

func (s *Store) FindLogFileBySHA(ctx context.Context, siteID, sha string) (model.LogFile, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var lf model.LogFile
	err := s.db.QueryRowContext(ctx,
		`SELECT id, site_id, filename, size_bytes, sha256, storage_key, kind, status, created_at, updated_at
		   FROM log_files WHERE site_id = $1 AND sha256 = $2`, siteID, sha).
		Scan(&lf.ID, &lf.SiteID, &lf.Filename, &lf.SizeBytes, &lf.SHA256, &lf.StorageKey,
			&lf.Kind, &lf.Status, &lf.CreatedAt, &lf.UpdatedAt)
	if err == sql.ErrNoRows {
		return model.LogFile{}, false, nil
	}
	if err != nil {
		return model.LogFile{}, false, err
	}
	return lf, true, nil
}

func (s *Store) PutLogFile(ctx context.Context, lf model.LogFile) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO log_files (id, site_id, filename, size_bytes, sha256, storage_key, kind, status, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		lf.ID, lf.SiteID, lf.Filename, lf.SizeBytes, lf.SHA256, lf.StorageKey,
		string(lf.Kind), string(lf.Status), lf.CreatedAt, lf.UpdatedAt)
	return err
}

func (s *Store) UpdateLogFileStatus(ctx context.Context, id string, status model.LogFileStatus) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`UPDATE log_files SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	return err
}

func (s *Store) PutParseQuality(ctx context.Context, logFileID string, q model.ParseQuality) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO parse_quality (log_file_id, total_lines, parsed_lines, failed_lines, empty_lines, success_rate)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (log_file_id) DO UPDATE SET
		   total_lines = EXCLUDED.total_lines, parsed_lines = EXCLUDED.parsed_lines,
		   failed_lines = EXCLUDED.failed_lines, empty_lines = EXCLUDED.empty_lines,
		   success_rate = EXCLUDED.success_rate`,
		logFileID, q.TotalLines, q.ParsedLines, q.FailedLines, q.EmptyLines, q.SuccessRate)
	return err
}

// UpsertHourlyAggregate reads the existing row FOR UPDATE inside a
// serializable transaction, merges it with agg in Go via aggregate.Merge
// (counters and Top-K columns alike), and writes the merged row back with
// INSERT ... ON CONFLICT DO UPDATE in the same transaction, keeping the
// read-modify-write atomic.
func (s *Store) UpsertHourlyAggregate(ctx context.Context, agg model.HourlyAggregate) (model.HourlyAggregate, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return model.HourlyAggregate{}, err
	}
	defer func() { _ = tx.Rollback() }()

	merged, err := upsertHourRow(ctx, tx, agg)
	if err != nil {
		return model.HourlyAggregate{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.HourlyAggregate{}, err
	}
	return merged, nil
}

func (s *Store) GetHourlyAggregates(ctx context.Context, siteID string, from, to time.Time) ([]model.HourlyAggregate, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`SELECT site_id, hour_bucket, requests_count, status_2xx, status_3xx, status_4xx, status_5xx,
		        unique_ips, total_bytes, top_paths, top_ips, top_user_agents, top_status_codes
		   FROM hourly_aggregates WHERE site_id = $1 AND hour_bucket >= $2 AND hour_bucket < $3
		  ORDER BY hour_bucket`, siteID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.HourlyAggregate
	for rows.Next() {
		agg, err := scanHourRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, agg)
	}
	return out, rows.Err()
}

// UpsertFinding reads the existing row for update (if any), merges
// evidence in Go, and writes the result back inside one transaction — the
// JSONB evidence column rules out a pure-SQL merge.
func (s *Store) UpsertFinding(ctx context.Context, f model.Finding, evidenceBound int) (model.Finding, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Finding{}, err
	}
	defer func() { _ = tx.Rollback() }()

	merged, err := upsertFindingRow(ctx, tx, f, evidenceBound)
	if err != nil {
		return model.Finding{}, err
	}
	return merged, tx.Commit()
}

func (s *Store) ListFindings(ctx context.Context, siteID string) ([]model.Finding, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`SELECT site_id, fingerprint, finding_type, severity, title, description, evidence
		   FROM findings WHERE site_id = $1 ORDER BY fingerprint`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Finding
	for rows.Next() {
		f, err := scanFindingRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// UpsertErrorGroup mirrors etalazz-vsa's postgres.go transaction shape
// directly: a serializable transaction that reads the current row (if any)
// for update, then inserts or updates within the same transaction so
// concurrent upserts of the same fingerprint serialize correctly, per
// spec.md §4.7's "must serialize correctly" requirement.
func (s *Store) UpsertErrorGroup(ctx context.Context, siteID string, fp [16]byte, occ model.ErrorOccurrence) (model.ErrorGroup, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return model.ErrorGroup{}, err
	}
	defer func() { _ = tx.Rollback() }()

	fpHex := hex.EncodeToString(fp[:])
	var g model.ErrorGroup
	var fpBytes []byte
	err = tx.QueryRowContext(ctx,
		`SELECT site_id, fingerprint, error_type, error_message, first_seen, last_seen, occurrence_count, status
		   FROM error_groups WHERE site_id = $1 AND fingerprint = $2 FOR UPDATE`,
		siteID, fpHex).
		Scan(&g.SiteID, &fpBytes, &g.ErrorType, &g.ErrorMessage, &g.FirstSeen, &g.LastSeen, &g.OccurrenceCount, &g.Status)

	switch {
	case err == sql.ErrNoRows:
		g = model.ErrorGroup{
			SiteID: siteID, Fingerprint: fp, ErrorType: occ.ErrorType, ErrorMessage: occ.Message,
			FirstSeen: occ.Timestamp, LastSeen: occ.Timestamp, OccurrenceCount: 1, Status: model.ErrorUnresolved,
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO error_groups (site_id, fingerprint, error_type, error_message, first_seen, last_seen, occurrence_count, status)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			siteID, fpHex, g.ErrorType, g.ErrorMessage, g.FirstSeen, g.LastSeen, g.OccurrenceCount, string(g.Status)); err != nil {
			return model.ErrorGroup{}, err
		}
	case err != nil:
		return model.ErrorGroup{}, err
	default:
		g.Fingerprint = fp
		if occ.Timestamp.Before(g.FirstSeen) {
			g.FirstSeen = occ.Timestamp
		}
		if occ.Timestamp.After(g.LastSeen) {
			g.LastSeen = occ.Timestamp
		}
		g.OccurrenceCount++
		if _, err := tx.ExecContext(ctx,
			`UPDATE error_groups SET first_seen = $3, last_seen = $4, occurrence_count = $5
			   WHERE site_id = $1 AND fingerprint = $2`,
			siteID, fpHex, g.FirstSeen, g.LastSeen, g.OccurrenceCount); err != nil {
			return model.ErrorGroup{}, err
		}
	}
	return g, tx.Commit()
}

func (s *Store) InsertErrorOccurrence(ctx context.Context, occ model.ErrorOccurrence) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO error_occurrences (log_file_id, ts, raw, line_number) VALUES ($1,$2,$3,$4)`,
		occ.LogFileID, occ.Timestamp, occ.Raw, occ.LineNumber)
	return err
}

func (s *Store) ListErrorGroups(ctx context.Context, siteID string) ([]model.ErrorGroup, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`SELECT site_id, fingerprint, error_type, error_message, first_seen, last_seen, occurrence_count, status
		   FROM error_groups WHERE site_id = $1 ORDER BY last_seen`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ErrorGroup
	for rows.Next() {
		var g model.ErrorGroup
		var fpHex string
		if err := rows.Scan(&g.SiteID, &fpHex, &g.ErrorType, &g.ErrorMessage, &g.FirstSeen, &g.LastSeen, &g.OccurrenceCount, &g.Status); err != nil {
			return nil, err
		}
		raw, err := hex.DecodeString(fpHex)
		if err != nil {
			return nil, err
		}
		copy(g.Fingerprint[:], raw)
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) SetErrorGroupStatus(ctx context.Context, siteID string, fp [16]byte, status model.ErrorGroupStatus) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		`UPDATE error_groups SET status = $3 WHERE site_id = $1 AND fingerprint = $2`,
		siteID, hex.EncodeToString(fp[:]), string(status))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
