package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/bidlevel/internal/db"
	"github.com/sells-group/bidlevel/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS submissions (
	event_id      TEXT NOT NULL,
	submission_id TEXT NOT NULL,
	vendor_name   TEXT NOT NULL DEFAULT '',
	received_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (event_id, submission_id)
);

CREATE TABLE IF NOT EXISTS line_items (
	submission_id   TEXT NOT NULL,
	position        INTEGER NOT NULL,
	event_id        TEXT NOT NULL,
	vendor_name     TEXT NOT NULL DEFAULT '',
	csi_code        TEXT,
	description     TEXT NOT NULL DEFAULT '',
	quantity        DOUBLE PRECISION NOT NULL DEFAULT 0,
	unit_of_measure TEXT NOT NULL DEFAULT '',
	unit_price      DOUBLE PRECISION NOT NULL DEFAULT 0,
	extended_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
	is_allowance    BOOLEAN NOT NULL DEFAULT false,
	line_number     INTEGER NOT NULL,
	PRIMARY KEY (event_id, submission_id, position),
	FOREIGN KEY (event_id, submission_id) REFERENCES submissions(event_id, submission_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS snapshots (
	seq              BIGSERIAL PRIMARY KEY,
	id               TEXT NOT NULL UNIQUE,
	event_id         TEXT NOT NULL,
	analysis_date    TIMESTAMPTZ NOT NULL,
	total_line_items INTEGER NOT NULL,
	total_outliers   INTEGER NOT NULL,
	data             JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS deliveries (
	seq         BIGSERIAL PRIMARY KEY,
	id          TEXT NOT NULL UNIQUE,
	snapshot_id TEXT NOT NULL,
	target_id   TEXT NOT NULL,
	status      TEXT NOT NULL,
	status_code INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	item_count  INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_snapshots_event_seq ON snapshots(event_id, seq DESC);
CREATE INDEX IF NOT EXISTS idx_deliveries_snapshot_id ON deliveries(snapshot_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// SaveSubmission replaces the submission and its line items in one
// transaction. Items are loaded with COPY.
func (s *PostgresStore) SaveSubmission(ctx context.Context, sub model.Submission) error {
	if sub.SubmissionID == "" || sub.EventID == "" {
		return eris.New("postgres: submission needs event_id and submission_id")
	}
	sub.Items = append([]model.RawLineItem(nil), sub.Items...)
	sub.Stamp()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO submissions (submission_id, event_id, vendor_name, received_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (event_id, submission_id) DO UPDATE SET vendor_name = EXCLUDED.vendor_name, received_at = EXCLUDED.received_at`,
		sub.SubmissionID, sub.EventID, sub.VendorName, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert submission %s", sub.SubmissionID)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM line_items WHERE event_id = $1 AND submission_id = $2`, sub.EventID, sub.SubmissionID); err != nil {
		return eris.Wrapf(err, "postgres: clear line items %s", sub.SubmissionID)
	}

	rows := make([][]any, len(sub.Items))
	for i, it := range sub.Items {
		rows[i] = lineItemRow(sub.EventID, i, it)
	}
	if _, err := db.CopyFrom(ctx, tx, "line_items", lineItemColumns, rows); err != nil {
		return eris.Wrapf(err, "postgres: copy line items %s", sub.SubmissionID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit submission")
}

func (s *PostgresStore) ListSubmissions(ctx context.Context, eventID string) ([]model.SubmissionSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT s.submission_id, s.event_id, s.vendor_name, s.received_at, COUNT(li.position)
		 FROM submissions s LEFT JOIN line_items li ON li.event_id = s.event_id AND li.submission_id = s.submission_id
		 WHERE s.event_id = $1
		 GROUP BY s.submission_id, s.event_id, s.vendor_name, s.received_at
		 ORDER BY s.submission_id`,
		eventID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list submissions")
	}
	defer rows.Close()

	var subs []model.SubmissionSummary
	for rows.Next() {
		var sum model.SubmissionSummary
		if err := rows.Scan(&sum.SubmissionID, &sum.EventID, &sum.VendorName, &sum.ReceivedAt, &sum.ItemCount); err != nil {
			return nil, eris.Wrap(err, "postgres: scan submission")
		}
		subs = append(subs, sum)
	}
	return subs, eris.Wrap(rows.Err(), "postgres: list submissions iterate")
}

func (s *PostgresStore) ListLineItems(ctx context.Context, eventID string) ([]model.RawLineItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT submission_id, vendor_name, csi_code, description, quantity, unit_of_measure,
		        unit_price, extended_amount, is_allowance, line_number
		 FROM line_items WHERE event_id = $1 ORDER BY submission_id, position`,
		eventID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list line items")
	}
	defer rows.Close()

	var items []model.RawLineItem
	for rows.Next() {
		it, err := scanLineItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan line item")
		}
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list line items iterate")
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap *model.LevelingSnapshot) error {
	if snap == nil || snap.ID == "" {
		return eris.New("postgres: snapshot needs an id")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal snapshot")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO snapshots (id, event_id, analysis_date, total_line_items, total_outliers, data) VALUES ($1, $2, $3, $4, $5, $6)`,
		snap.ID, snap.EventID, snap.AnalysisDate.UTC(), snap.TotalLineItems, snap.OutlierSummary.TotalOutliers, data,
	)
	return eris.Wrapf(err, "postgres: insert snapshot %s", snap.ID)
}

// LatestSnapshot returns the most recently saved snapshot for the event, or
// nil when there is none.
func (s *PostgresStore) LatestSnapshot(ctx context.Context, eventID string) (*model.LevelingSnapshot, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM snapshots WHERE event_id = $1 ORDER BY seq DESC LIMIT 1`,
		eventID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: latest snapshot %s", eventID)
	}
	return decodeSnapshot(data)
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, id string) (*model.LevelingSnapshot, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM snapshots WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get snapshot %s", id)
	}
	return decodeSnapshot(data)
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]model.SnapshotSummary, error) {
	query, args, err := snapshotListQuery(filter, sq.Dollar)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build snapshot query")
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list snapshots")
	}
	defer rows.Close()

	var out []model.SnapshotSummary
	for rows.Next() {
		var sum model.SnapshotSummary
		if err := rows.Scan(&sum.ID, &sum.EventID, &sum.AnalysisDate, &sum.TotalLineItems, &sum.TotalOutliers); err != nil {
			return nil, eris.Wrap(err, "postgres: scan snapshot summary")
		}
		out = append(out, sum)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list snapshots iterate")
}

func (s *PostgresStore) RecordDelivery(ctx context.Context, d *model.Delivery) error {
	stampDelivery(d)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO deliveries (id, snapshot_id, target_id, status, status_code, error, item_count, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.SnapshotID, d.TargetID, string(d.Status), d.StatusCode, d.Error, d.ItemCount, d.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert delivery")
}

func (s *PostgresStore) ListDeliveries(ctx context.Context, snapshotID string) ([]model.Delivery, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, snapshot_id, target_id, status, status_code, error, item_count, created_at
		 FROM deliveries WHERE snapshot_id = $1 ORDER BY seq`,
		snapshotID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list deliveries")
	}
	defer rows.Close()

	var out []model.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan delivery")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list deliveries iterate")
}

func decodeSnapshot(data []byte) (*model.LevelingSnapshot, error) {
	var snap model.LevelingSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal snapshot")
	}
	return &snap, nil
}
