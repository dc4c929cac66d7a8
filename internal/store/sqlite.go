package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/bidlevel/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS submissions (
	event_id      TEXT NOT NULL,
	submission_id TEXT NOT NULL,
	vendor_name   TEXT NOT NULL DEFAULT '',
	received_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (event_id, submission_id)
);

CREATE TABLE IF NOT EXISTS line_items (
	submission_id   TEXT NOT NULL,
	position        INTEGER NOT NULL,
	event_id        TEXT NOT NULL,
	vendor_name     TEXT NOT NULL DEFAULT '',
	csi_code        TEXT,
	description     TEXT NOT NULL DEFAULT '',
	quantity        REAL NOT NULL DEFAULT 0,
	unit_of_measure TEXT NOT NULL DEFAULT '',
	unit_price      REAL NOT NULL DEFAULT 0,
	extended_amount REAL NOT NULL DEFAULT 0,
	is_allowance    BOOLEAN NOT NULL DEFAULT 0,
	line_number     INTEGER NOT NULL,
	PRIMARY KEY (event_id, submission_id, position),
	FOREIGN KEY (event_id, submission_id) REFERENCES submissions(event_id, submission_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS snapshots (
	seq              INTEGER PRIMARY KEY AUTOINCREMENT,
	id               TEXT NOT NULL UNIQUE,
	event_id         TEXT NOT NULL,
	analysis_date    DATETIME NOT NULL,
	total_line_items INTEGER NOT NULL,
	total_outliers   INTEGER NOT NULL,
	data             TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS deliveries (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	snapshot_id TEXT NOT NULL,
	target_id   TEXT NOT NULL,
	status      TEXT NOT NULL,
	status_code INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	item_count  INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_snapshots_event_id ON snapshots(event_id);
CREATE INDEX IF NOT EXISTS idx_deliveries_snapshot_id ON deliveries(snapshot_id);
`

const sqliteInsertLineItem = `INSERT INTO line_items (submission_id, position, event_id, vendor_name, csi_code, description,
	quantity, unit_of_measure, unit_price, extended_amount, is_allowance, line_number)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveSubmission replaces the submission and all of its line items in one
// transaction.
func (s *SQLiteStore) SaveSubmission(ctx context.Context, sub model.Submission) error {
	if sub.SubmissionID == "" || sub.EventID == "" {
		return eris.New("sqlite: submission needs event_id and submission_id")
	}
	sub.Items = append([]model.RawLineItem(nil), sub.Items...)
	sub.Stamp()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO submissions (submission_id, event_id, vendor_name, received_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(event_id, submission_id) DO UPDATE SET vendor_name = excluded.vendor_name, received_at = excluded.received_at`,
		sub.SubmissionID, sub.EventID, sub.VendorName, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert submission %s", sub.SubmissionID)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM line_items WHERE event_id = ? AND submission_id = ?`, sub.EventID, sub.SubmissionID); err != nil {
		return eris.Wrapf(err, "sqlite: clear line items %s", sub.SubmissionID)
	}

	stmt, err := tx.PrepareContext(ctx, sqliteInsertLineItem)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert")
	}
	defer stmt.Close() //nolint:errcheck

	for i, it := range sub.Items {
		if _, err := stmt.ExecContext(ctx, lineItemRow(sub.EventID, i, it)...); err != nil {
			return eris.Wrapf(err, "sqlite: insert line %d of %s", it.LineNumber, sub.SubmissionID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit submission")
}

func (s *SQLiteStore) ListSubmissions(ctx context.Context, eventID string) ([]model.SubmissionSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.submission_id, s.event_id, s.vendor_name, s.received_at, COUNT(li.position)
		 FROM submissions s LEFT JOIN line_items li ON li.event_id = s.event_id AND li.submission_id = s.submission_id
		 WHERE s.event_id = ?
		 GROUP BY s.submission_id, s.event_id, s.vendor_name, s.received_at
		 ORDER BY s.submission_id`,
		eventID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list submissions")
	}
	defer rows.Close()

	var subs []model.SubmissionSummary
	for rows.Next() {
		var sum model.SubmissionSummary
		if err := rows.Scan(&sum.SubmissionID, &sum.EventID, &sum.VendorName, &sum.ReceivedAt, &sum.ItemCount); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan submission")
		}
		subs = append(subs, sum)
	}
	return subs, eris.Wrap(rows.Err(), "sqlite: iterate submissions")
}

func (s *SQLiteStore) ListLineItems(ctx context.Context, eventID string) ([]model.RawLineItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT submission_id, vendor_name, csi_code, description, quantity, unit_of_measure,
		        unit_price, extended_amount, is_allowance, line_number
		 FROM line_items WHERE event_id = ? ORDER BY submission_id, position`,
		eventID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list line items")
	}
	defer rows.Close()

	var items []model.RawLineItem
	for rows.Next() {
		it, err := scanLineItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan line item")
		}
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: iterate line items")
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *model.LevelingSnapshot) error {
	if snap == nil || snap.ID == "" {
		return eris.New("sqlite: snapshot needs an id")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal snapshot")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, event_id, analysis_date, total_line_items, total_outliers, data) VALUES (?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.EventID, snap.AnalysisDate.UTC(), snap.TotalLineItems, snap.OutlierSummary.TotalOutliers, string(data),
	)
	return eris.Wrapf(err, "sqlite: insert snapshot %s", snap.ID)
}

// LatestSnapshot returns the most recently saved snapshot for the event, or
// nil when there is none.
func (s *SQLiteStore) LatestSnapshot(ctx context.Context, eventID string) (*model.LevelingSnapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT data FROM snapshots WHERE event_id = ? ORDER BY seq DESC LIMIT 1`,
		eventID,
	)
	snap, err := scanSnapshotData(row)
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: latest snapshot %s", eventID)
	}
	return snap, nil
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, id string) (*model.LevelingSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT data FROM snapshots WHERE id = ?`, id)
	snap, err := scanSnapshotData(row)
	if err == ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get snapshot %s", id)
	}
	return snap, nil
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]model.SnapshotSummary, error) {
	query, args, err := snapshotListQuery(filter, sq.Question)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build snapshot query")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list snapshots")
	}
	defer rows.Close()

	var out []model.SnapshotSummary
	for rows.Next() {
		var sum model.SnapshotSummary
		if err := rows.Scan(&sum.ID, &sum.EventID, &sum.AnalysisDate, &sum.TotalLineItems, &sum.TotalOutliers); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan snapshot summary")
		}
		out = append(out, sum)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate snapshots")
}

func (s *SQLiteStore) RecordDelivery(ctx context.Context, d *model.Delivery) error {
	stampDelivery(d)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries (id, snapshot_id, target_id, status, status_code, error, item_count, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.SnapshotID, d.TargetID, string(d.Status), d.StatusCode, d.Error, d.ItemCount, d.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert delivery")
}

func (s *SQLiteStore) ListDeliveries(ctx context.Context, snapshotID string) ([]model.Delivery, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, snapshot_id, target_id, status, status_code, error, item_count, created_at
		 FROM deliveries WHERE snapshot_id = ? ORDER BY seq`,
		snapshotID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list deliveries")
	}
	defer rows.Close()

	var out []model.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan delivery")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate deliveries")
}

func scanSnapshotData(row scannable) (*model.LevelingSnapshot, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var snap model.LevelingSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, eris.Wrap(err, "unmarshal snapshot")
	}
	return &snap, nil
}

func scanDelivery(row scannable) (model.Delivery, error) {
	var d model.Delivery
	var status string
	err := row.Scan(&d.ID, &d.SnapshotID, &d.TargetID, &status, &d.StatusCode, &d.Error, &d.ItemCount, &d.CreatedAt)
	d.Status = model.DeliveryStatus(status)
	return d, err
}

func stampDelivery(d *model.Delivery) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
}
