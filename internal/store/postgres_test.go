package store

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/bidlevel/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_SaveSubmission(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`(?s)INSERT INTO submissions.*ON CONFLICT \(event_id, submission_id\) DO UPDATE`).
		WithArgs("sub-1", "evt-1", "Acme", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM line_items WHERE event_id = \$1 AND submission_id = \$2`).
		WithArgs("evt-1", "sub-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCopyFrom(pgx.Identifier{"line_items"}, lineItemColumns).WillReturnResult(2)
	mock.ExpectCommit()

	err := s.SaveSubmission(context.Background(), testSubmission("evt-1", "sub-1", "Acme", 100, 200))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveSubmission_RollsBackOnCopyError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO submissions`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM line_items`).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"line_items"}, lineItemColumns).WillReturnError(fmt.Errorf("disk full"))
	mock.ExpectRollback()

	err := s.SaveSubmission(context.Background(), testSubmission("evt-1", "sub-1", "Acme", 100))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "copy line items")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestSnapshot_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT data FROM snapshots WHERE event_id = \$1 ORDER BY seq DESC LIMIT 1`).
		WithArgs("evt-1").
		WillReturnError(pgx.ErrNoRows)

	snap, err := s.LatestSnapshot(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Nil(t, snap)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestSnapshot_Found(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	want := testSnapshot(t, "evt-1", "snap-9", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	data, err := json.Marshal(want)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT data FROM snapshots WHERE event_id = \$1`).
		WithArgs("evt-1").
		WillReturnRows(mock.NewRows([]string{"data"}).AddRow(data))

	got, err := s.LatestSnapshot(context.Background(), "evt-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "snap-9", got.ID)
	assert.Equal(t, 1, got.OutlierSummary.TotalOutliers)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSnapshot_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT data FROM snapshots WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetSnapshot(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveSnapshot(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	snap := testSnapshot(t, "evt-1", "snap-1", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	mock.ExpectExec(`INSERT INTO snapshots`).
		WithArgs("snap-1", "evt-1", pgxmock.AnyArg(), 5, 1, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SaveSnapshot(context.Background(), snap))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListSnapshots(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, event_id, analysis_date, total_line_items, total_outliers FROM snapshots WHERE event_id = \$1 ORDER BY seq DESC LIMIT 10 OFFSET 20`).
		WithArgs("evt-1").
		WillReturnRows(mock.NewRows([]string{"id", "event_id", "analysis_date", "total_line_items", "total_outliers"}).
			AddRow("snap-2", "evt-1", at.Add(time.Hour), 12, 2).
			AddRow("snap-1", "evt-1", at, 10, 0))

	got, err := s.ListSnapshots(context.Background(), SnapshotFilter{EventID: "evt-1", Limit: 10, Offset: 20})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "snap-2", got[0].ID)
	assert.Equal(t, 12, got[0].TotalLineItems)
	assert.Equal(t, 2, got[0].TotalOutliers)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListSnapshots_DefaultLimit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM snapshots ORDER BY seq DESC LIMIT 100$`).
		WillReturnRows(mock.NewRows([]string{"id", "event_id", "analysis_date", "total_line_items", "total_outliers"}))

	got, err := s.ListSnapshots(context.Background(), SnapshotFilter{})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordDelivery(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO deliveries`).
		WithArgs(pgxmock.AnyArg(), "snap-1", "evt-1", "failed", 502, "bad gateway", 3, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	d := &model.Delivery{SnapshotID: "snap-1", TargetID: "evt-1", Status: model.DeliveryStatusFailed, StatusCode: 502, Error: "bad gateway", ItemCount: 3}
	require.NoError(t, s.RecordDelivery(context.Background(), d))
	assert.NotEmpty(t, d.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS submissions`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CloseWithoutPool(t *testing.T) {
	s := &PostgresStore{}
	assert.NoError(t, s.Close())
}
