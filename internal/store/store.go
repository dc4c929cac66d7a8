package store

import (
	"context"
	"errors"

	sq "github.com/Masterminds/squirrel"

	"github.com/sells-group/bidlevel/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// SnapshotFilter specifies criteria for listing snapshots.
type SnapshotFilter struct {
	EventID string `json:"event_id,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for bid submissions, leveling
// snapshots and the clarification delivery log.
type Store interface {
	// Submissions
	SaveSubmission(ctx context.Context, sub model.Submission) error
	ListSubmissions(ctx context.Context, eventID string) ([]model.SubmissionSummary, error)
	ListLineItems(ctx context.Context, eventID string) ([]model.RawLineItem, error)

	// Snapshots are append-only; a newer snapshot supersedes older ones.
	SaveSnapshot(ctx context.Context, snap *model.LevelingSnapshot) error
	LatestSnapshot(ctx context.Context, eventID string) (*model.LevelingSnapshot, error)
	GetSnapshot(ctx context.Context, id string) (*model.LevelingSnapshot, error)
	ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]model.SnapshotSummary, error)

	// Clarification deliveries
	RecordDelivery(ctx context.Context, d *model.Delivery) error
	ListDeliveries(ctx context.Context, snapshotID string) ([]model.Delivery, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

// snapshotListQuery builds the listing query shared by both backends.
func snapshotListQuery(filter SnapshotFilter, placeholder sq.PlaceholderFormat) (string, []any, error) {
	q := sq.Select("id", "event_id", "analysis_date", "total_line_items", "total_outliers").
		From("snapshots").
		OrderBy("seq DESC").
		PlaceholderFormat(placeholder)

	if filter.EventID != "" {
		q = q.Where(sq.Eq{"event_id": filter.EventID})
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	q = q.Limit(uint64(limit))
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}
	return q.ToSql()
}

// lineItemColumns is the column order used for inserts and selects.
var lineItemColumns = []string{
	"submission_id", "position", "event_id", "vendor_name", "csi_code", "description",
	"quantity", "unit_of_measure", "unit_price", "extended_amount", "is_allowance", "line_number",
}

func lineItemRow(eventID string, pos int, it model.RawLineItem) []any {
	var csi any
	if it.CSICode != nil {
		csi = *it.CSICode
	}
	return []any{
		it.SubmissionID, pos, eventID, it.VendorName, csi, it.Description,
		it.Quantity, it.UnitOfMeasure, it.UnitPrice, it.ExtendedAmount, it.IsAllowance, it.LineNumber,
	}
}

type scannable interface {
	Scan(dest ...any) error
}

func scanLineItem(row scannable) (model.RawLineItem, error) {
	var it model.RawLineItem
	var csi *string
	err := row.Scan(&it.SubmissionID, &it.VendorName, &csi, &it.Description,
		&it.Quantity, &it.UnitOfMeasure, &it.UnitPrice, &it.ExtendedAmount, &it.IsAllowance, &it.LineNumber)
	it.CSICode = csi
	return it, err
}
