// Package leveling groups competing vendor line items into comparable units,
// computes per-group statistics, flags anomalous pricing and assembles the
// immutable leveling snapshot used for award decisions.
//
// Everything in this package is pure computation over its arguments. It keeps
// no state between runs, so independent events can be analyzed concurrently.
package leveling

import (
	"context"
	"math"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/bidlevel/internal/model"
)

// Options configures one leveling run.
type Options struct {
	EventID     string
	Threshold   float64 // IQR multiplier k; 0 means DefaultThreshold
	Parallelism int     // concurrent group workers; 0 means GOMAXPROCS

	// Now and NewID are injectable for tests.
	Now   func() time.Time
	NewID func() string
}

func (o Options) withDefaults() (Options, error) {
	if o.Threshold == 0 {
		o.Threshold = DefaultThreshold
	}
	if o.Threshold < 0 || math.IsNaN(o.Threshold) || math.IsInf(o.Threshold, 0) {
		return o, eris.Errorf("leveling: outlier threshold must be a positive number, got %v", o.Threshold)
	}
	if o.Parallelism <= 0 {
		o.Parallelism = runtime.GOMAXPROCS(0)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = func() string { return uuid.New().String() }
	}
	return o, nil
}

// Analyze runs the full leveling pipeline over the raw line items of one
// procurement event and returns a new snapshot. Invalid items are rejected
// and reported in the summary; they never abort the run. Cancelling ctx
// aborts the whole run and no partial snapshot is returned.
func Analyze(ctx context.Context, items []model.RawLineItem, opts Options) (*model.LevelingSnapshot, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	start := opts.Now()

	valid, rejections := validate(items)
	sortRejections(rejections)
	grouped := groupItems(valid)

	leveled := make([]model.LevelingLineItemGroup, len(grouped))
	var insufficient int

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallelism)
	results := make([]*InsufficientDataError, len(grouped))
	for i := range grouped {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			leveled[i], results[i] = levelGroup(grouped[i], opts.Threshold)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "leveling: analyze")
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "leveling: analyze")
	}
	for _, r := range results {
		if r != nil {
			insufficient++
		}
	}

	bids := VendorTotals(leveled)
	summary, outliers := Summarize(leveled, bids, rejections)

	snap := &model.LevelingSnapshot{
		ID:               opts.NewID(),
		EventID:          opts.EventID,
		AnalysisDate:     start.UTC(),
		OutlierThreshold: opts.Threshold,
		TotalSubmissions: len(bids),
		TotalLineItems:   summary.TotalLineItems,
		Groups:           leveled,
		VendorBaseBids:   bids,
		SummaryStats:     summary,
		OutlierSummary:   outliers,
		ProcessingTime:   opts.Now().Sub(start).Seconds(),
	}

	zap.L().Debug("leveling: snapshot built",
		zap.String("event_id", opts.EventID),
		zap.String("snapshot_id", snap.ID),
		zap.Int("groups", len(leveled)),
		zap.Int("line_items", summary.TotalLineItems),
		zap.Int("rejected", summary.RejectedLineItems),
		zap.Int("outliers", summary.TotalOutliers),
		zap.Int("groups_without_detection", insufficient),
	)
	return snap, nil
}

func sortRejections(r []model.Rejection) {
	sort.Slice(r, func(i, j int) bool {
		if r[i].SubmissionID != r[j].SubmissionID {
			return r[i].SubmissionID < r[j].SubmissionID
		}
		if r[i].LineNumber != r[j].LineNumber {
			return r[i].LineNumber < r[j].LineNumber
		}
		return r[i].Reason < r[j].Reason
	})
}
