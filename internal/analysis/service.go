// Package analysis answers analysis requests for procurement events. It
// serves a cached or stored snapshot when one exists and otherwise runs the
// leveling engine over the event's stored line items, persisting and caching
// the new snapshot.
package analysis

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/bidlevel/internal/cache"
	"github.com/sells-group/bidlevel/internal/config"
	"github.com/sells-group/bidlevel/internal/leveling"
	"github.com/sells-group/bidlevel/internal/model"
)

// ErrNoLineItems is returned when an event has no stored line items to level.
var ErrNoLineItems = eris.New("analysis: event has no line items")

// Store is the persistence the service needs.
type Store interface {
	SaveSubmission(ctx context.Context, sub model.Submission) error
	ListLineItems(ctx context.Context, eventID string) ([]model.RawLineItem, error)
	LatestSnapshot(ctx context.Context, eventID string) (*model.LevelingSnapshot, error)
	SaveSnapshot(ctx context.Context, snap *model.LevelingSnapshot) error
}

// Source says where a returned snapshot came from.
type Source string

const (
	SourceCache Source = "cache"
	SourceStore Source = "store"
	SourceFresh Source = "fresh"
)

// Request asks for the leveling snapshot of one event.
type Request struct {
	EventID          string  `json:"event_id"`
	ForceRefresh     bool    `json:"force_refresh"`
	OutlierThreshold float64 `json:"outlier_threshold"` // 0 means the configured default
	IncludeDetails   bool    `json:"include_details"`
}

// Result is the answer to a Request.
type Result struct {
	Snapshot *model.LevelingSnapshot `json:"snapshot"`
	Source   Source                  `json:"source"`
}

// RequestError rejects a malformed Request.
type RequestError struct {
	Field  string
	Reason string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("analysis: invalid %s: %s", e.Field, e.Reason)
}

// Options configures a Service.
type Options struct {
	Threshold           float64
	Parallelism         int
	MaxConcurrentEvents int

	// RunTimeout bounds a fresh run. The run is shared by every caller waiting
	// on it, so it is not cancelled with any single caller's context.
	RunTimeout time.Duration

	// Now and NewID are passed through to the engine; nil uses its defaults.
	Now   func() time.Time
	NewID func() string
}

// OptionsFromConfig maps the leveling config section onto Options.
func OptionsFromConfig(cfg config.LevelingConfig) Options {
	return Options{
		Threshold:           cfg.OutlierThreshold,
		Parallelism:         cfg.Parallelism,
		MaxConcurrentEvents: cfg.MaxConcurrentEvents,
	}
}

// Service runs and serves leveling analyses.
type Service struct {
	store Store
	cache *cache.SnapshotCache
	opts  Options
	runs  singleflight.Group
}

// NewService creates a Service. snapshots may be nil to disable caching.
func NewService(st Store, snapshots *cache.SnapshotCache, opts Options) *Service {
	if opts.Threshold <= 0 {
		opts.Threshold = leveling.DefaultThreshold
	}
	if opts.MaxConcurrentEvents <= 0 {
		opts.MaxConcurrentEvents = 4
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 2 * time.Minute
	}
	if snapshots == nil {
		snapshots = cache.New(cache.Options{})
	}
	return &Service{store: st, cache: snapshots, opts: opts}
}

// Submit stores a submission, replacing any earlier copy, and drops the
// event's cached snapshot so the next request sees the new items.
func (s *Service) Submit(ctx context.Context, sub model.Submission) error {
	if err := s.store.SaveSubmission(ctx, sub); err != nil {
		return err
	}
	s.cache.Invalidate(sub.EventID)
	zap.L().Info("analysis: submission stored",
		zap.String("event_id", sub.EventID),
		zap.String("submission_id", sub.SubmissionID),
		zap.Int("items", len(sub.Items)),
	)
	return nil
}

// Analyze returns the event's snapshot. Without ForceRefresh an existing
// snapshot is returned unchanged, whatever threshold was requested.
func (s *Service) Analyze(ctx context.Context, req Request) (*Result, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	var (
		res *Result
		err error
	)
	if !req.ForceRefresh {
		res, err = s.existing(ctx, req.EventID)
		if err != nil {
			return nil, err
		}
	}
	if res == nil {
		res, err = s.fresh(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	if !req.IncludeDetails {
		res = &Result{Snapshot: res.Snapshot.WithoutDetails(), Source: res.Source}
	}
	return res, nil
}

// EventResult is one entry of AnalyzeEvents.
type EventResult struct {
	EventID string  `json:"event_id"`
	Result  *Result `json:"result,omitempty"`
	Err     error   `json:"-"`
}

// AnalyzeEvents analyzes several events concurrently. A failure for one
// event is reported in its EventResult and does not stop the others;
// cancelling ctx stops them all.
func (s *Service) AnalyzeEvents(ctx context.Context, reqs []Request) ([]EventResult, error) {
	out := make([]EventResult, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxConcurrentEvents)
	for i, req := range reqs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := s.Analyze(gctx, req)
			out[i] = EventResult{EventID: req.EventID, Result: res, Err: err}
			if err != nil {
				zap.L().Warn("analysis: event failed", zap.String("event_id", req.EventID), zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "analysis: analyze events")
	}
	return out, nil
}

// CacheStats reports snapshot cache statistics.
func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}

func (s *Service) validate(req Request) error {
	if req.EventID == "" {
		return &RequestError{Field: "event_id", Reason: "required"}
	}
	t := req.OutlierThreshold
	if t < 0 || math.IsNaN(t) || math.IsInf(t, 0) {
		return &RequestError{Field: "outlier_threshold", Reason: "must be a positive number"}
	}
	return nil
}

func (s *Service) existing(ctx context.Context, eventID string) (*Result, error) {
	if snap, ok := s.cache.Get(eventID); ok {
		return &Result{Snapshot: snap, Source: SourceCache}, nil
	}
	snap, err := s.store.LatestSnapshot(ctx, eventID)
	if err != nil {
		return nil, eris.Wrapf(err, "analysis: latest snapshot for %s", eventID)
	}
	if snap == nil {
		return nil, nil
	}
	s.cache.Put(snap)
	return &Result{Snapshot: snap, Source: SourceStore}, nil
}

// fresh runs the engine. Concurrent identical requests share one run; a
// caller that gives up returns ctx.Err() while the run completes for the
// others.
func (s *Service) fresh(ctx context.Context, req Request) (*Result, error) {
	threshold := req.OutlierThreshold
	if threshold == 0 {
		threshold = s.opts.Threshold
	}
	key := fmt.Sprintf("%s|%g", req.EventID, threshold)

	ch := s.runs.DoChan(key, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.RunTimeout)
		defer cancel()

		items, err := s.store.ListLineItems(ctx, req.EventID)
		if err != nil {
			return nil, eris.Wrapf(err, "analysis: line items for %s", req.EventID)
		}
		if len(items) == 0 {
			return nil, ErrNoLineItems
		}

		snap, err := leveling.Analyze(ctx, items, leveling.Options{
			EventID:     req.EventID,
			Threshold:   threshold,
			Parallelism: s.opts.Parallelism,
			Now:         s.opts.Now,
			NewID:       s.opts.NewID,
		})
		if err != nil {
			return nil, err
		}
		if err := s.store.SaveSnapshot(ctx, snap); err != nil {
			return nil, eris.Wrapf(err, "analysis: save snapshot for %s", req.EventID)
		}
		s.cache.Put(snap)

		zap.L().Info("analysis: snapshot created",
			zap.String("event_id", req.EventID),
			zap.String("snapshot_id", snap.ID),
			zap.Int("line_items", snap.TotalLineItems),
			zap.Int("outliers", snap.OutlierSummary.TotalOutliers),
			zap.Float64("processing_time", snap.ProcessingTime),
		)
		return snap, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return &Result{Snapshot: r.Val.(*model.LevelingSnapshot), Source: SourceFresh}, nil
	}
}
