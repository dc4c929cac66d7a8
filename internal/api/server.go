// Package api exposes submissions, analyses, snapshots and clarification
// delivery over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/bidlevel/internal/analysis"
	"github.com/sells-group/bidlevel/internal/cache"
	"github.com/sells-group/bidlevel/internal/clarify"
	"github.com/sells-group/bidlevel/internal/ingest"
	"github.com/sells-group/bidlevel/internal/leveling"
	"github.com/sells-group/bidlevel/internal/model"
	"github.com/sells-group/bidlevel/internal/store"
)

const maxBodyBytes = 10 << 20

// Analyzer runs analyses and accepts submissions.
type Analyzer interface {
	Submit(ctx context.Context, sub model.Submission) error
	Analyze(ctx context.Context, req analysis.Request) (*analysis.Result, error)
	CacheStats() cache.Stats
}

// Snapshots reads stored records.
type Snapshots interface {
	ListSubmissions(ctx context.Context, eventID string) ([]model.SubmissionSummary, error)
	GetSnapshot(ctx context.Context, id string) (*model.LevelingSnapshot, error)
	ListSnapshots(ctx context.Context, filter store.SnapshotFilter) ([]model.SnapshotSummary, error)
	ListDeliveries(ctx context.Context, snapshotID string) ([]model.Delivery, error)
}

// Clarifier sends clarification requests for a snapshot.
type Clarifier interface {
	Deliver(ctx context.Context, snap *model.LevelingSnapshot, sel leveling.Selection) (*clarify.Result, error)
}

// Server holds the HTTP handlers.
type Server struct {
	analyzer    Analyzer
	snapshots   Snapshots
	clarifier   Clarifier
	corsOrigins []string
}

// NewServer creates a Server. clarifier may be nil when no webhook is
// configured; clarification requests then fail with 503.
func NewServer(a Analyzer, s Snapshots, c Clarifier, corsOrigins []string) *Server {
	return &Server{analyzer: a, snapshots: s, clarifier: c, corsOrigins: corsOrigins}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if len(s.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.health)

	r.Route("/events/{eventID}", func(r chi.Router) {
		r.Post("/submissions", s.postSubmission)
		r.Get("/submissions", s.listSubmissions)
		r.Post("/analysis", s.postAnalysis)
		r.Get("/snapshots", s.listSnapshots)
	})

	r.Route("/snapshots/{snapshotID}", func(r chi.Router) {
		r.Get("/", s.getSnapshot)
		r.Get("/deliveries", s.listDeliveries)
		r.Post("/clarifications", s.postClarification)
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"cache":  s.analyzer.CacheStats(),
	})
}

func (s *Server) postSubmission(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := ingest.DecodeSubmission(body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if sub.EventID != "" && sub.EventID != eventID {
		writeError(w, http.StatusBadRequest, "event_id does not match path")
		return
	}
	sub.EventID = eventID
	if sub.SubmissionID == "" {
		writeError(w, http.StatusBadRequest, "submission_id is required")
		return
	}

	if err := s.analyzer.Submit(r.Context(), *sub); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"event_id":      sub.EventID,
		"submission_id": sub.SubmissionID,
		"item_count":    len(sub.Items),
	})
}

func (s *Server) listSubmissions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.snapshots.ListSubmissions(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(subs))
}

type analysisBody struct {
	ForceRefresh     bool    `json:"force_refresh"`
	OutlierThreshold float64 `json:"outlier_threshold"`
	IncludeDetails   *bool   `json:"include_details"`
}

func (s *Server) postAnalysis(w http.ResponseWriter, r *http.Request) {
	var body analysisBody
	if !decodeOptionalBody(w, r, &body) {
		return
	}
	req := analysis.Request{
		EventID:          chi.URLParam(r, "eventID"),
		ForceRefresh:     body.ForceRefresh,
		OutlierThreshold: body.OutlierThreshold,
		IncludeDetails:   body.IncludeDetails == nil || *body.IncludeDetails,
	}

	res, err := s.analyzer.Analyze(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("X-Snapshot-Source", string(res.Source))
	writeJSON(w, http.StatusOK, res.Snapshot)
}

func (s *Server) listSnapshots(w http.ResponseWriter, r *http.Request) {
	filter := store.SnapshotFilter{EventID: chi.URLParam(r, "eventID")}
	var ok bool
	if filter.Limit, ok = queryInt(w, r, "limit"); !ok {
		return
	}
	if filter.Offset, ok = queryInt(w, r, "offset"); !ok {
		return
	}

	list, err := s.snapshots.ListSnapshots(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshots.GetSnapshot(r.Context(), chi.URLParam(r, "snapshotID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if v := r.URL.Query().Get("include_details"); v != "" {
		include, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "include_details must be a boolean")
			return
		}
		if !include {
			snap = snap.WithoutDetails()
		}
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) listDeliveries(w http.ResponseWriter, r *http.Request) {
	list, err := s.snapshots.ListDeliveries(r.Context(), chi.URLParam(r, "snapshotID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

type clarificationBody struct {
	GroupKeys   []string `json:"group_keys"`
	MinSeverity string   `json:"min_severity"`
}

func (s *Server) postClarification(w http.ResponseWriter, r *http.Request) {
	var body clarificationBody
	if !decodeOptionalBody(w, r, &body) {
		return
	}
	sel := leveling.Selection{GroupKeys: body.GroupKeys}
	if body.MinSeverity != "" {
		sev, ok := model.ParseSeverity(body.MinSeverity)
		if !ok {
			writeError(w, http.StatusBadRequest, "min_severity must be mild, moderate or severe")
			return
		}
		sel.MinSeverity = sev
	}

	snap, err := s.snapshots.GetSnapshot(r.Context(), chi.URLParam(r, "snapshotID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if s.clarifier == nil {
		s.fail(w, r, clarify.ErrNotConfigured)
		return
	}

	res, err := s.clarifier.Deliver(r.Context(), snap, sel)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// fail maps err onto a status code and writes it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		schemaErr   *ingest.SchemaError
		requestErr  *analysis.RequestError
		deliveryErr *clarify.DeliveryError
	)
	switch {
	case errors.As(err, &schemaErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":    "submission does not match schema",
			"problems": schemaErr.Problems,
		})
	case errors.As(err, &requestErr):
		writeError(w, http.StatusBadRequest, requestErr.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, analysis.ErrNoLineItems):
		writeError(w, http.StatusNotFound, "event has no line items")
	case errors.Is(err, leveling.ErrNoOutliersFound):
		writeError(w, http.StatusUnprocessableEntity, "no outliers found")
	case errors.As(err, &deliveryErr):
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":       deliveryErr.Error(),
			"status_code": deliveryErr.StatusCode,
		})
	case errors.Is(err, clarify.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "clarification webhook not configured")
	case errors.Is(err, context.Canceled):
		// Client went away.
	default:
		zap.L().Error("api: request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeOptionalBody decodes a JSON body into v. An empty body leaves v
// unchanged.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
