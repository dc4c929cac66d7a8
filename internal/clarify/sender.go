// Package clarify delivers clarification requests to an external channel as
// signed JSON webhooks, with rate limiting, retries and a persisted delivery
// log.
package clarify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/bidlevel/internal/config"
	"github.com/sells-group/bidlevel/internal/leveling"
	"github.com/sells-group/bidlevel/internal/model"
	"github.com/sells-group/bidlevel/internal/resilience"
)

// SignatureHeader carries "sha256=<hex hmac>" of the request body when a
// signing secret is configured.
const SignatureHeader = "X-Bidlevel-Signature"

const maxErrorBody = 512

// DeliveryLog persists the outcome of each send attempt.
type DeliveryLog interface {
	RecordDelivery(ctx context.Context, d *model.Delivery) error
}

// Options configures a Sender.
type Options struct {
	WebhookURL    string
	SigningSecret string
	Timeout       time.Duration

	// RatePerSec <= 0 disables rate limiting.
	RatePerSec float64
	Burst      int

	Retry resilience.RetryConfig

	// MinSeverity is applied when a selection does not name one.
	MinSeverity model.Severity

	Now func() time.Time
}

// OptionsFromConfig maps the clarification config section onto Options.
func OptionsFromConfig(cfg config.ClarificationConfig) Options {
	return Options{
		WebhookURL:    cfg.WebhookURL,
		SigningSecret: cfg.SigningSecret,
		Timeout:       time.Duration(cfg.TimeoutSecs) * time.Second,
		RatePerSec:    cfg.RatePerSec,
		Burst:         cfg.Burst,
		Retry:         resilience.FromSettings(cfg.MaxAttempts, cfg.InitialBackoffMs),
		MinSeverity:   model.Severity(cfg.MinSeverity),
	}
}

// Result describes a completed delivery.
type Result struct {
	Request    *model.ClarificationRequest `json:"request"`
	Attempts   int                         `json:"attempts"`
	StatusCode int                         `json:"status_code"`
}

// Sender posts clarification requests to a webhook.
type Sender struct {
	opts    Options
	client  *http.Client
	limiter *rate.Limiter
	log     DeliveryLog
}

// NewSender creates a Sender. log may be nil, in which case attempts are
// only logged.
func NewSender(opts Options, log DeliveryLog) *Sender {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Sender{
		opts:    opts,
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(limit, burst),
		log:     log,
	}
}

// Deliver builds a clarification request from the snapshot and sends it.
// leveling.ErrNoOutliersFound is returned without contacting the webhook
// when nothing qualifies.
func (s *Sender) Deliver(ctx context.Context, snap *model.LevelingSnapshot, sel leveling.Selection) (*Result, error) {
	if sel.MinSeverity == "" {
		sel.MinSeverity = s.opts.MinSeverity
	}
	req, err := leveling.BuildClarification(snap, sel, s.opts.Now())
	if err != nil {
		return nil, err
	}
	return s.Send(ctx, snap.ID, req)
}

// Send posts req, retrying transient failures. Every attempt is recorded
// against snapshotID.
func (s *Sender) Send(ctx context.Context, snapshotID string, req *model.ClarificationRequest) (*Result, error) {
	if s.opts.WebhookURL == "" {
		return nil, ErrNotConfigured
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "clarify: marshal request")
	}

	itemCount := 0
	for _, f := range req.FlaggedItems {
		itemCount += len(f.Vendors)
	}

	retry := s.opts.Retry
	retry.OnRetry = resilience.RetryLogger("clarify.send")

	res := &Result{Request: req}
	err = resilience.Do(ctx, retry, func(ctx context.Context) error {
		if err := s.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "clarify: rate limit wait")
		}
		res.Attempts++
		status, sendErr := s.post(ctx, body)
		res.StatusCode = status
		s.record(ctx, snapshotID, req.TargetID, itemCount, status, sendErr)
		return sendErr
	})
	if err != nil {
		return res, err
	}

	zap.L().Info("clarify: request delivered",
		zap.String("snapshot_id", snapshotID),
		zap.String("target_id", req.TargetID),
		zap.Int("flagged_groups", len(req.FlaggedItems)),
		zap.Int("attempts", res.Attempts),
	)
	return res, nil
}

// post sends one request and returns the response status.
func (s *Sender) post(ctx context.Context, body []byte) (int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, eris.Wrap(err, "clarify: create webhook request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "bidlevel-clarify/1.0")
	if s.opts.SigningSecret != "" {
		httpReq.Header.Set(SignatureHeader, Sign(body, s.opts.SigningSecret))
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return 0, &DeliveryError{Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, &DeliveryError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (s *Sender) record(ctx context.Context, snapshotID, targetID string, itemCount, status int, sendErr error) {
	d := &model.Delivery{
		SnapshotID: snapshotID,
		TargetID:   targetID,
		Status:     model.DeliveryStatusSent,
		StatusCode: status,
		ItemCount:  itemCount,
	}
	if sendErr != nil {
		d.Status = model.DeliveryStatusFailed
		d.Error = sendErr.Error()
		zap.L().Warn("clarify: delivery attempt failed",
			zap.String("snapshot_id", snapshotID),
			zap.Int("status", status),
			zap.Error(sendErr),
		)
	}
	if s.log == nil {
		return
	}
	// Record even when the caller's context was cancelled mid-send.
	if err := s.log.RecordDelivery(context.WithoutCancel(ctx), d); err != nil {
		zap.L().Error("clarify: record delivery", zap.String("snapshot_id", snapshotID), zap.Error(err))
	}
}

// Sign computes "sha256=" + hex HMAC-SHA256 of payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
