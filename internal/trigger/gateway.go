// Package trigger admits inbound webhook deliveries. It authenticates each
// delivery against its trigger and hands accepted ones to the engine.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/opsdeck/flowengine/internal/config"
	"github.com/opsdeck/flowengine/internal/observability"
	"github.com/opsdeck/flowengine/internal/store"
	"github.com/opsdeck/flowengine/model"
)

const defaultIdempotencyTTL = 24 * time.Hour

// Invoker starts an execution. *engine.Engine implements it.
type Invoker interface {
	Invoke(ctx context.Context, req model.InvokeRequest) (model.InvokeResult, error)
}

// WebhookRequest is one inbound delivery.
type WebhookRequest struct {
	TriggerID string
	Body      []byte
	Signature string
	// DeliveryID is optional; when set, redeliveries are answered from the
	// idempotency store.
	DeliveryID string
}

// Gateway authenticates webhook deliveries and invokes their workflows.
type Gateway struct {
	triggers store.TriggerStore
	invoker  Invoker
	limiters *Limiters
	idem     IdempotencyStore
	idemTTL  time.Duration
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewGateway creates a gateway with per-trigger rate limits from cfg.
func NewGateway(
	triggers store.TriggerStore,
	invoker Invoker,
	cfg config.WebhookConfig,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		triggers: triggers,
		invoker:  invoker,
		limiters: NewLimiters(cfg.RatePerSecond, cfg.Burst),
		metrics:  metrics,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithIdempotency enables delivery dedup. A non-positive ttl uses 24h.
func (g *Gateway) WithIdempotency(s IdempotencyStore, ttl time.Duration) *Gateway {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	g.idem = s
	g.idemTTL = ttl
	return g
}

// Handle processes one delivery. Rejected deliveries return an error and
// never create an execution. Accepted ones return the engine's result.
func (g *Gateway) Handle(ctx context.Context, req WebhookRequest) (model.InvokeResult, error) {
	if req.TriggerID == "" {
		g.metrics.RecordWebhook("bad_request")
		return model.InvokeResult{}, model.NewBadRequestError("trigger id is required")
	}
	logger := g.logger.With(zap.String("trigger_id", req.TriggerID))

	trg, err := g.triggers.GetTrigger(ctx, req.TriggerID)
	if err != nil {
		if model.HasCode(err, model.ErrNotFound) {
			g.metrics.RecordWebhook("not_found")
			return model.InvokeResult{}, model.NewNotFoundError("trigger not found")
		}
		g.metrics.RecordWebhook("error")
		return model.InvokeResult{}, fmt.Errorf("load trigger: %w", err)
	}
	// Disabled and non-webhook triggers look missing to the caller.
	if !trg.Enabled || trg.Kind != model.TriggerKindWebhook {
		g.metrics.RecordWebhook("not_found")
		return model.InvokeResult{}, model.NewNotFoundError("trigger not found")
	}

	if !g.limiters.Allow(trg.ID) {
		g.metrics.RecordWebhook("rate_limited")
		return model.InvokeResult{}, model.NewRateLimitedError()
	}

	if trg.HasSecret() && !VerifySignature(trg.WebhookSecret, req.Body, req.Signature) {
		g.metrics.RecordWebhook("invalid_signature")
		logger.Warn("webhook signature rejected")
		return model.InvokeResult{}, model.NewInvalidSignatureError()
	}

	if err := g.triggers.TouchTrigger(ctx, trg.ID, g.now()); err != nil {
		g.metrics.RecordWebhook("error")
		return model.InvokeResult{}, fmt.Errorf("touch trigger: %w", err)
	}

	payload, err := parsePayload(req.Body)
	if err != nil {
		g.metrics.RecordWebhook("bad_payload")
		return model.InvokeResult{}, err
	}

	var key, bodyHash string
	if g.idem != nil && req.DeliveryID != "" {
		key, bodyHash = FormatDeliveryKey(trg.ID, req.DeliveryID), HashBody(req.Body)
		cached, found, err := g.idem.Check(ctx, key, bodyHash)
		if err != nil {
			if model.HasCode(err, model.ErrConflict) {
				g.metrics.RecordWebhook("conflict")
				return model.InvokeResult{}, err
			}
			g.metrics.RecordWebhook("error")
			return model.InvokeResult{}, fmt.Errorf("check delivery: %w", err)
		}
		if found {
			g.metrics.RecordWebhook("replayed")
			logger.Info("webhook redelivery answered from cache",
				zap.String("delivery_id", req.DeliveryID),
				zap.String("execution_id", cached.ExecutionID),
			)
			return *cached, nil
		}
	}

	result, err := g.invoker.Invoke(ctx, model.InvokeRequest{
		WorkflowID:  trg.WorkflowID,
		TriggerData: payload,
		TriggeredBy: model.TriggeredByWebhook,
		TenantID:    trg.TenantID,
	})
	if err != nil {
		g.metrics.RecordWebhook("rejected")
		return result, err
	}
	g.metrics.RecordWebhook("accepted")

	if key != "" {
		if err := g.idem.Store(ctx, key, bodyHash, result, g.idemTTL); err != nil {
			logger.Warn("failed to record webhook delivery",
				zap.String("delivery_id", req.DeliveryID),
				zap.Error(err),
			)
		}
	}
	return result, nil
}

// parsePayload decodes a delivery body. An empty body is an empty object;
// anything other than a JSON object is rejected.
func parsePayload(body []byte) (map[string]any, error) {
	if len(body) == 0 {
		return map[string]any{}, nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, model.NewBadPayloadError("bad payload: body is not valid JSON")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, model.NewBadPayloadError("bad payload: body must be a JSON object")
	}
	return obj, nil
}
