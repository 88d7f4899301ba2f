package transport

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/opsdeck/flowengine/internal/observability"
	"github.com/opsdeck/flowengine/internal/trigger"
	"github.com/opsdeck/flowengine/model"
)

// WebhookGateway admits webhook deliveries. *trigger.Gateway implements it.
type WebhookGateway interface {
	Handle(ctx context.Context, req trigger.WebhookRequest) (model.InvokeResult, error)
}

// handleWebhook serves POST /workflow-webhook?id=<trigger_id>. The raw body
// is passed through untouched so the signature covers exactly what was sent.
// Accepted deliveries answer 200 with the execution result, including ones
// whose execution failed.
func handleWebhook(gw WebhookGateway, signatureHeader string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				WriteError(w, model.NewBadPayloadError("request body too large"))
				return
			}
			WriteError(w, model.NewBadPayloadError("could not read request body"))
			return
		}

		deliveryID := r.Header.Get("X-Webhook-Delivery-Id")
		if deliveryID == "" {
			deliveryID = r.Header.Get("X-Idempotency-Key")
		}

		res, err := gw.Handle(r.Context(), trigger.WebhookRequest{
			TriggerID:  r.URL.Query().Get("id"),
			Body:       body,
			Signature:  r.Header.Get(signatureHeader),
			DeliveryID: deliveryID,
		})
		if err != nil {
			if _, ok := model.AsEnvelope(err); !ok {
				observability.LoggerFrom(r.Context(), zap.NewNop()).Error("webhook delivery failed", zap.Error(err))
			}
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}
