package transport

import (
	"encoding/json"
	"net/http"

	"github.com/opsdeck/flowengine/internal/events"
	"github.com/opsdeck/flowengine/model"
)

// EventPublisher puts domain events on the bus. *events.Bus implements it.
type EventPublisher interface {
	PublishEvent(e events.Event) (events.Event, error)
}

// handleEventPublish accepts a domain event for the caller's tenant. Event
// triggers consume it asynchronously, so the response is 202 with the
// stored event.
func handleEventPublish(pub EventPublisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, err := model.TenantFrom(r.Context())
		if err != nil {
			WriteError(w, err)
			return
		}

		var body struct {
			Type string         `json:"type"`
			Data map[string]any `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		if body.Type == "" {
			WriteError(w, model.NewValidationError([]model.FieldError{
				{Field: "type", Code: "REQUIRED", Message: "type is required"},
			}))
			return
		}

		e, err := pub.PublishEvent(events.Event{Type: body.Type, TenantID: rctx.TenantID, Data: body.Data})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, e)
	}
}
