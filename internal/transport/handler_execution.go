package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opsdeck/flowengine/model"
)

// ExecutionService runs and queries executions. *engine.Engine implements it.
type ExecutionService interface {
	Invoke(ctx context.Context, req model.InvokeRequest) (model.InvokeResult, error)
	GetExecution(ctx context.Context, tenantID, id string) (*model.Execution, error)
	ListExecutions(ctx context.Context, tenantID string, filters model.ExecutionFilters, page model.Pagination) (model.ExecutionPage, error)
}

func handleInvoke(svc ExecutionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, err := model.TenantFrom(r.Context())
		if err != nil {
			WriteError(w, err)
			return
		}

		var body struct {
			TriggerData map[string]any    `json:"trigger_data"`
			TriggeredBy model.TriggeredBy `json:"triggered_by"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		req, err := rctx.InvokeRequest(chi.URLParam(r, "workflowId"), body.TriggerData, body.TriggeredBy)
		if err != nil {
			WriteError(w, err)
			return
		}
		res, err := svc.Invoke(r.Context(), req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

func handleExecutionGet(svc ExecutionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, err := model.TenantFrom(r.Context())
		if err != nil {
			WriteError(w, err)
			return
		}

		exec, err := svc.GetExecution(r.Context(), rctx.TenantID, chi.URLParam(r, "executionId"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, exec)
	}
}

func handleExecutionList(svc ExecutionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, err := model.TenantFrom(r.Context())
		if err != nil {
			WriteError(w, err)
			return
		}

		q := r.URL.Query()
		page, err := queryInt(q.Get("page"))
		if err != nil {
			WriteError(w, model.NewBadRequestError("page must be an integer"))
			return
		}
		pageSize, err := queryInt(q.Get("page_size"))
		if err != nil {
			WriteError(w, model.NewBadRequestError("page_size must be an integer"))
			return
		}

		result, err := svc.ListExecutions(r.Context(), rctx.TenantID, model.ExecutionFilters{
			WorkflowID: q.Get("workflow_id"),
			Status:     model.ExecutionStatus(q.Get("status")),
		}, model.Pagination{Page: page, PageSize: pageSize})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, result)
	}
}

func queryInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
