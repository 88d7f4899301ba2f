package model

// InvokeRequest asks the orchestrator to run a workflow once.
type InvokeRequest struct {
	WorkflowID  string         `json:"workflow_id"`
	TriggerData map[string]any `json:"trigger_data"`
	TriggeredBy TriggeredBy    `json:"triggered_by"`
	// TenantID, when set, must match the workflow's tenant. Empty means the
	// caller is internal (webhook, schedule, event) and trusts the workflow.
	TenantID string `json:"-"`
}

// InvokeResult is returned synchronously to the caller of an invocation,
// whether the execution completed or failed.
type InvokeResult struct {
	Success      bool         `json:"success"`
	ExecutionID  string       `json:"execution_id"`
	ExecutionLog []StepResult `json:"execution_log"`
	Error        string       `json:"error,omitempty"`
}

// Pagination describes a page request on list endpoints.
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// Offset returns the zero-based index of the first item on the page.
func (p Pagination) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.PageSize
}

// ExecutionPage is one page of an execution listing.
type ExecutionPage struct {
	Items    []Execution `json:"items"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}
