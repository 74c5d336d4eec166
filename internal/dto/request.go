package dto

import (
	"strings"

	"github.com/agrocert/agrocert-api/internal/workflow"
)

// CreateRequestRequest describes the payload for opening a new
// certification request. SubjectID is honored for admins only; everyone
// else creates requests for themselves.
type CreateRequestRequest struct {
	FarmName  string `json:"farm_name" validate:"required"`
	Commodity string `json:"commodity" validate:"required"`
	SubjectID string `json:"subject_id,omitempty"`
}

// TransitionRequest names the target status for a normal transition.
type TransitionRequest struct {
	Target string  `json:"target" validate:"required"`
	Note   *string `json:"note,omitempty"`
}

// SpecialTransitionRequest carries the optional note for a special-case
// transition; the case itself comes from the path.
type SpecialTransitionRequest struct {
	Note *string `json:"note,omitempty"`
}

// RequestQuery captures list filters from the query string. Status accepts a
// comma-separated list.
type RequestQuery struct {
	Status    string `form:"status"`
	SubjectID string `form:"subject_id"`
	Search    string `form:"search"`
	Page      int    `form:"page"`
	PageSize  int    `form:"page_size"`
}

// Statuses splits the comma-separated status filter.
func (q RequestQuery) Statuses() []string {
	if q.Status == "" {
		return nil
	}
	parts := strings.Split(q.Status, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// NextStatusesResponse lists the statuses the caller may move a request to.
type NextStatusesResponse struct {
	RequestID     string            `json:"request_id"`
	CurrentStatus workflow.Status   `json:"current_status"`
	NextStatuses  []workflow.Status `json:"next_statuses"`
}

// IntegrityResponse bundles both history checks for one request.
type IntegrityResponse struct {
	RequestID    string                      `json:"request_id"`
	MissingSteps workflow.MissingStepsReport `json:"missing_steps"`
	Validation   workflow.IntegrityReport    `json:"validation"`
}
