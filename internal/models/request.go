package models

import (
	"time"

	"github.com/agrocert/agrocert-api/internal/workflow"
)

// CertificationRequest is the aggregate moved through the workflow. The
// credential fields are stamped when the request reaches its terminal
// credential-issued status.
type CertificationRequest struct {
	ID               string          `db:"id" json:"id"`
	Number           string          `db:"number" json:"number"`
	SubjectID        string          `db:"subject_id" json:"subject_id"`
	FarmName         string          `db:"farm_name" json:"farm_name"`
	Commodity        string          `db:"commodity" json:"commodity"`
	Status           workflow.Status `db:"status" json:"status"`
	CredentialID     *string         `db:"credential_id" json:"credential_id,omitempty"`
	CredentialNumber *string         `db:"credential_number" json:"credential_number,omitempty"`
	SubmittedAt      *time.Time      `db:"submitted_at" json:"submitted_at,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// HistoryEntry is one append-only record of a status transition. Entries are
// never mutated or deleted; amendments are new entries. SpecialCase is empty
// for transitions that went through the normal table.
type HistoryEntry struct {
	ID          string               `db:"id" json:"id"`
	RequestID   string               `db:"request_id" json:"request_id"`
	FromStatus  workflow.Status      `db:"from_status" json:"from_status"`
	ToStatus    workflow.Status      `db:"to_status" json:"to_status"`
	PerformedBy string               `db:"performed_by" json:"performed_by"`
	Role        workflow.Role        `db:"role" json:"role"`
	SpecialCase workflow.SpecialCase `db:"special_case" json:"special_case,omitempty"`
	Note        *string              `db:"note" json:"note,omitempty"`
	OccurredAt  time.Time            `db:"occurred_at" json:"occurred_at"`
}

// Transition converts the entry into the integrity checker's record type.
func (h HistoryEntry) Transition() workflow.Transition {
	t := workflow.Transition{
		FromStatus:  h.FromStatus,
		ToStatus:    h.ToStatus,
		PerformedBy: h.PerformedBy,
		Role:        h.Role,
		OccurredAt:  h.OccurredAt,
		SpecialCase: h.SpecialCase,
	}
	if h.Note != nil {
		t.Note = *h.Note
	}
	return t
}

// RequestFilter captures filtering criteria for listing requests.
type RequestFilter struct {
	Status    []workflow.Status
	SubjectID string
	Search    string
	Page      int
	PageSize  int
}
