package models

import "time"

// CredentialStatus captures the lifecycle of an issued credential. Active
// moves to Expired (time-driven) or Revoked (administrative); there is no
// transition out of Expired or Revoked.
type CredentialStatus string

const (
	CredentialActive    CredentialStatus = "ACTIVE"
	CredentialExpired   CredentialStatus = "EXPIRED"
	CredentialRevoked   CredentialStatus = "REVOKED"
	CredentialSuspended CredentialStatus = "SUSPENDED"
)

// Terminal reports whether no further status change is allowed.
func (s CredentialStatus) Terminal() bool {
	return s == CredentialExpired || s == CredentialRevoked
}

// Credential is the certification artifact issued for an approved request.
// Exactly one credential exists per approved request; the orchestrator
// enforces this, not the store.
type Credential struct {
	ID        string           `db:"id" json:"id"`
	Number    string           `db:"number" json:"number"`
	RequestID string           `db:"request_id" json:"request_id"`
	SubjectID string           `db:"subject_id" json:"subject_id"`
	IssuedAt  time.Time        `db:"issued_at" json:"issued_at"`
	ExpiresAt time.Time        `db:"expires_at" json:"expires_at"`
	Status    CredentialStatus `db:"status" json:"status"`
	RevokedAt *time.Time       `db:"revoked_at" json:"revoked_at,omitempty"`
	RevokedBy *string          `db:"revoked_by" json:"revoked_by,omitempty"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt time.Time        `db:"updated_at" json:"updated_at"`
}

// CredentialFilter captures filtering criteria for listing credentials.
type CredentialFilter struct {
	Status    []CredentialStatus
	SubjectID string
	Page      int
	PageSize  int
}
