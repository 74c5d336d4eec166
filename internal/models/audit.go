package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionLogin              = "LOGIN"
	AuditActionLogout             = "LOGOUT"
	AuditActionRequestCreate      = "REQUEST_CREATE"
	AuditActionStatusTransition   = "STATUS_TRANSITION"
	AuditActionSpecialTransition  = "SPECIAL_TRANSITION"
	AuditActionCredentialIssue    = "CREDENTIAL_ISSUE"
	AuditActionCredentialRevoke   = "CREDENTIAL_REVOKE"
	AuditActionCredentialExpire   = "CREDENTIAL_EXPIRE"
	AuditActionRenewalReminder    = "RENEWAL_REMINDER"
	AuditActionIntegrityAudit     = "INTEGRITY_AUDIT"
	AuditActionSweepTrigger       = "SWEEP_TRIGGER"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	ActorID    *string   `db:"actor_id" json:"actor_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	EntityType string    `db:"entity_type" json:"entity_type"`
	EntityID   *string   `db:"entity_id" json:"entity_id,omitempty"`
	Metadata   []byte    `db:"metadata" json:"metadata,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
