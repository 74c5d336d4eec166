package events

import "time"

// Type identifies a domain event.
type Type string

const (
	TypeRequestApproved            Type = "certification.request.approved"
	TypeCredentialIssued           Type = "certification.credential.issued"
	TypeCredentialGenerationFailed Type = "certification.credential.generation_failed"
	TypeCredentialExpiringSoon     Type = "certification.credential.expiring_soon"
	TypeCredentialExpired          Type = "certification.credential.expired"
)

// Event is an immutable fact published when a significant state change
// occurs. Events are never retried in place: a failed handler logs and moves
// on.
type Event interface {
	Type() Type
	OccurredAt() time.Time
}

// RequestApproved is published after a request's status transition to
// approved has been persisted.
type RequestApproved struct {
	RequestID  string
	ApproverID string
	At         time.Time
}

func (e RequestApproved) Type() Type            { return TypeRequestApproved }
func (e RequestApproved) OccurredAt() time.Time { return e.At }

// CredentialIssued is published once the orchestrator has created the
// credential for an approved request.
type CredentialIssued struct {
	CredentialID     string
	CredentialNumber string
	RequestID        string
	SubjectID        string
	At               time.Time
}

func (e CredentialIssued) Type() Type            { return TypeCredentialIssued }
func (e CredentialIssued) OccurredAt() time.Time { return e.At }

// CredentialGenerationFailed reports that issuance could not complete. It is
// a reporting event, not a retry trigger.
type CredentialGenerationFailed struct {
	RequestID string
	Reason    string
	At        time.Time
}

func (e CredentialGenerationFailed) Type() Type            { return TypeCredentialGenerationFailed }
func (e CredentialGenerationFailed) OccurredAt() time.Time { return e.At }

// CredentialExpiringSoon is published by the expiry sweep for each renewal
// checkpoint a credential crosses. The same credential legitimately
// re-triggers this event at successive checkpoints; DaysUntilExpiry tells
// consumers which one fired.
type CredentialExpiringSoon struct {
	CredentialID    string
	SubjectID       string
	DaysUntilExpiry int
	At              time.Time
}

func (e CredentialExpiringSoon) Type() Type            { return TypeCredentialExpiringSoon }
func (e CredentialExpiringSoon) OccurredAt() time.Time { return e.At }

// CredentialExpired is published by the expiry sweep for each active
// credential whose expiry has passed.
type CredentialExpired struct {
	CredentialID string
	SubjectID    string
	At           time.Time
}

func (e CredentialExpired) Type() Type            { return TypeCredentialExpired }
func (e CredentialExpired) OccurredAt() time.Time { return e.At }
