package workflow

// Status represents a stage in a certification request's lifecycle.
type Status string

const (
	StatusDraft               Status = "DRAFT"
	StatusSubmitted           Status = "SUBMITTED"
	StatusDocumentChecking    Status = "DOCUMENT_CHECKING"
	StatusDocumentApproved    Status = "DOCUMENT_APPROVED"
	StatusDocumentRejected    Status = "DOCUMENT_REJECTED"
	StatusInspectionScheduled Status = "INSPECTION_SCHEDULED"
	StatusInspecting          Status = "INSPECTING"
	StatusInspectionCompleted Status = "INSPECTION_COMPLETED"
	StatusInspectionPassed    Status = "INSPECTION_PASSED"
	StatusInspectionFailed    Status = "INSPECTION_FAILED"
	StatusPendingApproval     Status = "PENDING_APPROVAL"
	StatusApproved            Status = "APPROVED"
	StatusRejected            Status = "REJECTED"
	StatusCredentialIssued    Status = "CREDENTIAL_ISSUED"
)

// AllStatuses lists every lifecycle stage in workflow order.
func AllStatuses() []Status {
	return []Status{
		StatusDraft,
		StatusSubmitted,
		StatusDocumentChecking,
		StatusDocumentApproved,
		StatusDocumentRejected,
		StatusInspectionScheduled,
		StatusInspecting,
		StatusInspectionCompleted,
		StatusInspectionPassed,
		StatusInspectionFailed,
		StatusPendingApproval,
		StatusApproved,
		StatusRejected,
		StatusCredentialIssued,
	}
}

// IsKnown reports whether s is part of the closed status set.
func (s Status) IsKnown() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusDocumentChecking, StatusDocumentApproved,
		StatusDocumentRejected, StatusInspectionScheduled, StatusInspecting,
		StatusInspectionCompleted, StatusInspectionPassed, StatusInspectionFailed,
		StatusPendingApproval, StatusApproved, StatusRejected, StatusCredentialIssued:
		return true
	}
	return false
}

// Role represents the capacity in which an actor interacts with a request.
// It doubles as the RBAC role carried in JWT claims.
type Role string

const (
	RoleProducer         Role = "PRODUCER"
	RoleDocumentReviewer Role = "DOCUMENT_REVIEWER"
	RoleFieldInspector   Role = "FIELD_INSPECTOR"
	RoleApprover         Role = "APPROVER"
	RoleAdmin            Role = "ADMIN"
)

// AllRoles lists every actor role.
func AllRoles() []Role {
	return []Role{RoleProducer, RoleDocumentReviewer, RoleFieldInspector, RoleApprover, RoleAdmin}
}

// IsKnown reports whether r is part of the closed role set.
func (r Role) IsKnown() bool {
	switch r {
	case RoleProducer, RoleDocumentReviewer, RoleFieldInspector, RoleApprover, RoleAdmin:
		return true
	}
	return false
}
