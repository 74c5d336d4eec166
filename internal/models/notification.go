package models

// NotificationKind identifies the template of an outbound notification. The
// transport (email/SMS) is out of scope; only the kind contract is fixed.
type NotificationKind string

const (
	NotifyCredentialIssued  NotificationKind = "CREDENTIAL_ISSUED"
	NotifyRenewalReminder   NotificationKind = "RENEWAL_REMINDER"
	NotifyCredentialExpired NotificationKind = "CREDENTIAL_EXPIRED"
)
