package dto

import "strings"

// CredentialQuery captures list filters from the query string.
type CredentialQuery struct {
	Status    string `form:"status"`
	SubjectID string `form:"subject_id"`
	Page      int    `form:"page"`
	PageSize  int    `form:"page_size"`
}

// Statuses splits the comma-separated status filter.
func (q CredentialQuery) Statuses() []string {
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

// RevokeCredentialRequest carries the administrative revocation reason.
type RevokeCredentialRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// SweepResponse acknowledges one manually triggered expiry sweep run.
type SweepResponse struct {
	Sweep string `json:"sweep"`
}
