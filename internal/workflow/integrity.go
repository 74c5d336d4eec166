package workflow

import (
	"fmt"
	"sort"
	"time"
)

// Transition is one recorded status change from a request's history, as seen
// by the integrity checker. SpecialCase is empty for normal transitions.
type Transition struct {
	FromStatus  Status
	ToStatus    Status
	PerformedBy string
	Role        Role
	OccurredAt  time.Time
	SpecialCase SpecialCase
	Note        string
}

// MissingStep records a break in history continuity: the entry at Index
// starts from ActualFrom where the previous entry ended at ExpectedFrom.
type MissingStep struct {
	Index        int    `json:"index"`
	ExpectedFrom Status `json:"expectedFrom"`
	ActualFrom   Status `json:"actualFrom"`
}

// MissingStepsReport is the result of AnalyzeMissingSteps.
type MissingStepsReport struct {
	HasMissingSteps bool          `json:"hasMissingSteps"`
	MissingSteps    []MissingStep `json:"missingSteps"`
}

// IntegrityErrorKind classifies an integrity finding.
type IntegrityErrorKind string

const (
	IntegrityDiscontinuity     IntegrityErrorKind = "DISCONTINUITY"
	IntegrityIllegalTransition IntegrityErrorKind = "ILLEGAL_TRANSITION"
)

// IntegrityError is one finding produced by ValidateIntegrity.
type IntegrityError struct {
	Kind    IntegrityErrorKind `json:"kind"`
	Index   int                `json:"index"`
	From    Status             `json:"from"`
	To      Status             `json:"to"`
	Message string             `json:"message"`
}

// IntegrityReport is the result of ValidateIntegrity.
type IntegrityReport struct {
	IsValid bool             `json:"isValid"`
	Errors  []IntegrityError `json:"errors"`
}

// Checker validates a persisted history sequence against the engine's rules.
// It runs during audits and dispute resolution, never in the transition hot
// path.
type Checker struct {
	engine *Engine
}

// NewChecker builds a checker deciding legality through the given engine.
func NewChecker(engine *Engine) *Checker {
	return &Checker{engine: engine}
}

// AnalyzeMissingSteps walks the history in array order comparing each
// entry's FromStatus to the previous entry's ToStatus. The first entry's own
// FromStatus seeds the expectation, so a single-entry history is always
// continuous. The checker only flags that a transition is missing; it does
// not reconstruct what the missing transition was.
func (c *Checker) AnalyzeMissingSteps(history []Transition) MissingStepsReport {
	report := MissingStepsReport{MissingSteps: []MissingStep{}}
	if len(history) == 0 {
		return report
	}

	expected := history[0].FromStatus
	for i, entry := range history {
		if entry.FromStatus != expected {
			report.MissingSteps = append(report.MissingSteps, MissingStep{
				Index:        i,
				ExpectedFrom: expected,
				ActualFrom:   entry.FromStatus,
			})
		}
		expected = entry.ToStatus
	}
	report.HasMissingSteps = len(report.MissingSteps) > 0
	return report
}

// ValidateIntegrity sorts a copy of the history by timestamp and verifies
// both continuity and legality of every entry, accumulating all findings so
// one audit run surfaces every problem. Entries recorded through a special
// case are exempt from the transition-table legality check (the override is
// the point of the escape hatch) but must still be continuous.
func (c *Checker) ValidateIntegrity(history []Transition) IntegrityReport {
	report := IntegrityReport{IsValid: true, Errors: []IntegrityError{}}
	if len(history) == 0 {
		return report
	}

	sorted := append([]Transition(nil), history...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OccurredAt.Before(sorted[j].OccurredAt)
	})

	expected := sorted[0].FromStatus
	for i, entry := range sorted {
		if entry.FromStatus != expected {
			report.Errors = append(report.Errors, IntegrityError{
				Kind:    IntegrityDiscontinuity,
				Index:   i,
				From:    expected,
				To:      entry.FromStatus,
				Message: fmt.Sprintf("history gap: expected transition from %s, found entry starting at %s", expected, entry.FromStatus),
			})
		}
		if entry.SpecialCase == "" && !c.engine.CanTransition(entry.FromStatus, entry.ToStatus) {
			report.Errors = append(report.Errors, IntegrityError{
				Kind:    IntegrityIllegalTransition,
				Index:   i,
				From:    entry.FromStatus,
				To:      entry.ToStatus,
				Message: fmt.Sprintf("invalid transition %s -> %s", entry.FromStatus, entry.ToStatus),
			})
		}
		expected = entry.ToStatus
	}
	report.IsValid = len(report.Errors) == 0
	return report
}
