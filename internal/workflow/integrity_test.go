package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func historyAt(base time.Time, steps ...[2]Status) []Transition {
	out := make([]Transition, 0, len(steps))
	for i, step := range steps {
		out = append(out, Transition{
			FromStatus: step[0],
			ToStatus:   step[1],
			OccurredAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return out
}

func TestAnalyzeMissingStepsContinuous(t *testing.T) {
	checker := NewChecker(NewEngine(DefaultRuleset()))
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	history := historyAt(base,
		[2]Status{StatusDraft, StatusSubmitted},
		[2]Status{StatusSubmitted, StatusDocumentChecking},
		[2]Status{StatusDocumentChecking, StatusDocumentApproved},
	)

	report := checker.AnalyzeMissingSteps(history)
	require.False(t, report.HasMissingSteps)
	require.Empty(t, report.MissingSteps)
}

func TestAnalyzeMissingStepsDetectsGap(t *testing.T) {
	checker := NewChecker(NewEngine(DefaultRuleset()))
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	// Submitted → DocumentChecking is missing between the two entries.
	history := historyAt(base,
		[2]Status{StatusDraft, StatusSubmitted},
		[2]Status{StatusDocumentChecking, StatusDocumentApproved},
	)

	report := checker.AnalyzeMissingSteps(history)
	require.True(t, report.HasMissingSteps)
	require.Len(t, report.MissingSteps, 1)
	require.Equal(t, 1, report.MissingSteps[0].Index)
	require.Equal(t, StatusSubmitted, report.MissingSteps[0].ExpectedFrom)
	require.Equal(t, StatusDocumentChecking, report.MissingSteps[0].ActualFrom)
}

func TestAnalyzeMissingStepsEmptyHistory(t *testing.T) {
	checker := NewChecker(NewEngine(DefaultRuleset()))
	report := checker.AnalyzeMissingSteps(nil)
	require.False(t, report.HasMissingSteps)
}

func TestValidateIntegrityValidHistory(t *testing.T) {
	checker := NewChecker(NewEngine(DefaultRuleset()))
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	history := historyAt(base,
		[2]Status{StatusDraft, StatusSubmitted},
		[2]Status{StatusSubmitted, StatusDocumentChecking},
		[2]Status{StatusDocumentChecking, StatusDocumentApproved},
	)

	report := checker.ValidateIntegrity(history)
	require.True(t, report.IsValid)
	require.Empty(t, report.Errors)
}

func TestValidateIntegritySortsByTimestamp(t *testing.T) {
	checker := NewChecker(NewEngine(DefaultRuleset()))
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	// Array order is scrambled; chronological order is consistent.
	history := []Transition{
		{FromStatus: StatusSubmitted, ToStatus: StatusDocumentChecking, OccurredAt: base.Add(time.Minute)},
		{FromStatus: StatusDraft, ToStatus: StatusSubmitted, OccurredAt: base},
	}
	original := append([]Transition(nil), history...)

	report := checker.ValidateIntegrity(history)
	require.True(t, report.IsValid)
	// The input must not be mutated.
	require.Equal(t, original, history)
}

func TestValidateIntegrityIllegalTransition(t *testing.T) {
	checker := NewChecker(NewEngine(DefaultRuleset()))
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	history := historyAt(base,
		[2]Status{StatusDraft, StatusCredentialIssued},
	)

	report := checker.ValidateIntegrity(history)
	require.False(t, report.IsValid)
	require.Len(t, report.Errors, 1)
	require.Equal(t, IntegrityIllegalTransition, report.Errors[0].Kind)
	require.Equal(t, StatusDraft, report.Errors[0].From)
	require.Equal(t, StatusCredentialIssued, report.Errors[0].To)
	require.Contains(t, report.Errors[0].Message, "DRAFT")
	require.Contains(t, report.Errors[0].Message, "CREDENTIAL_ISSUED")
}

func TestValidateIntegrityAccumulatesAllFindings(t *testing.T) {
	checker := NewChecker(NewEngine(DefaultRuleset()))
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	history := historyAt(base,
		[2]Status{StatusDraft, StatusSubmitted},
		// Gap (expected from Submitted) and illegal edge at once.
		[2]Status{StatusInspecting, StatusApproved},
	)

	report := checker.ValidateIntegrity(history)
	require.False(t, report.IsValid)
	require.Len(t, report.Errors, 2)
	require.Equal(t, IntegrityDiscontinuity, report.Errors[0].Kind)
	require.Equal(t, IntegrityIllegalTransition, report.Errors[1].Kind)
}

func TestValidateIntegritySpecialCaseExemption(t *testing.T) {
	checker := NewChecker(NewEngine(DefaultRuleset()))
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	// An emergency stop jumps Inspecting → Rejected, which the transition
	// table does not allow. Marked as special it is a legitimate override.
	legitimate := []Transition{
		{FromStatus: StatusDraft, ToStatus: StatusSubmitted, OccurredAt: base},
		{FromStatus: StatusSubmitted, ToStatus: StatusDocumentChecking, OccurredAt: base.Add(time.Minute)},
		{FromStatus: StatusDocumentChecking, ToStatus: StatusRejected, OccurredAt: base.Add(2 * time.Minute), SpecialCase: SpecialEmergencyStop},
	}
	report := checker.ValidateIntegrity(legitimate)
	require.True(t, report.IsValid)

	// The same jump without the special-case marker is an illegal edge.
	illegitimate := []Transition{
		{FromStatus: StatusDraft, ToStatus: StatusSubmitted, OccurredAt: base},
		{FromStatus: StatusSubmitted, ToStatus: StatusDocumentChecking, OccurredAt: base.Add(time.Minute)},
		{FromStatus: StatusDocumentChecking, ToStatus: StatusRejected, OccurredAt: base.Add(2 * time.Minute)},
	}
	report = checker.ValidateIntegrity(illegitimate)
	require.False(t, report.IsValid)
	require.Len(t, report.Errors, 1)
	require.Equal(t, IntegrityIllegalTransition, report.Errors[0].Kind)

	// A special-case entry is still held to the continuity rule.
	discontinuous := []Transition{
		{FromStatus: StatusDraft, ToStatus: StatusSubmitted, OccurredAt: base},
		{FromStatus: StatusInspecting, ToStatus: StatusRejected, OccurredAt: base.Add(time.Minute), SpecialCase: SpecialEmergencyStop},
	}
	report = checker.ValidateIntegrity(discontinuous)
	require.False(t, report.IsValid)
	require.Len(t, report.Errors, 1)
	require.Equal(t, IntegrityDiscontinuity, report.Errors[0].Kind)
}
