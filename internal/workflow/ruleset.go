package workflow

// SpecialCase identifies a named, narrowly-scoped exception to the normal
// transition and permission rules. The set is closed; authorization for each
// case is an exhaustive switch in Engine.CanPerformSpecialTransition.
type SpecialCase string

const (
	SpecialReassignment    SpecialCase = "REASSIGNMENT"
	SpecialReschedule      SpecialCase = "RESCHEDULE"
	SpecialEmergencyStop   SpecialCase = "EMERGENCY_STOP"
	SpecialRequesterCancel SpecialCase = "REQUESTER_CANCEL"
	SpecialAdminOverride   SpecialCase = "ADMIN_OVERRIDE"
)

// AllSpecialCases lists the closed set of special cases.
func AllSpecialCases() []SpecialCase {
	return []SpecialCase{
		SpecialReassignment,
		SpecialReschedule,
		SpecialEmergencyStop,
		SpecialRequesterCancel,
		SpecialAdminOverride,
	}
}

// IsKnown reports whether c is part of the closed special-case set.
func (c SpecialCase) IsKnown() bool {
	switch c {
	case SpecialReassignment, SpecialReschedule, SpecialEmergencyStop,
		SpecialRequesterCancel, SpecialAdminOverride:
		return true
	}
	return false
}

// SpecialCaseRule scopes a special case to its permitted source statuses and
// names the status the request lands in when the case fires.
type SpecialCaseRule struct {
	// Sources maps each permitted source status to its resulting status.
	Sources map[Status]Status
}

// Ruleset is the immutable rule configuration the engine decides against:
// the transition table, the per-role target permissions, the special-case
// table and the stage ownership map. Build one with NewRuleset or
// DefaultRuleset and inject it; the engine never mutates it.
type Ruleset struct {
	transitions map[Status][]Status
	permissions map[Role][]Status
	specials    map[SpecialCase]SpecialCaseRule
	stageOwners map[Status]Role
}

// NewRuleset deep-copies the supplied tables into an immutable Ruleset.
func NewRuleset(
	transitions map[Status][]Status,
	permissions map[Role][]Status,
	specials map[SpecialCase]SpecialCaseRule,
	stageOwners map[Status]Role,
) Ruleset {
	rs := Ruleset{
		transitions: make(map[Status][]Status, len(transitions)),
		permissions: make(map[Role][]Status, len(permissions)),
		specials:    make(map[SpecialCase]SpecialCaseRule, len(specials)),
		stageOwners: make(map[Status]Role, len(stageOwners)),
	}
	for from, targets := range transitions {
		rs.transitions[from] = append([]Status(nil), targets...)
	}
	for role, targets := range permissions {
		rs.permissions[role] = append([]Status(nil), targets...)
	}
	for kind, rule := range specials {
		sources := make(map[Status]Status, len(rule.Sources))
		for from, to := range rule.Sources {
			sources[from] = to
		}
		rs.specials[kind] = SpecialCaseRule{Sources: sources}
	}
	for status, owner := range stageOwners {
		rs.stageOwners[status] = owner
	}
	return rs
}

// TransitionsFrom returns a copy of the statuses directly reachable from s.
func (rs Ruleset) TransitionsFrom(s Status) []Status {
	return append([]Status(nil), rs.transitions[s]...)
}

// PermittedTargets returns a copy of the target statuses the role may set.
func (rs Ruleset) PermittedTargets(r Role) []Status {
	return append([]Status(nil), rs.permissions[r]...)
}

// IsTerminal reports whether s has no outgoing transitions.
func (rs Ruleset) IsTerminal(s Status) bool {
	return len(rs.transitions[s]) == 0
}

// StageOwner returns the role that owns the given stage, if any.
func (rs Ruleset) StageOwner(s Status) (Role, bool) {
	owner, ok := rs.stageOwners[s]
	return owner, ok
}

// DefaultRuleset builds the production certification ruleset.
//
// The happy path runs Draft → Submitted → DocumentChecking →
// DocumentApproved → InspectionScheduled → Inspecting →
// InspectionCompleted → InspectionPassed → PendingApproval → Approved →
// CredentialIssued. DocumentRejected re-opens to Submitted; Rejected and
// CredentialIssued are terminal.
func DefaultRuleset() Ruleset {
	transitions := map[Status][]Status{
		StatusDraft:               {StatusSubmitted},
		StatusSubmitted:           {StatusDocumentChecking},
		StatusDocumentChecking:    {StatusDocumentApproved, StatusDocumentRejected},
		StatusDocumentApproved:    {StatusInspectionScheduled},
		StatusDocumentRejected:    {StatusSubmitted},
		StatusInspectionScheduled: {StatusInspecting},
		StatusInspecting:          {StatusInspectionCompleted},
		StatusInspectionCompleted: {StatusInspectionPassed, StatusInspectionFailed},
		StatusInspectionPassed:    {StatusPendingApproval},
		StatusInspectionFailed:    {StatusInspectionScheduled, StatusRejected},
		StatusPendingApproval:     {StatusApproved, StatusRejected},
		StatusApproved:            {StatusCredentialIssued},
		StatusRejected:            {},
		StatusCredentialIssued:    {},
	}

	permissions := map[Role][]Status{
		RoleProducer: {StatusSubmitted},
		RoleDocumentReviewer: {
			StatusDocumentChecking,
			StatusDocumentApproved,
			StatusDocumentRejected,
		},
		RoleFieldInspector: {
			StatusInspectionScheduled,
			StatusInspecting,
			StatusInspectionCompleted,
			StatusInspectionPassed,
			StatusInspectionFailed,
			StatusPendingApproval,
		},
		RoleApprover: {
			StatusApproved,
			StatusRejected,
		},
		RoleAdmin: AllStatuses(),
	}

	stageOwners := map[Status]Role{
		StatusDraft:               RoleProducer,
		StatusSubmitted:           RoleProducer,
		StatusDocumentChecking:    RoleDocumentReviewer,
		StatusDocumentApproved:    RoleDocumentReviewer,
		StatusDocumentRejected:    RoleDocumentReviewer,
		StatusInspectionScheduled: RoleFieldInspector,
		StatusInspecting:          RoleFieldInspector,
		StatusInspectionCompleted: RoleFieldInspector,
		StatusInspectionPassed:    RoleFieldInspector,
		StatusInspectionFailed:    RoleFieldInspector,
		StatusPendingApproval:     RoleApprover,
		StatusApproved:            RoleApprover,
	}

	nonTerminal := func() []Status {
		out := make([]Status, 0, len(transitions))
		for _, s := range AllStatuses() {
			if len(transitions[s]) > 0 {
				out = append(out, s)
			}
		}
		return out
	}()

	anySource := func(target Status) map[Status]Status {
		sources := make(map[Status]Status, len(nonTerminal))
		for _, s := range nonTerminal {
			sources[s] = target
		}
		return sources
	}

	specials := map[SpecialCase]SpecialCaseRule{
		// Emergency stop halts any in-flight request immediately.
		SpecialEmergencyStop: {Sources: anySource(StatusRejected)},
		// Override escalates any in-flight request straight to approval review.
		SpecialAdminOverride: {Sources: anySource(StatusPendingApproval)},
		// Requester cancellation is only open before the final review begins.
		SpecialRequesterCancel: {Sources: map[Status]Status{
			StatusDraft:               StatusRejected,
			StatusSubmitted:           StatusRejected,
			StatusDocumentChecking:    StatusRejected,
			StatusDocumentApproved:    StatusRejected,
			StatusInspectionScheduled: StatusRejected,
		}},
		// Reassignment returns the in-progress stage to its entry point so a
		// different reviewer or inspector can pick it up.
		SpecialReassignment: {Sources: map[Status]Status{
			StatusDocumentChecking: StatusSubmitted,
			StatusInspecting:       StatusInspectionScheduled,
		}},
		SpecialReschedule: {Sources: map[Status]Status{
			StatusInspectionScheduled: StatusInspectionScheduled,
			StatusInspecting:          StatusInspectionScheduled,
		}},
	}

	return NewRuleset(transitions, permissions, specials, stageOwners)
}
