package workflow

import "sort"

// Engine holds the pure transition decision logic. All methods are total:
// unknown statuses, roles or cases yield false or an empty result, never an
// error. The engine carries no mutable state and is safe for concurrent use.
type Engine struct {
	rules Ruleset
}

// NewEngine builds an engine deciding against the given ruleset.
func NewEngine(rules Ruleset) *Engine {
	return &Engine{rules: rules}
}

// Rules exposes the ruleset the engine was built with.
func (e *Engine) Rules() Ruleset {
	return e.rules
}

// CanTransition reports whether target is directly reachable from current.
func (e *Engine) CanTransition(current, target Status) bool {
	for _, s := range e.rules.transitions[current] {
		if s == target {
			return true
		}
	}
	return false
}

// HasPermission reports whether the role may set target as the result of a
// transition, independent of the current status.
func (e *Engine) HasPermission(role Role, target Status) bool {
	for _, s := range e.rules.permissions[role] {
		if s == target {
			return true
		}
	}
	return false
}

// CanUserPerformTransition is the single gate collaborators must consult
// before persisting a transition: the move must be legal per the transition
// table and the role must be permitted to set the target.
func (e *Engine) CanUserPerformTransition(role Role, current, target Status) bool {
	return e.CanTransition(current, target) && e.HasPermission(role, target)
}

// NextPossibleStatuses returns the statuses the role can move the request to
// from current: the intersection of the transition table row and the role's
// permitted targets, sorted for stable output.
func (e *Engine) NextPossibleStatuses(role Role, current Status) []Status {
	permitted := make(map[Status]struct{}, len(e.rules.permissions[role]))
	for _, s := range e.rules.permissions[role] {
		permitted[s] = struct{}{}
	}
	out := make([]Status, 0, len(e.rules.transitions[current]))
	for _, s := range e.rules.transitions[current] {
		if _, ok := permitted[s]; ok {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CanPerformSpecialTransition reports whether the role may invoke the named
// special case from the current status. The role check is case-specific:
// each escape hatch has its own authorization semantics, so the switch is
// exhaustive over the closed SpecialCase set rather than table-driven.
func (e *Engine) CanPerformSpecialTransition(kind SpecialCase, current Status, role Role) bool {
	rule, ok := e.rules.specials[kind]
	if !ok {
		return false
	}
	if _, ok := rule.Sources[current]; !ok {
		return false
	}

	switch kind {
	case SpecialEmergencyStop:
		// Highest privilege only, regardless of stage.
		return role == RoleAdmin
	case SpecialAdminOverride:
		return role == RoleAdmin
	case SpecialRequesterCancel:
		return role == RoleProducer
	case SpecialReassignment:
		if role == RoleAdmin {
			return true
		}
		owner, ok := e.rules.StageOwner(current)
		return ok && role == owner
	case SpecialReschedule:
		return role == RoleAdmin || role == RoleFieldInspector
	}
	return false
}

// SpecialTransitionTarget returns the status the request lands in when the
// named case fires from current. The second result is false when the case is
// unknown or not applicable from current.
func (e *Engine) SpecialTransitionTarget(kind SpecialCase, current Status) (Status, bool) {
	rule, ok := e.rules.specials[kind]
	if !ok {
		return "", false
	}
	target, ok := rule.Sources[current]
	return target, ok
}
