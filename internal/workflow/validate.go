package workflow

import (
	"fmt"
	"strings"
)

// Validation error codes.
const (
	CodeDuplicateStep       = "duplicate_step"
	CodeUnknownLane         = "unknown_lane"
	CodeDanglingTransition  = "dangling_transition"
	CodeStartEventCount     = "start_event_count"
	CodeUnreachableStep     = "unreachable_step"
	CodeNoOutgoing          = "no_outgoing_transition"
	CodeEndHasOutgoing      = "end_event_outgoing"
	CodeNoReachableEnd      = "no_reachable_end"
	CodeDefaultEdge         = "default_edge"
	CodeShadowedEdge        = "shadowed_edge"
	CodeInvalidCondition    = "invalid_condition"
	CodeIgnoredCondition    = "ignored_condition"
	CodeMissingAction       = "missing_automation_action"
	CodeInvalidApprovals    = "invalid_required_approvals"
	CodeMissingKey          = "missing_key"
	CodeUnknownStepTypeName = "unknown_step_type"
)

// ValidationError is a single problem found in a definition.
type ValidationError struct {
	Code    string `json:"code"`
	Step    string `json:"step,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Step == "" {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s (%s): %s", e.Code, e.Step, e.Message)
}

// ValidationErrors is the complete list of problems of a rejected definition.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("workflow: invalid definition: %s", strings.Join(msgs, "; "))
}

// Has reports whether any error carries code.
func (errs ValidationErrors) Has(code string) bool {
	for _, e := range errs {
		if e.Code == code {
			return true
		}
	}
	return false
}

// Validated is a definition that passed Validate. Only validated definitions
// may be activated.
type Validated struct {
	*Definition
}

// Validate checks that def is well formed and executable. Any violation
// rejects the whole definition; the returned error is a ValidationErrors.
func Validate(def *Definition) (*Validated, error) {
	var errs ValidationErrors
	add := func(code, step, format string, args ...any) {
		errs = append(errs, ValidationError{Code: code, Step: step, Message: fmt.Sprintf(format, args...)})
	}

	if def.Key == "" {
		add(CodeMissingKey, "", "definition key is required")
	}

	seen := make(map[string]bool, len(def.Steps))
	for _, s := range def.Steps {
		if seen[s.Key()] {
			add(CodeDuplicateStep, s.Key(), "step key declared more than once")
		}
		seen[s.Key()] = true
		if !s.Type().Valid() {
			add(CodeUnknownStepTypeName, s.Key(), "unknown step type %q", s.Type())
		}
		if len(def.Lanes) > 0 {
			if _, ok := def.Lane(s.Lane()); !ok {
				add(CodeUnknownLane, s.Key(), "lane %q is not declared", s.Lane())
			}
		}
		switch v := s.(type) {
		case ServiceTask:
			if v.Action == "" {
				add(CodeMissingAction, s.Key(), "service_task needs an automationAction")
			}
		case UserTask:
			if v.RequiredApprovals < 0 {
				add(CodeInvalidApprovals, s.Key(), "requiredApprovals must not be negative")
			}
		}
	}

	// (a) transition references
	for _, t := range def.Transitions {
		if _, ok := def.Step(t.From); !ok {
			add(CodeDanglingTransition, t.From, "transition %s -> %s starts at an unknown step", t.From, t.To)
		}
		if _, ok := def.Step(t.To); !ok {
			add(CodeDanglingTransition, t.To, "transition %s -> %s ends at an unknown step", t.From, t.To)
		}
	}

	// (b) exactly one start event
	var starts []string
	for _, s := range def.Steps {
		if s.Type() == StepStartEvent {
			starts = append(starts, s.Key())
		}
	}
	if len(starts) != 1 {
		add(CodeStartEventCount, "", "expected exactly one start_event, found %d", len(starts))
	}

	// (c) reachability from the start step
	if len(starts) == 1 {
		reached := reachable(def, starts[0])
		endReached := false
		for _, s := range def.Steps {
			if !reached[s.Key()] {
				add(CodeUnreachableStep, s.Key(), "step is not reachable from %s", starts[0])
				continue
			}
			if s.Type() == StepEndEvent {
				endReached = true
			}
		}
		if !endReached {
			add(CodeNoReachableEnd, "", "no end_event is reachable from %s", starts[0])
		}
	}

	// (d) outgoing edges, (e) branch ordering
	for _, s := range def.Steps {
		out := def.Outgoing(s.Key())
		if s.Type() == StepEndEvent {
			if len(out) > 0 {
				add(CodeEndHasOutgoing, s.Key(), "end_event must not have outgoing transitions")
			}
			continue
		}
		if len(out) == 0 {
			add(CodeNoOutgoing, s.Key(), "step has no outgoing transition")
			continue
		}
		checkBranches(def, s, out, add)
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return &Validated{Definition: def}, nil
}

func checkBranches(def *Definition, s Step, out []Transition, add func(code, step, format string, args ...any)) {
	if !def.Branches(s.Key()) {
		// A lone edge is followed without evaluation.
		for _, t := range out {
			if t.Conditional() {
				add(CodeIgnoredCondition, s.Key(), "condition %s on the only edge to %s is never evaluated", t.Condition, t.To)
			}
		}
		return
	}
	defaults := 0
	signatures := map[string]string{}
	for i, t := range out {
		if !t.Conditional() {
			defaults++
			if i != len(out)-1 {
				add(CodeDefaultEdge, s.Key(), "unconditional edge to %s must be declared last", t.To)
			}
			continue
		}
		if err := t.Condition.check(); err != nil {
			add(CodeInvalidCondition, s.Key(), "edge to %s: %v", t.To, err)
			continue
		}
		sig := t.Condition.signature()
		if prev, dup := signatures[sig]; dup {
			add(CodeShadowedEdge, s.Key(), "edge to %s can never fire: %s already matches %s", t.To, prev, t.Condition)
			continue
		}
		signatures[sig] = t.To
	}
	if defaults > 1 {
		add(CodeDefaultEdge, s.Key(), "at most one unconditional edge is allowed, found %d", defaults)
	}
}

func reachable(def *Definition, from string) map[string]bool {
	seen := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, t := range def.Outgoing(cur) {
			if _, ok := def.Step(t.To); !ok || seen[t.To] {
				continue
			}
			seen[t.To] = true
			queue = append(queue, t.To)
		}
	}
	return seen
}
