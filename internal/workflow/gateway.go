package workflow

import (
	"errors"
	"fmt"
)

// ErrNoMatchingTransition is returned when no outgoing edge of a branching
// step matches and there is no default edge.
var ErrNoMatchingTransition = errors.New("no matching transition")

// ErrUnknownStep is returned when a step key is not part of the definition.
var ErrUnknownStep = errors.New("unknown step")

// Evaluate selects the transition taken when leaving stepKey. For branching
// steps conditions are tried in declaration order and the first match wins;
// the unconditional edge is taken only when nothing matches. A step with a
// single edge and no branching takes that edge.
func Evaluate(def *Definition, stepKey, outcome string, data map[string]any) (Transition, error) {
	if _, ok := def.Step(stepKey); !ok {
		return Transition{}, fmt.Errorf("%w: %s", ErrUnknownStep, stepKey)
	}
	out := def.Outgoing(stepKey)
	if len(out) == 0 {
		return Transition{}, fmt.Errorf("%w: %s has no outgoing transitions", ErrNoMatchingTransition, stepKey)
	}
	if !def.Branches(stepKey) {
		return out[0], nil
	}

	var fallback *Transition
	for i := range out {
		t := out[i]
		if !t.Conditional() {
			if fallback == nil {
				fallback = &out[i]
			}
			continue
		}
		if t.Condition.Matches(outcome, data) {
			return t, nil
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	return Transition{}, fmt.Errorf("%w: %s with outcome %q", ErrNoMatchingTransition, stepKey, outcome)
}
