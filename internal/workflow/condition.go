package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// OutcomeField is the condition field that refers to the caller-supplied
// outcome rather than to instance data.
const OutcomeField = "outcome"

// Condition is an equality or membership predicate over the outcome or a
// named instance data field. Exactly one of Equals or In is set.
type Condition struct {
	Field  string   `json:"field,omitempty"`
	Equals *string  `json:"equals,omitempty"`
	In     []string `json:"in,omitempty"`
	Not    bool     `json:"not,omitempty"`
}

// OutcomeIs is the shorthand condition `outcome == value`.
func OutcomeIs(value string) *Condition {
	return &Condition{Field: OutcomeField, Equals: &value}
}

// UnmarshalJSON accepts either a bare string, meaning `outcome == value`, or
// the object form.
func (c *Condition) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		*c = *OutcomeIs(value)
		return nil
	}
	type plain Condition
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = Condition(p)
	return nil
}

func (c *Condition) field() string {
	if c.Field == "" {
		return OutcomeField
	}
	return c.Field
}

func (c *Condition) check() error {
	switch {
	case c.Equals == nil && len(c.In) == 0:
		return fmt.Errorf("condition on %q needs equals or in", c.field())
	case c.Equals != nil && len(c.In) > 0:
		return fmt.Errorf("condition on %q sets both equals and in", c.field())
	}
	return nil
}

// Matches evaluates the condition. Data values are compared by their
// string form so numbers and booleans can be matched from definitions.
func (c *Condition) Matches(outcome string, data map[string]any) bool {
	var value string
	if f := c.field(); f == OutcomeField {
		value = outcome
	} else {
		v, ok := data[f]
		if !ok || v == nil {
			return c.Not
		}
		value = fmt.Sprint(v)
	}

	var hit bool
	if c.Equals != nil {
		hit = value == *c.Equals
	} else {
		hit = slices.Contains(c.In, value)
	}
	return hit != c.Not
}

// String renders the condition for logs and validation messages.
func (c *Condition) String() string {
	if c == nil {
		return "<default>"
	}
	op := "=="
	if c.Not {
		op = "!="
	}
	if c.Equals != nil {
		return fmt.Sprintf("%s %s %q", c.field(), op, *c.Equals)
	}
	op = "in"
	if c.Not {
		op = "not in"
	}
	return fmt.Sprintf("%s %s [%s]", c.field(), op, strings.Join(c.In, ","))
}

// signature identifies conditions that would match the same inputs.
func (c *Condition) signature() string {
	if c.Equals != nil {
		return c.String()
	}
	in := slices.Clone(c.In)
	slices.Sort(in)
	return fmt.Sprintf("%s|%v|%s", c.field(), c.Not, strings.Join(in, ","))
}
