package workflow

import (
	"encoding/json"
	"slices"
)

// Transition is a directed edge between two steps. A nil Condition marks the
// default edge.
type Transition struct {
	From      string
	To        string
	Condition *Condition
}

// Conditional reports whether the transition carries a condition.
func (t Transition) Conditional() bool { return t.Condition != nil }

// Definition is the normalized, immutable graph of one workflow version.
// Build one with Load or Parse*; the zero value is not usable.
type Definition struct {
	Key           string
	Version       int
	Name          string
	Description   string
	Lanes         []Lane
	Steps         []Step
	Transitions   []Transition
	TriggerEvents []string
	OutputKeys    []string

	steps    map[string]Step
	lanes    map[string]Lane
	outgoing map[string][]Transition
}

func newDefinition(d Definition) *Definition {
	d.steps = make(map[string]Step, len(d.Steps))
	for _, s := range d.Steps {
		if _, dup := d.steps[s.Key()]; !dup {
			d.steps[s.Key()] = s
		}
	}
	d.lanes = make(map[string]Lane, len(d.Lanes))
	for _, l := range d.Lanes {
		d.lanes[l.Key] = l
	}
	d.outgoing = make(map[string][]Transition)
	for _, t := range d.Transitions {
		d.outgoing[t.From] = append(d.outgoing[t.From], t)
	}
	return &d
}

// Step looks up a step by key.
func (d *Definition) Step(key string) (Step, bool) {
	s, ok := d.steps[key]
	return s, ok
}

// Lane looks up a lane by key.
func (d *Definition) Lane(key string) (Lane, bool) {
	l, ok := d.lanes[key]
	return l, ok
}

// Outgoing returns the transitions leaving key in declaration order.
func (d *Definition) Outgoing(key string) []Transition {
	return slices.Clone(d.outgoing[key])
}

// Start returns the first start_event step.
func (d *Definition) Start() (Step, bool) {
	for _, s := range d.Steps {
		if s.Type() == StepStartEvent {
			return s, true
		}
	}
	return nil, false
}

// Branches reports whether leaving key requires gateway evaluation.
func (d *Definition) Branches(key string) bool {
	s, ok := d.steps[key]
	if !ok {
		return false
	}
	return s.Type() == StepGateway || len(d.outgoing[key]) > 1
}

// WithVersion returns a copy of d stamped with version.
func (d *Definition) WithVersion(version int) *Definition {
	c := *d
	c.Version = version
	return &c
}

// Document converts d back into its full serializable shape.
func (d *Definition) Document() *FullDefinition {
	doc := &FullDefinition{
		Key:           d.Key,
		Version:       d.Version,
		Name:          d.Name,
		Description:   d.Description,
		Lanes:         slices.Clone(d.Lanes),
		TriggerEvents: slices.Clone(d.TriggerEvents),
		OutputKeys:    slices.Clone(d.OutputKeys),
	}
	for _, s := range d.Steps {
		doc.Steps = append(doc.Steps, stepDocument(s))
	}
	for _, t := range d.Transitions {
		doc.Transitions = append(doc.Transitions, TransitionDoc{From: t.From, To: t.To, Condition: t.Condition})
	}
	return doc
}

// MarshalJSON encodes the definition in the full document shape.
func (d *Definition) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Document())
}

func stepDocument(s Step) StepDoc {
	doc := StepDoc{Key: s.Key(), Lane: s.Lane(), Type: s.Type(), Title: s.Title()}
	if m := int(s.SLA().Minutes()); m > 0 {
		doc.EstimatedDurationMinutes = &m
	}
	switch v := s.(type) {
	case UserTask:
		if v.RequiredApprovals > 0 {
			n := v.RequiredApprovals
			doc.RequiredApprovals = &n
		}
		if v.Optional {
			opt := true
			doc.IsOptional = &opt
		}
	case ServiceTask:
		doc.AutomationAction = v.Action
	}
	return doc
}
