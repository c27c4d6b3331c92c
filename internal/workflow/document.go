package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Document is one of the stored definition shapes. Both resolve into the same
// normalized Definition; nothing past Load looks at the shape again.
type Document interface {
	Normalize() (*Definition, error)
	document()
}

// FullDefinition is the lane/step/transition shape.
type FullDefinition struct {
	Key           string          `json:"key"`
	Version       int             `json:"version,omitempty"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Lanes         []Lane          `json:"lanes"`
	Steps         []StepDoc       `json:"steps"`
	Transitions   []TransitionDoc `json:"transitions"`
	TriggerEvents []string        `json:"triggerEvents,omitempty"`
	OutputKeys    []string        `json:"outputKeys,omitempty"`
}

// StepDoc is the serialized form of any step type.
type StepDoc struct {
	Key                      string   `json:"key"`
	Lane                     string   `json:"lane"`
	Type                     StepType `json:"type"`
	Title                    string   `json:"title"`
	AutomationAction         string   `json:"automationAction,omitempty"`
	EstimatedDurationMinutes *int     `json:"estimatedDurationMinutes,omitempty"`
	RequiredApprovals        *int     `json:"requiredApprovals,omitempty"`
	IsOptional               *bool    `json:"isOptional,omitempty"`
}

// TransitionDoc is the serialized form of a transition.
type TransitionDoc struct {
	From      string     `json:"from"`
	To        string     `json:"to"`
	Condition *Condition `json:"condition,omitempty"`
}

// LegacyDefinition is the older shape: an ordered list of steps executed one
// after another, with no explicit lanes, types or transitions.
type LegacyDefinition struct {
	Key         string       `json:"key"`
	Version     int          `json:"version,omitempty"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Steps       []LegacyStep `json:"steps"`
}

// LegacyStep is one entry of a LegacyDefinition.
type LegacyStep struct {
	Key                      string `json:"key"`
	Title                    string `json:"title"`
	Lane                     string `json:"lane,omitempty"`
	AutomationAction         string `json:"automationAction,omitempty"`
	EstimatedDurationMinutes int    `json:"estimatedDurationMinutes,omitempty"`
}

func (*FullDefinition) document()   {}
func (*LegacyDefinition) document() {}

// Decode detects the shape of a stored definition and decodes it.
func Decode(data []byte) (Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("workflow: definition payload is empty")
	}
	var probe struct {
		Lanes       json.RawMessage `json:"lanes"`
		Transitions json.RawMessage `json:"transitions"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("workflow: decode definition: %w", err)
	}

	if probe.Transitions == nil && probe.Lanes == nil {
		var legacy LegacyDefinition
		if err := json.Unmarshal(data, &legacy); err != nil {
			return nil, fmt.Errorf("workflow: decode legacy definition: %w", err)
		}
		return &legacy, nil
	}
	var full FullDefinition
	if err := json.Unmarshal(data, &full); err != nil {
		return nil, fmt.Errorf("workflow: decode definition: %w", err)
	}
	return &full, nil
}

// Load decodes and normalizes a stored definition. It does not validate.
func Load(data []byte) (*Definition, error) {
	doc, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return doc.Normalize()
}

// Normalize converts the document into the internal graph.
func (f *FullDefinition) Normalize() (*Definition, error) {
	if f.Key == "" {
		return nil, fmt.Errorf("workflow: key is required")
	}
	def := Definition{
		Key:           f.Key,
		Version:       f.Version,
		Name:          f.Name,
		Description:   f.Description,
		Lanes:         f.Lanes,
		TriggerEvents: f.TriggerEvents,
		OutputKeys:    f.OutputKeys,
	}
	for i, sd := range f.Steps {
		s, err := sd.toStep()
		if err != nil {
			return nil, fmt.Errorf("workflow %s step[%d]: %w", f.Key, i, err)
		}
		def.Steps = append(def.Steps, s)
	}
	for _, td := range f.Transitions {
		def.Transitions = append(def.Transitions, Transition{From: td.From, To: td.To, Condition: td.Condition})
	}
	return newDefinition(def), nil
}

func (sd StepDoc) toStep() (Step, error) {
	if sd.Key == "" {
		return nil, fmt.Errorf("key is required")
	}
	base := StepBase{StepKey: sd.Key, StepLane: sd.Lane, StepTitle: sd.Title}
	if sd.EstimatedDurationMinutes != nil {
		if *sd.EstimatedDurationMinutes < 0 {
			return nil, fmt.Errorf("%s: estimatedDurationMinutes must not be negative", sd.Key)
		}
		base.EstimatedDurationMinutes = *sd.EstimatedDurationMinutes
	}
	if sd.Type != StepServiceTask && sd.AutomationAction != "" {
		return nil, fmt.Errorf("%s: automationAction is only valid on service_task", sd.Key)
	}
	if sd.Type != StepUserTask && (sd.RequiredApprovals != nil || sd.IsOptional != nil) {
		return nil, fmt.Errorf("%s: requiredApprovals/isOptional are only valid on user_task", sd.Key)
	}

	switch sd.Type {
	case StepStartEvent:
		return StartEvent{base}, nil
	case StepEndEvent:
		return EndEvent{base}, nil
	case StepGateway:
		return Gateway{base}, nil
	case StepServiceTask:
		return ServiceTask{StepBase: base, Action: sd.AutomationAction}, nil
	case StepUserTask:
		ut := UserTask{StepBase: base}
		if sd.RequiredApprovals != nil {
			ut.RequiredApprovals = *sd.RequiredApprovals
		}
		if sd.IsOptional != nil {
			ut.Optional = *sd.IsOptional
		}
		return ut, nil
	}
	return nil, fmt.Errorf("%s: unknown step type %q", sd.Key, sd.Type)
}

const defaultLane = "general"

var laneColors = []string{"#2563eb", "#16a34a", "#9333ea", "#ea580c", "#0891b2", "#db2777"}

// Normalize expands the step list into a linear graph framed by a synthetic
// start and end event.
func (l *LegacyDefinition) Normalize() (*Definition, error) {
	if l.Key == "" {
		return nil, fmt.Errorf("workflow: key is required")
	}
	if len(l.Steps) == 0 {
		return nil, fmt.Errorf("workflow %s: at least one step is required", l.Key)
	}

	def := Definition{Key: l.Key, Version: l.Version, Name: l.Name, Description: l.Description}
	taken := make(map[string]bool, len(l.Steps))
	for _, ls := range l.Steps {
		taken[ls.Key] = true
	}
	startKey, endKey := freeKey("start", taken), freeKey("end", taken)

	seenLane := map[string]bool{}
	laneOf := func(name string) string {
		if name == "" {
			name = defaultLane
		}
		if !seenLane[name] {
			seenLane[name] = true
			def.Lanes = append(def.Lanes, Lane{
				Key:   name,
				Name:  name,
				Color: laneColors[(len(def.Lanes))%len(laneColors)],
			})
		}
		return name
	}

	firstLane := laneOf(l.Steps[0].Lane)
	def.Steps = append(def.Steps, StartEvent{StepBase{StepKey: startKey, StepLane: firstLane, StepTitle: "Start"}})
	prev := startKey
	lastLane := firstLane
	for i, ls := range l.Steps {
		if ls.Key == "" {
			return nil, fmt.Errorf("workflow %s step[%d]: key is required", l.Key, i)
		}
		lastLane = laneOf(ls.Lane)
		base := StepBase{
			StepKey:                  ls.Key,
			StepLane:                 lastLane,
			StepTitle:                ls.Title,
			EstimatedDurationMinutes: ls.EstimatedDurationMinutes,
		}
		if ls.AutomationAction != "" {
			def.Steps = append(def.Steps, ServiceTask{StepBase: base, Action: ls.AutomationAction})
		} else {
			def.Steps = append(def.Steps, UserTask{StepBase: base})
		}
		def.Transitions = append(def.Transitions, Transition{From: prev, To: ls.Key})
		prev = ls.Key
	}
	def.Steps = append(def.Steps, EndEvent{StepBase{StepKey: endKey, StepLane: lastLane, StepTitle: "End"}})
	def.Transitions = append(def.Transitions, Transition{From: prev, To: endKey})
	return newDefinition(def), nil
}

func freeKey(want string, taken map[string]bool) string {
	key := want
	for taken[key] {
		key = "_" + key
	}
	return key
}
