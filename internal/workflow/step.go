package workflow

import "time"

// StepType identifies the kind of a step.
type StepType string

const (
	StepStartEvent  StepType = "start_event"
	StepUserTask    StepType = "user_task"
	StepServiceTask StepType = "service_task"
	StepGateway     StepType = "gateway"
	StepEndEvent    StepType = "end_event"
)

// Valid reports whether t is a known step type.
func (t StepType) Valid() bool {
	switch t {
	case StepStartEvent, StepUserTask, StepServiceTask, StepGateway, StepEndEvent:
		return true
	}
	return false
}

// Lane is a named track of responsibility used to group steps.
type Lane struct {
	Key   string `json:"key"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Step is a node of a definition graph. Each step type has its own
// implementation carrying only the fields meaningful to that type.
type Step interface {
	Key() string
	Lane() string
	Title() string
	Type() StepType
	// SLA is the expected maximum time the step stays active; zero means none.
	SLA() time.Duration

	step()
}

// StepBase carries the fields common to every step type.
type StepBase struct {
	StepKey                  string
	StepLane                 string
	StepTitle                string
	EstimatedDurationMinutes int
}

func (b StepBase) Key() string   { return b.StepKey }
func (b StepBase) Lane() string  { return b.StepLane }
func (b StepBase) Title() string { return b.StepTitle }

func (b StepBase) SLA() time.Duration {
	if b.EstimatedDurationMinutes <= 0 {
		return 0
	}
	return time.Duration(b.EstimatedDurationMinutes) * time.Minute
}

func (StepBase) step() {}

// StartEvent is the single entry point of a definition.
type StartEvent struct{ StepBase }

func (StartEvent) Type() StepType { return StepStartEvent }

// UserTask is completed by a person.
type UserTask struct {
	StepBase
	RequiredApprovals int
	Optional          bool
}

func (UserTask) Type() StepType { return StepUserTask }

// ServiceTask is completed by running its automation action.
type ServiceTask struct {
	StepBase
	Action string
}

func (ServiceTask) Type() StepType { return StepServiceTask }

// Gateway branches on its outgoing transition conditions.
type Gateway struct{ StepBase }

func (Gateway) Type() StepType { return StepGateway }

// EndEvent terminates the instance when entered.
type EndEvent struct{ StepBase }

func (EndEvent) Type() StepType { return StepEndEvent }

// IsOptional reports whether s may be skipped without an automation failure.
func IsOptional(s Step) bool {
	ut, ok := s.(UserTask)
	return ok && ut.Optional
}

// ActionOf returns the automation action of a service task.
func ActionOf(s Step) (string, bool) {
	st, ok := s.(ServiceTask)
	if !ok {
		return "", false
	}
	return st.Action, true
}
