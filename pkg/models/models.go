// Package models defines the persisted records of the workflow engine
package models

import (
	"time"
)

// InstanceStatus represents the lifecycle state of a process instance
type InstanceStatus string

const (
	InstanceStatusRunning   InstanceStatus = "running"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusCanceled  InstanceStatus = "canceled"
)

// StepStatus represents the state of one visit to a step
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusActive    StepStatus = "active"
	StepStatusCompleted StepStatus = "completed"
	StepStatusSkipped   StepStatus = "skipped"
)

// AutomationStatus represents the state of an automation record
type AutomationStatus string

const (
	AutomationStatusPending   AutomationStatus = "pending"
	AutomationStatusRunning   AutomationStatus = "running"
	AutomationStatusCompleted AutomationStatus = "completed"
	AutomationStatusFailed    AutomationStatus = "failed"
)

// MessageStatus represents the delivery state of a handoff message
type MessageStatus string

const (
	MessageStatusSent MessageStatus = "sent"
)

// ProcessInstance represents one execution of a definition bound to a project
type ProcessInstance struct {
	ID                string         `json:"id" db:"id"`
	DefinitionKey     string         `json:"definition_key" db:"definition_key"`
	DefinitionVersion int            `json:"definition_version" db:"definition_version"`
	ProjectID         string         `json:"project_id" db:"project_id"`
	LeadID            *string        `json:"lead_id,omitempty" db:"lead_id"`
	Status            InstanceStatus `json:"status" db:"status"`
	CurrentStepKey    *string        `json:"current_step_key" db:"current_step_key"`
	Data              map[string]any `json:"data,omitempty" db:"data"` // JSONB
	CancelReason      *string        `json:"cancel_reason,omitempty" db:"cancel_reason"`
	StartedBy         string         `json:"started_by,omitempty" db:"started_by"`

	// Version is the optimistic lock counter, bumped on every update.
	Version int `json:"version" db:"lock_version"`

	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal reports whether the instance can no longer change.
func (p *ProcessInstance) IsTerminal() bool {
	return p.Status == InstanceStatusCompleted || p.Status == InstanceStatusCanceled
}

// CurrentStep returns the current step key or "" when there is none.
func (p *ProcessInstance) CurrentStep() string {
	if p.CurrentStepKey == nil {
		return ""
	}
	return *p.CurrentStepKey
}

// Clone returns a copy that shares no mutable state with p.
func (p *ProcessInstance) Clone() *ProcessInstance {
	c := *p
	c.LeadID = cloneString(p.LeadID)
	c.CurrentStepKey = cloneString(p.CurrentStepKey)
	c.CancelReason = cloneString(p.CancelReason)
	c.EndedAt = cloneTime(p.EndedAt)
	c.Data = CloneData(p.Data)
	return &c
}

// StepInstance is the execution record of one visit to one step
type StepInstance struct {
	ID               string     `json:"id" db:"id"`
	InstanceID       string     `json:"instance_id" db:"instance_id"`
	Seq              int64      `json:"seq" db:"seq"`
	StepKey          string     `json:"step_key" db:"step_key"`
	StepType         string     `json:"step_type" db:"step_type"`
	Lane             string     `json:"lane" db:"lane"`
	Status           StepStatus `json:"status" db:"status"`
	Visit            int        `json:"visit" db:"visit"`
	AssignedToUserID *string    `json:"assigned_to_user_id,omitempty" db:"assigned_to_user_id"`
	Outcome          *string    `json:"outcome,omitempty" db:"outcome"`
	CompletedBy      *string    `json:"completed_by,omitempty" db:"completed_by"`
	StartedAt        time.Time  `json:"started_at" db:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	DueAt            *time.Time `json:"due_at,omitempty" db:"due_at"`
}

// Clone returns a copy that shares no mutable state with s.
func (s *StepInstance) Clone() *StepInstance {
	c := *s
	c.AssignedToUserID = cloneString(s.AssignedToUserID)
	c.Outcome = cloneString(s.Outcome)
	c.CompletedBy = cloneString(s.CompletedBy)
	c.CompletedAt = cloneTime(s.CompletedAt)
	c.DueAt = cloneTime(s.DueAt)
	return &c
}

// Automation records the execution attempts of a service task action
type Automation struct {
	ID             string           `json:"id" db:"id"`
	InstanceID     string           `json:"instance_id" db:"instance_id"`
	StepInstanceID string           `json:"step_instance_id" db:"step_instance_id"`
	StepKey        string           `json:"step_key" db:"step_key"`
	Action         string           `json:"automation_action" db:"action"`
	DedupKey       string           `json:"dedup_key" db:"dedup_key"`
	Status         AutomationStatus `json:"status" db:"status"`
	RetryCount     int              `json:"retry_count" db:"retry_count"`
	MaxRetries     int              `json:"max_retries" db:"max_retries"`
	Params         map[string]any   `json:"params,omitempty" db:"params"`           // JSONB
	ResultData     map[string]any   `json:"result_data,omitempty" db:"result_data"` // JSONB
	ErrorMessage   *string          `json:"error_message,omitempty" db:"error_message"`
	NextAttemptAt  *time.Time       `json:"next_attempt_at,omitempty" db:"next_attempt_at"`
	StartedAt      *time.Time       `json:"started_at,omitempty" db:"started_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at" db:"updated_at"`
}

// Exhausted reports whether the automation failed with no retries left.
func (a *Automation) Exhausted() bool {
	return a.Status == AutomationStatusFailed && a.RetryCount >= a.MaxRetries
}

// Clone returns a copy that shares no mutable state with a.
func (a *Automation) Clone() *Automation {
	c := *a
	c.Params = CloneData(a.Params)
	c.ResultData = CloneData(a.ResultData)
	c.ErrorMessage = cloneString(a.ErrorMessage)
	c.NextAttemptAt = cloneTime(a.NextAttemptAt)
	c.StartedAt = cloneTime(a.StartedAt)
	c.CompletedAt = cloneTime(a.CompletedAt)
	return &c
}

// Message is the audit record of a cross-lane handoff
type Message struct {
	ID          string         `json:"id" db:"id"`
	InstanceID  string         `json:"instance_id" db:"instance_id"`
	Seq         int64          `json:"seq" db:"seq"`
	FromStepKey string         `json:"from_step_key" db:"from_step_key"`
	ToStepKey   string         `json:"to_step_key" db:"to_step_key"`
	FromLane    string         `json:"from_lane" db:"from_lane"`
	ToLane      string         `json:"to_lane" db:"to_lane"`
	Payload     map[string]any `json:"payload,omitempty" db:"payload"` // JSONB
	Status      MessageStatus  `json:"status" db:"status"`
	SentAt      time.Time      `json:"sent_at" db:"sent_at"`
}

// OverdueStep is an active step whose SLA deadline has passed
type OverdueStep struct {
	Step          *StepInstance `json:"step"`
	DefinitionKey string        `json:"definition_key"`
	ProjectID     string        `json:"project_id"`
	OverdueBy     time.Duration `json:"overdue_by"`
}

// ProblemDetails represents RFC 7807 Problem Details
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}

// HealthStatus represents service health
type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// CloneData returns a shallow copy of a JSON object map.
func CloneData(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
