package repository

import (
	"context"
	"errors"
	"time"

	"megicode/backend/pkg/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict is returned on unique violations and stale optimistic updates.
	ErrConflict = errors.New("repository: conflict")
)

// TxManager runs fn inside one transaction carried by ctx. Store calls made
// with that ctx join the transaction; they all commit or none do. Nested
// calls reuse the outer transaction.
type TxManager interface {
	ReadCommitted(ctx context.Context, fn func(ctx context.Context) error) error
}

// DefinitionStore persists versioned process definitions.
type DefinitionStore interface {
	// NextDefinitionVersion returns the version a new definition of key gets.
	NextDefinitionVersion(ctx context.Context, key string) (int, error)
	// CreateDefinition stores a new inactive definition version.
	CreateDefinition(ctx context.Context, def *models.ProcessDefinition) error
	GetDefinition(ctx context.Context, key string, version int) (*models.ProcessDefinition, error)
	GetActiveDefinition(ctx context.Context, key string) (*models.ProcessDefinition, error)
	ListDefinitions(ctx context.Context) ([]*models.ProcessDefinition, error)
	// ActivateDefinition makes version the only active version of key.
	ActivateDefinition(ctx context.Context, key string, version int) error
}

// InstanceFilter narrows ListInstances.
type InstanceFilter struct {
	ProjectID string
	Status    models.InstanceStatus
	Limit     int
}

// InstanceStore persists process instances.
type InstanceStore interface {
	// CreateInstance fails with ErrConflict when the project already has a
	// running instance.
	CreateInstance(ctx context.Context, inst *models.ProcessInstance) error
	GetInstance(ctx context.Context, id string) (*models.ProcessInstance, error)
	// LockInstance reads the instance and holds a row lock on it until the
	// surrounding transaction ends.
	LockInstance(ctx context.Context, id string) (*models.ProcessInstance, error)
	// UpdateInstance writes inst if its Version is still current and bumps
	// Version; a stale Version yields ErrConflict.
	UpdateInstance(ctx context.Context, inst *models.ProcessInstance) error
	FindRunningInstance(ctx context.Context, projectID string) (*models.ProcessInstance, error)
	ListInstances(ctx context.Context, filter InstanceFilter) ([]*models.ProcessInstance, error)
}

// StepStore persists step execution history.
type StepStore interface {
	// CreateStep appends a step and assigns its Seq.
	CreateStep(ctx context.Context, step *models.StepInstance) error
	UpdateStep(ctx context.Context, step *models.StepInstance) error
	GetActiveStep(ctx context.Context, instanceID string) (*models.StepInstance, error)
	ListSteps(ctx context.Context, instanceID string) ([]*models.StepInstance, error)
	CountVisits(ctx context.Context, instanceID, stepKey string) (int, error)
	// ListOverdueSteps returns active steps of running instances whose due
	// time is at or before asOf, oldest deadline first.
	ListOverdueSteps(ctx context.Context, asOf time.Time) ([]*models.OverdueStep, error)
}

// AutomationStore persists automation attempts.
type AutomationStore interface {
	// CreateAutomation fails with ErrConflict when the dedup key exists.
	CreateAutomation(ctx context.Context, a *models.Automation) error
	GetAutomation(ctx context.Context, id string) (*models.Automation, error)
	// LockAutomation reads the automation under a row lock.
	LockAutomation(ctx context.Context, id string) (*models.Automation, error)
	GetAutomationByDedupKey(ctx context.Context, dedupKey string) (*models.Automation, error)
	UpdateAutomation(ctx context.Context, a *models.Automation) error
	ListAutomations(ctx context.Context, instanceID string) ([]*models.Automation, error)
	// ListDueAutomations returns automations of running instances that are
	// pending with a next attempt at or before asOf, or that have been
	// running since before staleBefore.
	ListDueAutomations(ctx context.Context, asOf, staleBefore time.Time, limit int) ([]*models.Automation, error)
}

// MessageStore persists the handoff log.
type MessageStore interface {
	// AppendMessage stores m and assigns its Seq.
	AppendMessage(ctx context.Context, m *models.Message) error
	ListMessages(ctx context.Context, instanceID string) ([]*models.Message, error)
}

// Repository is the complete persistence surface of the workflow engine.
type Repository interface {
	TxManager
	DefinitionStore
	InstanceStore
	StepStore
	AutomationStore
	MessageStore
	Ping(ctx context.Context) error
}
