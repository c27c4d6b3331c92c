package engine

import (
	"context"
	"time"

	"megicode/backend/pkg/models"
)

// Logger is the logging surface the engine needs. logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// TaskEvent describes a user task that became active.
type TaskEvent struct {
	Instance          *models.ProcessInstance `json:"instance"`
	Step              *models.StepInstance    `json:"step"`
	Title             string                  `json:"title"`
	RequiredApprovals int                     `json:"required_approvals,omitempty"`
	Optional          bool                    `json:"optional,omitempty"`
}

// TaskProjector mirrors active user tasks onto the task board.
type TaskProjector interface {
	TaskActivated(ctx context.Context, ev TaskEvent) error
}

// Notifier tells people about steps that need attention.
type Notifier interface {
	StepsOverdue(ctx context.Context, steps []*models.OverdueStep) error
	AutomationFailed(ctx context.Context, a *models.Automation) error
}

// Dispatcher runs enqueued automations. Dispatch must not block on the
// automation itself.
type Dispatcher interface {
	Dispatch(ctx context.Context, a *models.Automation)
}

// Clock returns the current time.
type Clock func() time.Time

type nopProjector struct{}

func (nopProjector) TaskActivated(context.Context, TaskEvent) error { return nil }

type nopNotifier struct{}

func (nopNotifier) StepsOverdue(context.Context, []*models.OverdueStep) error { return nil }
func (nopNotifier) AutomationFailed(context.Context, *models.Automation) error { return nil }
