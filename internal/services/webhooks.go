package services

import (
	"context"
	"errors"
	"time"

	"megicode/backend/internal/automation"
	"megicode/backend/internal/engine"
	"megicode/backend/pkg/models"
)

// WebhookAction runs an automation action by posting it to a URL. The
// response object becomes the automation result. Client errors other than
// 408 and 429 are not retried.
type WebhookAction struct {
	client HookClient
	url    string
}

// NewWebhookAction creates a WebhookAction.
func NewWebhookAction(client HookClient, url string) *WebhookAction {
	return &WebhookAction{client: client, url: url}
}

type actionRequest struct {
	AutomationID string         `json:"automation_id"`
	InstanceID   string         `json:"instance_id"`
	StepKey      string         `json:"step_key"`
	Action       string         `json:"action"`
	Attempt      int            `json:"attempt"`
	Params       map[string]any `json:"params,omitempty"`
}

// Execute posts the invocation. The dedup key is sent as Idempotency-Key so
// the receiver can drop repeated deliveries.
func (a *WebhookAction) Execute(ctx context.Context, inv automation.Invocation) (map[string]any, error) {
	var out map[string]any
	err := a.client.Post(ctx, a.url, actionRequest{
		AutomationID: inv.AutomationID,
		InstanceID:   inv.InstanceID,
		StepKey:      inv.StepKey,
		Action:       inv.Action,
		Attempt:      inv.Attempt,
		Params:       inv.Params,
	}, map[string]string{"Idempotency-Key": inv.DedupKey}, &out)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return nil, automation.Permanent(err)
		}
		return nil, err
	}
	return out, nil
}

// LoggingAction stands in for actions without a webhook. It logs the
// invocation and succeeds with an empty result.
type LoggingAction struct {
	logger engine.Logger
}

// NewLoggingAction creates a LoggingAction.
func NewLoggingAction(logger engine.Logger) *LoggingAction {
	return &LoggingAction{logger: logger}
}

// Execute logs inv.
func (a *LoggingAction) Execute(ctx context.Context, inv automation.Invocation) (map[string]any, error) {
	a.logger.Info("automation action has no webhook, recorded only",
		"action", inv.Action, "instance_id", inv.InstanceID, "step", inv.StepKey, "attempt", inv.Attempt)
	return map[string]any{}, nil
}

// WebhookTaskProjector posts activated user tasks to the task board.
type WebhookTaskProjector struct {
	client HookClient
	url    string
}

// NewWebhookTaskProjector creates a WebhookTaskProjector.
func NewWebhookTaskProjector(client HookClient, url string) *WebhookTaskProjector {
	return &WebhookTaskProjector{client: client, url: url}
}

// TaskActivated posts ev.
func (p *WebhookTaskProjector) TaskActivated(ctx context.Context, ev engine.TaskEvent) error {
	return p.client.Post(ctx, p.url, ev, map[string]string{"Idempotency-Key": ev.Step.ID}, nil)
}

// Notification is the body posted by WebhookNotifier.
type Notification struct {
	Type       string                `json:"type"`
	SentAt     time.Time             `json:"sent_at"`
	Steps      []*models.OverdueStep `json:"steps,omitempty"`
	Automation *models.Automation    `json:"automation,omitempty"`
}

// Notification types.
const (
	NotificationStepsOverdue     = "steps_overdue"
	NotificationAutomationFailed = "automation_failed"
)

// WebhookNotifier posts notifications to a URL.
type WebhookNotifier struct {
	client HookClient
	url    string
	clock  engine.Clock
}

// NewWebhookNotifier creates a WebhookNotifier.
func NewWebhookNotifier(client HookClient, url string) *WebhookNotifier {
	return &WebhookNotifier{client: client, url: url, clock: time.Now}
}

// StepsOverdue posts the overdue steps.
func (n *WebhookNotifier) StepsOverdue(ctx context.Context, steps []*models.OverdueStep) error {
	return n.client.Post(ctx, n.url, Notification{
		Type:   NotificationStepsOverdue,
		SentAt: n.clock().UTC(),
		Steps:  steps,
	}, nil, nil)
}

// AutomationFailed posts the failed automation.
func (n *WebhookNotifier) AutomationFailed(ctx context.Context, a *models.Automation) error {
	return n.client.Post(ctx, n.url, Notification{
		Type:       NotificationAutomationFailed,
		SentAt:     n.clock().UTC(),
		Automation: a,
	}, nil, nil)
}

// LogNotifier writes notifications to the log when no webhook is set.
type LogNotifier struct {
	logger engine.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger engine.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// StepsOverdue logs each overdue step.
func (n *LogNotifier) StepsOverdue(ctx context.Context, steps []*models.OverdueStep) error {
	for _, s := range steps {
		n.logger.Warn("step overdue",
			"instance_id", s.Step.InstanceID, "step", s.Step.StepKey, "project_id", s.ProjectID, "overdue_by", s.OverdueBy.String())
	}
	return nil
}

// AutomationFailed logs a.
func (n *LogNotifier) AutomationFailed(ctx context.Context, a *models.Automation) error {
	n.logger.Error("automation exhausted its retries",
		"automation_id", a.ID, "instance_id", a.InstanceID, "action", a.Action, "retry_count", a.RetryCount)
	return nil
}
