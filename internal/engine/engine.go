// Package engine runs process instances over versioned workflow definitions.
// Every state change of an instance happens inside one repository
// transaction that holds the instance row lock and checks its version.
package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"

	"megicode/backend/internal/repository"
	"megicode/backend/internal/workflow"
	"megicode/backend/pkg/models"
)

const (
	// DefaultMaxStepVisits bounds how often a loop may re-enter one step.
	DefaultMaxStepVisits = 10
	// DefaultMaxRetries is the automation retry ceiling when none is set.
	DefaultMaxRetries = 3

	defaultCacheSize = 128
)

// Engine orchestrates definitions, instances, steps, automations and
// handoff messages.
type Engine struct {
	repo       repository.Repository
	cache      *lru.Cache[definitionID, *workflow.Definition]
	cacheSize  int
	clock      Clock
	logger     Logger
	projector  TaskProjector
	notifier   Notifier
	dispatcher Dispatcher
	maxVisits  int
	maxRetries func(action string) int
	metrics    *metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l Logger) Option { return func(e *Engine) { e.logger = l } }

// WithClock replaces time.Now, for tests.
func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

// WithTaskProjector sets the hook told about activated user tasks.
func WithTaskProjector(p TaskProjector) Option { return func(e *Engine) { e.projector = p } }

// WithNotifier sets the hook told about overdue steps.
func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notifier = n } }

// WithMaxStepVisits sets how often one step may be entered per instance.
// Zero or less disables the limit.
func WithMaxStepVisits(n int) Option { return func(e *Engine) { e.maxVisits = n } }

// WithDefinitionCacheSize sets how many decoded definitions are kept.
func WithDefinitionCacheSize(n int) Option { return func(e *Engine) { e.cacheSize = n } }

// WithMaxRetries sets the retry ceiling stamped on new automations.
func WithMaxRetries(f func(action string) int) Option { return func(e *Engine) { e.maxRetries = f } }

// New creates an Engine over repo.
func New(repo repository.Repository, opts ...Option) (*Engine, error) {
	e := &Engine{
		repo:       repo,
		cacheSize:  defaultCacheSize,
		clock:      func() time.Time { return time.Now().UTC() },
		logger:     nopLogger{},
		projector:  nopProjector{},
		notifier:   nopNotifier{},
		maxVisits:  DefaultMaxStepVisits,
		maxRetries: func(string) int { return DefaultMaxRetries },
		metrics:    newMetrics(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cacheSize <= 0 {
		e.cacheSize = defaultCacheSize
	}
	cache, err := lru.New[definitionID, *workflow.Definition](e.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("definition cache: %w", err)
	}
	e.cache = cache
	return e, nil
}

// SetDispatcher sets where enqueued automations are handed off after
// commit. The dispatcher usually needs the engine itself, so it is attached
// after construction.
func (e *Engine) SetDispatcher(d Dispatcher) { e.dispatcher = d }

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time { return e.clock() }

// Notifier returns the configured notifier.
func (e *Engine) Notifier() Notifier { return e.notifier }

// StartRequest starts an instance of the active version of DefinitionKey.
type StartRequest struct {
	DefinitionKey string
	ProjectID     string
	LeadID        string
	ActorID       string
	Data          map[string]any
}

// AdvanceRequest completes TriggerStepKey and moves the instance on.
// ExpectedVersion, when set, must equal the instance version.
type AdvanceRequest struct {
	InstanceID      string
	TriggerStepKey  string
	Outcome         string
	ActorID         string
	Data            map[string]any
	ExpectedVersion int
}

// SkipRequest moves past the current step without completing it.
type SkipRequest struct {
	InstanceID string
	StepKey    string
	ActorID    string
	Reason     string
}

// AssignRequest assigns the active step to a user.
type AssignRequest struct {
	InstanceID string
	StepKey    string
	UserID     string
	ActorID    string
}

// InstanceState is the full picture of one instance.
type InstanceState struct {
	Instance    *models.ProcessInstance `json:"instance"`
	ActiveStep  *models.StepInstance    `json:"active_step,omitempty"`
	Steps       []*models.StepInstance  `json:"steps"`
	Automations []*models.Automation    `json:"automations"`
	Messages    []*models.Message       `json:"messages"`
	// Stalled is set when the current service task's automation failed.
	Stalled bool `json:"stalled"`
}

// effects are the notifications produced by a transaction, delivered after
// it commits.
type effects struct {
	tasks       []TaskEvent
	automations []*models.Automation
}

// Start creates a running instance positioned at the start event.
func (e *Engine) Start(ctx context.Context, req StartRequest) (inst *models.ProcessInstance, err error) {
	ctx, span := tracer.Start(ctx, "engine.Start")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(
		attribute.String("definition.key", req.DefinitionKey),
		attribute.String("project.id", req.ProjectID),
	)

	def, err := e.activeDefinition(ctx, req.DefinitionKey)
	if err != nil {
		return nil, err
	}
	start, ok := def.Start()
	if !ok {
		return nil, fmt.Errorf("%w: %s has no start event", ErrDefinitionNotFound, def.Key)
	}

	now := e.clock()
	startKey := start.Key()
	inst = &models.ProcessInstance{
		ID:                uuid.NewString(),
		DefinitionKey:     def.Key,
		DefinitionVersion: def.Version,
		ProjectID:         req.ProjectID,
		Status:            models.InstanceStatusRunning,
		CurrentStepKey:    &startKey,
		Data:              models.CloneData(req.Data),
		StartedBy:         req.ActorID,
		StartedAt:         now,
		UpdatedAt:         now,
	}
	if req.LeadID != "" {
		lead := req.LeadID
		inst.LeadID = &lead
	}

	var fx effects
	err = e.repo.ReadCommitted(ctx, func(ctx context.Context) error {
		if running, err := e.repo.FindRunningInstance(ctx, req.ProjectID); err == nil {
			return fmt.Errorf("%w: project %s runs %s", ErrConcurrentInstance, req.ProjectID, running.ID)
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if err := e.repo.CreateInstance(ctx, inst); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return fmt.Errorf("%w: project %s", ErrConcurrentInstance, req.ProjectID)
			}
			return err
		}
		_, err := e.enter(ctx, inst, start, 1, now, &fx)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.metrics.instanceStarted(ctx, def.Key)
	e.logger.Info("instance started",
		"instance_id", inst.ID, "definition", def.Key, "version", def.Version, "project_id", req.ProjectID)
	e.deliver(ctx, fx)
	return inst, nil
}

// Advance completes the current step and follows the transition selected
// for req.Outcome. A trigger step that is not the current step yields
// ErrStaleTransition without changing anything.
func (e *Engine) Advance(ctx context.Context, req AdvanceRequest) (inst *models.ProcessInstance, err error) {
	ctx, span := tracer.Start(ctx, "engine.Advance")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(
		attribute.String("instance.id", req.InstanceID),
		attribute.String("step.key", req.TriggerStepKey),
	)

	var fx effects
	err = e.repo.ReadCommitted(ctx, func(ctx context.Context) error {
		cur, def, active, err := e.lockCurrent(ctx, req.InstanceID, req.TriggerStepKey, triggerAdvance)
		if err != nil {
			return err
		}
		if req.ExpectedVersion > 0 && req.ExpectedVersion != cur.Version {
			return fmt.Errorf("%w: instance %s is at version %d", ErrStaleTransition, cur.ID, cur.Version)
		}
		if step, _ := def.Step(active.StepKey); step.Type() == workflow.StepServiceTask {
			if err := e.requireCompletedAutomation(ctx, active); err != nil {
				return err
			}
		}
		inst, err = e.move(ctx, cur, def, active, moveParams{
			closeAs: models.StepStatusCompleted,
			outcome: req.Outcome,
			actorID: req.ActorID,
			data:    req.Data,
		}, &fx)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.deliver(ctx, fx)
	return inst, nil
}

// Skip marks the current step skipped and moves on along its default edge.
// Only optional user tasks and service tasks whose automation failed can be
// skipped.
func (e *Engine) Skip(ctx context.Context, req SkipRequest) (inst *models.ProcessInstance, err error) {
	ctx, span := tracer.Start(ctx, "engine.Skip")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(
		attribute.String("instance.id", req.InstanceID),
		attribute.String("step.key", req.StepKey),
	)

	var fx effects
	err = e.repo.ReadCommitted(ctx, func(ctx context.Context) error {
		cur, def, active, err := e.lockCurrent(ctx, req.InstanceID, req.StepKey, triggerAdvance)
		if err != nil {
			return err
		}
		step, _ := def.Step(active.StepKey)
		switch {
		case workflow.IsOptional(step):
		case step.Type() == workflow.StepServiceTask:
			a, err := e.latestAutomation(ctx, active)
			if err != nil {
				return err
			}
			if a == nil || a.Status != models.AutomationStatusFailed {
				return fmt.Errorf("%w: %s has no failed automation", ErrStepNotSkippable, step.Key())
			}
		default:
			return fmt.Errorf("%w: %s is not optional", ErrStepNotSkippable, step.Key())
		}

		payload := map[string]any{"skipped": true}
		if req.Reason != "" {
			payload["reason"] = req.Reason
		}
		inst, err = e.move(ctx, cur, def, active, moveParams{
			closeAs: models.StepStatusSkipped,
			actorID: req.ActorID,
			payload: payload,
		}, &fx)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("step skipped", "instance_id", req.InstanceID, "step", req.StepKey, "actor", req.ActorID, "reason", req.Reason)
	e.deliver(ctx, fx)
	return inst, nil
}

// Cancel stops a running instance. The current step and any active
// StepInstance are left as they are.
func (e *Engine) Cancel(ctx context.Context, instanceID, reason, actorID string) (inst *models.ProcessInstance, err error) {
	ctx, span := tracer.Start(ctx, "engine.Cancel")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("instance.id", instanceID))

	err = e.repo.ReadCommitted(ctx, func(ctx context.Context) error {
		cur, err := e.lockInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		if err := transition(ctx, cur, triggerCancel); err != nil {
			return err
		}
		now := e.clock()
		cur.EndedAt = &now
		cur.UpdatedAt = now
		if reason != "" {
			r := reason
			cur.CancelReason = &r
		}
		if err := e.update(ctx, cur); err != nil {
			return err
		}
		inst = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.instanceCanceled(ctx, inst.DefinitionKey)
	e.logger.Info("instance canceled",
		"instance_id", inst.ID, "step", inst.CurrentStep(), "actor", actorID, "reason", reason)
	return inst, nil
}

// Assign sets the assignee of the active step.
func (e *Engine) Assign(ctx context.Context, req AssignRequest) (step *models.StepInstance, err error) {
	ctx, span := tracer.Start(ctx, "engine.Assign")
	defer func() { endSpan(span, err) }()

	var fx effects
	err = e.repo.ReadCommitted(ctx, func(ctx context.Context) error {
		cur, def, active, err := e.lockCurrent(ctx, req.InstanceID, req.StepKey, triggerAdvance)
		if err != nil {
			return err
		}
		user := req.UserID
		active.AssignedToUserID = &user
		if err := e.repo.UpdateStep(ctx, active); err != nil {
			return err
		}
		if s, _ := def.Step(active.StepKey); s.Type() == workflow.StepUserTask {
			fx.tasks = append(fx.tasks, taskEvent(cur, active, s))
		}
		step = active
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("step assigned", "instance_id", req.InstanceID, "step", req.StepKey, "user_id", req.UserID, "actor", req.ActorID)
	e.deliver(ctx, fx)
	return step, nil
}

// Instance returns one instance.
func (e *Engine) Instance(ctx context.Context, id string) (*models.ProcessInstance, error) {
	inst, err := e.repo.GetInstance(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
		}
		return nil, err
	}
	return inst, nil
}

// ListInstances returns instances matching filter.
func (e *Engine) ListInstances(ctx context.Context, filter repository.InstanceFilter) ([]*models.ProcessInstance, error) {
	return e.repo.ListInstances(ctx, filter)
}

// State returns the instance with its complete step, automation and
// message history.
func (e *Engine) State(ctx context.Context, id string) (*InstanceState, error) {
	inst, err := e.Instance(ctx, id)
	if err != nil {
		return nil, err
	}
	steps, err := e.repo.ListSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	automations, err := e.repo.ListAutomations(ctx, id)
	if err != nil {
		return nil, err
	}
	messages, err := e.repo.ListMessages(ctx, id)
	if err != nil {
		return nil, err
	}

	st := &InstanceState{Instance: inst, Steps: steps, Automations: automations, Messages: messages}
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Status == models.StepStatusActive {
			st.ActiveStep = steps[i]
			break
		}
	}
	if st.ActiveStep != nil && !inst.IsTerminal() {
		for i := len(automations) - 1; i >= 0; i-- {
			if automations[i].StepInstanceID == st.ActiveStep.ID {
				st.Stalled = automations[i].Status == models.AutomationStatusFailed
				break
			}
		}
	}
	return st, nil
}

// OverdueSteps returns active steps of running instances whose deadline is
// at or before asOf. A zero asOf means now.
func (e *Engine) OverdueSteps(ctx context.Context, asOf time.Time) ([]*models.OverdueStep, error) {
	if asOf.IsZero() {
		asOf = e.clock()
	}
	return e.repo.ListOverdueSteps(ctx, asOf)
}

// ReportOverdue hands the overdue steps at asOf to the notifier.
func (e *Engine) ReportOverdue(ctx context.Context, asOf time.Time) ([]*models.OverdueStep, error) {
	steps, err := e.OverdueSteps(ctx, asOf)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return steps, nil
	}
	if err := e.notifier.StepsOverdue(ctx, steps); err != nil {
		e.logger.Warn("overdue notification failed", "count", len(steps), "error", err)
	}
	return steps, nil
}

// lockInstance locks the instance row for the rest of the transaction.
func (e *Engine) lockInstance(ctx context.Context, id string) (*models.ProcessInstance, error) {
	inst, err := e.repo.LockInstance(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
		}
		return nil, err
	}
	return inst, nil
}

// lockCurrent locks the instance and checks that it can take trigger and
// that stepKey is still its current step.
func (e *Engine) lockCurrent(ctx context.Context, id, stepKey, trigger string) (*models.ProcessInstance, *workflow.Definition, *models.StepInstance, error) {
	inst, err := e.lockInstance(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	if ok, _ := lifecycle(inst.Status).CanFire(trigger); !ok {
		return nil, nil, nil, fmt.Errorf("%w: instance %s is %s", ErrInstanceTerminal, inst.ID, inst.Status)
	}
	if inst.CurrentStep() != stepKey {
		return nil, nil, nil, fmt.Errorf("%w: instance %s is at %q, not %q", ErrStaleTransition, inst.ID, inst.CurrentStep(), stepKey)
	}
	def, err := e.Definition(ctx, inst.DefinitionKey, inst.DefinitionVersion)
	if err != nil {
		return nil, nil, nil, err
	}
	active, err := e.repo.GetActiveStep(ctx, inst.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, nil, fmt.Errorf("%w: instance %s has no active step", ErrStaleTransition, inst.ID)
		}
		return nil, nil, nil, err
	}
	if active.StepKey != stepKey {
		return nil, nil, nil, fmt.Errorf("%w: active step of %s is %q", ErrStaleTransition, inst.ID, active.StepKey)
	}
	return inst, def, active, nil
}

type moveParams struct {
	closeAs models.StepStatus
	outcome string
	actorID string
	data    map[string]any
	payload map[string]any
}

// move closes the active step and enters the next one. It runs inside the
// caller's transaction.
func (e *Engine) move(ctx context.Context, inst *models.ProcessInstance, def *workflow.Definition, active *models.StepInstance, p moveParams, fx *effects) (*models.ProcessInstance, error) {
	data := models.CloneData(inst.Data)
	if data == nil && len(p.data) > 0 {
		data = make(map[string]any, len(p.data))
	}
	maps.Copy(data, p.data)

	tr, err := workflow.Evaluate(def, active.StepKey, p.outcome, data)
	if err != nil {
		return nil, err
	}
	next, ok := def.Step(tr.To)
	if !ok {
		return nil, fmt.Errorf("%w: %s", workflow.ErrUnknownStep, tr.To)
	}

	now := e.clock()
	active.Status = p.closeAs
	active.CompletedAt = &now
	if p.actorID != "" {
		actor := p.actorID
		active.CompletedBy = &actor
	}
	if p.outcome != "" {
		outcome := p.outcome
		active.Outcome = &outcome
	}
	if err := e.repo.UpdateStep(ctx, active); err != nil {
		return nil, err
	}

	inst.Data = data
	inst.UpdatedAt = now
	if next.Type() == workflow.StepEndEvent {
		if err := transition(ctx, inst, triggerComplete); err != nil {
			return nil, err
		}
		inst.CurrentStepKey = nil
		inst.EndedAt = &now
	} else {
		if err := transition(ctx, inst, triggerAdvance); err != nil {
			return nil, err
		}
		visits, err := e.repo.CountVisits(ctx, inst.ID, next.Key())
		if err != nil {
			return nil, err
		}
		if e.maxVisits > 0 && visits >= e.maxVisits {
			return nil, fmt.Errorf("%w: %s entered %d times", ErrRevisitLimit, next.Key(), visits)
		}
		key := next.Key()
		inst.CurrentStepKey = &key
		if _, err := e.enter(ctx, inst, next, visits+1, now, fx); err != nil {
			return nil, err
		}
	}

	if active.Lane != next.Lane() {
		payload := models.CloneData(p.payload)
		if payload == nil {
			payload = map[string]any{}
		}
		if p.outcome != "" {
			payload["outcome"] = p.outcome
		}
		if p.actorID != "" {
			payload["actor"] = p.actorID
		}
		if err := e.repo.AppendMessage(ctx, &models.Message{
			ID:          uuid.NewString(),
			InstanceID:  inst.ID,
			FromStepKey: active.StepKey,
			ToStepKey:   next.Key(),
			FromLane:    active.Lane,
			ToLane:      next.Lane(),
			Payload:     payload,
			Status:      models.MessageStatusSent,
			SentAt:      now,
		}); err != nil {
			return nil, err
		}
	}

	if err := e.update(ctx, inst); err != nil {
		return nil, err
	}

	e.metrics.transitioned(ctx, def.Key, active.StepKey, next.Key())
	e.logger.Debug("instance advanced",
		"instance_id", inst.ID, "from", active.StepKey, "to", next.Key(), "outcome", p.outcome, "status", inst.Status)
	return inst, nil
}

// enter creates the active StepInstance for step and, for service tasks,
// its automation.
func (e *Engine) enter(ctx context.Context, inst *models.ProcessInstance, step workflow.Step, visit int, now time.Time, fx *effects) (*models.StepInstance, error) {
	si := &models.StepInstance{
		ID:         uuid.NewString(),
		InstanceID: inst.ID,
		StepKey:    step.Key(),
		StepType:   string(step.Type()),
		Lane:       step.Lane(),
		Status:     models.StepStatusActive,
		Visit:      visit,
		StartedAt:  now,
	}
	if sla := step.SLA(); sla > 0 {
		due := now.Add(sla)
		si.DueAt = &due
	}
	if err := e.repo.CreateStep(ctx, si); err != nil {
		return nil, err
	}

	switch s := step.(type) {
	case workflow.UserTask:
		fx.tasks = append(fx.tasks, taskEvent(inst, si, s))
	case workflow.ServiceTask:
		a := &models.Automation{
			ID:             uuid.NewString(),
			InstanceID:     inst.ID,
			StepInstanceID: si.ID,
			StepKey:        s.Key(),
			Action:         s.Action,
			DedupKey:       DedupKey(inst.ID, s.Key(), s.Action, visit),
			Status:         models.AutomationStatusPending,
			MaxRetries:     e.maxRetries(s.Action),
			Params:         models.CloneData(inst.Data),
			NextAttemptAt:  &now,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := e.repo.CreateAutomation(ctx, a); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				e.logger.Warn("automation already enqueued", "instance_id", inst.ID, "step", s.Key(), "dedup_key", a.DedupKey)
				return si, nil
			}
			return nil, err
		}
		fx.automations = append(fx.automations, a)
	}
	return si, nil
}

func (e *Engine) update(ctx context.Context, inst *models.ProcessInstance) error {
	if err := e.repo.UpdateInstance(ctx, inst); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return fmt.Errorf("%w: instance %s changed concurrently", ErrStaleTransition, inst.ID)
		}
		return err
	}
	return nil
}

// latestAutomation returns the newest automation of a step visit, or nil.
func (e *Engine) latestAutomation(ctx context.Context, step *models.StepInstance) (*models.Automation, error) {
	all, err := e.repo.ListAutomations(ctx, step.InstanceID)
	if err != nil {
		return nil, err
	}
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].StepInstanceID == step.ID {
			return all[i], nil
		}
	}
	return nil, nil
}

func (e *Engine) requireCompletedAutomation(ctx context.Context, step *models.StepInstance) error {
	a, err := e.latestAutomation(ctx, step)
	if err != nil {
		return err
	}
	switch {
	case a == nil:
		return nil
	case a.Status == models.AutomationStatusCompleted:
		return nil
	case a.Status == models.AutomationStatusFailed:
		return fmt.Errorf("%w: %s of step %s: %s", ErrAutomationFailed, a.Action, step.StepKey, valueOr(a.ErrorMessage, "no error recorded"))
	default:
		return fmt.Errorf("%w: %s of step %s is %s", ErrAutomationPending, a.Action, step.StepKey, a.Status)
	}
}

// deliver runs the post-commit hooks. Hook failures are logged; the
// committed state stands.
func (e *Engine) deliver(ctx context.Context, fx effects) {
	for _, ev := range fx.tasks {
		if err := e.projector.TaskActivated(ctx, ev); err != nil {
			e.logger.Warn("task projection failed",
				"instance_id", ev.Instance.ID, "step", ev.Step.StepKey, "error", err)
		}
	}
	if e.dispatcher == nil {
		return
	}
	for _, a := range fx.automations {
		e.dispatcher.Dispatch(ctx, a)
	}
}

func taskEvent(inst *models.ProcessInstance, si *models.StepInstance, step workflow.Step) TaskEvent {
	ev := TaskEvent{Instance: inst.Clone(), Step: si.Clone(), Title: step.Title()}
	if ut, ok := step.(workflow.UserTask); ok {
		ev.RequiredApprovals = ut.RequiredApprovals
		ev.Optional = ut.Optional
	}
	return ev
}

func valueOr(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}
