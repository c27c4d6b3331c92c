// Package automation runs the side effects of service tasks with retries and
// idempotency, and moves instances past a service task once its action
// succeeded.
package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"megicode/backend/internal/engine"
	"megicode/backend/internal/repository"
	"megicode/backend/internal/workflow"
	"megicode/backend/pkg/models"
)

const instrumentationName = "megicode/backend/internal/automation"

var tracer = otel.Tracer(instrumentationName)

// DefaultLease is how long a running automation may go without a recorded
// outcome before a sweep takes it over.
const DefaultLease = 5 * time.Minute

// ExecuteRequest asks for the automation of a service task step. An empty
// Action means the action the step declares. Params, if set, replace the parameters captured when the step was entered; Timeout,
// if set, replaces the action timeout.
type ExecuteRequest struct {
	InstanceID string
	StepKey    string
	Action     string
	Params     map[string]any
	Timeout    time.Duration
}

// Result reports what happened to one automation.
type Result struct {
	Automation *models.Automation `json:"automation"`
	// Executed is false when the automation was already completed or running
	// and nothing ran.
	Executed bool `json:"executed"`
	// Advanced is set when the instance moved past the service task.
	Advanced bool `json:"advanced"`
	// AttemptError is the failure of this attempt, if any.
	AttemptError string `json:"attempt_error,omitempty"`
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Due       int `json:"due"`
	Completed int `json:"completed"`
	Retrying  int `json:"retrying"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Executor runs automations and feeds their outcome back into the engine.
type Executor struct {
	repo     repository.Repository
	engine   *engine.Engine
	registry *Registry
	logger   engine.Logger
	notifier engine.Notifier
	clock    engine.Clock

	inline           bool
	lease            time.Duration
	sweepBatch       int
	sweepConcurrency int

	attempts metric.Int64Counter
	failures metric.Int64Counter

	wg sync.WaitGroup
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the logger.
func WithLogger(l engine.Logger) ExecutorOption { return func(x *Executor) { x.logger = l } }

// WithClock replaces the engine clock.
func WithClock(c engine.Clock) ExecutorOption { return func(x *Executor) { x.clock = c } }

// WithNotifier sets who hears about exhausted automations. It defaults to
// the engine notifier.
func WithNotifier(n engine.Notifier) ExecutorOption { return func(x *Executor) { x.notifier = n } }

// WithInline makes Dispatch run automations on the caller's goroutine.
func WithInline(inline bool) ExecutorOption { return func(x *Executor) { x.inline = inline } }

// WithLease sets how long a running automation is left alone by sweeps.
func WithLease(d time.Duration) ExecutorOption {
	return func(x *Executor) {
		if d > 0 {
			x.lease = d
		}
	}
}

// WithSweep sets how many due automations one sweep picks up and how many
// run at once.
func WithSweep(batch, concurrency int) ExecutorOption {
	return func(x *Executor) {
		if batch > 0 {
			x.sweepBatch = batch
		}
		if concurrency > 0 {
			x.sweepConcurrency = concurrency
		}
	}
}

// NewExecutor creates an Executor and attaches it to eng as its dispatcher.
func NewExecutor(repo repository.Repository, eng *engine.Engine, registry *Registry, opts ...ExecutorOption) *Executor {
	x := &Executor{
		repo:             repo,
		engine:           eng,
		registry:         registry,
		logger:           nopLogger{},
		notifier:         eng.Notifier(),
		clock:            eng.Now,
		lease:            DefaultLease,
		sweepBatch:       100,
		sweepConcurrency: 4,
	}
	for _, opt := range opts {
		opt(x)
	}

	meter := otel.Meter(instrumentationName)
	x.attempts, _ = meter.Int64Counter("automation_attempts",
		metric.WithDescription("Automation attempts executed"))
	x.failures, _ = meter.Int64Counter("automation_failures",
		metric.WithDescription("Automation attempts that failed"))

	eng.SetDispatcher(x)
	return x
}

// Dispatch runs a freshly enqueued automation. Unless the executor is
// inline it runs in the background, detached from ctx cancellation; Wait
// blocks until background runs finish.
func (x *Executor) Dispatch(ctx context.Context, a *models.Automation) {
	if x.inline {
		x.dispatch(ctx, a.ID)
		return
	}
	x.wg.Add(1)
	go func() {
		defer x.wg.Done()
		x.dispatch(context.WithoutCancel(ctx), a.ID)
	}()
}

func (x *Executor) dispatch(ctx context.Context, id string) {
	if _, err := x.run(ctx, id, false, 0, nil); err != nil && !errors.Is(err, engine.ErrAutomationFailed) {
		x.logger.Error("automation dispatch failed", "automation_id", id, "error", err)
	}
}

// Wait blocks until all background dispatches have finished.
func (x *Executor) Wait() { x.wg.Wait() }

// Execute runs the automation of the current step of an instance, creating
// the automation record if the step has none. The step must be a service
// task and Action, when set, must be the one it declares. An automation that
// already completed or is running is returned without running it again. A
// failed one is returned with ErrAutomationFailed; only Retry revives it.
func (x *Executor) Execute(ctx context.Context, req ExecuteRequest) (*Result, error) {
	var (
		id     string
		failed *models.Automation
	)
	err := x.repo.ReadCommitted(ctx, func(ctx context.Context) error {
		inst, err := x.repo.LockInstance(ctx, req.InstanceID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: %s", engine.ErrInstanceNotFound, req.InstanceID)
			}
			return err
		}
		if inst.IsTerminal() {
			return fmt.Errorf("%w: instance %s is %s", engine.ErrInstanceTerminal, inst.ID, inst.Status)
		}
		step, err := x.repo.GetActiveStep(ctx, inst.ID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if step == nil || step.StepKey != req.StepKey {
			return fmt.Errorf("%w: %s is not the active step of %s", engine.ErrStaleTransition, req.StepKey, inst.ID)
		}
		def, err := x.engine.Definition(ctx, inst.DefinitionKey, inst.DefinitionVersion)
		if err != nil {
			return err
		}
		sd, _ := def.Step(req.StepKey)
		declared, ok := workflow.ActionOf(sd)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotServiceTask, req.StepKey)
		}
		action := req.Action
		switch {
		case action == "":
			action = declared
		case action != declared:
			return fmt.Errorf("%w: %s runs %s, not %s", ErrActionMismatch, req.StepKey, declared, action)
		}

		key := engine.DedupKey(inst.ID, req.StepKey, action, step.Visit)
		existing, err := x.repo.GetAutomationByDedupKey(ctx, key)
		switch {
		case err == nil:
			id = existing.ID
			if existing.Status == models.AutomationStatusFailed {
				failed = existing
			}
			return nil
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}

		now := x.clock()
		params := req.Params
		if params == nil {
			params = inst.Data
		}
		a := &models.Automation{
			ID:             uuid.NewString(),
			InstanceID:     inst.ID,
			StepInstanceID: step.ID,
			StepKey:        req.StepKey,
			Action:         action,
			DedupKey:       key,
			Status:         models.AutomationStatusPending,
			MaxRetries:     x.registry.MaxRetries(action),
			Params:         models.CloneData(params),
			NextAttemptAt:  &now,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := x.repo.CreateAutomation(ctx, a); err != nil {
			return err
		}
		id = a.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	if failed != nil {
		return &Result{Automation: failed}, fmt.Errorf("%w: automation %s exhausted its retries, retry it explicitly", engine.ErrAutomationFailed, failed.ID)
	}
	return x.run(ctx, id, false, req.Timeout, req.Params)
}

// Retry runs an automation now. Unlike the automatic path it also runs
// automations that already exhausted their retries; the retry count stays
// at its ceiling.
func (x *Executor) Retry(ctx context.Context, automationID string) (*Result, error) {
	return x.run(ctx, automationID, true, 0, nil)
}

// Automation returns one automation record.
func (x *Executor) Automation(ctx context.Context, id string) (*models.Automation, error) {
	a, err := x.repo.GetAutomation(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAutomationNotFound, id)
		}
		return nil, err
	}
	return a, nil
}

// Sweep runs the automations that are due at asOf: pending ones whose next
// attempt has come and running ones whose lease ran out.
func (x *Executor) Sweep(ctx context.Context, asOf time.Time) (SweepReport, error) {
	ctx, span := tracer.Start(ctx, "automation.Sweep")
	defer span.End()

	if asOf.IsZero() {
		asOf = x.clock()
	}
	due, err := x.repo.ListDueAutomations(ctx, asOf, asOf.Add(-x.lease), x.sweepBatch)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return SweepReport{}, err
	}

	var (
		mu     sync.Mutex
		report = SweepReport{Due: len(due)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.sweepConcurrency)
	for _, a := range due {
		g.Go(func() error {
			res, err := x.run(gctx, a.ID, false, 0, nil)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, engine.ErrAutomationFailed):
				report.Failed++
			case err != nil:
				x.logger.Error("sweep attempt failed", "automation_id", a.ID, "error", err)
				report.Skipped++
			case !res.Executed:
				report.Skipped++
			case res.Automation.Status == models.AutomationStatusCompleted:
				report.Completed++
			default:
				report.Retrying++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	span.SetAttributes(
		attribute.Int("sweep.due", report.Due),
		attribute.Int("sweep.completed", report.Completed),
		attribute.Int("sweep.failed", report.Failed),
	)
	x.logger.Info("automation sweep finished",
		"due", report.Due, "completed", report.Completed, "retrying", report.Retrying,
		"failed", report.Failed, "skipped", report.Skipped)
	return report, nil
}

// run claims the automation, executes its action outside any transaction,
// records the outcome and, on success, advances the instance.
func (x *Executor) run(ctx context.Context, id string, manual bool, timeout time.Duration, params map[string]any) (res *Result, err error) {
	ctx, span := tracer.Start(ctx, "automation.run")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(attribute.String("automation.id", id), attribute.Bool("automation.manual", manual))

	a, claimed, err := x.claim(ctx, id, manual)
	if err != nil {
		return nil, err
	}
	res = &Result{Automation: a}
	if !claimed {
		return res, nil
	}
	res.Executed = true

	action, policy, actionTimeout, lookupErr := x.registry.Lookup(a.Action)
	if timeout <= 0 {
		timeout = actionTimeout
	}
	if params == nil {
		params = a.Params
	}
	span.SetAttributes(attribute.String("automation.action", a.Action))

	var (
		output  map[string]any
		callErr = lookupErr
	)
	if callErr == nil {
		x.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("action", a.Action)))
		output, callErr = invoke(ctx, action, Invocation{
			AutomationID: a.ID,
			InstanceID:   a.InstanceID,
			StepKey:      a.StepKey,
			Action:       a.Action,
			DedupKey:     a.DedupKey,
			Attempt:      a.RetryCount + 1,
			Params:       models.CloneData(params),
		}, timeout)
	}

	a, err = x.record(ctx, a.ID, output, callErr, policy)
	if err != nil {
		return nil, err
	}
	res.Automation = a

	if callErr != nil {
		x.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("action", a.Action)))
		res.AttemptError = callErr.Error()
		if a.Status != models.AutomationStatusFailed {
			x.logger.Warn("automation attempt failed, retry scheduled",
				"automation_id", a.ID, "action", a.Action, "retry_count", a.RetryCount,
				"next_attempt_at", a.NextAttemptAt, "error", callErr)
			return res, nil
		}
		x.logger.Error("automation failed",
			"automation_id", a.ID, "instance_id", a.InstanceID, "action", a.Action,
			"retry_count", a.RetryCount, "error", callErr)
		if err := x.notifier.AutomationFailed(ctx, a); err != nil {
			x.logger.Warn("automation failure notification failed", "automation_id", a.ID, "error", err)
		}
		return res, fmt.Errorf("%w: %s: %w", engine.ErrAutomationFailed, a.Action, callErr)
	}

	outcome, _ := output["outcome"].(string)
	_, err = x.engine.Advance(ctx, engine.AdvanceRequest{
		InstanceID:     a.InstanceID,
		TriggerStepKey: a.StepKey,
		Outcome:        outcome,
		ActorID:        "automation:" + a.Action,
		Data:           output,
	})
	switch {
	case err == nil:
		res.Advanced = true
	case errors.Is(err, engine.ErrInstanceTerminal), errors.Is(err, engine.ErrStaleTransition):
		x.logger.Info("automation result kept without advancing",
			"automation_id", a.ID, "instance_id", a.InstanceID, "reason", err)
	default:
		return res, fmt.Errorf("advancing after %s: %w", a.Action, err)
	}
	return res, nil
}

// claim moves the automation to running. It reports false, without error,
// when the automation must not run now.
func (x *Executor) claim(ctx context.Context, id string, manual bool) (*models.Automation, bool, error) {
	var (
		out     *models.Automation
		claimed bool
	)
	err := x.repo.ReadCommitted(ctx, func(ctx context.Context) error {
		a, err := x.repo.LockAutomation(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrAutomationNotFound, id)
			}
			return err
		}
		out = a

		inst, err := x.repo.GetInstance(ctx, a.InstanceID)
		if err != nil {
			return err
		}
		if inst.IsTerminal() {
			x.logger.Debug("automation not run, instance is terminal", "automation_id", a.ID, "status", inst.Status)
			return nil
		}
		step, err := x.repo.GetActiveStep(ctx, inst.ID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if step == nil || step.ID != a.StepInstanceID {
			if manual {
				return fmt.Errorf("%w: step %s of automation %s is no longer active", engine.ErrStaleTransition, a.StepKey, a.ID)
			}
			x.logger.Debug("automation not run, its step is no longer active", "automation_id", a.ID, "step", a.StepKey)
			return nil
		}

		now := x.clock()
		var trigger string
		switch a.Status {
		case models.AutomationStatusPending:
			if !manual && a.NextAttemptAt != nil && a.NextAttemptAt.After(now) {
				return nil
			}
			trigger = triggerClaim
		case models.AutomationStatusRunning:
			if a.StartedAt != nil && a.StartedAt.After(now.Add(-x.lease)) {
				return nil
			}
			trigger = triggerReclaim
		case models.AutomationStatusFailed:
			if !manual {
				return nil
			}
			trigger = triggerRevive
		default:
			return nil
		}
		if !canFire(a, trigger) {
			return nil
		}
		if err := fire(ctx, a, trigger); err != nil {
			return err
		}
		a.StartedAt = &now
		a.CompletedAt = nil
		a.UpdatedAt = now
		if err := x.repo.UpdateAutomation(ctx, a); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, claimed, nil
}

// record stores the outcome of an attempt.
func (x *Executor) record(ctx context.Context, id string, output map[string]any, callErr error, policy RetryPolicy) (*models.Automation, error) {
	var out *models.Automation
	err := x.repo.ReadCommitted(ctx, func(ctx context.Context) error {
		a, err := x.repo.LockAutomation(ctx, id)
		if err != nil {
			return err
		}
		now := x.clock()
		a.UpdatedAt = now

		if callErr == nil {
			if err := fire(ctx, a, triggerSucceed); err != nil {
				return err
			}
			a.ResultData = models.CloneData(output)
			a.ErrorMessage = nil
			a.NextAttemptAt = nil
			a.CompletedAt = &now
		} else {
			msg := callErr.Error()
			a.ErrorMessage = &msg
			a.RetryCount = min(a.RetryCount+1, a.MaxRetries)
			if permanent(callErr) || a.RetryCount >= a.MaxRetries {
				if err := fire(ctx, a, triggerFail); err != nil {
					return err
				}
				a.NextAttemptAt = nil
				a.CompletedAt = &now
			} else {
				if err := fire(ctx, a, triggerRetry); err != nil {
					return err
				}
				next := now.Add(policy.Delay(a.RetryCount))
				a.NextAttemptAt = &next
			}
		}
		if err := x.repo.UpdateAutomation(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

// invoke runs one attempt, giving up when timeout passes even if the action
// ignores its context.
func invoke(ctx context.Context, action Action, inv Invocation, timeout time.Duration) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		output map[string]any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("action %s panicked: %v", inv.Action, r)}
			}
		}()
		output, err := action.Execute(ctx, inv)
		done <- outcome{output, err}
	}()

	select {
	case o := <-done:
		return o.output, o.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
}

func permanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm) || errors.Is(err, ErrUnknownAction)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
