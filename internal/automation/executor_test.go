package automation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"megicode/backend/internal/engine"
	"megicode/backend/internal/repository"
	"megicode/backend/pkg/models"
)

const provisionJSON = `{
	"key": "provision",
	"name": "Provision",
	"lanes": [{"key": "pm", "name": "Project Management"}, {"key": "auto", "name": "Automation"}],
	"steps": [
		{"key": "start", "lane": "pm", "type": "start_event", "title": "Start"},
		{"key": "create_project", "lane": "auto", "type": "service_task", "title": "Create project", "automationAction": "create_project"},
		{"key": "kickoff", "lane": "pm", "type": "user_task", "title": "Kickoff"},
		{"key": "end", "lane": "pm", "type": "end_event", "title": "End"}
	],
	"transitions": [
		{"from": "start", "to": "create_project"},
		{"from": "create_project", "to": "kickoff"},
		{"from": "kickoff", "to": "end"}
	]
}`

const billingJSON = `{
	"key": "billing",
	"name": "Billing",
	"lanes": [{"key": "auto", "name": "Automation"}, {"key": "finance", "name": "Finance"}],
	"steps": [
		{"key": "start", "lane": "finance", "type": "start_event", "title": "Start"},
		{"key": "sync_invoice", "lane": "auto", "type": "service_task", "title": "Sync invoice", "automationAction": "sync_invoicing"},
		{"key": "chase_payment", "lane": "finance", "type": "user_task", "title": "Chase payment"},
		{"key": "paid", "lane": "finance", "type": "end_event", "title": "Paid"}
	],
	"transitions": [
		{"from": "start", "to": "sync_invoice"},
		{"from": "sync_invoice", "to": "paid", "condition": "paid"},
		{"from": "sync_invoice", "to": "chase_payment"},
		{"from": "chase_payment", "to": "paid"}
	]
}`

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type mockNotifier struct{ mock.Mock }

func (m *mockNotifier) StepsOverdue(ctx context.Context, steps []*models.OverdueStep) error {
	return m.Called(len(steps)).Error(0)
}

func (m *mockNotifier) AutomationFailed(ctx context.Context, a *models.Automation) error {
	return m.Called(a.Action, a.RetryCount).Error(0)
}

type harness struct {
	repo     *repository.MemoryRepository
	engine   *engine.Engine
	executor *Executor
	registry *Registry
	clock    *fakeClock
}

func newHarness(t *testing.T, inline bool, opts ...engine.Option) *harness {
	t.Helper()
	h := &harness{
		repo:     repository.NewMemoryRepository(),
		registry: NewRegistry(DefaultRetryPolicy(), time.Second),
		clock:    &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
	}
	opts = append([]engine.Option{
		engine.WithClock(h.clock.Now),
		engine.WithMaxRetries(h.registry.MaxRetries),
	}, opts...)
	eng, err := engine.New(h.repo, opts...)
	require.NoError(t, err)
	h.engine = eng
	h.executor = NewExecutor(h.repo, eng, h.registry, WithInline(inline))
	if !inline {
		eng.SetDispatcher(nil)
	}
	for _, raw := range []string{provisionJSON, billingJSON} {
		_, err := eng.PublishDefinition(context.Background(), []byte(raw), true, "tester")
		require.NoError(t, err)
	}
	return h
}

// enterServiceTask starts an instance of key and moves it onto its service
// task.
func (h *harness) enterServiceTask(t *testing.T, key string) *models.ProcessInstance {
	t.Helper()
	ctx := context.Background()
	inst, err := h.engine.Start(ctx, engine.StartRequest{DefinitionKey: key, ProjectID: "p-" + key})
	require.NoError(t, err)
	_, err = h.engine.Advance(ctx, engine.AdvanceRequest{InstanceID: inst.ID, TriggerStepKey: "start"})
	require.NoError(t, err)
	return inst
}

func (h *harness) automation(t *testing.T, instanceID string) *models.Automation {
	t.Helper()
	all, err := h.repo.ListAutomations(context.Background(), instanceID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	return all[0]
}

func TestExecutor_SuccessAdvancesInstance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	var calls atomic.Int32
	h.registry.Register("create_project", ActionFunc(func(ctx context.Context, inv Invocation) (map[string]any, error) {
		calls.Add(1)
		assert.Equal(t, 1, inv.Attempt)
		return map[string]any{"project_ref": "PRJ-" + inv.InstanceID[:4]}, nil
	}))

	inst := h.enterServiceTask(t, "provision")

	st, err := h.engine.State(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "kickoff", st.Instance.CurrentStep())
	assert.Equal(t, "PRJ-"+inst.ID[:4], st.Instance.Data["project_ref"])
	require.Len(t, st.Automations, 1)
	a := st.Automations[0]
	assert.Equal(t, models.AutomationStatusCompleted, a.Status)
	assert.Equal(t, "PRJ-"+inst.ID[:4], a.ResultData["project_ref"])
	assert.Zero(t, a.RetryCount)
	assert.EqualValues(t, 1, calls.Load())

	res, err := h.executor.Retry(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, res.Executed, "completed automations never run again")
	assert.EqualValues(t, 1, calls.Load())
}

func TestExecutor_RetryCeilingStallsInstance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	notifier := &mockNotifier{}
	notifier.On("AutomationFailed", "create_project", 3).Return(nil).Twice()
	h.executor.notifier = notifier

	var calls atomic.Int32
	h.registry.Register("create_project", ActionFunc(func(ctx context.Context, inv Invocation) (map[string]any, error) {
		calls.Add(1)
		return nil, errors.New("crm unavailable")
	}))

	inst := h.enterServiceTask(t, "provision")
	a := h.automation(t, inst.ID)
	assert.Equal(t, models.AutomationStatusPending, a.Status)
	assert.Equal(t, 1, a.RetryCount)
	require.NotNil(t, a.NextAttemptAt)
	assert.Equal(t, h.clock.Now().Add(time.Second), *a.NextAttemptAt)

	report, err := h.executor.Sweep(ctx, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, report.Due, "backoff has not elapsed")

	h.clock.Advance(time.Minute)
	report, err = h.executor.Sweep(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Due: 1, Retrying: 1}, report)
	a = h.automation(t, inst.ID)
	assert.Equal(t, 2, a.RetryCount)
	assert.Equal(t, h.clock.Now().Add(2*time.Second), *a.NextAttemptAt)

	h.clock.Advance(time.Minute)
	report, err = h.executor.Sweep(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Due: 1, Failed: 1}, report)

	a = h.automation(t, inst.ID)
	assert.Equal(t, models.AutomationStatusFailed, a.Status)
	assert.Equal(t, 3, a.RetryCount)
	require.NotNil(t, a.ErrorMessage)
	assert.Equal(t, "crm unavailable", *a.ErrorMessage)
	assert.EqualValues(t, 3, calls.Load())

	st, err := h.engine.State(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "create_project", st.Instance.CurrentStep())
	assert.True(t, st.Stalled)

	h.clock.Advance(time.Hour)
	report, err = h.executor.Sweep(ctx, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, report.Due, "failed automations wait for a manual retry")

	res, err := h.executor.Retry(ctx, a.ID)
	require.ErrorIs(t, err, engine.ErrAutomationFailed)
	assert.True(t, res.Executed)
	assert.EqualValues(t, 4, calls.Load())
	assert.Equal(t, 3, res.Automation.RetryCount)
	notifier.AssertExpectations(t)
}

func TestExecutor_ManualRetryRecovers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	var fail atomic.Bool
	fail.Store(true)
	h.registry.Register("create_project", ActionFunc(func(ctx context.Context, inv Invocation) (map[string]any, error) {
		if fail.Load() {
			return nil, Permanent(errors.New("missing client record"))
		}
		return map[string]any{}, nil
	}))

	inst := h.enterServiceTask(t, "provision")
	a := h.automation(t, inst.ID)
	assert.Equal(t, models.AutomationStatusFailed, a.Status, "permanent errors are not retried")
	assert.Equal(t, 1, a.RetryCount)

	fail.Store(false)
	res, err := h.executor.Retry(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, res.Advanced)
	assert.Equal(t, models.AutomationStatusCompleted, res.Automation.Status)
	assert.Nil(t, res.Automation.ErrorMessage)

	got, err := h.engine.Instance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "kickoff", got.CurrentStep())
}

func TestExecutor_RunningAutomationIsNotRunTwice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	started, release := make(chan struct{}), make(chan struct{})
	var calls atomic.Int32
	h.registry.Register("create_project", ActionFunc(func(ctx context.Context, inv Invocation) (map[string]any, error) {
		calls.Add(1)
		close(started)
		<-release
		return map[string]any{}, nil
	}))

	inst := h.enterServiceTask(t, "provision")
	a := h.automation(t, inst.ID)

	done := make(chan *Result, 1)
	go func() {
		res, err := h.executor.Execute(ctx, ExecuteRequest{InstanceID: inst.ID, StepKey: "create_project", Action: "create_project"})
		assert.NoError(t, err)
		done <- res
	}()
	<-started

	res, err := h.executor.Retry(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, res.Executed)
	assert.Equal(t, models.AutomationStatusRunning, res.Automation.Status)

	close(release)
	first := <-done
	assert.True(t, first.Executed)
	assert.True(t, first.Advanced)
	assert.EqualValues(t, 1, calls.Load())
}

func TestExecutor_ExecuteUsesStoredRecord(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	h.registry.Register("create_project", ActionFunc(func(ctx context.Context, inv Invocation) (map[string]any, error) {
		return map[string]any{"seen": inv.Params["tier"]}, nil
	}))

	inst, err := h.engine.Start(ctx, engine.StartRequest{DefinitionKey: "provision", ProjectID: "p-1", Data: map[string]any{"tier": "gold"}})
	require.NoError(t, err)
	_, err = h.engine.Advance(ctx, engine.AdvanceRequest{InstanceID: inst.ID, TriggerStepKey: "start"})
	require.NoError(t, err)
	enqueued := h.automation(t, inst.ID)

	res, err := h.executor.Execute(ctx, ExecuteRequest{InstanceID: inst.ID, StepKey: "create_project", Action: "create_project"})
	require.NoError(t, err)
	assert.Equal(t, enqueued.ID, res.Automation.ID, "dedup key resolves to the enqueued automation")
	assert.Equal(t, "gold", res.Automation.ResultData["seen"])

	_, err = h.executor.Execute(ctx, ExecuteRequest{InstanceID: inst.ID, StepKey: "create_project", Action: "create_project"})
	assert.ErrorIs(t, err, engine.ErrStaleTransition)
}

func TestExecutor_ExecuteChecksStepAndAction(t *testing.T) {
	ctx := context.Background()

	t.Run("not a service task", func(t *testing.T) {
		h := newHarness(t, true)
		h.registry.Register("create_project", ActionFunc(func(ctx context.Context, inv Invocation) (map[string]any, error) {
			return map[string]any{}, nil
		}))
		inst := h.enterServiceTask(t, "provision")

		_, err := h.executor.Execute(ctx, ExecuteRequest{InstanceID: inst.ID, StepKey: "kickoff", Action: "create_project"})
		require.ErrorIs(t, err, ErrNotServiceTask)

		got, err := h.engine.Instance(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, "kickoff", got.CurrentStep())
		h.automation(t, inst.ID)
	})

	t.Run("action differs from the step", func(t *testing.T) {
		h := newHarness(t, false)
		var calls atomic.Int32
		h.registry.Register("sync_invoicing", ActionFunc(func(ctx context.Context, inv Invocation) (map[string]any, error) {
			calls.Add(1)
			return map[string]any{}, nil
		}))
		inst := h.enterServiceTask(t, "provision")

		_, err := h.executor.Execute(ctx, ExecuteRequest{InstanceID: inst.ID, StepKey: "create_project", Action: "sync_invoicing"})
		require.ErrorIs(t, err, ErrActionMismatch)
		assert.Zero(t, calls.Load())
		assert.Equal(t, models.AutomationStatusPending, h.automation(t, inst.ID).Status)
	})

	t.Run("empty action uses the declared one", func(t *testing.T) {
		h := newHarness(t, false)
		h.registry.Register("create_project", ActionFunc(func(ctx context.Context, inv Invocation) (map[string]any, error) {
			return map[string]any{}, nil
		}))
		inst := h.enterServiceTask(t, "provision")
		enqueued := h.automation(t, inst.ID)

		res, err := h.executor.Execute(ctx, ExecuteRequest{InstanceID: inst.ID, StepKey: "create_project"})
		require.NoError(t, err)
		assert.Equal(t, enqueued.ID, res.Automation.ID)
		assert.Equal(t, "create_project", res.Automation.Action)
		assert.True(t, res.Advanced)
	})
}

func TestExecutor_ExecuteReportsFailedAutomation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	var calls atomic.Int32
	h.registry.Register("create_project", ActionFunc(func(ctx context.Context, inv Invocation) (map[string]any, error) {
		calls.Add(1)
		return nil, Permanent(errors.New("missing client record"))
	}))
	inst := h.enterServiceTask(t, "provision")
	a := h.automation(t, inst.ID)
	require.Equal(t, models.AutomationStatusFailed, a.Status)

	res, err := h.executor.Execute(ctx, ExecuteRequest{InstanceID: inst.ID, StepKey: "create_project", Action: "create_project"})
	require.ErrorIs(t, err, engine.ErrAutomationFailed)
	require.NotNil(t, res)
	assert.False(t, res.Executed)
	assert.Equal(t, a.ID, res.Automation.ID)
	assert.EqualValues(t, 1, calls.Load(), "only Retry revives a failed automation")
}

func TestExecutor_RetryAfterSkipDoesNotExecute(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	var calls atomic.Int32
	h.registry.Register("create_project", ActionFunc(func(ctx context.Context, inv Invocation) (map[string]any, error) {
		calls.Add(1)
		return nil, Permanent(errors.New("missing client record"))
	}))
	inst := h.enterServiceTask(t, "provision")
	a := h.automation(t, inst.ID)
	require.Equal(t, models.AutomationStatusFailed, a.Status)

	_, err := h.engine.Skip(ctx, engine.SkipRequest{InstanceID: inst.ID, StepKey: "create_project", ActorID: "u-1", Reason: "created by hand"})
	require.NoError(t, err)

	_, err = h.executor.Retry(ctx, a.ID)
	require.ErrorIs(t, err, engine.ErrStaleTransition)
	assert.EqualValues(t, 1, calls.Load())

	got := h.automation(t, inst.ID)
	assert.Equal(t, models.AutomationStatusFailed, got.Status)
	st, err := h.engine.Instance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "kickoff", st.CurrentStep())
}

func TestExecutor_LateResultDoesNotAdvanceCanceledInstance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	started, release := make(chan struct{}), make(chan struct{})
	h.registry.Register("create_project", ActionFunc(func(ctx context.Context, inv Invocation) (map[string]any, error) {
		close(started)
		<-release
		return map[string]any{"project_ref": "PRJ-9"}, nil
	}))

	inst := h.enterServiceTask(t, "provision")
	a := h.automation(t, inst.ID)

	done := make(chan *Result, 1)
	go func() {
		res, err := h.executor.Retry(ctx, a.ID)
		assert.NoError(t, err)
		done <- res
	}()
	<-started
	_, err := h.engine.Cancel(ctx, inst.ID, "client withdrew", "u-1")
	require.NoError(t, err)
	close(release)

	res := <-done
	assert.False(t, res.Advanced)
	assert.Equal(t, models.AutomationStatusCompleted, res.Automation.Status)
	assert.Equal(t, "PRJ-9", res.Automation.ResultData["project_ref"])

	got, err := h.engine.Instance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCanceled, got.Status)
	assert.Equal(t, "create_project", got.CurrentStep())
}

func TestExecutor_TimeoutCountsAsFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	block := make(chan struct{})
	defer close(block)
	h.registry.Register("create_project", ActionFunc(func(ctx context.Context, inv Invocation) (map[string]any, error) {
		<-block
		return map[string]any{}, nil
	}))

	inst := h.enterServiceTask(t, "provision")
	res, err := h.executor.Execute(ctx, ExecuteRequest{
		InstanceID: inst.ID, StepKey: "create_project", Action: "create_project", Timeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.True(t, res.Executed)
	assert.Contains(t, res.AttemptError, ErrTimeout.Error())
	assert.Equal(t, models.AutomationStatusPending, res.Automation.Status)
	assert.Equal(t, 1, res.Automation.RetryCount)
}

func TestExecutor_UnknownActionFailsImmediately(t *testing.T) {
	h := newHarness(t, true)
	inst := h.enterServiceTask(t, "provision")

	a := h.automation(t, inst.ID)
	assert.Equal(t, models.AutomationStatusFailed, a.Status)
	require.NotNil(t, a.ErrorMessage)
	assert.Contains(t, *a.ErrorMessage, ErrUnknownAction.Error())
}

func TestExecutor_ResultOutcomeSelectsBranch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	var status atomic.Value
	status.Store("paid")
	h.registry.Register("sync_invoicing", ActionFunc(func(ctx context.Context, inv Invocation) (map[string]any, error) {
		return map[string]any{"outcome": status.Load().(string), "invoice_id": "INV-1"}, nil
	}))

	paid := h.enterServiceTask(t, "billing")
	got, err := h.engine.Instance(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, got.Status)
	assert.Equal(t, "INV-1", got.Data["invoice_id"])

	_, err = h.engine.Cancel(ctx, paid.ID, "", "")
	require.ErrorIs(t, err, engine.ErrInstanceTerminal)

	status.Store("open")
	open, err := h.engine.Start(ctx, engine.StartRequest{DefinitionKey: "billing", ProjectID: "p-other"})
	require.NoError(t, err)
	_, err = h.engine.Advance(ctx, engine.AdvanceRequest{InstanceID: open.ID, TriggerStepKey: "start"})
	require.NoError(t, err)
	got, err = h.engine.Instance(ctx, open.ID)
	require.NoError(t, err)
	assert.Equal(t, "chase_payment", got.CurrentStep())
}

func TestExecutor_SweepReclaimsExpiredLease(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	h.registry.Register("create_project", ActionFunc(func(ctx context.Context, inv Invocation) (map[string]any, error) {
		return map[string]any{}, nil
	}))

	inst := h.enterServiceTask(t, "provision")
	a := h.automation(t, inst.ID)
	stuck := h.clock.Now()
	a.Status = models.AutomationStatusRunning
	a.StartedAt = &stuck
	require.NoError(t, h.repo.UpdateAutomation(ctx, a))

	report, err := h.executor.Sweep(ctx, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, report.Due)

	h.clock.Advance(DefaultLease + time.Second)
	report, err = h.executor.Sweep(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Due: 1, Completed: 1}, report)

	got, err := h.engine.Instance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "kickoff", got.CurrentStep())
}

func TestExecutor_SweepSkipsCanceledInstances(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	inst := h.enterServiceTask(t, "provision")
	_, err := h.engine.Cancel(ctx, inst.ID, "", "")
	require.NoError(t, err)

	report, err := h.executor.Sweep(ctx, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, report.Due)
	assert.Equal(t, models.AutomationStatusPending, h.automation(t, inst.ID).Status)
}

func TestExecutor_BackgroundDispatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	h.engine.SetDispatcher(h.executor)
	h.registry.Register("create_project", ActionFunc(func(ctx context.Context, inv Invocation) (map[string]any, error) {
		return map[string]any{}, nil
	}))

	inst := h.enterServiceTask(t, "provision")
	h.executor.Wait()

	got, err := h.engine.Instance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "kickoff", got.CurrentStep())
}
