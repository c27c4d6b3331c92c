package engine

import (
	"context"
	"fmt"

	"github.com/qmuntal/stateless"

	"megicode/backend/pkg/models"
)

// Instance lifecycle triggers.
const (
	triggerAdvance  = "advance"
	triggerComplete = "complete"
	triggerCancel   = "cancel"
)

// lifecycle is the instance status machine: running instances may move on,
// complete or be canceled; completed and canceled are final.
func lifecycle(status models.InstanceStatus) *stateless.StateMachine {
	sm := stateless.NewStateMachine(status)
	sm.Configure(models.InstanceStatusRunning).
		PermitReentry(triggerAdvance).
		Permit(triggerComplete, models.InstanceStatusCompleted).
		Permit(triggerCancel, models.InstanceStatusCanceled)
	sm.Configure(models.InstanceStatusCompleted)
	sm.Configure(models.InstanceStatusCanceled)
	return sm
}

// transition applies trigger to inst's status. A trigger the current status
// does not permit yields ErrInstanceTerminal.
func transition(ctx context.Context, inst *models.ProcessInstance, trigger string) error {
	sm := lifecycle(inst.Status)
	if ok, _ := sm.CanFire(trigger); !ok {
		return fmt.Errorf("%w: instance %s is %s", ErrInstanceTerminal, inst.ID, inst.Status)
	}
	if err := sm.FireCtx(ctx, trigger); err != nil {
		return fmt.Errorf("instance %s: %w", inst.ID, err)
	}
	inst.Status = sm.MustState().(models.InstanceStatus)
	return nil
}
