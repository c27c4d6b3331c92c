package automation

import (
	"context"
	"fmt"

	"github.com/qmuntal/stateless"

	"megicode/backend/pkg/models"
)

// Automation lifecycle triggers.
const (
	triggerClaim   = "claim"
	triggerReclaim = "reclaim"
	triggerSucceed = "succeed"
	triggerRetry   = "retry"
	triggerFail    = "fail"
	triggerRevive  = "revive"
)

// lifecycle is the automation status machine. A failed automation only runs
// again through a manual retry; a completed one never does.
func lifecycle(status models.AutomationStatus) *stateless.StateMachine {
	sm := stateless.NewStateMachine(status)
	sm.Configure(models.AutomationStatusPending).
		Permit(triggerClaim, models.AutomationStatusRunning)
	sm.Configure(models.AutomationStatusRunning).
		PermitReentry(triggerReclaim).
		Permit(triggerSucceed, models.AutomationStatusCompleted).
		Permit(triggerRetry, models.AutomationStatusPending).
		Permit(triggerFail, models.AutomationStatusFailed)
	sm.Configure(models.AutomationStatusFailed).
		Permit(triggerRevive, models.AutomationStatusRunning)
	sm.Configure(models.AutomationStatusCompleted)
	return sm
}

func canFire(a *models.Automation, trigger string) bool {
	ok, _ := lifecycle(a.Status).CanFire(trigger)
	return ok
}

func fire(ctx context.Context, a *models.Automation, trigger string) error {
	sm := lifecycle(a.Status)
	if err := sm.FireCtx(ctx, trigger); err != nil {
		return fmt.Errorf("automation %s: %w", a.ID, err)
	}
	a.Status = sm.MustState().(models.AutomationStatus)
	return nil
}
