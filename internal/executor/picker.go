package executor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/flow-automator/api/schemas"
	"github.com/xkilldash9x/flow-automator/internal/dom"
)

// StartPicker enters picker mode for role, ending any session in progress.
func (e *Executor) StartPicker(ctx context.Context, role schemas.ElementRole) schemas.ActionResult {
	if !schemas.ValidRole(role) {
		return schemas.ActionResult{Error: fmt.Sprintf("Unknown element role: %s", role)}
	}

	e.pickerMu.Lock()
	e.pickerSession++
	session := e.pickerSession
	e.pickerRole = role
	e.pickerMu.Unlock()

	err := e.page.StartPicker(ctx, role, func(evCtx context.Context, ev PickerEvent) {
		e.onPickerEvent(evCtx, session, ev)
	})
	if err != nil {
		e.deactivate(session)
		return schemas.ActionResult{Error: err.Error()}
	}
	e.logger.Info("Picker started.", zap.String("role", string(role)))
	return schemas.ActionResult{Success: true}
}

// StopPicker leaves picker mode without reporting anything.
func (e *Executor) StopPicker(ctx context.Context) schemas.ActionResult {
	e.pickerMu.Lock()
	e.pickerRole = ""
	e.pickerSession++
	e.pickerMu.Unlock()

	if err := e.page.StopPicker(ctx); err != nil {
		return schemas.ActionResult{Error: err.Error()}
	}
	return schemas.ActionResult{Success: true}
}

// PickerRole returns the role being picked, or "" when inactive.
func (e *Executor) PickerRole() schemas.ElementRole {
	e.pickerMu.Lock()
	defer e.pickerMu.Unlock()
	return e.pickerRole
}

// deactivate ends session if it is still current and returns its role.
func (e *Executor) deactivate(session int) (schemas.ElementRole, bool) {
	e.pickerMu.Lock()
	defer e.pickerMu.Unlock()
	if session != e.pickerSession || e.pickerRole == "" {
		return "", false
	}
	role := e.pickerRole
	e.pickerRole = ""
	return role, true
}

func (e *Executor) onPickerEvent(ctx context.Context, session int, ev PickerEvent) {
	role, ok := e.deactivate(session)
	if !ok {
		e.logger.Debug("Ignoring event from a stale picker session.")
		return
	}
	if err := e.page.StopPicker(ctx); err != nil {
		e.logger.Debug("Could not remove picker overlay.", zap.Error(err))
	}

	if ev.Cancelled {
		e.logger.Info("Picker cancelled.", zap.String("role", string(role)))
		e.notify(schemas.PagePickerCancelled, nil)
		return
	}

	snap, err := e.page.Snapshot(ctx)
	if err != nil {
		e.logger.Warn("Could not snapshot picked element.", zap.Error(err))
		e.notify(schemas.PagePickerCancelled, nil)
		return
	}
	node, found := dom.WalkPath(snap.Body, ev.Path)
	if !found {
		e.logger.Warn("Picked element vanished before capture.", zap.Int("depth", len(ev.Path)))
		e.notify(schemas.PagePickerCancelled, nil)
		return
	}

	desc := dom.Capture(node)
	e.logger.Info("Element picked.", zap.String("role", string(role)), zap.String("label", desc.DisplayLabel))
	e.notify(schemas.PageElementPicked, schemas.ElementPickedPayload{Role: role, Descriptor: desc})
}
