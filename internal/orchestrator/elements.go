package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/flow-automator/api/schemas"
	"github.com/xkilldash9x/flow-automator/internal/bridge"
)

// HandlePageMessage reacts to unsolicited messages from a tab. A picked
// element is saved, the tab's descriptor cache is refreshed with the whole
// saved map, and the outcome is broadcast.
func (c *Controller) HandlePageMessage(caller bridge.Caller, msg schemas.PageMessage) {
	ctx, cancel := context.WithTimeout(c.base, c.callTimeout())
	defer cancel()

	switch msg.Type {
	case schemas.PageElementPicked:
		var picked schemas.ElementPickedPayload
		if err := json.Unmarshal(msg.Payload, &picked); err != nil {
			c.logger.Warn("Malformed elementPicked message.", zap.Error(err))
			return
		}
		all, err := c.store.SetPickedElement(ctx, picked.Role, picked.Descriptor)
		if err != nil {
			c.logger.Error("Could not save picked element.", zap.String("role", string(picked.Role)), zap.Error(err))
			return
		}
		c.pushElements(ctx, caller, all)
		desc := picked.Descriptor
		c.events.Publish(schemas.NewPickedEvent(picked.Role, &desc))
		c.logger.Info("Element saved.", zap.String("role", string(picked.Role)), zap.String("label", desc.DisplayLabel))
	case schemas.PagePickerCancelled:
		c.events.Publish(schemas.NewPickedEvent("", nil))
	default:
		c.logger.Debug("Ignoring page message.", zap.String("type", string(msg.Type)))
	}
}

// SyncElements sends the saved descriptors to a freshly attached tab.
func (c *Controller) SyncElements(ctx context.Context, caller bridge.Caller) {
	all, err := c.store.PickedElements(ctx)
	if err != nil {
		c.logger.Warn("Could not read picked elements.", zap.Error(err))
		return
	}
	c.pushElements(ctx, caller, all)
}

// RefreshElements pushes the saved descriptors to the current tab, if one
// is open.
func (c *Controller) RefreshElements(ctx context.Context) error {
	caller, err := c.targets.Target(ctx)
	if err != nil {
		return err
	}
	c.SyncElements(ctx, caller)
	return nil
}

func (c *Controller) pushElements(ctx context.Context, caller bridge.Caller, all schemas.PickedElements) {
	var res schemas.ActionResult
	c.callAction(ctx, caller, schemas.ActionUpdatePickedElements, all, &res)
	if !res.Success {
		c.logger.Warn("Could not update the tab's element cache.", zap.String("error", res.Error))
	}
}

// StartPicker puts the Flow tab into picker mode for role.
func (c *Controller) StartPicker(ctx context.Context, role schemas.ElementRole) (schemas.ActionResult, error) {
	if !schemas.ValidRole(role) {
		return schemas.ActionResult{}, fmt.Errorf("unknown element role %q", role)
	}
	return c.pageAction(ctx, schemas.ActionStartPicker, schemas.PickerPayload{Role: role})
}

// StopPicker leaves picker mode.
func (c *Controller) StopPicker(ctx context.Context) (schemas.ActionResult, error) {
	return c.pageAction(ctx, schemas.ActionStopPicker, nil)
}

// TestElement reports whether role currently resolves on the Flow tab.
func (c *Controller) TestElement(ctx context.Context, role schemas.ElementRole) (schemas.TestResult, error) {
	caller, err := c.targets.Target(ctx)
	if err != nil {
		return schemas.TestResult{}, err
	}
	var res schemas.TestResult
	if err := c.call(ctx, caller, schemas.ActionTestElement, schemas.TestElementPayload{Key: role}, &res); err != nil {
		return schemas.TestResult{}, err
	}
	return res, nil
}

// PageStatus returns the Flow tab's current generation status.
func (c *Controller) PageStatus(ctx context.Context) (schemas.StatusResult, error) {
	caller, err := c.targets.Target(ctx)
	if err != nil {
		return schemas.StatusResult{}, err
	}
	var res schemas.StatusResult
	if err := c.call(ctx, caller, schemas.ActionGetStatus, nil, &res); err != nil {
		return schemas.StatusResult{}, err
	}
	return res, nil
}

func (c *Controller) pageAction(ctx context.Context, action schemas.Action, payload interface{}) (schemas.ActionResult, error) {
	caller, err := c.targets.Target(ctx)
	if err != nil {
		return schemas.ActionResult{}, err
	}
	var res schemas.ActionResult
	if err := c.call(ctx, caller, action, payload, &res); err != nil {
		return schemas.ActionResult{}, err
	}
	return res, nil
}

func (c *Controller) callTimeout() time.Duration {
	if c.cfg.CallTimeout > 0 {
		return c.cfg.CallTimeout
	}
	return defaultCallTimeout
}
