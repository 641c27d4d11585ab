package command

import (
	"fmt"

	"tubebank/internal/bank"
	"tubebank/internal/errs"
	"tubebank/internal/geo"
	"tubebank/internal/plan"
	"tubebank/internal/weapon"
)

// AssignCommand binds a weapon kind + assignment to a tube. Undo releases
// the binding if Execute succeeded.
type AssignCommand struct {
	Bank       *bank.Bank
	Tube       int
	Kind       weapon.Kind
	Assignment plan.Assignment

	executed bool
}

func (c *AssignCommand) IsValid() bool {
	return c.Bank != nil && c.Tube >= 1 && c.Tube <= bank.TubeCount && c.Kind != ""
}

func (c *AssignCommand) Execute() error {
	ok, err := c.Bank.Assign(c.Tube, c.Kind, c.Assignment)
	c.executed = ok
	return err
}

func (c *AssignCommand) Undo() error {
	if !c.executed {
		return nil
	}
	_, err := c.Bank.Unassign(c.Tube)
	if err == nil {
		c.executed = false
	}
	return err
}

func (c *AssignCommand) Description() string {
	return fmt.Sprintf("assign tube=%d kind=%s", c.Tube, c.Kind)
}

// UnassignCommand releases a tube's binding. Undo re-assigns the captured
// kind with an empty assignment; it cannot restore the released assignment's
// mission parameters, which the bank does not retain once cleared.
type UnassignCommand struct {
	Bank *bank.Bank
	Tube int

	executed   bool
	priorKind  weapon.Kind
}

func (c *UnassignCommand) IsValid() bool {
	return c.Bank != nil && c.Tube >= 1 && c.Tube <= bank.TubeCount
}

func (c *UnassignCommand) Execute() error {
	st, err := c.Bank.Status(c.Tube)
	if err != nil {
		return err
	}
	c.priorKind = st.Kind
	ok, err := c.Bank.Unassign(c.Tube)
	c.executed = ok
	return err
}

func (c *UnassignCommand) Undo() error {
	if !c.executed || c.priorKind == "" {
		return nil
	}
	_, err := c.Bank.Assign(c.Tube, c.priorKind, plan.Assignment{})
	if err == nil {
		c.executed = false
	}
	return err
}

func (c *UnassignCommand) Description() string {
	return fmt.Sprintf("unassign tube=%d", c.Tube)
}

// WeaponControlCommand requests a single tube's weapon state transition.
// Undo requests a transition back to the state captured immediately before
// Execute, which only succeeds if that reverse edge is itself valid — not
// every transition in this state machine is reversible.
type WeaponControlCommand struct {
	Bank   *bank.Bank
	Tube   int
	Target weapon.CtrlState

	priorState weapon.CtrlState
	captured   bool
}

func (c *WeaponControlCommand) IsValid() bool {
	return c.Bank != nil && c.Tube >= 1 && c.Tube <= bank.TubeCount && c.Bank.CanChangeState(c.Tube, c.Target)
}

func (c *WeaponControlCommand) Execute() error {
	if st, err := c.Bank.Status(c.Tube); err == nil {
		c.priorState = st.Weapon
		c.captured = true
	}
	accepted, err := c.Bank.RequestState(c.Tube, c.Target)
	if err != nil {
		return err
	}
	if !accepted {
		return errs.ErrInvalidTransition
	}
	return nil
}

func (c *WeaponControlCommand) Undo() error {
	if !c.captured {
		return errs.ErrInvalidCommand
	}
	if !c.Bank.CanChangeState(c.Tube, c.priorState) {
		return errs.ErrInvalidTransition
	}
	accepted, err := c.Bank.RequestState(c.Tube, c.priorState)
	if err != nil {
		return err
	}
	if !accepted {
		return errs.ErrInvalidTransition
	}
	return nil
}

func (c *WeaponControlCommand) Description() string {
	return fmt.Sprintf("control tube=%d target=%s", c.Tube, c.Target)
}

// AllWeaponControlCommand broadcasts a weapon state transition to every
// assigned tube (spec.md §4.4 RequestAll). Undo attempts to restore each
// tube's pre-Execute state, best-effort, aggregating per-tube failures the
// same way Execute does.
type AllWeaponControlCommand struct {
	Bank   *bank.Bank
	Target weapon.CtrlState

	priorStates map[int]weapon.CtrlState
}

func (c *AllWeaponControlCommand) IsValid() bool { return c.Bank != nil }

func (c *AllWeaponControlCommand) Execute() error {
	c.priorStates = make(map[int]weapon.CtrlState)
	for _, tn := range c.Bank.AssignedTubes() {
		if st, err := c.Bank.Status(tn); err == nil {
			c.priorStates[tn] = st.Weapon
		}
	}
	_, err := c.Bank.RequestAll(c.Target)
	return err
}

func (c *AllWeaponControlCommand) Undo() error {
	failures := make(map[int]error)
	for tn, prior := range c.priorStates {
		if !c.Bank.CanChangeState(tn, prior) {
			failures[tn] = errs.ErrInvalidTransition
			continue
		}
		if accepted, err := c.Bank.RequestState(tn, prior); err != nil || !accepted {
			if err == nil {
				err = errs.ErrInvalidTransition
			}
			failures[tn] = err
		}
	}
	if len(failures) > 0 {
		return &errs.PartialBroadcastError{Failures: failures}
	}
	return nil
}

func (c *AllWeaponControlCommand) Description() string {
	return fmt.Sprintf("control all target=%s", c.Target)
}

// WaypointUpdateCommand replaces a tube's editable waypoint list. It has no
// meaningful undo: the bank does not retain the waypoint list that was
// overwritten, so Undo reports errs.ErrInvalidCommand rather than silently
// no-op-ing.
type WaypointUpdateCommand struct {
	Bank      *bank.Bank
	Tube      int
	Waypoints []plan.Waypoint
}

func (c *WaypointUpdateCommand) IsValid() bool {
	return c.Bank != nil && c.Tube >= 1 && c.Tube <= bank.TubeCount
}

func (c *WaypointUpdateCommand) Execute() error {
	return c.Bank.UpdateWaypointsFromMessage(c.Tube, c.Waypoints)
}

func (c *WaypointUpdateCommand) Undo() error { return errs.ErrInvalidCommand }

func (c *WaypointUpdateCommand) Description() string {
	return fmt.Sprintf("waypoints tube=%d count=%d", c.Tube, len(c.Waypoints))
}

// EmergencyStopCommand is the always-valid, priority-queue command backing
// spec.md §4.4's EmergencyStop. It is not meaningfully undoable: a weapon
// that has transitioned through ABORT/OFF cannot be safely re-launched by
// simply reversing the state machine.
type EmergencyStopCommand struct {
	Bank *bank.Bank
}

func (c *EmergencyStopCommand) IsValid() bool { return c.Bank != nil }

func (c *EmergencyStopCommand) Execute() error {
	_, err := c.Bank.EmergencyStop()
	return err
}

func (c *EmergencyStopCommand) Undo() error { return errs.ErrInvalidCommand }

func (c *EmergencyStopCommand) Description() string { return "emergency stop" }

// axisValid reports whether p passes 2D geodetic validation. No code in the
// module calls it.
func axisValid(p geo.Point2D) bool { return geo.Validate2D(p) == nil }
