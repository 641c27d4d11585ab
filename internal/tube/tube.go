// Package tube implements the Launch Tube (spec.md §4.3): binding one
// Weapon+Planner pair to a physical tube slot, re-emitting the weapon's own
// state/launch events outward, and driving the plan-recompute ->
// fire-solution-ready feedback edge that makes ON->RTL possible.
package tube

import (
	"sync"

	"tubebank/internal/errs"
	"tubebank/internal/geo"
	"tubebank/internal/plan"
	"tubebank/internal/weapon"
)

// State is the tube's derived status (spec.md §3), recomputed every tick.
type State int

const (
	Empty State = iota
	Assigned
	Ready
	Launched
)

func (s State) String() string {
	switch s {
	case Empty:
		return "EMPTY"
	case Assigned:
		return "ASSIGNED"
	case Ready:
		return "READY"
	case Launched:
		return "LAUNCHED"
	default:
		return "UNKNOWN"
	}
}

// Status is a point-in-time snapshot returned by Status().
type Status struct {
	Number int
	State  State
	Kind   weapon.Kind
	Weapon weapon.CtrlState
}

// StateChangeFunc, LaunchStatusFunc and PlanUpdatedFunc are the three
// outward callbacks spec.md §4.3 requires; nil callbacks are tolerated.
type (
	StateChangeFunc  func(tube int, old, new weapon.CtrlState)
	LaunchStatusFunc func(tube int, launched bool)
	PlanUpdatedFunc  func(tube int, result plan.EngagementPlan)
)

// LaunchTube binds one Weapon+Planner pair to a fixed tube slot. It survives
// process lifetime; assign/clear bind and release the pair.
type LaunchTube struct {
	number int

	mu      sync.Mutex
	weapon  *weapon.Weapon
	planner plan.Planner
	state   State
	lastResult plan.EngagementPlan
	hasResult  bool

	onStateChange  StateChangeFunc
	onLaunchStatus LaunchStatusFunc
	onPlanUpdated  PlanUpdatedFunc
}

// New constructs an empty tube for the given 1-based tube number.
func New(number int) *LaunchTube {
	return &LaunchTube{number: number, state: Empty}
}

// Number returns this tube's fixed number.
func (t *LaunchTube) Number() int { return t.number }

// SetCallbacks installs the three outward callbacks, replacing any previous
// ones. Safe to call at any time; callbacks apply to subsequent events only.
func (t *LaunchTube) SetCallbacks(onState StateChangeFunc, onLaunch LaunchStatusFunc, onPlan PlanUpdatedFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStateChange = onState
	t.onLaunchStatus = onLaunch
	t.onPlanUpdated = onPlan
}

// Assign binds w+p to this tube slot, failing if already assigned.
func (t *LaunchTube) Assign(w *weapon.Weapon, p plan.Planner) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.weapon != nil {
		return false
	}
	t.weapon = w
	t.planner = p
	t.state = Assigned
	t.hasResult = false

	weapon.Subscribe(w, t, func(tt *LaunchTube) weapon.Observer { return (*tubeObserver)(tt) })
	return true
}

// Clear releases the binding, then resets the released weapon and planner.
func (t *LaunchTube) Clear() {
	t.mu.Lock()
	w, p := t.weapon, t.planner
	if w == nil {
		t.mu.Unlock()
		return
	}
	t.weapon = nil
	t.planner = nil
	t.state = Empty
	t.hasResult = false
	t.mu.Unlock()

	// Reset outside the lock: Weapon.Reset notifies observers synchronously,
	// and this tube is itself subscribed (tubeObserver), which would
	// re-enter t.mu if still held here.
	w.Reset()
	p.Reset()
}

// IsAssigned reports whether a weapon+planner pair is currently bound.
func (t *LaunchTube) IsAssigned() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.weapon != nil
}

// SetAssignmentInfo forwards assignment info (target, drop point, mission
// parameters) to the bound planner.
func (t *LaunchTube) SetAssignmentInfo(a plan.Assignment) {
	t.mu.Lock()
	p := t.planner
	t.mu.Unlock()
	if p != nil {
		p.SetAssignment(a)
	}
}

// UpdateWaypoints replaces the bound planner's editable waypoint list.
func (t *LaunchTube) UpdateWaypoints(wps []plan.Waypoint) {
	t.mu.Lock()
	p := t.planner
	t.mu.Unlock()
	if p != nil {
		p.SetWaypoints(wps)
	}
}

// UpdateOwnShip forwards own-ship telemetry to the bound planner.
func (t *LaunchTube) UpdateOwnShip(info plan.OwnShipInfo) {
	t.mu.Lock()
	p := t.planner
	t.mu.Unlock()
	if p != nil {
		p.UpdateOwnShip(info)
	}
}

// UpdateTarget forwards target telemetry to the bound planner.
func (t *LaunchTube) UpdateTarget(info plan.TargetInfo) {
	t.mu.Lock()
	p := t.planner
	t.mu.Unlock()
	if p != nil {
		p.UpdateTarget(info)
	}
}

// SetAxisCenter forwards the axis-center origin to the bound planner.
func (t *LaunchTube) SetAxisCenter(center geo.Point2D) {
	t.mu.Lock()
	p := t.planner
	t.mu.Unlock()
	if p != nil {
		p.SetAxisCenter(center)
	}
}

// RequestState attempts a weapon state transition; fails if unassigned.
func (t *LaunchTube) RequestState(target weapon.CtrlState) (bool, error) {
	t.mu.Lock()
	w := t.weapon
	t.mu.Unlock()
	if w == nil {
		return false, errs.ErrNotAssigned
	}
	return w.RequestState(target)
}

// CanChangeState reports whether target is reachable from the bound
// weapon's current state, without attempting the transition. False if
// unassigned.
func (t *LaunchTube) CanChangeState(target weapon.CtrlState) bool {
	t.mu.Lock()
	w := t.weapon
	t.mu.Unlock()
	if w == nil {
		return false
	}
	return w.CanTransition(target)
}

// WeaponState returns the bound weapon's current state, or weapon.Off if
// unassigned.
func (t *LaunchTube) WeaponState() weapon.CtrlState {
	t.mu.Lock()
	w := t.weapon
	t.mu.Unlock()
	if w == nil {
		return weapon.Off
	}
	return w.State()
}

// ComputePlan recomputes the bound planner's engagement plan, feeds the
// fire-solution-ready interlock edge back to the weapon, and fires
// plan-updated only when the result differs by value from the cached one
// (original_source's m_lastEngagementResult de-duplication, §12).
func (t *LaunchTube) ComputePlan() bool {
	t.mu.Lock()
	w, p := t.weapon, t.planner
	t.mu.Unlock()
	if w == nil || p == nil {
		return false
	}

	valid := p.Compute()
	w.SetFireSolutionReady(p.IsValid())

	result := p.Result()
	t.mu.Lock()
	changed := !t.hasResult || !t.lastResult.Equal(result)
	if changed {
		t.lastResult = result
		t.hasResult = true
	}
	cb := t.onPlanUpdated
	t.mu.Unlock()

	if changed && cb != nil {
		cb(t.number, result)
	}
	return valid
}

// Result returns the cached engagement plan result.
func (t *LaunchTube) Result() plan.EngagementPlan {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastResult
}

// IsPlanValid reports the bound planner's last-computed validity.
func (t *LaunchTube) IsPlanValid() bool {
	t.mu.Lock()
	p := t.planner
	t.mu.Unlock()
	if p == nil {
		return false
	}
	return p.IsValid()
}

// Tick advances the tube one cadence step (spec.md §4.3's tick policy): tick
// the weapon, tick the planner, refresh derived state, and — only if the
// weapon hasn't launched — recompute the plan.
func (t *LaunchTube) Tick() {
	t.mu.Lock()
	w, p := t.weapon, t.planner
	t.mu.Unlock()
	if w == nil {
		return
	}

	w.Tick()
	if p != nil {
		p.Tick()
	}
	t.refreshState()
	if !w.Launched() {
		t.ComputePlan()
	}
}

func (t *LaunchTube) refreshState() {
	t.mu.Lock()
	w := t.weapon
	t.mu.Unlock()
	if w == nil {
		t.mu.Lock()
		t.state = Empty
		t.mu.Unlock()
		return
	}

	var next State
	switch {
	case w.Launched():
		next = Launched
	case w.State() == weapon.RTL:
		next = Ready
	default:
		next = Assigned
	}
	t.mu.Lock()
	t.state = next
	t.mu.Unlock()
}

// Status returns a point-in-time snapshot of the tube.
func (t *LaunchTube) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := Status{Number: t.number, State: t.state}
	if t.weapon != nil {
		st.Kind = t.weapon.Kind()
		st.Weapon = t.weapon.State()
	}
	return st
}

// tubeObserver adapts *LaunchTube to weapon.Observer without widening
// LaunchTube's own public method set with weapon-package-specific names.
type tubeObserver LaunchTube

func (o *tubeObserver) OnStateChanged(tubeNum int, old, new weapon.CtrlState) {
	t := (*LaunchTube)(o)
	t.mu.Lock()
	cb := t.onStateChange
	t.mu.Unlock()
	if cb != nil {
		cb(tubeNum, old, new)
	}
}

func (o *tubeObserver) OnLaunchStatusChanged(tubeNum int, launched bool) {
	t := (*LaunchTube)(o)
	t.mu.Lock()
	cb := t.onLaunchStatus
	t.mu.Unlock()
	if cb != nil {
		cb(tubeNum, launched)
	}
}
