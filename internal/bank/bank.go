// Package bank implements the Tube Bank Manager (spec.md §4.4): a fixed
// array of 6 launch tubes, the shared environment snapshot (axis center,
// own-ship, per-target telemetry), assignment lifecycle, broadcast
// operations, and bulk queries.
package bank

import (
	"fmt"
	"sync"

	"tubebank/internal/errs"
	"tubebank/internal/geo"
	"tubebank/internal/plan"
	"tubebank/internal/tube"
	"tubebank/internal/weapon"
)

// TubeCount is the fixed number of physical launch tubes (spec.md §3).
const TubeCount = 6

// AssignmentChangeFunc fires whenever a tube's binding changes (assign or
// unassign).
type AssignmentChangeFunc func(tubeNum int, kind weapon.Kind, assigned bool)

// Environment is the shared telemetry snapshot consumed by every tube's
// planner, guarded by its own lock independent of the tube array's.
type Environment struct {
	AxisCenter geo.Point2D
	HasAxis    bool
	OwnShip    plan.OwnShipInfo
	HasOwnShip bool
	Targets    map[string]plan.TargetInfo
}

// Bank is the fixed 6-tube array plus shared environment. The tube array
// uses a readers-writer policy: structural reads (status, iteration,
// dispatch) take RLock; assignment and shutdown take the exclusive Lock.
// The environment snapshot uses its own independent RWMutex. Lock order,
// outermost to innermost: structural -> environment -> tube binding ->
// weapon state (observer notification happens outside all of them).
type Bank struct {
	weaponRegistry *weapon.Registry
	planRegistry   *plan.Registry

	mu    sync.RWMutex
	tubes [TubeCount]*tube.LaunchTube
	closed bool

	envMu sync.RWMutex
	env   Environment

	cbMu               sync.Mutex
	onStateChange      tube.StateChangeFunc
	onLaunchStatus     tube.LaunchStatusFunc
	onPlanUpdated      tube.PlanUpdatedFunc
	onAssignmentChange AssignmentChangeFunc
}

// New constructs a Bank with all 6 tubes empty.
func New(weaponRegistry *weapon.Registry, planRegistry *plan.Registry) *Bank {
	b := &Bank{
		weaponRegistry: weaponRegistry,
		planRegistry:   planRegistry,
		env:            Environment{Targets: make(map[string]plan.TargetInfo)},
	}
	for i := 0; i < TubeCount; i++ {
		b.tubes[i] = tube.New(i + 1)
	}
	return b
}

// SetCallbacks installs the bank's four callback sinks.
func (b *Bank) SetCallbacks(onState tube.StateChangeFunc, onLaunch tube.LaunchStatusFunc, onPlan tube.PlanUpdatedFunc, onAssign AssignmentChangeFunc) {
	b.cbMu.Lock()
	defer b.cbMu.Unlock()
	b.onStateChange = onState
	b.onLaunchStatus = onLaunch
	b.onPlanUpdated = onPlan
	b.onAssignmentChange = onAssign
}

func validTubeNumber(tubeNum int) bool { return tubeNum >= 1 && tubeNum <= TubeCount }

func (b *Bank) tubeAt(tubeNum int) (*tube.LaunchTube, error) {
	if !validTubeNumber(tubeNum) {
		return nil, fmt.Errorf("tube %d: %w", tubeNum, errs.ErrInvalidTube)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tubes[tubeNum-1], nil
}

func (b *Bank) fireAssignmentChange(tubeNum int, kind weapon.Kind, assigned bool) {
	b.cbMu.Lock()
	cb := b.onAssignmentChange
	b.cbMu.Unlock()
	if cb != nil {
		cb(tubeNum, kind, assigned)
	}
}

// Assign constructs a Weapon+Planner pair for kind via the bank's
// registries, binds them to tubeNum, applies assignment info, and seeds the
// planner's environment inputs. Fails if tubeNum is invalid, already
// assigned, or kind is unsupported. A drop point that fails geodetic
// validation is rejected before binding, so a failed Assign leaves the tube
// empty.
func (b *Bank) Assign(tubeNum int, kind weapon.Kind, assignment plan.Assignment) (bool, error) {
	if !validTubeNumber(tubeNum) {
		return false, fmt.Errorf("tube %d: %w", tubeNum, errs.ErrInvalidTube)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false, errs.ErrBankClosed
	}
	t := b.tubes[tubeNum-1]
	if t.IsAssigned() {
		return false, fmt.Errorf("tube %d: %w", tubeNum, errs.ErrAlreadyAssigned)
	}
	w, ok := b.weaponRegistry.New(kind, tubeNum)
	if !ok {
		return false, fmt.Errorf("kind %s: %w", kind, errs.ErrUnsupportedKind)
	}
	p, ok := b.planRegistry.New(kind, tubeNum)
	if !ok {
		return false, fmt.Errorf("kind %s: %w", kind, errs.ErrUnsupportedKind)
	}
	if assignment.HasDrop && geo.Validate3D(assignment.DropPoint) != nil {
		return false, fmt.Errorf("assign tube %d: %w", tubeNum, errs.ErrInvalidWaypoint)
	}

	if !t.Assign(w, p) {
		return false, fmt.Errorf("tube %d: %w", tubeNum, errs.ErrAlreadyAssigned)
	}
	t.SetCallbacks(b.dispatchStateChange, b.dispatchLaunchStatus, b.dispatchPlanUpdated)
	t.SetAssignmentInfo(assignment)

	b.envMu.RLock()
	if b.env.HasAxis {
		t.SetAxisCenter(b.env.AxisCenter)
	}
	if b.env.HasOwnShip {
		t.UpdateOwnShip(b.env.OwnShip)
	}
	if assignment.TargetID != "" {
		if ti, ok := b.env.Targets[assignment.TargetID]; ok {
			t.UpdateTarget(ti)
		}
	}
	b.envMu.RUnlock()

	b.fireAssignmentChange(tubeNum, kind, true)
	return true, nil
}

func (b *Bank) dispatchStateChange(tubeNum int, old, new weapon.CtrlState) {
	b.cbMu.Lock()
	cb := b.onStateChange
	b.cbMu.Unlock()
	if cb != nil {
		cb(tubeNum, old, new)
	}
}

func (b *Bank) dispatchLaunchStatus(tubeNum int, launched bool) {
	b.cbMu.Lock()
	cb := b.onLaunchStatus
	b.cbMu.Unlock()
	if cb != nil {
		cb(tubeNum, launched)
	}
}

func (b *Bank) dispatchPlanUpdated(tubeNum int, result plan.EngagementPlan) {
	b.cbMu.Lock()
	cb := b.onPlanUpdated
	b.cbMu.Unlock()
	if cb != nil {
		cb(tubeNum, result)
	}
}

// Unassign releases tubeNum's binding, failing if it was already empty.
func (b *Bank) Unassign(tubeNum int) (bool, error) {
	if !validTubeNumber(tubeNum) {
		return false, fmt.Errorf("tube %d: %w", tubeNum, errs.ErrInvalidTube)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.tubes[tubeNum-1]
	if !t.IsAssigned() {
		return false, fmt.Errorf("tube %d: %w", tubeNum, errs.ErrNotAssigned)
	}
	kind := t.Status().Kind
	t.Clear()
	b.fireAssignmentChange(tubeNum, kind, false)
	return true, nil
}

// RequestState attempts a weapon state transition on tubeNum.
func (b *Bank) RequestState(tubeNum int, target weapon.CtrlState) (bool, error) {
	t, err := b.tubeAt(tubeNum)
	if err != nil {
		return false, err
	}
	return t.RequestState(target)
}

// CanChangeState reports whether target is reachable from tubeNum's current
// weapon state, without attempting it.
func (b *Bank) CanChangeState(tubeNum int, target weapon.CtrlState) bool {
	t, err := b.tubeAt(tubeNum)
	if err != nil {
		return false
	}
	return t.CanChangeState(target)
}

// RequestAll broadcasts target to every assigned tube, continuing past
// per-tube failures. ok is true iff every assigned tube succeeded.
func (b *Bank) RequestAll(target weapon.CtrlState) (ok bool, err error) {
	b.mu.RLock()
	tubes := append([]*tube.LaunchTube(nil), b.tubes[:]...)
	b.mu.RUnlock()

	failures := make(map[int]error)
	allOK := true
	for _, t := range tubes {
		if !t.IsAssigned() {
			continue
		}
		if succeeded, e := t.RequestState(target); !succeeded {
			allOK = false
			if e == nil {
				e = errs.ErrInvalidTransition
			}
			failures[t.Number()] = e
		}
	}
	if len(failures) > 0 {
		return false, &errs.PartialBroadcastError{Failures: failures}
	}
	return allOK, nil
}

// EmergencyStop (spec.md §4.4): for every assigned tube, request ABORT if
// the weapon is in LAUNCH, else request OFF. Best-effort; continues past
// per-tube failures, never rolls back successes, and never touches
// assignment (scenario 4: tubes remain assigned after an emergency stop).
func (b *Bank) EmergencyStop() (bool, error) {
	b.mu.RLock()
	tubes := append([]*tube.LaunchTube(nil), b.tubes[:]...)
	b.mu.RUnlock()

	failures := make(map[int]error)
	for _, t := range tubes {
		if !t.IsAssigned() {
			continue
		}
		target := weapon.Off
		if t.WeaponState() == weapon.Launch {
			target = weapon.Abort
		}
		if succeeded, e := t.RequestState(target); !succeeded {
			if e == nil {
				e = errs.ErrInvalidTransition
			}
			failures[t.Number()] = e
		}
	}
	if len(failures) > 0 {
		return false, &errs.PartialBroadcastError{Failures: failures}
	}
	return true, nil
}

// UpdateOwnShip updates the shared environment and broadcasts to every
// currently assigned tube.
func (b *Bank) UpdateOwnShip(info plan.OwnShipInfo) {
	b.envMu.Lock()
	b.env.OwnShip = info
	b.env.HasOwnShip = true
	b.envMu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, t := range b.tubes {
		if t.IsAssigned() {
			t.UpdateOwnShip(info)
		}
	}
}

// UpdateTarget updates the shared per-target environment entry (keyed by
// target id) and broadcasts to every currently assigned tube.
func (b *Bank) UpdateTarget(info plan.TargetInfo) {
	b.envMu.Lock()
	b.env.Targets[info.ID] = info
	b.envMu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, t := range b.tubes {
		if t.IsAssigned() {
			t.UpdateTarget(info)
		}
	}
}

// SetAxisCenter updates the shared axis-center origin and broadcasts to
// every currently assigned tube.
func (b *Bank) SetAxisCenter(center geo.Point2D) {
	b.envMu.Lock()
	b.env.AxisCenter = center
	b.env.HasAxis = true
	b.envMu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, t := range b.tubes {
		if t.IsAssigned() {
			t.SetAxisCenter(center)
		}
	}
}

// UpdateWaypoints replaces tubeNum's editable waypoint list.
func (b *Bank) UpdateWaypoints(tubeNum int, wps []plan.Waypoint) error {
	t, err := b.tubeAt(tubeNum)
	if err != nil {
		return err
	}
	if !t.IsAssigned() {
		return fmt.Errorf("tube %d: %w", tubeNum, errs.ErrNotAssigned)
	}
	t.UpdateWaypoints(wps)
	return nil
}

// UpdateWaypointsFromMessage is the message-shaped variant spec.md §4.4
// names: it extracts only the geodetically valid waypoints out of a raw bus
// payload before forwarding.
func (b *Bank) UpdateWaypointsFromMessage(tubeNum int, raw []plan.Waypoint) error {
	valid := make([]plan.Waypoint, 0, len(raw))
	for _, wp := range raw {
		if geo.Validate3D(wp.Point) == nil {
			valid = append(valid, wp)
		}
	}
	return b.UpdateWaypoints(tubeNum, valid)
}

// ComputePlan recomputes tubeNum's engagement plan. Idempotent on unchanged
// inputs.
func (b *Bank) ComputePlan(tubeNum int) (bool, error) {
	t, err := b.tubeAt(tubeNum)
	if err != nil {
		return false, err
	}
	return t.ComputePlan(), nil
}

// ComputeAllPlans recomputes every assigned tube's engagement plan.
func (b *Bank) ComputeAllPlans() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, t := range b.tubes {
		if t.IsAssigned() {
			t.ComputePlan()
		}
	}
}

// Tick advances every tube one cadence step (spec.md §4.7: bank tick every
// 100ms). Unassigned tubes are no-ops.
func (b *Bank) Tick() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, t := range b.tubes {
		t.Tick()
	}
}

// AllStatus returns a point-in-time snapshot of every tube.
func (b *Bank) AllStatus() [TubeCount]tube.Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out [TubeCount]tube.Status
	for i, t := range b.tubes {
		out[i] = t.Status()
	}
	return out
}

// Status returns tubeNum's current status.
func (b *Bank) Status(tubeNum int) (tube.Status, error) {
	t, err := b.tubeAt(tubeNum)
	if err != nil {
		return tube.Status{}, err
	}
	return t.Status(), nil
}

// AllResults returns the cached engagement-plan result for every assigned
// tube, keyed by tube number.
func (b *Bank) AllResults() map[int]plan.EngagementPlan {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[int]plan.EngagementPlan)
	for _, t := range b.tubes {
		if t.IsAssigned() {
			out[t.Number()] = t.Result()
		}
	}
	return out
}

// Result returns tubeNum's cached engagement-plan result.
func (b *Bank) Result(tubeNum int) (plan.EngagementPlan, error) {
	t, err := b.tubeAt(tubeNum)
	if err != nil {
		return plan.EngagementPlan{}, err
	}
	return t.Result(), nil
}

// AssignedTubes returns the tube numbers currently assigned.
func (b *Bank) AssignedTubes() []int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]int, 0, TubeCount)
	for _, t := range b.tubes {
		if t.IsAssigned() {
			out = append(out, t.Number())
		}
	}
	return out
}

// AssignedCount returns the number of currently assigned tubes.
func (b *Bank) AssignedCount() int { return len(b.AssignedTubes()) }

// ReadyCount returns the number of tubes currently in the READY derived
// state.
func (b *Bank) ReadyCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, t := range b.tubes {
		if t.Status().State == tube.Ready {
			n++
		}
	}
	return n
}

// Close marks the bank closed: further Assign calls fail with
// errs.ErrBankClosed. Existing bindings are left intact; the controller is
// responsible for sequencing EmergencyStop/Unassign before Close if a full
// teardown is desired.
func (b *Bank) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}
