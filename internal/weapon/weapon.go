package weapon

import (
	"sync"
	"sync/atomic"
	"time"

	"tubebank/internal/clock"
	"tubebank/internal/errs"
	"tubebank/internal/weakobs"
)

// defaultTransitions is the baseline transition table from
// original_source/Common/WeaponBase.cpp's s_defaultTransitionMap. POC is
// never a direct target: it is an internal waypoint entered only by the
// Turn-On procedure itself (weapon.go's turnOn). It does appear as a source
// so CanTransition reports POC -> OFF as legal; turnOff itself does not
// consult the table.
var defaultTransitions = map[CtrlState]map[CtrlState]bool{
	Off:        {On: true},
	POC:        {Off: true},
	On:         {Off: true, RTL: true},
	RTL:        {Launch: true, On: true, Off: true},
	Launch:     {PostLaunch: true, Abort: true},
	PostLaunch: {Off: true},
	Abort:      {Off: true},
}

// InterlockFunc reports whether the fire-solution interlock currently holds
// for a weapon, gating the automatic ON<->RTL tick transition. The default
// checks only FireSolutionReady; kinds that need more (MMINE requires a
// valid drop-plan reference alongside it, per original_source's
// CMineWeapon::CheckInterlock) supply their own via WithInterlock.
type InterlockFunc func(w *Weapon) bool

func defaultInterlock(w *Weapon) bool { return w.fireSolutionReady.Load() }

// Option configures a Weapon at construction time.
type Option func(*Weapon)

// WithInterlock overrides the fire-solution interlock predicate.
func WithInterlock(fn InterlockFunc) Option {
	return func(w *Weapon) { w.interlock = fn }
}

// WithTransitions extends the default transition table with additional
// edges. Per spec.md, kinds may only extend the table, never narrow it —
// this option therefore only ever adds entries.
func WithTransitions(extra map[CtrlState][]CtrlState) Option {
	return func(w *Weapon) {
		for from, tos := range extra {
			if w.transitions[from] == nil {
				w.transitions[from] = map[CtrlState]bool{}
			}
			for _, to := range tos {
				w.transitions[from][to] = true
			}
		}
	}
}

// WithClock overrides the clock used for abort-checked sleep slices; tests
// use this to drive Turn-On/Launch procedures without real wall-clock waits.
func WithClock(c clock.Clock) Option {
	return func(w *Weapon) { w.clock = c }
}

// Weapon is the per-tube weapon state machine of spec.md §4.1: an
// abort-interruptible lifecycle from OFF through POC/ON/RTL to
// LAUNCH/POST_LAUNCH, gated by a per-kind fire-solution interlock.
//
// Turn-On and Launch run their scripted delay as a dedicated goroutine so
// that a concurrently issued RequestState(Off)/RequestState(Abort) (the two fast, always-safe
// paths) can flip the abort flag without waiting on the in-flight procedure —
// the cooperative-scheduler realization the design notes explicitly permit.
type Weapon struct {
	kind       Kind
	tubeNumber int
	spec       Specification

	mu          sync.Mutex
	state       CtrlState
	transitions map[CtrlState]map[CtrlState]bool
	interlock   InterlockFunc
	clock       clock.Clock

	launched          atomic.Bool
	fireSolutionReady atomic.Bool
	abortFlag         atomic.Bool
	procedureActive   atomic.Bool

	observers weakobs.Registry[Observer]

	onPanic func(recovered any)
}

// New constructs a Weapon of the given kind and tube binding, starting OFF.
func New(kind Kind, tubeNumber int, spec Specification, opts ...Option) *Weapon {
	w := &Weapon{
		kind:       kind,
		tubeNumber: tubeNumber,
		spec:       spec,
		state:      Off,
		clock:      clock.Real(),
	}
	w.transitions = make(map[CtrlState]map[CtrlState]bool, len(defaultTransitions))
	for from, tos := range defaultTransitions {
		m := make(map[CtrlState]bool, len(tos))
		for to, ok := range tos {
			m[to] = ok
		}
		w.transitions[from] = m
	}
	w.interlock = defaultInterlock
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Kind returns the weapon's algorithmic specialization.
func (w *Weapon) Kind() Kind { return w.kind }

// TubeNumber returns the tube this weapon is bound to.
func (w *Weapon) TubeNumber() int { return w.tubeNumber }

// State returns the current control state.
func (w *Weapon) State() CtrlState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Launched reports whether the weapon has completed its launch.
func (w *Weapon) Launched() bool { return w.launched.Load() }

// FireSolutionReady reports the last value set via SetFireSolutionReady.
func (w *Weapon) FireSolutionReady() bool { return w.fireSolutionReady.Load() }

// SetFireSolutionReady records whether the engagement planner currently has
// a valid solution; it feeds the ON<->RTL interlock checked on every Tick.
func (w *Weapon) SetFireSolutionReady(ready bool) { w.fireSolutionReady.Store(ready) }

// SetOnPanic installs a hook invoked (with the recovered value) whenever an
// Observer callback panics. Primarily for tests asserting isolation.
func (w *Weapon) SetOnPanic(fn func(recovered any)) { w.onPanic = fn }

// Subscribe registers a weak reference to obs against the weapon's observer
// registry. The caller retains the only strong reference; once obs becomes
// unreachable, the entry is reclaimed automatically on the next notification
// or Sweep. ok is false (with the previously assigned id) if obs is already
// subscribed — a harmless no-op, not an error.
func Subscribe[T any](w *Weapon, obs *T, asObserver func(*T) Observer) (id int64, ok bool) {
	return weakobs.Add(&w.observers, obs, asObserver)
}

// Unsubscribe removes a previously registered observer by id.
func (w *Weapon) Unsubscribe(id int64) { w.observers.Remove(id) }

// SweepObservers reclaims expired observer entries without notifying
// anyone; intended for the controller's periodic cleanup cadence.
func (w *Weapon) SweepObservers() int { return w.observers.Sweep() }

// CanTransition reports whether target is reachable from the weapon's
// current state per the transition table, without attempting it.
func (w *Weapon) CanTransition(target CtrlState) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.isValidTransition(w.state, target)
}

func (w *Weapon) isValidTransition(from, to CtrlState) bool {
	m := w.transitions[from]
	return m != nil && m[to]
}

func (w *Weapon) setState(newState CtrlState) {
	w.mu.Lock()
	old := w.state
	w.state = newState
	w.mu.Unlock()
	if old == newState {
		return
	}
	w.observers.Notify(func(o Observer) {
		o.OnStateChanged(w.tubeNumber, old, newState)
	}, w.onPanic)
}

func (w *Weapon) setLaunched(v bool) {
	if w.launched.Swap(v) == v {
		return
	}
	w.observers.Notify(func(o Observer) {
		o.OnLaunchStatusChanged(w.tubeNumber, v)
	}, w.onPanic)
}

// Initialize (re)binds the weapon to tubeNumber and forces it to OFF with
// all flags cleared. Idempotent.
func (w *Weapon) Initialize(tubeNumber int) {
	w.mu.Lock()
	w.tubeNumber = tubeNumber
	old := w.state
	w.state = Off
	w.mu.Unlock()
	w.launched.Store(false)
	w.fireSolutionReady.Store(false)
	w.abortFlag.Store(false)
	if old != Off {
		w.observers.Notify(func(o Observer) {
			o.OnStateChanged(w.tubeNumber, old, Off)
		}, w.onPanic)
	}
}

// Reset returns the weapon to OFF and clears launched/ready/abort, without
// re-emitting a state-change notification if already OFF.
func (w *Weapon) Reset() {
	w.mu.Lock()
	old := w.state
	w.state = Off
	w.mu.Unlock()
	w.launched.Store(false)
	w.fireSolutionReady.Store(false)
	w.abortFlag.Store(false)
	if old != Off {
		w.observers.Notify(func(o Observer) {
			o.OnStateChanged(w.tubeNumber, old, Off)
		}, w.onPanic)
	}
}

// RequestState attempts a transition to target, the single entry point used
// by the command layer. OFF and ABORT are fast, always-safe paths that
// return once the state has actually changed. ON and LAUNCH are the two
// scripted procedures: RequestState only reports whether the transition was
// *accepted* (table-valid and not already in flight) — completion, or
// cancellation via the abort flag, is reported asynchronously through
// Observer.OnStateChanged. RTL is a plain, synchronous target change (used
// both for a manual RTL request and internally by Tick).
func (w *Weapon) RequestState(target CtrlState) (accepted bool, err error) {
	switch target {
	case On:
		return w.turnOn()
	case Off:
		return w.turnOff()
	case Launch:
		return w.launch()
	case Abort:
		return w.abortNow()
	case RTL:
		return w.toRTL()
	default:
		return false, errs.ErrInvalidTransition
	}
}

func (w *Weapon) turnOn() (bool, error) {
	w.mu.Lock()
	if !w.isValidTransition(w.state, On) {
		w.mu.Unlock()
		return false, errs.ErrInvalidTransition
	}
	w.state = POC
	w.mu.Unlock()

	w.abortFlag.Store(false)
	w.procedureActive.Store(true)
	w.observers.Notify(func(o Observer) {
		o.OnStateChanged(w.tubeNumber, Off, POC)
	}, w.onPanic)

	go func() {
		defer w.procedureActive.Store(false)
		if w.sleepAbortable(w.spec.PowerOnTime) {
			w.setState(Off)
			return
		}
		w.setState(On)
	}()
	return true, nil
}

func (w *Weapon) launch() (bool, error) {
	w.mu.Lock()
	if !w.isValidTransition(w.state, Launch) {
		w.mu.Unlock()
		return false, errs.ErrInvalidTransition
	}
	old := w.state
	w.state = Launch
	w.mu.Unlock()

	w.abortFlag.Store(false)
	w.procedureActive.Store(true)
	w.observers.Notify(func(o Observer) {
		o.OnStateChanged(w.tubeNumber, old, Launch)
	}, w.onPanic)

	go func() {
		defer w.procedureActive.Store(false)
		for _, step := range w.spec.LaunchSteps {
			if w.sleepAbortable(step.Duration) {
				w.setState(Abort)
				return
			}
		}
		w.setLaunched(true)
		w.setState(PostLaunch)
	}()
	return true, nil
}

// turnOff is the fast, always-safe path (spec.md §4.1: "Safe from any
// state"): it signals any in-flight procedure to cancel and transitions
// immediately, without waiting for the procedure to notice or consulting the
// transition table. A weapon mid Turn-On (POC) or mid Launch must still be
// able to reach OFF on demand.
func (w *Weapon) turnOff() (bool, error) {
	w.abortFlag.Store(true)
	w.setState(Off)
	return true, nil
}

// abortNow is Turn-Off's sibling fast path, also table-exempt: Abort must be
// reachable from any state to preempt an in-flight procedure.
func (w *Weapon) abortNow() (bool, error) {
	w.abortFlag.Store(true)
	w.setState(Abort)
	return true, nil
}

func (w *Weapon) toRTL() (bool, error) {
	w.mu.Lock()
	if !w.isValidTransition(w.state, RTL) {
		w.mu.Unlock()
		return false, errs.ErrInvalidTransition
	}
	w.mu.Unlock()
	w.setState(RTL)
	return true, nil
}

// Tick drives the automatic ON<->RTL interlock transition. Call it on the
// bank's periodic cadence (spec.md §4.4, default 100ms).
func (w *Weapon) Tick() {
	switch w.State() {
	case On:
		if w.interlock(w) {
			w.setState(RTL)
		}
	case RTL:
		if !w.interlock(w) {
			w.setState(On)
		}
	}
}

// sleepAbortable sleeps for d in 100ms slices (original_source's
// SleepWithAbortCheck granularity), returning true the moment the abort flag
// is observed so the caller can unwind early instead of completing the wait.
func (w *Weapon) sleepAbortable(d time.Duration) bool {
	const slice = 100 * time.Millisecond
	for remaining := d; remaining > 0; remaining -= slice {
		if w.abortFlag.Load() {
			return true
		}
		wait := slice
		if remaining < slice {
			wait = remaining
		}
		w.clock.Sleep(wait)
	}
	return w.abortFlag.Load()
}
