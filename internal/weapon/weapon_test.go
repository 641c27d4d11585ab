package weapon

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tubebank/internal/errs"
)

func fastSpec() Specification {
	return Specification{
		Name:        "TEST",
		PowerOnTime: 10 * time.Millisecond,
		LaunchSteps: []LaunchStep{
			{Description: "s1", Duration: 10 * time.Millisecond},
			{Description: "s2", Duration: 10 * time.Millisecond},
		},
	}
}

func waitForState(t *testing.T, w *Weapon, want CtrlState, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if w.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, want, w.State(), "timed out waiting for state")
}

type recordingObserver struct {
	mu      sync.Mutex
	states  []CtrlState
	launchN int
}

func (o *recordingObserver) OnStateChanged(tube int, old, new CtrlState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, new)
}

func (o *recordingObserver) OnLaunchStatusChanged(tube int, launched bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.launchN++
}

func (o *recordingObserver) snapshot() []CtrlState {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]CtrlState, len(o.states))
	copy(out, o.states)
	return out
}

func TestTurnOnCompletesToOn(t *testing.T) {
	w := New(KindALM, 1, fastSpec())
	ok, err := w.RequestState(On)
	require.NoError(t, err)
	require.True(t, ok)
	waitForState(t, w, On, time.Second)
}

func TestTurnOffAbortsInFlightTurnOn(t *testing.T) {
	w := New(KindALM, 2, Specification{Name: "slow", PowerOnTime: time.Second})
	ok, err := w.RequestState(On)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, POC, w.State())

	ok, err = w.RequestState(Off)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Off, w.State())

	// the in-flight goroutine must not clobber the OFF state moments later.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, Off, w.State())
}

func TestLaunchSequenceSetsLaunchedAndPostLaunch(t *testing.T) {
	w := New(KindALM, 3, fastSpec())
	w.setState(On)
	_, err := w.RequestState(RTL)
	require.NoError(t, err)
	ok, err := w.RequestState(Launch)
	require.NoError(t, err)
	require.True(t, ok)
	waitForState(t, w, PostLaunch, time.Second)
	assert.True(t, w.Launched())
}

func TestInvalidTransitionRejected(t *testing.T) {
	w := New(KindALM, 4, fastSpec())
	ok, err := w.RequestState(Launch)
	assert.False(t, ok)
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)
}

func TestTickAutoTransitionsOnInterlock(t *testing.T) {
	w := New(KindALM, 5, fastSpec())
	w.setState(On)
	w.SetFireSolutionReady(true)
	w.Tick()
	assert.Equal(t, RTL, w.State())

	w.SetFireSolutionReady(false)
	w.Tick()
	assert.Equal(t, On, w.State())
}

func TestObserverWeakReferenceExpiresAfterSubscriberDropped(t *testing.T) {
	w := New(KindALM, 6, fastSpec())
	obs := &recordingObserver{}
	id, ok := Subscribe(w, obs, func(o *recordingObserver) Observer { return o })
	require.True(t, ok)
	require.NotZero(t, id)

	w.setState(On)
	require.Contains(t, obs.snapshot(), On)

	obs = nil
	for i := 0; i < 20 && w.observers.Len() > 0; i++ {
		runtime.GC()
		w.SweepObservers()
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 0, w.observers.Len())
}

func TestDuplicateSubscribeIsNoOp(t *testing.T) {
	w := New(KindALM, 7, fastSpec())
	obs := &recordingObserver{}
	id1, ok1 := Subscribe(w, obs, func(o *recordingObserver) Observer { return o })
	require.True(t, ok1)
	id2, ok2 := Subscribe(w, obs, func(o *recordingObserver) Observer { return o })
	assert.False(t, ok2)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, w.observers.Len())
}

func TestPanicInObserverIsIsolated(t *testing.T) {
	w := New(KindALM, 8, fastSpec())
	var recovered any
	w.SetOnPanic(func(r any) { recovered = r })

	type panicker struct{}
	p := &panicker{}
	_, ok := Subscribe[panicker](w, p, func(pp *panicker) Observer { return panicObserver{} })
	require.True(t, ok)

	assert.NotPanics(t, func() { w.setState(On) })
	assert.NotNil(t, recovered)
}

func TestAbortDuringPOCReachesAbort(t *testing.T) {
	w := New(KindALM, 9, Specification{Name: "slow", PowerOnTime: time.Second})
	ok, err := w.RequestState(On)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, POC, w.State())

	ok, err = w.RequestState(Abort)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Abort, w.State())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, Abort, w.State())
}

func TestCanTransitionAllowsOffFromPOC(t *testing.T) {
	w := New(KindALM, 10, fastSpec())
	w.setState(POC)
	assert.True(t, w.CanTransition(Off))
}

type panicObserver struct{}

func (panicObserver) OnStateChanged(tube int, old, new CtrlState) { panic("boom") }
func (panicObserver) OnLaunchStatusChanged(tube int, launched bool) {}
