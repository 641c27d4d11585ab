package command

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tubebank/internal/bank"
	"tubebank/internal/plan"
	"tubebank/internal/weapon"
)

func fastBank(t *testing.T) *bank.Bank {
	t.Helper()
	wr := weapon.NewRegistry()
	fast := weapon.Specification{Name: "fast", PowerOnTime: 2 * time.Millisecond,
		LaunchSteps: []weapon.LaunchStep{{Description: "s", Duration: 2 * time.Millisecond}}}
	for _, k := range []weapon.Kind{weapon.KindALM, weapon.KindASM, weapon.KindAAM, weapon.KindWGT, weapon.KindMMINE, weapon.KindNA} {
		wr.SetSpecification(k, fast)
	}
	return bank.New(wr, plan.NewRegistry())
}

func TestAssignCommandExecuteAndUndo(t *testing.T) {
	b := fastBank(t)
	cmd := &AssignCommand{Bank: b, Tube: 1, Kind: weapon.KindALM}
	require.True(t, cmd.IsValid())
	require.NoError(t, cmd.Execute())

	st, err := b.Status(1)
	require.NoError(t, err)
	assert.Equal(t, weapon.KindALM, st.Kind)

	require.NoError(t, cmd.Undo())
	st, err = b.Status(1)
	require.NoError(t, err)
	assert.Empty(t, st.Kind)
}

func TestAssignCommandInvalidTubeRejectedByIsValid(t *testing.T) {
	b := fastBank(t)
	cmd := &AssignCommand{Bank: b, Tube: 99, Kind: weapon.KindALM}
	assert.False(t, cmd.IsValid())
}

func TestPipelineEnqueueRejectsInvalidCommand(t *testing.T) {
	p := New(Options{})
	p.Start()
	defer p.Stop()

	b := fastBank(t)
	bad := &AssignCommand{Bank: b, Tube: 0, Kind: weapon.KindALM}
	ok, err := p.Enqueue(bad)
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestPipelineExecutesEnqueuedCommandsInOrder(t *testing.T) {
	var mu sync.Mutex
	var executed []string

	p := New(Options{
		OnExecuted: func(e HistoryEntry) {
			mu.Lock()
			executed = append(executed, e.Command.Description())
			mu.Unlock()
		},
	})
	p.Start()
	defer p.Stop()

	b := fastBank(t)
	for i := 1; i <= 3; i++ {
		ok, err := p.Enqueue(&AssignCommand{Bank: b, Tube: i, Kind: weapon.KindALM})
		require.True(t, ok)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(executed) == 3
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"assign tube=1 kind=ALM", "assign tube=2 kind=ALM", "assign tube=3 kind=ALM"}, executed)
}

func TestPipelinePriorityQueueDrainsBeforeNormal(t *testing.T) {
	var mu sync.Mutex
	var order []string

	p := New(Options{
		OnExecuted: func(e HistoryEntry) {
			mu.Lock()
			order = append(order, e.Command.Description())
			mu.Unlock()
		},
	})
	b := fastBank(t)

	// Pause before starting so both queues fill before the worker drains
	// either of them, making the priority-first ordering deterministic.
	p.Pause()
	p.Start()

	_, _ = p.Enqueue(&AssignCommand{Bank: b, Tube: 1, Kind: weapon.KindALM})
	_, _ = p.EnqueuePriority(&AssignCommand{Bank: b, Tube: 2, Kind: weapon.KindALM})

	p.Resume()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, time.Millisecond)

	p.Stop()
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "assign tube=2 kind=ALM", order[0], "priority command must execute first")
}

func TestPipelinePauseFreezesNormalQueueOnly(t *testing.T) {
	p := New(Options{})
	p.Start()
	defer p.Stop()
	p.Pause()

	b := fastBank(t)
	ok, err := p.Enqueue(&AssignCommand{Bank: b, Tube: 1, Kind: weapon.KindALM})
	require.True(t, ok)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	st, _ := b.Status(1)
	assert.Empty(t, st.Kind, "normal queue must not drain while paused")

	p.Resume()
	require.Eventually(t, func() bool {
		st, _ := b.Status(1)
		return st.Kind == weapon.KindALM
	}, time.Second, time.Millisecond)
}

func TestPipelineUndoRedoRoundTrip(t *testing.T) {
	p := New(Options{})
	p.Start()
	defer p.Stop()

	b := fastBank(t)
	ok, err := p.Enqueue(&AssignCommand{Bank: b, Tube: 1, Kind: weapon.KindALM})
	require.True(t, ok)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, _ := b.Status(1)
		return st.Kind == weapon.KindALM
	}, time.Second, time.Millisecond)

	require.NoError(t, p.Undo())
	st, _ := b.Status(1)
	assert.Empty(t, st.Kind)

	require.NoError(t, p.Redo())
	st, _ = b.Status(1)
	assert.Equal(t, weapon.KindALM, st.Kind)
}

func TestPipelineUndoOnEmptyStackReturnsError(t *testing.T) {
	p := New(Options{})
	p.Start()
	defer p.Stop()
	assert.Error(t, p.Undo())
	assert.Error(t, p.Redo())
}

func TestExecuteImmediateBypassesUndoStack(t *testing.T) {
	p := New(Options{})
	b := fastBank(t)
	cmd := &AssignCommand{Bank: b, Tube: 1, Kind: weapon.KindALM}
	require.NoError(t, p.ExecuteImmediate(cmd))

	st, _ := b.Status(1)
	assert.Equal(t, weapon.KindALM, st.Kind)
	assert.Error(t, p.Undo(), "ExecuteImmediate must not push onto the undo stack")
}

func TestPipelineStopDrainsQueuesWithoutExecuting(t *testing.T) {
	p := New(Options{})
	p.Pause()
	p.Start()

	b := fastBank(t)
	_, _ = p.Enqueue(&AssignCommand{Bank: b, Tube: 1, Kind: weapon.KindALM})
	p.Stop()

	time.Sleep(10 * time.Millisecond)
	st, _ := b.Status(1)
	assert.Empty(t, st.Kind)

	pr, nr := p.QueueLengths()
	assert.Equal(t, 0, pr)
	assert.Equal(t, 0, nr)
}

func TestWeaponControlCommandUndoRestoresPriorState(t *testing.T) {
	b := fastBank(t)
	_, err := b.Assign(1, weapon.KindALM, plan.Assignment{})
	require.NoError(t, err)

	cmd := &WeaponControlCommand{Bank: b, Tube: 1, Target: weapon.On}
	require.True(t, cmd.IsValid())
	require.NoError(t, cmd.Execute())

	require.Eventually(t, func() bool {
		st, _ := b.Status(1)
		return st.Weapon == weapon.On
	}, time.Second, time.Millisecond)

	err = cmd.Undo()
	// ON -> OFF is a valid edge, so undo should succeed synchronously.
	require.NoError(t, err)
	st, _ := b.Status(1)
	assert.Equal(t, weapon.Off, st.Weapon)
}

func TestEmergencyStopCommandIsAlwaysValidAndNotUndoable(t *testing.T) {
	b := fastBank(t)
	cmd := &EmergencyStopCommand{Bank: b}
	assert.True(t, cmd.IsValid())
	assert.NoError(t, cmd.Execute())
	assert.Error(t, cmd.Undo())
}

func TestWaypointUpdateCommandRejectsUnassignedTube(t *testing.T) {
	b := fastBank(t)
	cmd := &WaypointUpdateCommand{Bank: b, Tube: 1}
	require.True(t, cmd.IsValid())
	assert.Error(t, cmd.Execute())
}
