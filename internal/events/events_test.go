package events

import (
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	p := New(nil, nil, nil)
	rec := &recorder{}
	_, ok := Subscribe(p, rec, func(r *recorder) Subscriber { return r })
	require.True(t, ok)

	p.WeaponAssigned(3, "ALM")

	got := rec.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, KindWeaponAssigned, got[0].Kind)
	assert.Equal(t, 3, got[0].TubeNumber)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestDuplicateSubscribeIsNoOp(t *testing.T) {
	p := New(nil, nil, nil)
	rec := &recorder{}
	id1, ok1 := Subscribe(p, rec, func(r *recorder) Subscriber { return r })
	id2, ok2 := Subscribe(p, rec, func(r *recorder) Subscriber { return r })
	require.True(t, ok1)
	require.False(t, ok2)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, p.SubscriberCount())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	p := New(nil, nil, nil)
	rec := &recorder{}
	id, _ := Subscribe(p, rec, func(r *recorder) Subscriber { return r })
	p.Unsubscribe(id)
	p.SystemStarted()
	assert.Empty(t, rec.snapshot())
}

func TestExpiredSubscriberIsReclaimedOnPublish(t *testing.T) {
	p := New(nil, nil, nil)
	func() {
		rec := &recorder{}
		_, ok := Subscribe(p, rec, func(r *recorder) Subscriber { return r })
		require.True(t, ok)
	}()

	runtime.GC()
	runtime.GC()
	p.SystemStopped()

	assert.Eventually(t, func() bool { return p.SubscriberCount() == 0 }, time.Second, time.Millisecond)
}

func TestSubscriberPanicIsIsolated(t *testing.T) {
	p := New(nil, nil, nil)
	rec := &recorder{}
	_, _ = Subscribe(p, rec, func(r *recorder) Subscriber { return r })

	panicker := &panicSubscriber{}
	_, _ = Subscribe(p, panicker, func(ps *panicSubscriber) Subscriber { return ps })

	assert.NotPanics(t, func() { p.SystemStarted() })
	assert.Len(t, rec.snapshot(), 1)
}

type panicSubscriber struct{}

func (p *panicSubscriber) OnEvent(Event) { panic("boom") }

func TestCommandExecutedCarriesError(t *testing.T) {
	p := New(nil, nil, nil)
	rec := &recorder{}
	_, _ = Subscribe(p, rec, func(r *recorder) Subscriber { return r })

	p.CommandExecuted("assign tube=1", errors.New("nope"))

	got := rec.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, KindCommandExecuted, got[0].Kind)
}

func TestSweepRemovesExpiredWithoutPublishing(t *testing.T) {
	p := New(nil, nil, nil)
	func() {
		rec := &recorder{}
		_, _ = Subscribe(p, rec, func(r *recorder) Subscriber { return r })
	}()
	runtime.GC()
	runtime.GC()
	removed := p.Sweep()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, p.SubscriberCount())
}
