// Package events implements the Event Publisher (spec.md §4.6): a bank-wide
// fan-out of weapon/tube/command/system events to weakly-held subscribers,
// with a periodic sweep to reclaim garbage-collected ones.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tubebank/internal/clock"
	"tubebank/internal/telemetry/logging"
	"tubebank/internal/telemetry/metrics"
	"tubebank/internal/weakobs"
)

// Kind enumerates the event taxonomy spec.md §4.6 names.
type Kind string

const (
	KindStateChanged          Kind = "state_changed"
	KindPlanUpdated           Kind = "plan_updated"
	KindTrajectoryCalculated  Kind = "trajectory_calculated"
	KindWeaponAssigned        Kind = "weapon_assigned"
	KindWeaponUnassigned      Kind = "weapon_unassigned"
	KindCommandExecuted       Kind = "command_executed"
	KindSystemStarted         Kind = "system_started"
	KindSystemStopped         Kind = "system_stopped"
	KindError                 Kind = "error"
)

// Event is one published notification. Payload is kind-specific (e.g. a
// weapon.CtrlState pair, a plan.EngagementPlan, an error) and left untyped
// the way the teacher's own telemetry event envelope does, since the set of
// payload shapes is closed over Kind and subscribers switch on Kind first.
type Event struct {
	ID        string
	Kind      Kind
	TubeNumber int
	Timestamp time.Time
	Payload   any
}

// Subscriber receives published events. Implementations must be cheap and
// non-blocking; Publisher recovers from any panic a Subscriber raises.
type Subscriber interface {
	OnEvent(Event)
}

// Publisher is the bank-wide event fan-out. Subscribers are held weakly via
// weakobs.Registry, so a subscriber that drops its strong reference is
// reclaimed automatically rather than leaking.
type Publisher struct {
	registry weakobs.Registry[Subscriber]
	clock    clock.Clock
	logger   logging.Logger

	publishedCounter metrics.Counter
	droppedCounter   metrics.Counter
}

// New constructs a Publisher. A nil logger defaults to logging.New(nil); a
// nil provider defaults to a no-op metrics.Provider.
func New(c clock.Clock, logger logging.Logger, provider metrics.Provider) *Publisher {
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = logging.New(nil)
	}
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	p := &Publisher{clock: c, logger: logger}
	p.publishedCounter = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "launchctl", Subsystem: "events", Name: "published_total", Help: "Events published, by kind.", Labels: []string{"kind"}}})
	p.droppedCounter = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "launchctl", Subsystem: "events", Name: "subscriber_drops_total", Help: "Subscribers found expired (garbage-collected) at publish time."}})
	return p
}

// Subscribe registers a weak reference to obs. See weakobs.Add for the
// duplicate-subscription contract.
func Subscribe[T any](p *Publisher, obs *T, asSubscriber func(*T) Subscriber) (id int64, ok bool) {
	return weakobs.Add(&p.registry, obs, asSubscriber)
}

// Unsubscribe removes a previously registered subscriber by id.
func (p *Publisher) Unsubscribe(id int64) { p.registry.Remove(id) }

// Sweep reclaims expired subscriber entries; call on a periodic cadence
// (spec.md §4.6 default: every 5 minutes) independent of publish traffic.
func (p *Publisher) Sweep() int { return p.registry.Sweep() }

// SubscriberCount returns the current (unswept) number of registered
// subscribers.
func (p *Publisher) SubscriberCount() int { return p.registry.Len() }

// Publish constructs and fans out an Event of the given kind for tubeNumber
// (0 if the event is bank- or system-scoped rather than tube-scoped).
func (p *Publisher) Publish(kind Kind, tubeNumber int, payload any) {
	evt := Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		TubeNumber: tubeNumber,
		Timestamp:  p.clock.Now(),
		Payload:    payload,
	}
	p.publishedCounter.Inc(1, string(kind))
	delivered, expired := p.registry.Notify(func(s Subscriber) {
		s.OnEvent(evt)
	}, func(recovered any) {
		p.logger.ErrorCtx(context.Background(), "event subscriber panicked", "recovered", recovered, "kind", string(kind))
	})
	if expired > 0 {
		p.droppedCounter.Inc(float64(expired))
	}
	p.logger.InfoCtx(context.Background(), "published event", "kind", string(kind), "tube", tubeNumber,
		"delivered", delivered, "expired", expired)
}

// StateChanged publishes KindStateChanged for a weapon control-state edge.
func (p *Publisher) StateChanged(tubeNumber int, old, new any) {
	p.Publish(KindStateChanged, tubeNumber, struct{ Old, New any }{old, new})
}

// PlanUpdated publishes KindPlanUpdated carrying the recomputed plan result.
func (p *Publisher) PlanUpdated(tubeNumber int, result any) {
	p.Publish(KindPlanUpdated, tubeNumber, result)
}

// WeaponAssigned publishes KindWeaponAssigned for a successful Assign.
func (p *Publisher) WeaponAssigned(tubeNumber int, kind any) {
	p.Publish(KindWeaponAssigned, tubeNumber, kind)
}

// WeaponUnassigned publishes KindWeaponUnassigned for a successful Unassign.
func (p *Publisher) WeaponUnassigned(tubeNumber int, kind any) {
	p.Publish(KindWeaponUnassigned, tubeNumber, kind)
}

// CommandExecuted publishes KindCommandExecuted, carrying the command's
// description and its execution error (nil on success).
func (p *Publisher) CommandExecuted(description string, err error) {
	p.Publish(KindCommandExecuted, 0, struct {
		Description string
		Err         error
	}{description, err})
}

// SystemStarted publishes KindSystemStarted with no payload.
func (p *Publisher) SystemStarted() { p.Publish(KindSystemStarted, 0, nil) }

// SystemStopped publishes KindSystemStopped with no payload.
func (p *Publisher) SystemStopped() { p.Publish(KindSystemStopped, 0, nil) }

// Error publishes KindError, carrying the originating error.
func (p *Publisher) Error(tubeNumber int, err error) {
	p.Publish(KindError, tubeNumber, err)
}
