// Package controller implements the Controller (spec.md §4.7): the
// orchestrator that wires C1–C6 together, translates bus events into
// commands or direct environment updates, owns the three periodic
// cadences, and sequences shutdown.
package controller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"tubebank/internal/bank"
	"tubebank/internal/bus"
	"tubebank/internal/clock"
	"tubebank/internal/command"
	"tubebank/internal/config"
	"tubebank/internal/events"
	"tubebank/internal/mineplan"
	"tubebank/internal/plan"
	"tubebank/internal/telemetry/logging"
	"tubebank/internal/telemetry/metrics"
	"tubebank/internal/tube"
	"tubebank/internal/weapon"
)

// Controller wires the tube bank, command pipeline, and event publisher
// together and implements bus.Ingress. Construct with New, then Start/Stop.
type Controller struct {
	bank      *bank.Bank
	pipeline  *command.Pipeline
	publisher *events.Publisher
	egress    bus.Egress
	planStore mineplan.Store

	cfg    config.Config
	logger logging.Logger
	clock  clock.Clock

	totalCommands atomic.Int64

	stateTransitions metrics.Counter
	launchCounter    metrics.Counter
	abortCounter     metrics.Counter
	planRecomputeDur func() metrics.Timer

	stopCh    chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// Option configures a Controller at construction time.
type Option func(*Controller)

// WithEgress installs the bus-egress sink used to publish outbound
// telemetry. Nil (the default) silently drops egress calls.
func WithEgress(e bus.Egress) Option { return func(c *Controller) { c.egress = e } }

// WithPlanStore installs the mine-drop plan store collaborator. Nil (the
// default) makes mine-plan bus events no-ops.
func WithPlanStore(s mineplan.Store) Option { return func(c *Controller) { c.planStore = s } }

// WithLogger overrides the structured logger.
func WithLogger(l logging.Logger) Option { return func(c *Controller) { c.logger = l } }

// WithMetrics overrides the metrics provider.
func WithMetrics(p metrics.Provider) Option {
	return func(c *Controller) {
		c.stateTransitions = p.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "launchctl", Subsystem: "controller", Name: "state_transitions_total", Help: "Weapon control-state transitions observed."}})
		c.launchCounter = p.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "launchctl", Subsystem: "controller", Name: "launches_total", Help: "Launch edges observed."}})
		c.abortCounter = p.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "launchctl", Subsystem: "controller", Name: "aborts_total", Help: "Abort edges observed."}})
		c.planRecomputeDur = p.NewTimer(metrics.HistogramOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "launchctl", Subsystem: "controller", Name: "plan_recompute_seconds", Help: "Duration of a full plan-recompute pass."}})
	}
}

// WithClock overrides the clock used for the periodic loop's cadence
// bookkeeping and egress timestamps.
func WithClock(cl clock.Clock) Option { return func(c *Controller) { c.clock = cl } }

// WithConfig overrides the periodic-cadence configuration.
func WithConfig(cfg config.Config) Option { return func(c *Controller) { c.cfg = cfg } }

// New wires b's callbacks to publisher/egress and returns a Controller
// ready to Start.
func New(b *bank.Bank, pipeline *command.Pipeline, publisher *events.Publisher, opts ...Option) *Controller {
	c := &Controller{
		bank:      b,
		pipeline:  pipeline,
		publisher: publisher,
		logger:    logging.New(nil),
		clock:     clock.Real(),
		cfg:       config.Defaults(),
		stopCh:    make(chan struct{}),
	}
	noop := metrics.NewNoopProvider()
	WithMetrics(noop)(c)
	for _, opt := range opts {
		opt(c)
	}
	b.SetCallbacks(c.onStateChange, c.onLaunchStatus, c.onPlanUpdated, c.onAssignmentChange)
	return c
}

// TotalCommands returns the number of commands accepted onto either queue
// since construction (spec.md §4.7's "total-commands statistic").
func (c *Controller) TotalCommands() int64 { return c.totalCommands.Load() }

func (c *Controller) onStateChange(tubeNum int, old, new weapon.CtrlState) {
	c.stateTransitions.Inc(1)
	if new == weapon.Launch {
		c.launchCounter.Inc(1)
	}
	if new == weapon.Abort {
		c.abortCounter.Inc(1)
	}
	c.publisher.StateChanged(tubeNum, old, new)
}

func (c *Controller) onLaunchStatus(tubeNum int, launched bool) {
	c.publisher.Publish(events.KindStateChanged, tubeNum, struct{ Launched bool }{launched})
}

func (c *Controller) onPlanUpdated(tubeNum int, result plan.EngagementPlan) {
	c.publisher.PlanUpdated(tubeNum, result)
	if c.egress != nil {
		if err := c.egress.PublishMineEpResult(bus.MineEpResultMsg{Tube: tubeNum, Result: result, Timestamp: c.clock.Now()}); err != nil {
			c.logger.WarnCtx(context.Background(), "publish engagement result failed", "tube", tubeNum, "err", err.Error())
		}
	}
}

func (c *Controller) onAssignmentChange(tubeNum int, kind weapon.Kind, assigned bool) {
	if assigned {
		c.publisher.WeaponAssigned(tubeNum, kind)
	} else {
		c.publisher.WeaponUnassigned(tubeNum, kind)
	}
	if c.egress != nil {
		if err := c.egress.PublishAssignResponse(bus.AssignResponseMsg{Tube: tubeNum, Kind: kind, Success: true}); err != nil {
			c.logger.WarnCtx(context.Background(), "publish assign response failed", "tube", tubeNum, "err", err.Error())
		}
	}
}

// Start spawns the pipeline worker and the periodic loop, then publishes
// system-started. Safe to call once.
func (c *Controller) Start() {
	c.startOnce.Do(func() {
		c.pipeline.Start()
		c.wg.Add(1)
		go c.runPeriodic()
		c.publisher.SystemStarted()
	})
}

// Stop sequences shutdown per spec.md §4.7: stop the pipeline, stop the
// bank, join the periodic loop, publish system-stopped. Idempotent.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.pipeline.Stop()
		c.bank.Close()
		close(c.stopCh)
		c.wg.Wait()
		c.publisher.SystemStopped()
	})
}

func (c *Controller) runPeriodic() {
	defer c.wg.Done()
	bankTick := c.cfg.Periodic.BankTick
	if bankTick <= 0 {
		bankTick = 100 * time.Millisecond
	}
	lastPlan := c.clock.Now()
	lastPublish := c.clock.Now()

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		c.safeCall("bank-tick", c.bank.Tick)

		now := c.clock.Now()
		if now.Sub(lastPlan) >= c.cfg.Periodic.PlanRecompute {
			lastPlan = now
			c.safeCall("plan-recompute", c.recomputePlans)
		}
		if now.Sub(lastPublish) >= c.cfg.Periodic.ResultPublish {
			lastPublish = now
			c.safeCall("publish-refresh", c.publishResultsAndRefresh)
		}

		c.clock.Sleep(bankTick)
	}
}

func (c *Controller) recomputePlans() {
	stop := c.planRecomputeDur()
	defer stop.ObserveDuration()
	c.bank.ComputeAllPlans()
}

func (c *Controller) publishResultsAndRefresh() {
	for tubeNum, result := range c.bank.AllResults() {
		if c.egress != nil {
			if err := c.egress.PublishMineEpResult(bus.MineEpResultMsg{Tube: tubeNum, Result: result, Timestamp: c.clock.Now()}); err != nil {
				c.logger.WarnCtx(context.Background(), "periodic publish failed", "tube", tubeNum, "err", err.Error())
			}
		}
	}
	for _, st := range c.bank.AllStatus() {
		if st.State == tube.Empty {
			continue
		}
		c.publisher.Publish(events.KindStateChanged, st.Number, st.Weapon)
	}
}

// safeCall isolates a periodic task: a panic is recovered, logged, and the
// loop continues at the next cadence boundary (spec.md §4.7).
func (c *Controller) safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.ErrorCtx(context.Background(), "periodic task panicked", "task", name, "recovered", r)
		}
	}()
	fn()
}

func (c *Controller) enqueue(cmd command.Command, priority bool) {
	var ok bool
	var err error
	if priority {
		ok, err = c.pipeline.EnqueuePriority(cmd)
	} else {
		ok, err = c.pipeline.Enqueue(cmd)
	}
	if ok {
		c.totalCommands.Add(1)
		return
	}
	c.logger.WarnCtx(context.Background(), "command rejected", "command", cmd.Description(), "err", errString(err))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// OnAssignCommand implements bus.Ingress.
func (c *Controller) OnAssignCommand(msg bus.AssignCommandMsg) {
	c.enqueue(&command.AssignCommand{Bank: c.bank, Tube: msg.Tube, Kind: msg.Kind, Assignment: msg.Assignment}, false)
}

// OnWeaponControl implements bus.Ingress. Tube == 0 means "all tubes"; a
// target of Abort is always treated as an emergency variant and enqueued
// with priority (spec.md §4.7).
func (c *Controller) OnWeaponControl(msg bus.WeaponControlMsg) {
	priority := msg.Target == weapon.Abort
	if msg.Tube == 0 {
		c.enqueue(&command.AllWeaponControlCommand{Bank: c.bank, Target: msg.Target}, priority)
		return
	}
	c.enqueue(&command.WeaponControlCommand{Bank: c.bank, Tube: msg.Tube, Target: msg.Target}, priority)
}

// OnWaypointUpdate implements bus.Ingress.
func (c *Controller) OnWaypointUpdate(msg bus.WaypointUpdateMsg) {
	c.enqueue(&command.WaypointUpdateCommand{Bank: c.bank, Tube: msg.Tube, Waypoints: msg.Waypoints}, false)
}

// OnOwnShipNav implements bus.Ingress: direct environment update, bypassing
// the command pipeline (spec.md §4.7).
func (c *Controller) OnOwnShipNav(msg bus.OwnShipNavMsg) { c.bank.UpdateOwnShip(msg.Info) }

// OnTargetInfo implements bus.Ingress: direct environment update.
func (c *Controller) OnTargetInfo(msg bus.TargetInfoMsg) { c.bank.UpdateTarget(msg.Info) }

// OnAxisCenter implements bus.Ingress: direct environment update.
func (c *Controller) OnAxisCenter(msg bus.AxisCenterMsg) { c.bank.SetAxisCenter(msg.Center) }

// OnProhibitedAreaInfo implements bus.Ingress. The core does not interpret
// prohibited areas (spec.md §1 non-goal); the event is logged for
// observability only.
func (c *Controller) OnProhibitedAreaInfo(msg bus.ProhibitedAreaInfoMsg) {
	c.logger.InfoCtx(context.Background(), "prohibited area update received", "count", len(msg.Areas))
}

// OnMinePlanRequest implements bus.Ingress: loads the requested plan list
// from the plan store and publishes it on the bus.
func (c *Controller) OnMinePlanRequest(msg bus.MinePlanRequestMsg) {
	if c.planStore == nil {
		return
	}
	list, err := c.planStore.Load(uint32(msg.ListNumber))
	if err != nil {
		c.publisher.Error(0, err)
		return
	}
	if c.egress != nil {
		if err := c.egress.PublishMinePlanList(bus.MinePlanListMsg{ListNumber: msg.ListNumber, Plans: list.Plans}); err != nil {
			c.logger.WarnCtx(context.Background(), "publish mine plan list failed", "err", err.Error())
		}
	}
}

// OnMineEditedPlanList implements bus.Ingress: forwards an edited plan list
// to the plan store.
func (c *Controller) OnMineEditedPlanList(msg bus.MineEditedPlanListMsg) {
	if c.planStore == nil {
		return
	}
	list, ok := msg.List.(mineplan.PlanList)
	if !ok {
		c.logger.WarnCtx(context.Background(), "mine edited plan list: unexpected payload type")
		return
	}
	if err := c.planStore.Save(list); err != nil {
		c.publisher.Error(0, err)
	}
}

// OnMineSelectedPlan implements bus.Ingress. Plan selection is recorded for
// observability; applying a selected plan to a tube's assignment is done via
// the ordinary AssignCommand path.
func (c *Controller) OnMineSelectedPlan(msg bus.MineSelectedPlanMsg) {
	c.logger.InfoCtx(context.Background(), "mine plan selected", "number", msg.Number)
}

// OnAIWaypointInferenceRequest implements bus.Ingress: the inference
// subsystem itself is out of scope, so the request is forwarded verbatim.
func (c *Controller) OnAIWaypointInferenceRequest(msg bus.AIWaypointInferenceRequestMsg) {
	if c.egress != nil {
		_ = c.egress.PublishInternalInferRequest(bus.InternalInferRequestMsg{Payload: msg.Params})
	}
}

// OnInferenceResult implements bus.Ingress: forwards an inference result
// onward as an AI waypoint inference result.
func (c *Controller) OnInferenceResult(msg bus.InferenceResultMsg) {
	if c.egress != nil {
		_ = c.egress.PublishAIWaypointInferResult(bus.AIWaypointInferResultMsg{Payload: msg.Payload})
	}
}

var _ bus.Ingress = (*Controller)(nil)
