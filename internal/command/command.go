// Package command implements the Command Pipeline (spec.md §4.5): a
// two-tier priority queue feeding a single worker, immediate execution for
// bypassing history, and bounded undo/redo stacks.
package command

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tubebank/internal/clock"
	"tubebank/internal/errs"
	"tubebank/internal/telemetry/logging"
	"tubebank/internal/telemetry/metrics"
)

// Command is the polymorphic unit of work spec.md §3 describes: it carries
// enough state to Execute, Undo, and self-validate.
type Command interface {
	Execute() error
	Undo() error
	IsValid() bool
	// Description is a short human-readable label used in logs and history;
	// it must not depend on mutable state captured after construction.
	Description() string
}

// HistoryEntry is one immutable record of a dispatched command.
type HistoryEntry struct {
	ID        string
	Command   Command
	Err       error
	Timestamp time.Time
}

// Options configures a Pipeline's bounds and collaborators.
type Options struct {
	QueueCapacity int
	StackCapacity int
	HistoryLimit  int
	Clock         clock.Clock
	Logger        logging.Logger
	Metrics       metrics.Provider
	OnExecuted    func(HistoryEntry)
	OnFailed      func(HistoryEntry)
}

func (o *Options) normalize() {
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 256
	}
	if o.StackCapacity <= 0 {
		o.StackCapacity = 64
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 512
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Logger == nil {
		o.Logger = logging.New(nil)
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NewNoopProvider()
	}
}

// Pipeline is the single-worker, two-tier priority command processor.
type Pipeline struct {
	opts Options

	mu         sync.Mutex
	cond       *sync.Cond
	priorityQ  []Command
	normalQ    []Command
	paused     bool
	stopping   bool
	running    bool
	undoStack  []HistoryEntry
	redoStack  []HistoryEntry
	history    []HistoryEntry

	wg sync.WaitGroup

	enqueuedCounter metrics.Counter
	executedCounter metrics.Counter
	failedCounter   metrics.Counter
	queueDepth      metrics.Gauge
}

// New constructs a Pipeline. Call Start to spawn the worker.
func New(opts Options) *Pipeline {
	opts.normalize()
	p := &Pipeline{opts: opts}
	p.cond = sync.NewCond(&p.mu)
	p.enqueuedCounter = opts.Metrics.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "launchctl", Subsystem: "pipeline", Name: "commands_enqueued_total", Help: "Commands accepted onto a queue.", Labels: []string{"priority"}}})
	p.executedCounter = opts.Metrics.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "launchctl", Subsystem: "pipeline", Name: "commands_executed_total", Help: "Commands executed successfully."}})
	p.failedCounter = opts.Metrics.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "launchctl", Subsystem: "pipeline", Name: "commands_failed_total", Help: "Commands that returned an error from Execute."}})
	p.queueDepth = opts.Metrics.NewGauge(metrics.GaugeOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "launchctl", Subsystem: "pipeline", Name: "queue_depth", Help: "Current queue depth, by queue.", Labels: []string{"queue"}}})
	return p
}

// Start spawns the single worker goroutine. Safe to call once; a second
// call before Stop is a no-op.
func (p *Pipeline) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopping = false
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run()
}

// Stop requests the worker to exit, joins it, then drains both queues
// without executing the remaining commands.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.stopping = true
	p.cond.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()

	p.mu.Lock()
	p.priorityQ = nil
	p.normalQ = nil
	p.running = false
	p.mu.Unlock()
}

// Pause freezes normal-queue consumption; the priority queue keeps
// draining.
func (p *Pipeline) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// Resume wakes the worker to resume normal-queue consumption.
func (p *Pipeline) Resume() {
	p.mu.Lock()
	p.paused = false
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Enqueue validates and appends cmd to the normal queue.
func (p *Pipeline) Enqueue(cmd Command) (bool, error) {
	return p.enqueue(cmd, false)
}

// EnqueuePriority validates and appends cmd to the priority queue, used for
// emergency-stop and equivalents (spec.md §4.5).
func (p *Pipeline) EnqueuePriority(cmd Command) (bool, error) {
	return p.enqueue(cmd, true)
}

func (p *Pipeline) enqueue(cmd Command, priority bool) (bool, error) {
	label := "normal"
	if priority {
		label = "priority"
	}
	if cmd == nil || !cmd.IsValid() {
		p.opts.Logger.WarnCtx(context.Background(), "command rejected: invalid", "priority", priority)
		return false, errs.ErrInvalidCommand
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if priority {
		if len(p.priorityQ) >= p.opts.QueueCapacity {
			return false, errs.ErrQueueFull
		}
		p.priorityQ = append(p.priorityQ, cmd)
		p.queueDepth.Set(float64(len(p.priorityQ)), "priority")
	} else {
		if len(p.normalQ) >= p.opts.QueueCapacity {
			return false, errs.ErrQueueFull
		}
		p.normalQ = append(p.normalQ, cmd)
		p.queueDepth.Set(float64(len(p.normalQ)), "normal")
	}
	p.enqueuedCounter.Inc(1, label)
	p.cond.Broadcast()
	return true, nil
}

// ExecuteImmediate synchronously validates and runs cmd, recording history,
// but never touches the undo/redo stacks (spec.md §4.5).
func (p *Pipeline) ExecuteImmediate(cmd Command) error {
	if cmd == nil || !cmd.IsValid() {
		return errs.ErrInvalidCommand
	}
	err := cmd.Execute()
	entry := HistoryEntry{ID: uuid.NewString(), Command: cmd, Err: err, Timestamp: p.opts.Clock.Now()}
	p.mu.Lock()
	p.appendHistoryLocked(entry)
	p.mu.Unlock()
	p.fireResult(entry)
	return err
}

func (p *Pipeline) run() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for !p.stopping && len(p.priorityQ) == 0 && (p.paused || len(p.normalQ) == 0) {
			p.cond.Wait()
		}
		if p.stopping {
			p.mu.Unlock()
			return
		}
		var cmd Command
		if len(p.priorityQ) > 0 {
			cmd, p.priorityQ = p.priorityQ[0], p.priorityQ[1:]
			p.queueDepth.Set(float64(len(p.priorityQ)), "priority")
		} else {
			cmd, p.normalQ = p.normalQ[0], p.normalQ[1:]
			p.queueDepth.Set(float64(len(p.normalQ)), "normal")
		}
		p.mu.Unlock()

		p.dispatch(cmd)
	}
}

func (p *Pipeline) dispatch(cmd Command) {
	// A panicking command body is converted to a failed result so the
	// worker loop survives it.
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("command %q panicked: %v", cmd.Description(), r)
			}
		}()
		return cmd.Execute()
	}()
	entry := HistoryEntry{ID: uuid.NewString(), Command: cmd, Err: err, Timestamp: p.opts.Clock.Now()}

	p.mu.Lock()
	p.appendHistoryLocked(entry)
	if err == nil {
		p.pushBoundedLocked(&p.undoStack, entry)
		p.redoStack = nil
	}
	p.mu.Unlock()

	p.fireResult(entry)
}

func (p *Pipeline) fireResult(entry HistoryEntry) {
	if entry.Err == nil {
		p.executedCounter.Inc(1)
		if p.opts.OnExecuted != nil {
			p.opts.OnExecuted(entry)
		}
		return
	}
	p.failedCounter.Inc(1)
	p.opts.Logger.WarnCtx(context.Background(), "command failed", "command", entry.Command.Description(), "err", entry.Err.Error())
	if p.opts.OnFailed != nil {
		p.opts.OnFailed(entry)
	}
}

func (p *Pipeline) appendHistoryLocked(entry HistoryEntry) {
	p.history = append(p.history, entry)
	if over := len(p.history) - p.opts.HistoryLimit; over > 0 {
		p.history = p.history[over:]
	}
}

func (p *Pipeline) pushBoundedLocked(stack *[]HistoryEntry, entry HistoryEntry) {
	*stack = append(*stack, entry)
	if over := len(*stack) - p.opts.StackCapacity; over > 0 {
		*stack = (*stack)[over:]
	}
}

// Undo pops the undo stack and calls its command's Undo. On success the
// entry moves to the redo stack; on failure it is pushed back onto the undo
// stack so a later retry remains possible.
func (p *Pipeline) Undo() error {
	p.mu.Lock()
	if len(p.undoStack) == 0 {
		p.mu.Unlock()
		return errs.ErrEmptyStack
	}
	entry := p.undoStack[len(p.undoStack)-1]
	p.undoStack = p.undoStack[:len(p.undoStack)-1]
	p.mu.Unlock()

	err := entry.Command.Undo()
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.pushBoundedLocked(&p.undoStack, entry)
		return err
	}
	p.pushBoundedLocked(&p.redoStack, entry)
	return nil
}

// Redo pops the redo stack and re-executes its command via Execute,
// symmetric with Undo.
func (p *Pipeline) Redo() error {
	p.mu.Lock()
	if len(p.redoStack) == 0 {
		p.mu.Unlock()
		return errs.ErrEmptyStack
	}
	entry := p.redoStack[len(p.redoStack)-1]
	p.redoStack = p.redoStack[:len(p.redoStack)-1]
	p.mu.Unlock()

	err := entry.Command.Execute()
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.pushBoundedLocked(&p.redoStack, entry)
		return err
	}
	p.pushBoundedLocked(&p.undoStack, entry)
	return nil
}

// History returns a snapshot of the immutable dispatched-command history.
func (p *Pipeline) History() []HistoryEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]HistoryEntry, len(p.history))
	copy(out, p.history)
	return out
}

// QueueLengths returns (priority, normal) queue depths, for diagnostics.
func (p *Pipeline) QueueLengths() (priority, normal int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.priorityQ), len(p.normalQ)
}
