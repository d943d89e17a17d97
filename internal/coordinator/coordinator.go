// Package coordinator serializes automation requests against the single
// shared device. A new request always preempts the one in flight: the
// previous body is cancelled, the target app is force-stopped to get the
// device back to a known state, and only then does the new body run. A
// previous body that outlives the cancel wait is abandoned; once it finally
// releases the device the app is force-stopped again.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mj1618/droid-order/internal/ctxlog"
	"github.com/mj1618/droid-order/internal/model"
)

var (
	// ErrSuperseded is the cancellation cause given to a task preempted by a
	// newer request.
	ErrSuperseded = errors.New("superseded by a newer request")
	// ErrCancelled is reported for tasks cancelled for any other reason.
	ErrCancelled = errors.New("task cancelled")
)

// Messages returned to callers for cancelled tasks. They are spoken back to
// the user, so they must not read like an app error.
const (
	MessageSuperseded = "操作被新的请求取消"
	MessageCancelled  = "操作被取消"
)

// DefaultCancelWait bounds how long a new request waits for the previous
// one to unwind.
const DefaultCancelWait = 5 * time.Second

// Body is the work of one task. It must return promptly once ctx is done.
type Body func(ctx context.Context) (model.Result, error)

// TaskHandle identifies one accepted request.
type TaskHandle struct {
	ID          string
	Description string
	StartedAt   time.Time

	cancel context.CancelCauseFunc
	done   chan struct{}
}

// Done is closed once the task's body has returned or the task gave up
// waiting for the gate.
func (h *TaskHandle) Done() <-chan struct{} { return h.done }

// Options configures a Coordinator.
type Options struct {
	CancelWait time.Duration
	// ForceStop resets the device after a preemption. Its failures are the
	// callee's to log; the coordinator never sees them.
	ForceStop func(ctx context.Context)
}

// Coordinator owns the mutual-exclusion gate and the current-task slot.
type Coordinator struct {
	opts Options
	gate chan struct{}

	mu      sync.Mutex
	current *TaskHandle
}

// New creates a Coordinator.
func New(opts Options) *Coordinator {
	if opts.CancelWait <= 0 {
		opts.CancelWait = DefaultCancelWait
	}
	return &Coordinator{opts: opts, gate: make(chan struct{}, 1)}
}

// Current returns the handle of the task in the slot, if any.
func (c *Coordinator) Current() (*TaskHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.current != nil
}

// Submit runs body as the current task, preempting whatever was running.
// It never returns an error and never panics: every outcome, including
// cancellation and a panicking body, is folded into the Result.
func (c *Coordinator) Submit(ctx context.Context, description string, body Body) model.Result {
	h, taskCtx := c.accept(ctx, description)
	defer c.clear(h)
	log := ctxlog.FromContext(taskCtx)
	log.Info("task accepted")

	abandoned := false
	if prev := c.swap(h); prev != nil {
		abandoned = c.preempt(taskCtx, prev)
	}

	if err := c.acquire(taskCtx); err != nil {
		close(h.done)
		log.Info("task cancelled before start")
		return cancelled(taskCtx)
	}
	if abandoned && c.opts.ForceStop != nil {
		// The abandoned body kept driving the device after the first stop.
		log.Info("resetting app after abandoned task")
		c.opts.ForceStop(context.WithoutCancel(taskCtx))
	}

	start := time.Now()
	res := c.run(taskCtx, body)
	close(h.done)
	<-c.gate
	log.Info("task finished", "success", res.Success, "elapsed", time.Since(start).Round(time.Millisecond))
	return res
}

func (c *Coordinator) accept(ctx context.Context, description string) (*TaskHandle, context.Context) {
	taskCtx, cancel := context.WithCancelCause(ctx)
	h := &TaskHandle{
		ID:          uuid.NewString(),
		Description: description,
		StartedAt:   time.Now(),
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	taskCtx = ctxlog.With(taskCtx, "task", h.ID, "description", description)
	return h, taskCtx
}

// acquire takes the gate, blocking until it is free or ctx is done.
func (c *Coordinator) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case c.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// swap makes h current and returns the handle it replaced.
func (c *Coordinator) swap(h *TaskHandle) *TaskHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.current
	c.current = h
	return prev
}

// preempt cancels prev, waits for it to unwind within CancelWait, and
// force-stops the app. The stop runs even when prev finished cleanly,
// since the screen it left behind is unknown. It reports whether prev was
// abandoned still running.
func (c *Coordinator) preempt(ctx context.Context, prev *TaskHandle) bool {
	log := ctxlog.FromContext(ctx)
	log.Info("cancelling previous task", "previous", prev.ID, "previous_description", prev.Description)
	prev.cancel(ErrSuperseded)

	abandoned := false
	t := time.NewTimer(c.opts.CancelWait)
	defer t.Stop()
	select {
	case <-prev.done:
	case <-t.C:
		abandoned = true
		log.Warn("previous task did not stop in time, abandoning it", "previous", prev.ID, "wait", c.opts.CancelWait)
	}

	if c.opts.ForceStop != nil {
		c.opts.ForceStop(context.WithoutCancel(ctx))
	}
	return abandoned
}

// clear empties the slot if it still holds h and releases h's context.
func (c *Coordinator) clear(h *TaskHandle) {
	c.mu.Lock()
	if c.current == h {
		c.current = nil
	}
	c.mu.Unlock()
	h.cancel(ErrCancelled)
}

func (c *Coordinator) run(ctx context.Context, body Body) (res model.Result) {
	defer func() {
		if r := recover(); r != nil {
			ctxlog.FromContext(ctx).Error("task panicked", "panic", r)
			res = model.Fail(fmt.Sprintf("内部错误: %v", r))
		}
	}()

	res, err := body(ctx)
	switch {
	case err == nil:
		return res
	case ctx.Err() != nil, errors.Is(err, context.Canceled), errors.Is(err, ErrSuperseded):
		return cancelled(ctx)
	default:
		ctxlog.FromContext(ctx).Warn("task failed", "error", err)
		return model.Fail(err.Error())
	}
}

// cancelled builds the result for a task that was cancelled.
func cancelled(ctx context.Context) model.Result {
	msg := MessageCancelled
	if errors.Is(context.Cause(ctx), ErrSuperseded) {
		msg = MessageSuperseded
	}
	return model.Result{Success: false, Message: msg, Data: map[string]any{"cancelled": true}}
}
