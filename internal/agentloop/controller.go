package agentloop

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ObserveFunc gets the current page state at the start of a step.
type ObserveFunc func(ctx context.Context) (BrowserStateSummary, error)

// DecideFunc asks the planner what to do next given the current state and
// the run's history so far.
type DecideFunc func(ctx context.Context, state BrowserStateSummary, history []HistoryEntry) (AgentOutput, error)

// ExecuteFunc runs one non-Done action against the tool layer.
type ExecuteFunc func(ctx context.Context, action Action, state BrowserStateSummary) (ActionResult, error)

// Option configures a Controller.
type Option func(*Options)

// Options holds a Controller's ambient dependencies.
type Options struct {
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// WithLogger injects a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// loopState is the controller's mutable run state, held behind mu so
// Cancel/StepCount/History can be called from another goroutine while Run
// is in flight.
type loopState struct {
	stepCount           int
	consecutiveFailures int
	history             []HistoryEntry
	isDone              bool
	isCancelled         bool
	finalResult         *Result
}

// Controller runs one bounded observe-think-act cycle at a time. A single
// Controller is reused across a run's lifetime; Reset clears it for the
// next one.
type Controller struct {
	cfg     Configuration
	opts    Options
	mu      sync.Mutex
	state   loopState
	started time.Time
}

// New creates a Controller with the given configuration.
func New(cfg Configuration, opts ...Option) *Controller {
	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}
	return &Controller{cfg: cfg.withDefaults(), opts: o.withDefaults()}
}

// Config returns the controller's configuration.
func (c *Controller) Config() Configuration { return c.cfg }

// Cancel requests the run in flight stop at its next termination check.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.isCancelled = true
}

// IsCancelled reports whether Cancel has been called for the current run.
func (c *Controller) IsCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.isCancelled
}

// StepCount reports the number of steps taken so far in the current run.
func (c *Controller) StepCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.stepCount
}

// History returns a copy of the steps recorded so far in the current run.
func (c *Controller) History() []HistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]HistoryEntry, len(c.state.history))
	copy(out, c.state.history)
	return out
}

// Reset clears the controller so it can run a new task.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = loopState{}
	c.started = time.Time{}
}

func (c *Controller) elapsedMs() int64 {
	if c.started.IsZero() {
		return 0
	}
	return time.Since(c.started).Milliseconds()
}

// Run drives the loop to completion: observe, decide, act, repeat, until a
// termination condition fires or the context is cancelled.
func (c *Controller) Run(ctx context.Context, goal string, observe ObserveFunc, decide DecideFunc, execute ExecuteFunc) Result {
	c.mu.Lock()
	c.state = loopState{}
	c.started = time.Now()
	c.mu.Unlock()

	logger := c.opts.Logger.With("goal", goal)

	for {
		if term, result := c.checkTermination(ctx); term {
			if result != nil {
				return *result
			}
			return failed("unexpected termination", c.StepCount(), c.History(), c.elapsedMs())
		}

		c.mu.Lock()
		c.state.stepCount++
		step := c.state.stepCount
		history := make([]HistoryEntry, len(c.state.history))
		copy(history, c.state.history)
		c.mu.Unlock()

		entry, isDone, done, err := c.executeStep(ctx, step, history, observe, decide, execute)
		if err != nil {
			logger.Warn("agent loop step failed", "step", step, "error", err)
			c.mu.Lock()
			c.state.consecutiveFailures++
			c.state.history = append(c.state.history, errorEntry(step, err.Error(), time.Now()))
			c.mu.Unlock()
			continue
		}

		c.mu.Lock()
		c.state.history = append(c.state.history, entry)
		c.state.consecutiveFailures = 0
		if isDone {
			c.state.isDone = true
			if done != nil {
				elapsed := c.elapsedMs()
				histCopy := make([]HistoryEntry, len(c.state.history))
				copy(histCopy, c.state.history)
				var r Result
				if done.success {
					r = completed(done.message, c.state.stepCount, histCopy, elapsed)
				} else {
					r = failed(done.message, c.state.stepCount, histCopy, elapsed)
				}
				c.state.finalResult = &r
			}
		}
		c.mu.Unlock()
	}
}

// doneResult is what a Done action resolves to.
type doneResult struct {
	success bool
	message string
}

func (c *Controller) executeStep(ctx context.Context, step int, history []HistoryEntry, observe ObserveFunc, decide DecideFunc, execute ExecuteFunc) (HistoryEntry, bool, *doneResult, error) {
	state, err := observe(ctx)
	if err != nil {
		return HistoryEntry{}, false, nil, fmt.Errorf("agentloop: observe: %w", err)
	}

	output, err := decide(ctx, state, history)
	if err != nil {
		return HistoryEntry{}, false, nil, fmt.Errorf("agentloop: decide: %w", err)
	}

	var results []ActionResult
	var isDone bool
	var done *doneResult

	maxActions := c.cfg.MaxActionsPerStep
	for i, action := range output.Actions {
		if i >= maxActions {
			break
		}
		if action.Type == ActionDone {
			isDone = true
			done = &doneResult{success: action.doneSuccess(), message: action.doneText()}
			break
		}

		result, err := execute(ctx, action, state)
		if err != nil {
			return HistoryEntry{}, false, nil, fmt.Errorf("agentloop: execute: %w", err)
		}
		results = append(results, result)

		last := i == len(output.Actions)-1
		if !result.Success {
			break
		}
		if !last {
			sleep(ctx, c.cfg.WaitBetweenActions)
		}
	}

	aggregated := aggregate(results)

	entry := HistoryEntry{
		StepNumber:   step,
		StateSummary: fmt.Sprintf("URL: %s", state.URL),
		ActionsTaken: output.Actions,
		Result:       aggregated,
		Thinking:     output.Thinking,
		NextGoal:     output.NextGoal,
		Evaluation:   output.EvaluationPrevious,
		Memory:       output.Memory,
		At:           time.Now(),
	}

	return entry, isDone, done, nil
}

// aggregate folds a step's per-action results into one: ok only if every
// action succeeded, the first error message propagates, and state_changed
// is true if any action changed state.
func aggregate(results []ActionResult) ActionResult {
	out := ActionResult{Success: true}
	for _, r := range results {
		if !r.Success {
			out.Success = false
			if out.ErrorMessage == "" {
				out.ErrorMessage = r.ErrorMessage
			}
		}
		if r.StateChanged {
			out.StateChanged = true
		}
	}
	return out
}

// checkTermination evaluates the priority-ordered termination conditions:
// done, cancelled (either via Cancel or ctx), max steps, consecutive
// failures.
func (c *Controller) checkTermination(ctx context.Context) (bool, *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := c.elapsedMs()

	if c.state.isDone {
		return true, c.state.finalResult
	}

	if c.state.isCancelled || ctx.Err() != nil {
		r := cancelled(c.state.stepCount, c.state.history, elapsed)
		return true, &r
	}

	if c.state.stepCount >= c.cfg.MaxSteps {
		r := maxStepsReached(c.state.stepCount, c.state.history, elapsed)
		return true, &r
	}

	if c.state.consecutiveFailures >= c.cfg.MaxConsecutiveFailures {
		r := failed(fmt.Sprintf("Too many consecutive failures: %d", c.state.consecutiveFailures), c.state.stepCount, c.state.history, elapsed)
		return true, &r
	}

	return false, nil
}

// sleep pauses for d unless ctx is cancelled first.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
