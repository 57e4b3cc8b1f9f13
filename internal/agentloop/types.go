// Package agentloop runs the bounded observe-think-act cycle that drives a
// single task to completion: each iteration asks the caller for the current
// page state, asks a planner what to do next, executes the resulting
// actions through the tool layer, and records what happened.
//
// The loop shape itself — start once, run until an explicit termination
// condition fires, accumulate a flat history — is grounded on
// domwatch.Watcher's own lifecycle (watcher.go: Start/observePageLocked/
// Stop). The three-callback seam (observe/decide/execute) generalizes that
// shape to a pluggable planner, translating the Rust agent_loop
// controller's callback contract into Go function types.
package agentloop

import "time"

// ScrollPosition mirrors the page's current scroll offsets.
type ScrollPosition struct {
	PixelsFromTop  int
	TotalHeight    int
	ViewportHeight int
}

// ElementSelectorRef is one entry of a BrowserStateSummary's selector map:
// a stable index a planner can reference in an action without re-deriving
// a CSS selector itself.
type ElementSelectorRef struct {
	CSSSelector    string
	BackendNodeID  string
	AriaSelector   string
	TextContent    string
	TagName        string
}

// BrowserStateSummary is the planner-facing snapshot of a page: a
// serialized element tree plus everything needed to turn an index from
// that tree back into an anchor.
type BrowserStateSummary struct {
	URL              string
	Title            string
	ElementTree      string
	SelectorMap      map[int]ElementSelectorRef
	ScreenshotBase64 string
	ScrollPosition   ScrollPosition
	FocusedElement   string
	ElementCount     int
}

// ActionType distinguishes the one action the loop itself interprets
// (Done) from everything else, which it passes through to ExecuteFunc
// uninspected.
type ActionType string

// ActionDone is the sentinel action type the loop recognizes directly:
// it ends the run instead of being dispatched to ExecuteFunc.
const ActionDone ActionType = "done"

// Action is one planner-requested step. Params carries tool-specific
// arguments (e.g. a click's hint/offset, a done action's success/text)
// and is left as a generic map since the loop itself only inspects Type.
type Action struct {
	Type   ActionType
	Params map[string]any
}

// doneSuccess and doneText read the conventional "success"/"text" keys a
// Done action carries in Params.
func (a Action) doneSuccess() bool {
	if v, ok := a.Params["success"]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	if v, ok := a.Params["done_success"]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

func (a Action) doneText() string {
	if v, ok := a.Params["text"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if v, ok := a.Params["done_text"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "Task completed"
}

// ActionResult is what ExecuteFunc reports back for one non-Done action.
type ActionResult struct {
	Success      bool
	ErrorMessage string
	StateChanged bool
}

// AgentOutput is what DecideFunc returns: the actions to take this step,
// plus the planner's running commentary.
type AgentOutput struct {
	Actions            []Action
	Thinking           string
	NextGoal           string
	EvaluationPrevious string
	Memory             string
}

// HistoryEntry records one completed step, successful or not.
type HistoryEntry struct {
	StepNumber  int
	StateSummary string
	ActionsTaken []Action
	Result       ActionResult
	Thinking     string
	NextGoal     string
	Evaluation   string
	Memory       string
	Error        string
	At           time.Time
}

// errorEntry builds the history entry recorded when a step fails before
// producing an aggregated ActionResult (observe/decide error, or an
// execute error that aborted the step entirely).
func errorEntry(step int, err string, at time.Time) HistoryEntry {
	return HistoryEntry{StepNumber: step, Error: err, At: at}
}

// Status is the terminal classification of a completed run.
type Status string

const (
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusMaxStepsReached Status = "max_steps_reached"
	StatusCancelled      Status = "cancelled"
	StatusInProgress     Status = "in_progress"
)

// Result is the final report handed back from Run.
type Result struct {
	Status      Status
	Message     string
	StepsTaken  int
	FinalOutput string
	History     []HistoryEntry
	TotalTimeMs int64
}

func (r Result) IsSuccess() bool { return r.Status == StatusCompleted }

func completed(message string, steps int, history []HistoryEntry, elapsedMs int64) Result {
	return Result{Status: StatusCompleted, Message: message, StepsTaken: steps, FinalOutput: message, History: history, TotalTimeMs: elapsedMs}
}

func failed(message string, steps int, history []HistoryEntry, elapsedMs int64) Result {
	return Result{Status: StatusFailed, Message: message, StepsTaken: steps, History: history, TotalTimeMs: elapsedMs}
}

func maxStepsReached(steps int, history []HistoryEntry, elapsedMs int64) Result {
	return Result{Status: StatusMaxStepsReached, Message: "reached maximum steps limit", StepsTaken: steps, History: history, TotalTimeMs: elapsedMs}
}

func cancelled(steps int, history []HistoryEntry, elapsedMs int64) Result {
	return Result{Status: StatusCancelled, Message: "loop cancelled", StepsTaken: steps, History: history, TotalTimeMs: elapsedMs}
}
