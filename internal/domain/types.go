// Package domain holds the value types shared across the action-execution
// pipeline: routes, anchors, snapshots, judge reports, network summaries and
// action reports. Every component depends on this package instead of on
// each other's internal structs, keeping the dependency graph leaves-first.
package domain

import "time"

// Strategy is one of the ways an Anchor can be resolved or matched.
type Strategy string

const (
	StrategyCSS      Strategy = "css"
	StrategyARIA     Strategy = "aria"
	StrategyAX       Strategy = "ax"
	StrategyText     Strategy = "text"
	StrategyAttr     Strategy = "attr"
	StrategyGeometry Strategy = "geometry"
	StrategyBackend  Strategy = "backend"
	StrategyCombo    Strategy = "combo"
)

// Geometry is a node's layout box in CSS pixels.
type Geometry struct {
	X, Y, W, H float64
}

// Area returns the box area, 0 for a degenerate or unset geometry.
func (g Geometry) Area() float64 { return g.W * g.H }

// Anchor is a handle to a DOM/AX node plus enough metadata to act on it or
// judge it. Anchors are immutable after construction; re-resolution
// produces a new value, never an in-place mutation.
type Anchor struct {
	Strategy       Strategy
	Value          string // strategy-dependent payload (selector, text, etc.)
	Frame          string // FrameId as string, to avoid an import cycle on ids
	Confidence     float64
	BackendNodeID  string
	Geometry       *Geometry
	Attributes     map[string]string
	ComputedStyle  map[string]string
	AXRole         string
	AXName         string
	AXStates       []string
	Disabled       bool
	ReadOnly       bool
	Tag            string
}

// ScoreComponent is one additive contribution to an anchor's score.
type ScoreComponent struct {
	Label       string
	Weight      float64
	Contribution float64
}

// Score is the additive breakdown backing an AnchorResolution's ranking.
type Score struct {
	Total      float64
	Components []ScoreComponent
}

// AnchorResolution is the output of resolving a SelectorOrHint: a primary
// candidate plus the ranked runner-ups, with the score explaining the rank.
type AnchorResolution struct {
	Primary    Anchor
	Candidates []Anchor
	Score      Score
	Reason     string
	CacheHit   bool
}

// AXNodeRecord is the flat shape a perceiver serializes ax_raw into: one
// entry per accessibility node, addressable by the same backend-node-id
// space as the DOM. Both the snapshot differ and the anchor augmenter
// parse ax_raw against this shape.
type AXNodeRecord struct {
	BackendNodeID string   `json:"backend_node_id,omitempty"`
	Role          string   `json:"role"`
	Name          string   `json:"name"`
	States        []string `json:"states,omitempty"`
}

// SnapshotLevel controls how much of the page is captured.
type SnapshotLevel string

const (
	LevelLight SnapshotLevel = "light"
	LevelFull  SnapshotLevel = "full"
)

// DomAxSnapshot is an immutable, content-addressed DOM + accessibility
// capture. Two snapshots with the same ID are guaranteed to carry the same
// dom_raw/ax_raw payload.
type DomAxSnapshot struct {
	ID         string
	CapturedAt time.Time
	Page       string
	Frame      string
	Session    string
	Level      SnapshotLevel
	DomRaw     []byte
	AxRaw      []byte
}

// ChangeKind enumerates the kinds of typed change records a DomAxDiff can
// carry.
type ChangeKind string

const (
	ChangeDomNodeCount   ChangeKind = "dom-node-count"
	ChangeDomAttrKeys    ChangeKind = "dom-attribute-keys"
	ChangeDomText        ChangeKind = "dom-text"
	ChangeAXNodeCount    ChangeKind = "ax-node-count"
	ChangeAXRoles        ChangeKind = "ax-roles"
	ChangeAXActions      ChangeKind = "ax-actions"
	ChangeFocus          ChangeKind = "focus"
	ChangeDebounced      ChangeKind = "debounced"
)

// Change is one typed change record within a DomAxDiff.
type Change struct {
	Kind   ChangeKind
	Detail string
}

// DomAxDiff is a pairwise summary difference between two snapshots.
type DomAxDiff struct {
	Base        *string
	Current     *string
	GeneratedAt time.Time
	Focus       *string
	Changes     []Change
}

// Empty reports whether the diff carries no changes.
func (d DomAxDiff) Empty() bool { return len(d.Changes) == 0 }

// JudgeReport is the stateless result of evaluating a predicate (visible,
// clickable, enabled) against an anchor.
type JudgeReport struct {
	OK     bool
	Reason string
	Facts  map[string]any
}

// NetworkSnapshot is the cumulative, per-page counter state the tap keeps
// between publishes.
type NetworkSnapshot struct {
	Req         int64
	Res2xx      int64
	Res4xx      int64
	Res5xx      int64
	Inflight    int64
	LastActivity time.Time
	LastPublish  time.Time
	LastQuiet    bool
}

// NetworkSummary is the published, windowed view of a NetworkSnapshot.
type NetworkSummary struct {
	Page                string
	Req, Res2xx, Res4xx, Res5xx, Inflight int64
	WindowMs            int64
	Quiet               bool
	SinceLastActivityMs int64
}

// ExecRoute targets a single action at a session/page/frame with an
// explicit concurrency domain.
type ExecRoute struct {
	Session  string
	Page     string
	Frame    string
	MutexKey string
}

// PostSignals is the observation captured after a tool's act phase.
type PostSignals struct {
	DomDigest      string
	NetDigest      string
	ValueDigest    *Digest
	SelectionDigest *SelectionDigest
	RedactedURL   string
	RedactedTitle string
}

// Digest is a before/after hash pair, with the after hash omitted when the
// field is redaction-sensitive.
type Digest struct {
	HashBefore string
	HashAfter  string // empty when redacted
}

// SelectionDigest captures a <select>'s before/after selection state.
type SelectionDigest struct {
	IndexBefore []int
	ValueBefore []string
	IndexAfter  []int
	ValueAfter  []string
	Changed     bool
	SelectedCount int
}

// ActionReport is the terminal output of a Tool Runtime run.
type ActionReport struct {
	ActionID    string
	OK          bool
	Precheck    *JudgeReport
	SelfHeal    *SelfHeal
	PostSignals PostSignals
	LatencyMs   int64
	Error       error
}

// SelfHeal records a one-shot re-resolution attempted after a failed
// precheck.
type SelfHeal struct {
	Attempted  bool
	Reason     string
	UsedAnchor *Anchor
}

// SnapshotBinding ties an ActionId to the snapshot hashes it depended on.
type SnapshotBinding struct {
	Action   string
	Page     string
	Frame    string
	StructID string
	PixIDs   []string
	TTLAt    time.Time
}

// WaitTier controls how long a tool run waits for the DOM to settle after
// its act phase, before moving on to observe.
type WaitTier string

const (
	WaitNone     WaitTier = "none"
	WaitDomReady WaitTier = "dom_ready"
	WaitAuto     WaitTier = "auto"
)

// PageLifecyclePhase enumerates the phases an event-bus PageLifecycle
// event can report.
type PageLifecyclePhase string

const (
	PhaseOpened        PageLifecyclePhase = "opened"
	PhaseFocus         PageLifecyclePhase = "focus"
	PhaseLoad          PageLifecyclePhase = "load"
	PhaseDOMContentLoaded PageLifecyclePhase = "domcontentloaded"
	PhaseClosed        PageLifecyclePhase = "closed"
)

// PageLifecycle is a raw event-bus payload reporting a page phase
// transition.
type PageLifecycle struct {
	Page  string
	Frame string
	Phase PageLifecyclePhase
	At    time.Time
}

// ErrorEvent is a raw event-bus payload reporting a page-scoped error.
type ErrorEvent struct {
	Page    string
	Message string
}
