package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type SelectorKind string

const (
	SelectorKindID       SelectorKind = "id"
	SelectorKindDataAttr SelectorKind = "data_attr"
	SelectorKindCSS      SelectorKind = "css"
	SelectorKindXPath    SelectorKind = "xpath"
	SelectorKindRole     SelectorKind = "role"
	SelectorKindText     SelectorKind = "text"
)

// selectorKindPriorities is the fixed stability order: lower is tried
// first. Adding a kind means adding a row here; BasePriority panics on
// kinds it does not know so the table stays exhaustive.
var selectorKindPriorities = map[SelectorKind]int{
	SelectorKindID:       0,
	SelectorKindDataAttr: 1,
	SelectorKindCSS:      2,
	SelectorKindXPath:    3,
	SelectorKindRole:     4,
	SelectorKindText:     5,
}

// DemotedPriorityOffset is added to the base priority of an ID or CSS
// candidate that failed the snapshot uniqueness check, so it still runs
// after every confident candidate instead of being discarded.
const DemotedPriorityOffset = 10

func (k SelectorKind) BasePriority() int {
	p, ok := selectorKindPriorities[k]
	if !ok {
		panic(fmt.Sprintf("unknown selector kind: %s", k))
	}

	return p
}

type Selector struct {
	Kind     SelectorKind
	Value    string
	Priority int
}

func (s Selector) String() string {
	return fmt.Sprintf("%s:%s", s.Kind, s.Value)
}

type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (b BoundingBox) Area() float64 {
	return b.Width * b.Height
}

// Contains reports whether b fully contains other.
func (b BoundingBox) Contains(other BoundingBox) bool {
	return other.X >= b.X &&
		other.Y >= b.Y &&
		other.X+other.Width <= b.X+b.Width &&
		other.Y+other.Height <= b.Y+b.Height
}

// Overlap returns the intersection area of b and other.
func (b BoundingBox) Overlap(other BoundingBox) float64 {
	w := min(b.X+b.Width, other.X+other.Width) - max(b.X, other.X)
	h := min(b.Y+b.Height, other.Y+other.Height) - max(b.Y, other.Y)

	if w <= 0 || h <= 0 {
		return 0
	}

	return w * h
}

// Node is one raw snapshot node as delivered by the driver. Parent and
// Position are filled during ingest, never by the driver.
type Node struct {
	Tag          string            `json:"tag"`
	Text         string            `json:"text"`
	Attributes   map[string]string `json:"attributes"`
	Box          BoundingBox       `json:"box"`
	Display      string            `json:"display"`
	Visibility   string            `json:"visibility"`
	Opacity      float64           `json:"opacity"`
	ClickHandler bool              `json:"clickHandler"`
	PointerCur   bool              `json:"pointerCursor"`
	Children     []*Node           `json:"children"`

	Parent   *Node `json:"-"`
	Position int   `json:"-"`
}

func (n *Node) Attr(name string) string {
	return n.Attributes[name]
}

// SelfVisible checks only this node's own style, not its ancestors.
func (n *Node) SelfVisible() bool {
	return n.Display != "none" && n.Visibility != "hidden" && n.Opacity > 0
}

type ElementRecord struct {
	Handle       int
	Tag          string
	Text         string
	Attributes   map[string]string
	Box          BoundingBox
	Clickable    bool
	Input        bool
	Selectors    []Selector
	ParentHandle int
}

type FingerprintInputs struct {
	URL            string
	StructuralHash string
}

// PageFingerprint partitions cache validity: entries written under one
// fingerprint are never consulted under another.
type PageFingerprint string

func NewFingerprint(in FingerprintInputs) PageFingerprint {
	return PageFingerprint(in.URL + "#" + in.StructuralHash)
}

type Generation struct {
	ID          uuid.UUID
	Fingerprint PageFingerprint
	Records     []ElementRecord
	CreatedAt   time.Time

	byHandle map[int]*ElementRecord
}

func NewGeneration(fingerprint PageFingerprint, records []ElementRecord) *Generation {
	gen := &Generation{
		ID:          uuid.New(),
		Fingerprint: fingerprint,
		Records:     records,
		CreatedAt:   time.Now(),
		byHandle:    make(map[int]*ElementRecord, len(records)),
	}

	for i := range gen.Records {
		gen.byHandle[gen.Records[i].Handle] = &gen.Records[i]
	}

	return gen
}

// Record returns the element for a handle, or nil for handles not in
// this generation (including handles from older generations).
func (g *Generation) Record(handle int) *ElementRecord {
	return g.byHandle[handle]
}

type CacheOutcome string

const (
	CacheOutcomeResolved CacheOutcome = "resolved"
	CacheOutcomeStale    CacheOutcome = "stale"
	CacheOutcomeNotFound CacheOutcome = "not_found"
)

type CacheEntry struct {
	Fingerprint    PageFingerprint
	Handle         int
	Selectors      []Selector
	LastResolvedAt time.Time
	LastOutcome    CacheOutcome
}

type AttemptOutcome string

const (
	AttemptMatched   AttemptOutcome = "matched"
	AttemptNoMatch   AttemptOutcome = "no_match"
	AttemptAmbiguous AttemptOutcome = "ambiguous"
	AttemptTimeout   AttemptOutcome = "timeout"
	AttemptError     AttemptOutcome = "error"
)

type Attempt struct {
	Selector Selector
	Outcome  AttemptOutcome
	Elapsed  time.Duration
}

type ResolutionOutcome string

const (
	ResolutionSuccess   ResolutionOutcome = "success"
	ResolutionNotFound  ResolutionOutcome = "not_found"
	ResolutionAmbiguous ResolutionOutcome = "ambiguous"
	ResolutionCancelled ResolutionOutcome = "cancelled"
)

// LiveElement is an opaque reference to a live page element. Token is
// only meaningful to the driver that produced it.
type LiveElement struct {
	Token   string
	Visible bool
	Enabled bool
}

type ResolutionResult struct {
	Handle       int
	Live         *LiveElement
	SelectorUsed *Selector
	Attempts     []Attempt
	FinalOutcome ResolutionOutcome
	Elapsed      time.Duration
}

type InteractionKind string

const (
	InteractClick InteractionKind = "click"
	InteractType  InteractionKind = "type"
)

// Query is an ad hoc element description used when no handle exists.
// Either Text or Role (optionally with Name) must be set.
type Query struct {
	Text string
	Role string
	Name string
}

func (q Query) Empty() bool {
	return q.Text == "" && q.Role == ""
}

type SelectorDiagnostic struct {
	Selector     Selector
	MatchCount   int
	VisibleCount int
}

type DiagnosticReport struct {
	Handle         int
	Selectors      []SelectorDiagnostic
	LastResolvedAt time.Time
	LastOutcome    CacheOutcome
	CheckedAt      time.Time
}

// NormalizeText trims and collapses internal whitespace, the canonical
// form for text selectors and text matching.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
