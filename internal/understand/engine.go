// Package understand infers intent, context, dependencies, workflow
// segments and goals from a correlated event list. Every pass is a pure
// function of the events and the injected Rules; results are best-effort
// confidence scores, not ground truth.
package understand

import (
	"fmt"
	"strings"
	"time"

	"github.com/ziadkadry99/flowtrace/internal/event"
)

// DefaultDependencyWindow is the gap beyond which adjacent events are
// considered unrelated.
const DefaultDependencyWindow = 5 * time.Second

// Category used when nothing matched.
const Unknown = "unknown"

// Structural heuristic outputs.
const (
	IntentSubmitForm    = "submit_form"
	GoalWebFormComplete = "web_form_completion"

	submitConfidence   = 0.9
	formGoalConfidence = 0.8
	relatedScale       = 0.7
	verbatimConfidence = 0.5
	stateConfidence    = 1.0
)

// Tag types.
const (
	TagApplication = "application"
	TagPage        = "page"
	TagState       = "state"
	TagTask        = "task"
)

// Dependency kinds.
const (
	DependencySequential = "sequential"
	DependencyRelated    = "related"
)

// IntentClassification says what a single event is for.
type IntentClassification struct {
	EventRef    string  `json:"event_ref"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// ContextTag is one label attached to an event.
type ContextTag struct {
	EventRef   string  `json:"event_ref"`
	TagType    string  `json:"tag_type"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// DependencyEdge links two temporally adjacent events.
type DependencyEdge struct {
	SourceRef string  `json:"source_ref"`
	TargetRef string  `json:"target_ref"`
	Kind      string  `json:"kind"`
	Strength  float64 `json:"strength"`
}

// WorkflowSegment is a contiguous run of events sharing one signature.
// Start and End are inclusive indexes into the event list.
type WorkflowSegment struct {
	Index     int    `json:"index"`
	Start     int    `json:"start"`
	End       int    `json:"end"`
	Signature string `json:"signature"`
}

// Len returns the number of events in the segment.
func (s WorkflowSegment) Len() int { return s.End - s.Start + 1 }

// GoalRecord says what a whole segment is for.
type GoalRecord struct {
	SegmentIndex int     `json:"segment_index"`
	Category     string  `json:"category"`
	Description  string  `json:"description"`
	Confidence   float64 `json:"confidence"`
}

// Result holds the output of every pass for one session.
type Result struct {
	SessionID    string                 `json:"session_id"`
	Intents      []IntentClassification `json:"intents"`
	Context      []ContextTag           `json:"context"`
	Dependencies []DependencyEdge       `json:"dependencies"`
	Segments     []WorkflowSegment      `json:"segments"`
	Goals        []GoalRecord           `json:"goals"`
}

// Empty reports whether no pass produced anything.
func (r *Result) Empty() bool {
	return len(r.Intents) == 0 && len(r.Context) == 0 && len(r.Dependencies) == 0 &&
		len(r.Segments) == 0 && len(r.Goals) == 0
}

// Engine runs the inference passes with a fixed rule set.
type Engine struct {
	rules  Rules
	window time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithDependencyWindow overrides DefaultDependencyWindow.
func WithDependencyWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.window = d
		}
	}
}

// New creates an Engine.
func New(rules Rules, opts ...Option) *Engine {
	e := &Engine{rules: rules, window: DefaultDependencyWindow}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rules returns the engine's rule set.
func (en *Engine) Rules() Rules { return en.rules }

// Analyze runs all five passes. An empty list yields an empty result.
func (en *Engine) Analyze(sessionID string, events []event.Event) *Result {
	segments := en.Segment(events)
	return &Result{
		SessionID:    sessionID,
		Intents:      en.ClassifyIntents(events),
		Context:      en.ExtractContext(events),
		Dependencies: en.MapDependencies(events),
		Segments:     segments,
		Goals:        en.ClassifyGoals(events, segments),
	}
}

// ClassifyIntents returns exactly one classification per event, malformed
// events included.
func (en *Engine) ClassifyIntents(events []event.Event) []IntentClassification {
	if len(events) == 0 {
		return nil
	}
	out := make([]IntentClassification, 0, len(events))
	lastURL := ""
	for i, e := range events {
		if nav, ok := e.Payload.(event.Navigation); ok && nav.URL != "" {
			lastURL = strings.ToLower(nav.URL)
		}
		c := en.classifyIntent(e, lastURL)
		c.EventRef = refOf(e, i)
		out = append(out, c)
	}
	return out
}

func (en *Engine) classifyIntent(e event.Event, lastURL string) IntentClassification {
	switch p := e.Payload.(type) {
	case event.Keystroke:
		if isEnter(p.Key) {
			return IntentClassification{Category: IntentSubmitForm, Description: "Enter key pressed", Confidence: submitConfidence}
		}
	case event.Interaction:
		if strings.EqualFold(p.Action, "submit") {
			return IntentClassification{Category: IntentSubmitForm, Description: "form submitted", Confidence: submitConfidence}
		}
	}

	text := textOf(e)
	for _, rule := range en.rules.Portals {
		if rule.Intent != "" && rule.matches(lastURL, text) {
			desc := rule.Description
			if desc == "" {
				desc = "portal rule " + rule.Name
			}
			return IntentClassification{Category: rule.Intent, Description: desc, Confidence: rule.confidence()}
		}
	}

	if m, ok := bestMatch(en.rules.IntentKeywords, text); ok {
		return IntentClassification{
			Category:    m.Category,
			Description: fmt.Sprintf("matched %d of %d %s keywords", m.Matched, m.Total, m.Category),
			Confidence:  m.Confidence,
		}
	}
	return IntentClassification{Category: Unknown, Description: "no rule matched", Confidence: 0}
}

// ExtractContext returns the context tags of every event. Each event gets
// a state tag; application, page and task tags are added when they can be
// inferred.
func (en *Engine) ExtractContext(events []event.Event) []ContextTag {
	if len(events) == 0 {
		return nil
	}
	var out []ContextTag
	for i, e := range events {
		ref := refOf(e, i)
		f := fieldsOf(e)

		appText := strings.ToLower(strings.Join([]string{f.App, f.Window, urlHost(f.URL)}, " "))
		if m, ok := bestMatch(en.rules.ApplicationKeywords, appText); ok {
			out = append(out, ContextTag{EventRef: ref, TagType: TagApplication, Value: m.Category, Confidence: m.Confidence})
		} else if v := firstNonEmpty(f.App, f.Window); v != "" {
			out = append(out, ContextTag{EventRef: ref, TagType: TagApplication, Value: v, Confidence: verbatimConfidence})
		}

		pageText := strings.ToLower(f.Title + " " + f.URL)
		if m, ok := bestMatch(en.rules.PageKeywords, pageText); ok {
			out = append(out, ContextTag{EventRef: ref, TagType: TagPage, Value: m.Category, Confidence: m.Confidence})
		} else if v := firstNonEmpty(f.Title, NormalizeURL(f.URL)); v != "" {
			out = append(out, ContextTag{EventRef: ref, TagType: TagPage, Value: v, Confidence: verbatimConfidence})
		}

		out = append(out, ContextTag{EventRef: ref, TagType: TagState, Value: StateOf(e.Kind), Confidence: stateConfidence})

		if m, ok := bestMatch(en.rules.TaskKeywords, textOf(e)); ok {
			out = append(out, ContextTag{EventRef: ref, TagType: TagTask, Value: m.Category, Confidence: m.Confidence})
		}
	}
	return out
}

// StateOf maps a source kind to the user's activity state.
func StateOf(kind event.SourceKind) string {
	switch kind {
	case event.KindNavigation:
		return "navigating"
	case event.KindElementInteraction:
		return "interacting"
	case event.KindKeystroke:
		return "typing"
	case event.KindMouse:
		return "pointing"
	case event.KindSpreadsheet:
		return "editing_spreadsheet"
	case event.KindDocument:
		return "reviewing_document"
	case event.KindApplicationLog:
		return "background_processing"
	case event.KindScreenFrame:
		return "observing"
	default:
		return "unknown"
	}
}

// MapDependencies links each pair of consecutive events less than the
// dependency window apart. Strength decays linearly with the gap and is
// scaled down when the pair crosses a context change.
func (en *Engine) MapDependencies(events []event.Event) []DependencyEdge {
	if len(events) < 2 {
		return nil
	}
	sigs := Signatures(events)
	window := en.window.Seconds()
	var out []DependencyEdge
	for i := 0; i+1 < len(events); i++ {
		a, b := events[i], events[i+1]
		if a.Malformed() || b.Malformed() {
			continue
		}
		dt := b.Timestamp.Sub(a.Timestamp).Seconds()
		if dt < 0 || dt >= window {
			continue
		}
		edge := DependencyEdge{
			SourceRef: refOf(a, i),
			TargetRef: refOf(b, i+1),
			Kind:      DependencySequential,
			Strength:  1 - dt/window,
		}
		if sigs[i] != sigs[i+1] {
			edge.Kind = DependencyRelated
			edge.Strength *= relatedScale
		}
		out = append(out, edge)
	}
	return out
}

// Segment partitions the events into contiguous runs of equal signature.
func (en *Engine) Segment(events []event.Event) []WorkflowSegment {
	if len(events) == 0 {
		return nil
	}
	sigs := Signatures(events)
	segments := []WorkflowSegment{{Index: 0, Start: 0, Signature: sigs[0]}}
	for i := 1; i < len(events); i++ {
		if sigs[i] != sigs[i-1] {
			segments[len(segments)-1].End = i - 1
			segments = append(segments, WorkflowSegment{Index: len(segments), Start: i, Signature: sigs[i]})
		}
	}
	segments[len(segments)-1].End = len(events) - 1
	return segments
}

// ClassifyGoals returns exactly one goal per segment. Malformed events do
// not contribute to a segment's text.
func (en *Engine) ClassifyGoals(events []event.Event, segments []WorkflowSegment) []GoalRecord {
	if len(segments) == 0 {
		return nil
	}
	out := make([]GoalRecord, 0, len(segments))
	for _, seg := range segments {
		g := en.classifyGoal(events[seg.Start : seg.End+1])
		g.SegmentIndex = seg.Index
		out = append(out, g)
	}
	return out
}

func (en *Engine) classifyGoal(events []event.Event) GoalRecord {
	var (
		parts        []string
		urls         []string
		submitted    bool
		interactions int
	)
	for _, e := range events {
		if e.Malformed() {
			continue
		}
		parts = append(parts, textOf(e))
		switch p := e.Payload.(type) {
		case event.Navigation:
			urls = append(urls, strings.ToLower(p.URL))
		case event.Interaction:
			interactions++
			if strings.EqualFold(p.Action, "submit") {
				submitted = true
			}
		case event.Keystroke:
			if isEnter(p.Key) {
				submitted = true
			}
		}
	}
	if len(parts) == 0 {
		return GoalRecord{Category: Unknown, Description: "no well-formed events", Confidence: 0}
	}
	text := strings.Join(parts, " ")
	urlText := strings.Join(urls, " ")

	for _, rule := range en.rules.Portals {
		if rule.Goal != "" && rule.matches(urlText, text) {
			desc := rule.Description
			if desc == "" {
				desc = "portal rule " + rule.Name
			}
			return GoalRecord{Category: rule.Goal, Description: desc, Confidence: rule.confidence()}
		}
	}
	if submitted && interactions > 0 {
		return GoalRecord{Category: GoalWebFormComplete, Description: "form filled and submitted", Confidence: formGoalConfidence}
	}
	if m, ok := bestMatch(en.rules.GoalKeywords, text); ok {
		return GoalRecord{
			Category:    m.Category,
			Description: fmt.Sprintf("matched %d of %d %s keywords", m.Matched, m.Total, m.Category),
			Confidence:  m.Confidence,
		}
	}
	return GoalRecord{Category: Unknown, Description: "no rule matched", Confidence: 0}
}

func isEnter(key string) bool {
	return strings.EqualFold(key, "enter") || strings.EqualFold(key, "return")
}

// refOf returns the event's natural key, or a positional one for events
// that never came from a store.
func refOf(e event.Event, i int) string {
	if e.Ref != "" {
		return e.Ref
	}
	return fmt.Sprintf("#%d", i)
}

func fieldsOf(e event.Event) event.Fields {
	if e.Payload == nil {
		return event.Fields{}
	}
	return e.Payload.Fields()
}

func textOf(e event.Event) string {
	return strings.ToLower(fieldsOf(e).Join())
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
