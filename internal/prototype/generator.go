package prototype

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ziadkadry99/flowtrace/internal/audit"
	"github.com/ziadkadry99/flowtrace/internal/correlate"
	"github.com/ziadkadry99/flowtrace/internal/event"
	"github.com/ziadkadry99/flowtrace/internal/llm"
)

// Bundle file names.
const (
	ScriptFile   = "prototype.py"
	SummaryFile  = "summary.json"
	ManifestFile = "manifest.json"
	PromptFile   = "cursor_prompt.txt"
	ReportFile   = "gpt_report.md"
)

const (
	DefaultSummaryEvents = 25
	DefaultMaxTokens     = 2048
	maxImages            = 4
	maxImageBytes        = 4 << 20
)

// Summarizer produces the analysis report. llm.Summarizer satisfies it.
type Summarizer interface {
	Generate(ctx context.Context, req llm.SummaryRequest) (string, error)
}

// Correlator reconstructs a session timeline.
type Correlator interface {
	Correlate(ctx context.Context, sessionID string) (*correlate.Result, error)
}

// Options tune a single generation run.
type Options struct {
	Mode  Mode
	Title string
	Notes string
}

// Summary is the content of summary.json.
type Summary struct {
	Key          string         `json:"key"`
	DisplayName  string         `json:"display_name"`
	Title        string         `json:"title,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	Mode         Mode           `json:"mode"`
	Frequency    int            `json:"frequency"`
	FirstSeen    string         `json:"first_seen,omitempty"`
	LastSeen     string         `json:"last_seen,omitempty"`
	EventCount   int            `json:"event_count"`
	SourceCounts map[string]int `json:"source_counts"`
	Notes        string         `json:"notes,omitempty"`
	Events       []event.Event  `json:"events"`
}

// OptionalFile reports whether an optional artifact was produced.
type OptionalFile struct {
	Exists bool   `json:"exists"`
	Path   string `json:"path,omitempty"`
}

// Manifest is the content of manifest.json.
type Manifest struct {
	Key         string                  `json:"key"`
	DisplayName string                  `json:"display_name"`
	Mode        Mode                    `json:"mode"`
	Files       map[string]string       `json:"files"`
	Optional    map[string]OptionalFile `json:"optional"`
}

// Bundle is the result of a generation run.
type Bundle struct {
	Key         string   `json:"key"`
	Dir         string   `json:"dir"`
	DisplayName string   `json:"display_name"`
	Mode        Mode     `json:"mode"`
	Script      string   `json:"script"`
	Summary     Summary  `json:"summary"`
	Report      string   `json:"report,omitempty"`
	Prompt      string   `json:"prompt,omitempty"`
	Manifest    Manifest `json:"manifest"`
}

// Generator writes prototype bundles under a root directory.
type Generator struct {
	root          string
	correlator    Correlator
	summarizer    Summarizer
	registry      *Registry
	audit         audit.Recorder
	summaryEvents int
	maxTokens     int
	logger        *slog.Logger
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithCorrelator enables GenerateFromSession.
func WithCorrelator(c Correlator) GeneratorOption { return func(g *Generator) { g.correlator = c } }

// WithSummarizer sets the report collaborator. Without one, report
// generation is skipped.
func WithSummarizer(s Summarizer) GeneratorOption { return func(g *Generator) { g.summarizer = s } }

// WithRegistry registers every written bundle.
func WithRegistry(r *Registry) GeneratorOption { return func(g *Generator) { g.registry = r } }

// WithAudit records each generation in the audit trail.
func WithAudit(r audit.Recorder) GeneratorOption { return func(g *Generator) { g.audit = r } }

// WithSummaryEvents sets how many events summary.json embeds.
func WithSummaryEvents(n int) GeneratorOption {
	return func(g *Generator) {
		if n > 0 {
			g.summaryEvents = n
		}
	}
}

// WithMaxTokens bounds the report length.
func WithMaxTokens(n int) GeneratorOption {
	return func(g *Generator) {
		if n > 0 {
			g.maxTokens = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) GeneratorOption { return func(g *Generator) { g.logger = l } }

// NewGenerator creates a Generator writing under root.
func NewGenerator(root string, opts ...GeneratorOption) *Generator {
	g := &Generator{
		root:          root,
		summaryEvents: DefaultSummaryEvents,
		maxTokens:     DefaultMaxTokens,
		logger:        slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Root returns the bundle root directory.
func (g *Generator) Root() string { return g.root }

// GenerateFromSession correlates sessionID and writes a bundle keyed by the
// session id. event.ErrNotFound is returned unchanged in meaning.
func (g *Generator) GenerateFromSession(ctx context.Context, sessionID, title string, mode Mode, notes string) (*Bundle, error) {
	if g.correlator == nil {
		return nil, errors.New("prototype generator has no correlator")
	}
	res, err := g.correlator.Correlate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return g.GenerateFromResult(ctx, res, Options{Mode: mode, Title: title, Notes: notes})
}

// GenerateFromResult writes the bundle for an already correlated session.
// First and last seen come from the events, not the widened window.
func (g *Generator) GenerateFromResult(ctx context.Context, res *correlate.Result, opts Options) (*Bundle, error) {
	p := Pattern{
		Key:       res.Session.ID,
		Frequency: 1,
		SessionID: res.Session.ID,
		Events:    res.Events,
	}
	return g.GenerateFromPattern(ctx, p, opts)
}

// GenerateFromPattern writes the bundle for p and registers it. Writing is
// last-write-wins per key.
func (g *Generator) GenerateFromPattern(ctx context.Context, p Pattern, opts Options) (*Bundle, error) {
	p = p.normalize()
	mode := ParseMode(string(opts.Mode))
	dir := filepath.Join(g.root, dirName(p.Key))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating bundle directory: %w", err)
	}

	var report string
	if mode.WantsReport() {
		report = g.report(ctx, p, opts)
	}
	name := displayNameFor(p, report)
	if report == "" && p.DisplayName != "" {
		name = p.DisplayName
	}

	b := &Bundle{
		Key:         p.Key,
		Dir:         dir,
		DisplayName: name,
		Mode:        mode,
		Script:      renderScript(p, name),
		Report:      report,
		Summary:     g.summary(p, name, mode, opts),
	}
	if mode.WantsPrompt() {
		b.Prompt = renderPrompt(p, name, opts.Title, opts.Notes)
	}

	if err := os.WriteFile(filepath.Join(dir, ScriptFile), []byte(b.Script), 0o644); err != nil {
		return nil, fmt.Errorf("writing script: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, SummaryFile), b.Summary); err != nil {
		return nil, fmt.Errorf("writing summary: %w", err)
	}
	if err := writeOptional(filepath.Join(dir, PromptFile), b.Prompt); err != nil {
		return nil, fmt.Errorf("writing build prompt: %w", err)
	}
	if err := writeOptional(filepath.Join(dir, ReportFile), b.Report); err != nil {
		return nil, fmt.Errorf("writing report: %w", err)
	}

	b.Manifest = Manifest{
		Key:         p.Key,
		DisplayName: name,
		Mode:        mode,
		Files: map[string]string{
			"script":   ScriptFile,
			"summary":  SummaryFile,
			"manifest": ManifestFile,
		},
		Optional: map[string]OptionalFile{
			"gpt_report":    optional(b.Report, ReportFile),
			"cursor_prompt": optional(b.Prompt, PromptFile),
		},
	}
	if b.Report != "" {
		b.Manifest.Files["gpt_report"] = ReportFile
	}
	if b.Prompt != "" {
		b.Manifest.Files["cursor_prompt"] = PromptFile
	}
	if err := writeJSON(filepath.Join(dir, ManifestFile), b.Manifest); err != nil {
		return nil, fmt.Errorf("writing manifest: %w", err)
	}

	if g.registry != nil {
		err := g.registry.Upsert(ctx, Entry{
			Key:         p.Key,
			DisplayName: name,
			OutputDir:   dir,
			Mode:        mode,
			Frequency:   p.Frequency,
			FirstSeen:   p.FirstSeen,
			LastSeen:    p.LastSeen,
			EventCount:  len(p.Events),
			HasReport:   b.Report != "",
			HasPrompt:   b.Prompt != "",
		})
		if err != nil {
			return nil, err
		}
	}
	if g.audit != nil {
		if err := g.audit.Log(ctx, audit.Entry{
			Actor:        audit.ActorUser,
			Action:       audit.ActionPrototypeGenerated,
			SessionID:    p.SessionID,
			Summary:      fmt.Sprintf("%s (%s) in %s", name, mode, dir),
			RowsAffected: int64(len(p.Events)),
		}); err != nil {
			g.logger.Warn("recording prototype audit entry", "key", p.Key, "error", err)
		}
	}

	g.logger.Info("prototype generated", "key", p.Key, "mode", mode, "events", len(p.Events), "report", b.Report != "")
	return b, nil
}

// report asks the summarizer for the analysis. Any failure yields "".
func (g *Generator) report(ctx context.Context, p Pattern, opts Options) string {
	if g.summarizer == nil {
		g.logger.Info("no summarizer configured, skipping report", "key", p.Key)
		return ""
	}
	text, err := g.summarizer.Generate(ctx, llm.SummaryRequest{
		Prompt:       reportPrompt(p, opts.Title, opts.Notes),
		SystemPrompt: reportSystemPrompt,
		MaxTokens:    g.maxTokens,
		Images:       g.frames(p.Events),
	})
	if err != nil {
		if errors.Is(err, event.ErrCollaboratorUnavailable) {
			g.logger.Warn("summarizer unavailable, omitting report", "key", p.Key, "error", err)
		} else {
			g.logger.Warn("report generation failed, omitting report", "key", p.Key, "error", err)
		}
		return ""
	}
	return strings.TrimSpace(text)
}

// frames loads up to maxImages screen captures referenced by events.
// Unreadable or oversized files are skipped.
func (g *Generator) frames(events []event.Event) []llm.Image {
	var images []llm.Image
	for _, e := range events {
		if len(images) == maxImages {
			break
		}
		sf, ok := e.Payload.(event.ScreenFrame)
		if !ok || sf.Path == "" {
			continue
		}
		mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(sf.Path)))
		if !strings.HasPrefix(mimeType, "image/") {
			continue
		}
		info, err := os.Stat(sf.Path)
		if err != nil || info.Size() > maxImageBytes {
			continue
		}
		data, err := os.ReadFile(sf.Path)
		if err != nil {
			g.logger.Debug("skipping screen frame", "path", sf.Path, "error", err)
			continue
		}
		images = append(images, llm.Image{MIMEType: mimeType, Data: data})
	}
	return images
}

func (g *Generator) summary(p Pattern, name string, mode Mode, opts Options) Summary {
	head := p.Events
	if len(head) > g.summaryEvents {
		head = head[:g.summaryEvents]
	}
	counts := make(map[string]int)
	for k, n := range sourceCounts(p.Events) {
		counts[string(k)] = n
	}
	s := Summary{
		Key:          p.Key,
		DisplayName:  name,
		Title:        opts.Title,
		SessionID:    p.SessionID,
		Mode:         mode,
		Frequency:    p.Frequency,
		EventCount:   len(p.Events),
		SourceCounts: counts,
		Notes:        opts.Notes,
		Events:       append([]event.Event{}, head...),
	}
	if !p.FirstSeen.IsZero() {
		s.FirstSeen = event.FormatTimestamp(p.FirstSeen)
	}
	if !p.LastSeen.IsZero() {
		s.LastSeen = event.FormatTimestamp(p.LastSeen)
	}
	return s
}

// ReadManifest loads the manifest of the bundle in dir.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("bundle %s: %w", dir, event.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return &m, nil
}

func optional(content, path string) OptionalFile {
	if content == "" {
		return OptionalFile{}
	}
	return OptionalFile{Exists: true, Path: path}
}

// writeOptional writes content, or removes a stale file when content is
// empty so the directory always matches the manifest.
func writeOptional(path, content string) error {
	if content == "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	return os.WriteFile(path, []byte(content+"\n"), 0o644)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// timeOrZero parses a stored timestamp, returning the zero time for "".
func timeOrZero(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := event.ParseTimestamp(s)
	if err != nil {
		return time.Time{}
	}
	return t
}
