package understand

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultPortalConfidence is used by portal rules that leave Confidence unset.
const DefaultPortalConfidence = 0.9

// Rules holds every keyword table and portal rule the engine consults.
// It is loaded from configuration; the engine never mutates it.
type Rules struct {
	IntentKeywords      map[string][]string `koanf:"intent_keywords" yaml:"intent_keywords" json:"intent_keywords"`
	GoalKeywords        map[string][]string `koanf:"goal_keywords" yaml:"goal_keywords" json:"goal_keywords"`
	ApplicationKeywords map[string][]string `koanf:"application_keywords" yaml:"application_keywords" json:"application_keywords"`
	PageKeywords        map[string][]string `koanf:"page_keywords" yaml:"page_keywords" json:"page_keywords"`
	TaskKeywords        map[string][]string `koanf:"task_keywords" yaml:"task_keywords" json:"task_keywords"`
	Portals             []PortalRule        `koanf:"portals" yaml:"portals" json:"portals"`
}

// PortalRule recognizes a known web portal: when the current URL contains
// URLContains and the event (or segment) text contains one of
// ElementKeywords, it yields Intent and Goal directly.
type PortalRule struct {
	Name            string   `koanf:"name" yaml:"name" json:"name"`
	URLContains     string   `koanf:"url_contains" yaml:"url_contains" json:"url_contains"`
	ElementKeywords []string `koanf:"element_keywords" yaml:"element_keywords" json:"element_keywords"`
	Intent          string   `koanf:"intent" yaml:"intent,omitempty" json:"intent,omitempty"`
	Goal            string   `koanf:"goal" yaml:"goal,omitempty" json:"goal,omitempty"`
	Description     string   `koanf:"description" yaml:"description,omitempty" json:"description,omitempty"`
	Confidence      float64  `koanf:"confidence" yaml:"confidence,omitempty" json:"confidence,omitempty"`
}

func (p PortalRule) confidence() float64 {
	if p.Confidence <= 0 || p.Confidence > 1 {
		return DefaultPortalConfidence
	}
	return p.Confidence
}

// matches reports whether url and text satisfy the rule. Both are expected
// lower-cased.
func (p PortalRule) matches(url, text string) bool {
	if p.URLContains == "" || !strings.Contains(url, strings.ToLower(p.URLContains)) {
		return false
	}
	for _, kw := range p.ElementKeywords {
		if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Validate checks the rules for values the engine cannot use.
func (r Rules) Validate() error {
	tables := map[string]map[string][]string{
		"intent_keywords":      r.IntentKeywords,
		"goal_keywords":        r.GoalKeywords,
		"application_keywords": r.ApplicationKeywords,
		"page_keywords":        r.PageKeywords,
		"task_keywords":        r.TaskKeywords,
	}
	for name, table := range tables {
		for category, kws := range table {
			if strings.TrimSpace(category) == "" {
				return fmt.Errorf("%s: empty category name", name)
			}
			if len(kws) == 0 {
				return fmt.Errorf("%s.%s: no keywords", name, category)
			}
		}
	}
	for i, p := range r.Portals {
		if p.URLContains == "" {
			return fmt.Errorf("portals[%d] (%s): url_contains is required", i, p.Name)
		}
		if len(p.ElementKeywords) == 0 {
			return fmt.Errorf("portals[%d] (%s): element_keywords is required", i, p.Name)
		}
		if p.Intent == "" && p.Goal == "" {
			return fmt.Errorf("portals[%d] (%s): needs an intent or a goal", i, p.Name)
		}
		if p.Confidence < 0 || p.Confidence > 1 {
			return fmt.Errorf("portals[%d] (%s): confidence must be within [0,1]", i, p.Name)
		}
	}
	return nil
}

// keywordMatch is the best category of a keyword table for some text.
type keywordMatch struct {
	Category   string
	Matched    int
	Total      int
	Confidence float64
}

// bestMatch scores text (lower-cased) against every category and returns
// the one with the highest matched/total ratio. Ties go to the category
// that sorts first. ok is false when no keyword matched at all.
func bestMatch(table map[string][]string, text string) (keywordMatch, bool) {
	categories := make([]string, 0, len(table))
	for c := range table {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	var (
		best      keywordMatch
		bestRatio float64
		found     bool
	)
	for _, c := range categories {
		kws := table[c]
		if len(kws) == 0 {
			continue
		}
		matched := 0
		for _, kw := range kws {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" && strings.Contains(text, kw) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		ratio := float64(matched) / float64(len(kws))
		if !found || ratio > bestRatio {
			best = keywordMatch{Category: c, Matched: matched, Total: len(kws)}
			bestRatio = ratio
			found = true
		}
	}
	if !found {
		return keywordMatch{}, false
	}
	best.Confidence = overlapConfidence(bestRatio)
	return best, true
}

// overlapConfidence clamps a keyword ratio to [0.4, 1].
func overlapConfidence(ratio float64) float64 {
	if ratio > 1 {
		ratio = 1
	}
	if ratio < 0.4 {
		return 0.4
	}
	return ratio
}

// DefaultRules returns the built-in keyword tables.
func DefaultRules() Rules {
	return Rules{
		IntentKeywords: map[string][]string{
			"authenticate":     {"login", "sign in", "signin", "password", "username", "logon"},
			"search":           {"search", "find", "query", "filter", "lookup"},
			"data_entry":       {"input", "field", "form", "textbox", "change"},
			"navigate":         {"navigate", "dashboard", "home", "menu", "tab"},
			"review_document":  {"pdf", "document", "read", "review", "page"},
			"edit_spreadsheet": {"excel", "sheet", "workbook", "cell", "formula", "edit"},
			"export_data":      {"export", "download", "save", "report", "csv"},
		},
		GoalKeywords: map[string][]string{
			"process_billing":     {"billing", "invoice", "claim", "payment", "charge"},
			"remove_counselor":    {"counselor", "remove", "deactivate", "staff"},
			"web_form_completion": {"form", "submit", "apply", "register"},
			"data_reconciliation": {"spreadsheet", "reconcile", "compare", "workbook"},
			"document_review":     {"pdf", "document", "review", "signature"},
		},
		ApplicationKeywords: map[string][]string{
			"browser":     {"chrome", "firefox", "edge", "safari", "http"},
			"spreadsheet": {"excel", "xlsx", "spreadsheet", "calc"},
			"document":    {"pdf", "acrobat", "document", "word"},
			"terminal":    {"terminal", "powershell", "cmd.exe", "bash"},
			"email":       {"outlook", "mail", "inbox"},
		},
		PageKeywords: map[string][]string{
			"login":     {"login", "signin", "sign in"},
			"dashboard": {"dashboard", "home", "overview"},
			"queue":     {"queue", "worklist", "inbox"},
			"search":    {"search", "results"},
			"settings":  {"settings", "preferences", "admin"},
		},
		TaskKeywords: map[string][]string{
			"billing":    {"billing", "invoice", "claim", "payment"},
			"scheduling": {"schedule", "appointment", "calendar"},
			"reporting":  {"report", "export", "summary"},
			"staffing":   {"counselor", "staff", "roster"},
		},
		Portals: []PortalRule{
			{
				Name:            "work_queue",
				URLContains:     "portal",
				ElementKeywords: []string{"queue", "worklist", "assign", "claimbtn"},
				Intent:          "process_queue_item",
				Goal:            "process_billing",
				Description:     "Work item picked from the portal queue",
			},
			{
				Name:            "counselor_roster",
				URLContains:     "portal",
				ElementKeywords: []string{"counselor", "roster"},
				Intent:          "manage_counselor",
				Goal:            "remove_counselor",
				Description:     "Counselor roster maintenance",
			},
		},
	}
}
