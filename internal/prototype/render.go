package prototype

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ziadkadry99/flowtrace/internal/event"
)

// maxPromptSteps bounds the step list embedded in prompts.
const maxPromptSteps = 200

// Describe renders a one-line, human-readable account of e.
func Describe(e event.Event) string {
	switch p := e.Payload.(type) {
	case event.Navigation:
		if p.Title != "" {
			return fmt.Sprintf("Navigate to %s (%s)", p.URL, p.Title)
		}
		return "Navigate to " + p.URL
	case event.Interaction:
		target := firstNonEmpty(p.ElementID, p.ElementName, p.ElementTag, "element")
		verb := firstNonEmpty(p.Action, "interact")
		if p.ElementValue != "" {
			return fmt.Sprintf("%s %s with value %s", capitalize(verb), target, p.ElementValue)
		}
		return fmt.Sprintf("%s %s", capitalize(verb), target)
	case event.Keystroke:
		return fmt.Sprintf("Press %s%s", p.Key, inApp(p.App, p.WindowTitle))
	case event.Mouse:
		return fmt.Sprintf("Mouse %s at (%d, %d)%s", firstNonEmpty(p.EventType, "click"), p.X, p.Y, inApp(p.App, p.WindowTitle))
	case event.Spreadsheet:
		cell := strings.Trim(p.Worksheet+"!"+p.Cell, "!")
		s := fmt.Sprintf("%s cell %s in %s", capitalize(firstNonEmpty(p.Action, "edit")), cell, p.Workbook)
		if p.Formula != "" {
			return s + " with formula " + p.Formula
		}
		if p.Value != "" {
			return s + " to " + p.Value
		}
		return s
	case event.Document:
		s := fmt.Sprintf("%s document %s", capitalize(firstNonEmpty(p.Action, "open")), p.FileName)
		if p.FormField != "" {
			s += ", field " + p.FormField
		}
		if p.Page > 0 {
			s += fmt.Sprintf(", page %d", p.Page)
		}
		return s
	case event.AppLog:
		return fmt.Sprintf("Bot log %s: %s", strings.ToUpper(firstNonEmpty(p.Level, "info")), p.Message)
	case event.ScreenFrame:
		return "Screen capture " + filepath.Base(p.Path) + inApp(p.App, p.WindowTitle)
	}
	return fmt.Sprintf("Unrecognized %s event", e.Kind)
}

// todo returns the placeholder statement for the automated form of e.
func todo(e event.Event) string {
	switch p := e.Payload.(type) {
	case event.Navigation:
		return "page.goto(" + strconv.Quote(p.URL) + ")"
	case event.Interaction:
		sel := selector(p)
		switch strings.ToLower(p.Action) {
		case "input", "change", "type":
			return "page.fill(" + strconv.Quote(sel) + ", " + strconv.Quote(p.ElementValue) + ")"
		case "submit":
			return "page.locator(" + strconv.Quote(sel) + ").evaluate(\"f => f.submit()\")"
		default:
			return "page.click(" + strconv.Quote(sel) + ")"
		}
	case event.Keystroke:
		return "desktop.press(" + strconv.Quote(p.Key) + ")"
	case event.Mouse:
		return fmt.Sprintf("desktop.click(%d, %d)", p.X, p.Y)
	case event.Spreadsheet:
		value := p.Value
		if p.Formula != "" {
			value = p.Formula
		}
		return fmt.Sprintf("workbook[%s][%s] = %s", strconv.Quote(p.Worksheet), strconv.Quote(p.Cell), strconv.Quote(value))
	case event.Document:
		if p.FormField != "" {
			return "document.fill_field(" + strconv.Quote(p.FileName) + ", " + strconv.Quote(p.FormField) + ", value)"
		}
		return "document.open(" + strconv.Quote(firstNonEmpty(p.FilePath, p.FileName)) + ")"
	case event.AppLog:
		return "wait_for_log(" + strconv.Quote(p.Message) + ")"
	case event.ScreenFrame:
		return "assert_screen_matches(" + strconv.Quote(filepath.Base(p.Path)) + ")"
	}
	return "handle " + string(e.Kind)
}

func selector(p event.Interaction) string {
	switch {
	case p.ElementID != "":
		return "#" + p.ElementID
	case p.ElementName != "":
		return fmt.Sprintf("[name=%s]", p.ElementName)
	case p.ElementTag != "":
		return p.ElementTag
	}
	return "body"
}

// renderScript builds the prototype.py skeleton. Steps are numbered across
// the whole script and grouped into sections of contiguous source kind.
func renderScript(p Pattern, displayName string) string {
	var b strings.Builder
	b.WriteString("\"\"\"\n")
	fmt.Fprintf(&b, "Automation prototype: %s\n", displayName)
	fmt.Fprintf(&b, "Pattern key: %s\n", p.Key)
	fmt.Fprintf(&b, "Recorded steps: %d, seen %d time(s)\n", len(p.Events), p.Frequency)
	b.WriteString("\"\"\"\n\n\n")
	b.WriteString("def run(page, desktop, workbook, document):\n")

	if len(p.Events) == 0 {
		b.WriteString("    # No recorded steps.\n")
	}
	section := 0
	for i, e := range p.Events {
		if i == 0 || e.Kind != p.Events[i-1].Kind {
			section++
			if i > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "    # --- Section %d: %s (%d step(s)) ---\n", section, e.Kind, runLength(p.Events, i))
		}
		fmt.Fprintf(&b, "    # Step %d [%s] %s\n", i+1, clock(e), oneLine(Describe(e)))
		fmt.Fprintf(&b, "    # TODO: %s\n", todo(e))
	}
	b.WriteString("    pass\n\n\n")
	b.WriteString("if __name__ == \"__main__\":\n")
	b.WriteString("    run(page=None, desktop=None, workbook=None, document=None)\n")
	return b.String()
}

func runLength(events []event.Event, start int) int {
	n := 0
	for i := start; i < len(events) && events[i].Kind == events[start].Kind; i++ {
		n++
	}
	return n
}

// renderPrompt builds the numbered plain-text build prompt.
func renderPrompt(p Pattern, displayName, title, notes string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Build an automation that reproduces the workflow %q.\n\n", displayName)
	if title != "" {
		fmt.Fprintf(&b, "Title: %s\n", title)
	}
	b.WriteString("Context:\n")
	fmt.Fprintf(&b, "- Recorded steps: %d\n", len(p.Events))
	fmt.Fprintf(&b, "- Times observed: %d\n", p.Frequency)
	if !p.FirstSeen.IsZero() {
		fmt.Fprintf(&b, "- First seen: %s\n", p.FirstSeen.UTC().Format(time.RFC3339))
		fmt.Fprintf(&b, "- Last seen: %s\n", p.LastSeen.UTC().Format(time.RFC3339))
	}
	if counts := sourceCounts(p.Events); len(counts) > 0 {
		fmt.Fprintf(&b, "- Sources: %s\n", formatCounts(counts))
	}
	if notes != "" {
		fmt.Fprintf(&b, "\nNotes from the user:\n%s\n", strings.TrimSpace(notes))
	}

	b.WriteString("\nSteps:\n")
	writeSteps(&b, p.Events)

	b.WriteString("\nRequirements:\n")
	b.WriteString("1. Reproduce the steps in order and wait for each page or window to settle before the next step.\n")
	b.WriteString("2. Read values that were hashed during recording (prefixed h:) from configuration, never hard-code them.\n")
	b.WriteString("3. Log each step and stop with a clear error when an expected element or file is missing.\n")
	b.WriteString("4. Start from prototype.py in this directory and replace every TODO.\n")
	return b.String()
}

// reportPrompt is the user prompt sent to the summarizer.
func reportPrompt(p Pattern, title, notes string) string {
	var b strings.Builder
	b.WriteString("Analyze this recorded workstation workflow.\n")
	if title != "" {
		fmt.Fprintf(&b, "The user calls it: %s\n", title)
	}
	if notes != "" {
		fmt.Fprintf(&b, "User notes: %s\n", strings.TrimSpace(notes))
	}
	fmt.Fprintf(&b, "It was observed %d time(s) and has %d steps.\n\nSteps:\n", p.Frequency, len(p.Events))
	writeSteps(&b, p.Events)
	b.WriteString("\nWrite a markdown report with sections for Purpose, Steps, Inputs and Outputs, Decision Points, and Automation Approach.")
	return b.String()
}

const reportSystemPrompt = `You are an automation analyst. You read recorded user activity and explain
the business workflow behind it so that a developer can automate it.
The first line of your answer must be a short workflow name of at most eight words, formatted as a markdown heading.`

func writeSteps(b *strings.Builder, events []event.Event) {
	for i, e := range events {
		if i == maxPromptSteps {
			fmt.Fprintf(b, "... and %d more step(s)\n", len(events)-maxPromptSteps)
			return
		}
		fmt.Fprintf(b, "%d. %s\n", i+1, oneLine(Describe(e)))
	}
}

// displayNameFor applies the naming chain: report heading, templated name
// from the first action type, generic name.
func displayNameFor(p Pattern, report string) string {
	for _, line := range strings.Split(report, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
		if line != "" {
			return line
		}
	}
	prefix := shortHash(p)
	if p.ActionType != "" {
		return fmt.Sprintf("%s workflow %s", capitalize(p.ActionType), prefix)
	}
	return "Workflow " + prefix
}

func shortHash(p Pattern) string {
	h := PatternKey(p.Events)
	return h[:8]
}

func sourceCounts(events []event.Event) map[event.SourceKind]int {
	counts := make(map[event.SourceKind]int)
	for _, e := range events {
		counts[e.Kind]++
	}
	return counts
}

func formatCounts(counts map[event.SourceKind]int) string {
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[event.SourceKind(k)])
	}
	return strings.Join(parts, ", ")
}

func clock(e event.Event) string {
	if e.Malformed() {
		return "--:--:--"
	}
	return e.Timestamp.UTC().Format("15:04:05")
}

func inApp(app, window string) string {
	switch {
	case app != "" && window != "":
		return fmt.Sprintf(" in %s (%s)", app, window)
	case app != "":
		return " in " + app
	case window != "":
		return " in " + window
	}
	return ""
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
