package progress

import (
	"bytes"
	"testing"
)

func TestLineReporter(t *testing.T) {
	var buf bytes.Buffer
	r := &LineReporter{Label: "Exporting", Out: &buf}
	r.Start(2)
	r.Update(1, "s1")
	r.Update(2, "s2")
	r.Finish()

	want := "Exporting 2 session(s)\n[1/2] s1\n[2/2] s2\nExporting done\n"
	if got := buf.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestNewReporterCI(t *testing.T) {
	t.Setenv("CI", "true")
	if _, ok := NewReporter("Processing").(*LineReporter); !ok {
		t.Error("expected LineReporter under CI")
	}
}

func TestTerminalReporterBeforeStart(t *testing.T) {
	// Update and Finish before Start must not panic.
	r := &TerminalReporter{Label: "x"}
	r.Update(1, "s1")
	r.Finish()
}
