package engine

import (
	"fmt"
	"io"
	"strings"
)

// Transcript renders a pass's events as the human-readable progress log:
//
//	Cloning repo... OK
//
//	Comics found:
//	Alpha
//
//	Updating comics...
//	Alpha... Skip
//
//	All operations completed successfully
//
// It only appends, so the writer can be a log file shared by many passes.
type Transcript struct {
	w       io.Writer
	open    bool // a step line awaits its outcome
	started bool
	err     error
}

// NewTranscript writes to w.
func NewTranscript(w io.Writer) *Transcript {
	return &Transcript{w: w}
}

// Render returns the transcript of events.
func Render(events []Event) string {
	var b strings.Builder
	t := NewTranscript(&b)
	for _, e := range events {
		t.Add(e)
	}
	return b.String()
}

// Err returns the first write error.
func (t *Transcript) Err() error { return t.err }

// Add appends one event.
func (t *Transcript) Add(e Event) {
	switch e.Kind {
	case EventState:
		if e.Message == "" {
			return
		}
		t.section()
		t.printf("%s...", e.Message)
		t.open = true
	case EventClone, EventIndex:
		t.closeStep(e.Outcome)
	case EventInfo:
		t.section()
		t.printf("%s\n", e.Message)
	case EventDiscovered:
		t.printf("%s\n", e.Unit)
	case EventChanges:
		t.section()
		t.printf("%s\n", e.Message)
	case EventUnit:
		t.printf("%s... %s\n", e.Unit, e.Outcome)
		if e.Err != nil {
			t.printf("%v\n", e.Err)
		}
	case EventBanner:
		if e.Err != nil && t.open {
			t.closeStep(OutcomeError)
		}
		t.section()
		if e.Err != nil {
			t.printf("%v\n", e.Err)
		}
		t.printf("%s\n", e.Message)
	}
}

// section separates a new block from the previous one with a blank line.
func (t *Transcript) section() {
	if t.open {
		t.printf("\n")
		t.open = false
	}
	if t.started {
		t.printf("\n")
	}
	t.started = true
}

func (t *Transcript) closeStep(o Outcome) {
	if !t.open {
		return
	}
	t.printf(" %s\n", o)
	t.open = false
}

func (t *Transcript) printf(format string, args ...any) {
	if t.err != nil {
		return
	}
	_, t.err = fmt.Fprintf(t.w, format, args...)
}
