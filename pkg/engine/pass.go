package engine

import (
	"sync"
	"time"
)

// State is the lifecycle state of a pass.
type State int

const (
	StateIdle State = iota
	StateCloning
	StateCopying
	StateIndexing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCloning:
		return "cloning"
	case StateCopying:
		return "diffing/copying"
	case StateIndexing:
		return "indexing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends a pass.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// Kind tells the two pass types apart.
type Kind string

const (
	KindSync   Kind = "sync"
	KindIngest Kind = "ingest"
)

// Outcome is the result of one content unit.
type Outcome string

const (
	OutcomeNone  Outcome = ""
	OutcomeOK    Outcome = "OK"
	OutcomeSkip  Outcome = "Skip"
	OutcomeError Outcome = "ERROR"
)

// EventKind classifies progress events.
type EventKind int

const (
	// EventState marks a state transition. Message, when set, names the step that starts.
	EventState EventKind = iota
	// EventClone reports the outcome of landing the source tree.
	EventClone
	// EventInfo is a free-standing progress line.
	EventInfo
	// EventDiscovered lists one unit found in the source tree.
	EventDiscovered
	// EventChanges carries the version-control change summary.
	EventChanges
	// EventUnit reports the outcome of one unit.
	EventUnit
	// EventIndex reports the outcome of the tag index update.
	EventIndex
	// EventBanner is the last event of a pass.
	EventBanner
)

// Event is one progress notification. Seq increases by one per event of a pass.
type Event struct {
	PassID  string
	Seq     int
	State   State
	Kind    EventKind
	Unit    string
	Outcome Outcome
	Message string
	Err     error
}

// Result summarises a finished pass.
type Result struct {
	PassID   string
	Kind     Kind
	State    State
	Err      error
	OK       int
	Skipped  int
	Failed   int
	Changed  []string
	Duration time.Duration
}

// Pass is a running or finished sync or ingestion pass.
type Pass struct {
	ID        string
	Kind      Kind
	StartedAt time.Time

	mu     sync.Mutex
	cond   *sync.Cond
	state  State
	log    []Event
	closed bool
	result Result

	done       chan struct{}
	eventsOnce sync.Once
	events     chan Event
}

func newPass(id string, kind Kind) *Pass {
	p := &Pass{
		ID:        id,
		Kind:      kind,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// State returns the current state.
func (p *Pass) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Events returns the pass's progress stream in order. The channel is closed
// after the terminal banner. Every call returns the same channel; events
// emitted before the first call are replayed.
func (p *Pass) Events() <-chan Event {
	p.eventsOnce.Do(func() {
		p.events = make(chan Event, 16)
		go p.forward()
	})
	return p.events
}

// History returns a copy of every event emitted so far.
func (p *Pass) History() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.log))
	copy(out, p.log)
	return out
}

// Wait blocks until the pass reaches a terminal state and returns its result.
func (p *Pass) Wait() Result {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result
}

// Done is closed when the pass has finished.
func (p *Pass) Done() <-chan struct{} { return p.done }

func (p *Pass) forward() {
	defer close(p.events)
	next := 0
	for {
		p.mu.Lock()
		for next >= len(p.log) && !p.closed {
			p.cond.Wait()
		}
		if next >= len(p.log) {
			p.mu.Unlock()
			return
		}
		e := p.log[next]
		next++
		p.mu.Unlock()
		p.events <- e
	}
}

func (p *Pass) emit(e Event) {
	p.mu.Lock()
	e.PassID = p.ID
	e.Seq = len(p.log) + 1
	e.State = p.state
	p.log = append(p.log, e)
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *Pass) setState(s State, message string) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	p.emit(Event{Kind: EventState, Message: message})
}

func (p *Pass) info(message string) {
	p.emit(Event{Kind: EventInfo, Message: message})
}

func (p *Pass) unit(name string, outcome Outcome, err error) {
	p.mu.Lock()
	switch outcome {
	case OutcomeOK:
		p.result.OK++
	case OutcomeSkip:
		p.result.Skipped++
	case OutcomeError:
		p.result.Failed++
	}
	p.mu.Unlock()
	p.emit(Event{Kind: EventUnit, Unit: name, Outcome: outcome, Err: err})
}

// finish moves the pass to its terminal state, emits the banner and
// closes the stream.
func (p *Pass) finish(err error, changed []string) {
	final := StateDone
	banner := "All operations completed successfully"
	if err != nil {
		final = StateFailed
		banner = "A fatal error occurred, operation failed"
	}

	p.mu.Lock()
	p.state = final
	p.mu.Unlock()
	p.emit(Event{Kind: EventState})
	p.emit(Event{Kind: EventBanner, Message: banner, Err: err})

	p.mu.Lock()
	p.result.PassID = p.ID
	p.result.Kind = p.Kind
	p.result.State = final
	p.result.Err = err
	p.result.Changed = changed
	p.result.Duration = time.Since(p.StartedAt)
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
	close(p.done)
}
