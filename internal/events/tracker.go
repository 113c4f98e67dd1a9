package events

import "sync"

// Counts breaks finished items down by terminal status.
type Counts struct {
	Done     int `json:"done"`
	Errors   int `json:"errors"`
	Timeouts int `json:"timeouts"`
	Aborted  int `json:"aborted"`
}

// Tracker maintains aggregate batch progress and publishes updates to a Bus.
// Cancellation is tracked separately and excluded from failure counts.
type Tracker struct {
	mu      sync.Mutex
	total   int
	current int
	active  int
	counts  Counts
	bus     *Bus
}

// NewTracker creates a Tracker publishing to bus (which may be nil).
func NewTracker(bus *Bus) *Tracker {
	return &Tracker{bus: bus}
}

// Start resets the tracker for a batch of the given size.
func (t *Tracker) Start(total int) {
	t.mu.Lock()
	t.total = total
	t.current = 0
	t.active = 0
	t.counts = Counts{}
	t.mu.Unlock()
	t.publish()
}

// ItemStarted records that a worker picked up an item.
func (t *Tracker) ItemStarted() {
	t.mu.Lock()
	t.active++
	t.mu.Unlock()
	t.publish()
}

// ItemFinished records a terminal status for one item.
func (t *Tracker) ItemFinished(status string) {
	t.mu.Lock()
	t.active--
	t.current++
	switch status {
	case "done":
		t.counts.Done++
	case "error":
		t.counts.Errors++
	case "timeout":
		t.counts.Timeouts++
	case "aborted":
		t.counts.Aborted++
	}
	t.mu.Unlock()
	t.publish()
}

// Snapshot returns the aggregate progress.
func (t *Tracker) Snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Progress{Current: t.current, Total: t.total, ActiveWorkers: t.active}
}

// Counts returns the per-status totals so far.
func (t *Tracker) Counts() Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts
}

// FailureRate is failures (errors + timeouts) over finished non-aborted
// items. Aborted items are not failures.
func (t *Tracker) FailureRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	finished := t.counts.Done + t.counts.Errors + t.counts.Timeouts
	if finished == 0 {
		return 0
	}
	return float64(t.counts.Errors+t.counts.Timeouts) / float64(finished)
}

func (t *Tracker) publish() {
	p := t.Snapshot()
	t.bus.Publish(Event{Type: TypeProgress, Progress: &p})
}
