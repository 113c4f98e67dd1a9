// Package prefetch keeps the worker pool fed from a paginated remote row
// source without tripping rate limits, by fetching ahead of demand.
package prefetch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mkurman/synthlabs-sub004/internal/dataset"
)

// RowFetcher abstracts the paginated remote source.
type RowFetcher interface {
	FetchRows(ctx context.Context, offset, limit int) ([]dataset.Row, error)
}

// Config tunes how far ahead of demand the manager fetches.
type Config struct {
	// Batches multiplies concurrency to size the ideal buffer.
	Batches int
	// Threshold in (0,1): refetch when the buffer drops to this fraction
	// of the ideal size.
	Threshold float64
}

// State is an observable snapshot of the manager.
type State struct {
	Buffered       int     `json:"buffered"`
	CurrentOffset  int     `json:"current_offset"`
	TotalRequested int     `json:"total_requested"`
	TotalDelivered int     `json:"total_delivered"`
	IsComplete     bool    `json:"is_complete"`
	IsFetching     bool    `json:"is_fetching"`
	Concurrency    int     `json:"concurrency"`
	Batches        int     `json:"prefetch_batches"`
	Threshold      float64 `json:"prefetch_threshold"`
}

// Manager is a producer/consumer buffer over a RowFetcher. All workers call
// Next concurrently; a mutex guards the check-threshold/fetch/pop sequence
// and a single-flight invariant holds: at most one fetch is in flight.
type Manager struct {
	fetcher RowFetcher
	logger  *slog.Logger

	mu             sync.Mutex
	buffer         []dataset.Row
	offset         int
	totalRequested int
	totalDelivered int
	concurrency    int
	cfg            Config
	complete       bool
	fetching       bool
	fetchDone      chan struct{}
	fetchErr       error
	onState        func(State)
}

// New creates a Manager that will deliver at most totalRequested rows.
func New(fetcher RowFetcher, totalRequested, concurrency int, cfg Config) *Manager {
	if cfg.Batches <= 0 {
		cfg.Batches = 2
	}
	if cfg.Threshold <= 0 || cfg.Threshold >= 1 {
		cfg.Threshold = 0.5
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Manager{
		fetcher:        fetcher,
		logger:         slog.Default(),
		totalRequested: totalRequested,
		concurrency:    concurrency,
		cfg:            cfg,
	}
}

// OnState registers a callback invoked with a snapshot after every state
// change. Used to feed the observability channel; may be nil.
func (m *Manager) OnState(fn func(State)) {
	m.mu.Lock()
	m.onState = fn
	m.mu.Unlock()
}

// ideal = batches x concurrency; refetch once the buffer falls to
// floor(ideal x fraction).
func (m *Manager) idealBufferSizeLocked() int {
	return m.cfg.Batches * m.concurrency
}

func (m *Manager) refetchThresholdLocked() int {
	return int(float64(m.idealBufferSizeLocked()) * m.cfg.Threshold)
}

func (m *Manager) shouldPrefetchLocked() bool {
	return !m.fetching &&
		!m.complete &&
		m.totalDelivered < m.totalRequested &&
		len(m.buffer) <= m.refetchThresholdLocked()
}

// ShouldPrefetch reports whether a background fetch would start now.
func (m *Manager) ShouldPrefetch() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shouldPrefetchLocked()
}

// SetConcurrency updates the worker count, re-evaluating the prefetch
// condition immediately.
func (m *Manager) SetConcurrency(ctx context.Context, n int) {
	if n < 1 {
		n = 1
	}
	m.mu.Lock()
	m.concurrency = n
	m.maybeFetchLocked(ctx)
	m.emitLocked()
	m.mu.Unlock()
}

// SetConfig updates the prefetch tuning, re-evaluating immediately.
func (m *Manager) SetConfig(ctx context.Context, cfg Config) {
	m.mu.Lock()
	if cfg.Batches > 0 {
		m.cfg.Batches = cfg.Batches
	}
	if cfg.Threshold > 0 && cfg.Threshold < 1 {
		m.cfg.Threshold = cfg.Threshold
	}
	m.maybeFetchLocked(ctx)
	m.emitLocked()
	m.mu.Unlock()
}

// Next returns the next row, blocking while the buffer is empty and rows are
// still expected. It returns (nil, nil) once totalRequested rows have been
// delivered or the source is exhausted. A background fetch error propagates
// to exactly one blocked caller; later calls retry the fetch.
func (m *Manager) Next(ctx context.Context) (dataset.Row, error) {
	m.mu.Lock()
	for {
		if m.totalDelivered >= m.totalRequested {
			m.mu.Unlock()
			return nil, nil
		}

		if m.fetchErr != nil {
			err := m.fetchErr
			m.fetchErr = nil
			m.mu.Unlock()
			return nil, err
		}

		m.maybeFetchLocked(ctx)

		if len(m.buffer) > 0 {
			row := m.buffer[0]
			m.buffer = m.buffer[1:]
			m.totalDelivered++
			// Pipeline the next fetch before handing the row back.
			m.maybeFetchLocked(ctx)
			m.emitLocked()
			m.mu.Unlock()
			return row, nil
		}

		if m.complete {
			m.mu.Unlock()
			return nil, nil
		}

		done := m.fetchDone
		m.mu.Unlock()

		if done == nil {
			// No fetch in flight and nothing buffered; re-enter the loop
			// to start one.
			m.mu.Lock()
			continue
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-done:
		}
		m.mu.Lock()
	}
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() State {
	return State{
		Buffered:       len(m.buffer),
		CurrentOffset:  m.offset,
		TotalRequested: m.totalRequested,
		TotalDelivered: m.totalDelivered,
		IsComplete:     m.complete,
		IsFetching:     m.fetching,
		Concurrency:    m.concurrency,
		Batches:        m.cfg.Batches,
		Threshold:      m.cfg.Threshold,
	}
}

func (m *Manager) emitLocked() {
	if m.onState != nil {
		m.onState(m.snapshotLocked())
	}
}

// maybeFetchLocked starts a background fetch when the prefetch condition
// holds. Caller must hold m.mu.
func (m *Manager) maybeFetchLocked(ctx context.Context) {
	if !m.shouldPrefetchLocked() {
		return
	}

	size := m.idealBufferSizeLocked()
	if remaining := m.totalRequested - m.totalDelivered; size > remaining {
		size = remaining
	}
	if size <= 0 {
		return
	}

	m.fetching = true
	done := make(chan struct{})
	m.fetchDone = done
	offset := m.offset

	go func() {
		rows, err := m.fetcher.FetchRows(ctx, offset, size)

		m.mu.Lock()
		// Guaranteed cleanup: isFetching resets on every path.
		m.fetching = false
		m.fetchDone = nil
		if err != nil {
			m.fetchErr = err
			m.logger.Warn("prefetch fetch failed", "offset", offset, "size", size, "error", err)
		} else {
			m.buffer = append(m.buffer, rows...)
			m.offset = offset + len(rows)
			if len(rows) < size {
				// Source returned fewer rows than asked: end of data.
				m.complete = true
			}
		}
		m.emitLocked()
		m.mu.Unlock()
		close(done)
	}()
}
