// Package store holds the state shared between the sampling, logging and
// motion loops: one atomic cell per register plus the Ready and Shutdown
// signals.
package store

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
)

// Cell is the latest sample of one register. It has a single writer (its
// poller) and any number of readers.
type Cell struct {
	name     string
	bits     atomic.Uint64
	failures atomic.Int64

	mu      sync.Mutex
	lastErr error
}

func (c *Cell) Name() string {
	return c.name
}

func (c *Cell) Value() float64 {
	return math.Float64frombits(c.bits.Load())
}

// Set records a successful sample and clears the failure streak.
func (c *Cell) Set(v float64) {
	c.bits.Store(math.Float64bits(v))
	c.failures.Store(0)
}

// Fail records a failed sample. The value is left untouched. It returns the
// number of consecutive failures including this one.
func (c *Cell) Fail(err error) int {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	return int(c.failures.Add(1))
}

// Failures is the length of the current failure streak.
func (c *Cell) Failures() int {
	return int(c.failures.Load())
}

// LastError is the most recent read error, which may predate the last
// successful sample.
func (c *Cell) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

type Store struct {
	cells  []*Cell
	byName map[string]*Cell

	readyOnce sync.Once
	ready     chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	shutdown atomic.Bool
}

// New creates a store with one zeroed cell per name, in order. The store's
// context is cancelled by Shutdown or when parent is done.
func New(parent context.Context, names []string) *Store {
	s := &Store{
		byName: make(map[string]*Cell, len(names)),
		ready:  make(chan struct{}),
	}
	for _, name := range names {
		c := &Cell{name: name}
		s.cells = append(s.cells, c)
		s.byName[name] = c
	}
	s.ctx, s.cancel = context.WithCancel(parent)
	return s
}

// Cell returns the cell for name, or nil if the store has none.
func (s *Store) Cell(name string) *Cell {
	return s.byName[name]
}

// Cells returns every cell in configured order.
func (s *Store) Cells() []*Cell {
	return s.cells
}

func (s *Store) Names() []string {
	names := make([]string, len(s.cells))
	for i, c := range s.cells {
		names[i] = c.name
	}
	return names
}

// Snapshot reads every cell in configured order. Cells are read one at a
// time; there is no guarantee they were written at the same instant.
func (s *Store) Snapshot() []float64 {
	values := make([]float64, len(s.cells))
	for i, c := range s.cells {
		values[i] = c.Value()
	}
	return values
}

// SetReady raises the Ready signal. Only the first call has an effect.
func (s *Store) SetReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// Ready is closed once SetReady has been called.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

func (s *Store) IsReady() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

// Shutdown raises the Shutdown signal and cancels Context. It reports
// whether this call made the transition.
func (s *Store) Shutdown() bool {
	if !s.shutdown.CompareAndSwap(false, true) {
		return false
	}
	s.cancel()
	return true
}

func (s *Store) IsShutdown() bool {
	return s.shutdown.Load() || s.ctx.Err() != nil
}

// Context is done once Shutdown has been called.
func (s *Store) Context() context.Context {
	return s.ctx
}
