// Package rowlog turns the shared store into an append-only log, one row per
// logging period, once the store is Ready.
package rowlog

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/w1xm/drive_logger/internal/schedule"
	"github.com/w1xm/drive_logger/store"
)

type Writer struct {
	store  *store.Store
	sink   Sink
	period time.Duration
	now    func() time.Time

	rows    atomic.Int64
	started atomic.Bool
}

func NewWriter(s *store.Store, sink Sink, period time.Duration) *Writer {
	return &Writer{store: s, sink: sink, period: period, now: time.Now}
}

// Rows is the number of rows written so far.
func (w *Writer) Rows() int64 {
	return w.rows.Load()
}

// Started reports whether the writer has passed the Ready gate.
func (w *Writer) Started() bool {
	return w.started.Load()
}

// Run blocks until the store is Ready, then writes a row every period until
// ctx is done. If ctx ends first no row is ever written. A sink error stops
// the writer and is returned.
func (w *Writer) Run(ctx context.Context) error {
	select {
	case <-w.store.Ready():
	case <-ctx.Done():
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}
	w.started.Store(true)
	log.Printf("starting to log data every %v", w.period)

	sched := schedule.New(w.period)
	for {
		row := Row{Time: w.now(), Values: w.store.Snapshot()}
		if err := w.sink.Write(row); err != nil {
			log.Printf("writing log row: %v; logging stopped", err)
			return fmt.Errorf("writing log row: %w", err)
		}
		w.rows.Add(1)
		if ctx.Err() != nil {
			return nil
		}
		if err := sched.Wait(ctx); err != nil {
			return nil
		}
	}
}
