// Package datalogger owns the lifecycle of a logging run: it builds the
// shared store, starts the sampling, logging and motion loops, and shuts them
// all down together.
package datalogger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/w1xm/drive_logger/drive"
	"github.com/w1xm/drive_logger/rowlog"
	"github.com/w1xm/drive_logger/sequencer"
	"github.com/w1xm/drive_logger/store"
	"github.com/w1xm/drive_logger/telemetry"
)

type Config struct {
	// Registers to sample, in log column order.
	Registers []string
	// Period is both the sampling and the logging period.
	Period time.Duration
	// Motion enables the two-point sequencer when non-nil.
	Motion *sequencer.Config
	Sink   rowlog.Sink
}

type Logger struct {
	cfg    Config
	labels []string

	store  *store.Store
	poller *telemetry.Poller
	writer *rowlog.Writer
	seq    *sequencer.Sequencer

	running atomic.Bool
}

func New(d drive.Drive, cfg Config) (*Logger, error) {
	if len(cfg.Registers) == 0 {
		return nil, errors.New("no registers configured")
	}
	if cfg.Period <= 0 {
		return nil, fmt.Errorf("invalid period %v", cfg.Period)
	}
	if cfg.Sink == nil {
		return nil, errors.New("no log sink configured")
	}
	l := &Logger{cfg: cfg}
	for _, name := range cfg.Registers {
		l.labels = append(l.labels, d.Label(name))
	}
	l.store = store.New(context.Background(), cfg.Registers)
	l.poller = telemetry.New(d, l.store, cfg.Period)
	l.writer = rowlog.NewWriter(l.store, cfg.Sink, cfg.Period)
	if cfg.Motion != nil {
		l.seq = sequencer.New(d, l.store, *cfg.Motion, func(status sequencer.Status) {
			log.Printf("motion: %v (target %v)", status.State, status.Target)
		})
	}
	return l, nil
}

// Run writes the log header, starts every loop and blocks until stop is
// closed or ctx is done. It then raises Shutdown and waits for all loops to
// exit. Faults inside a loop never stop the other loops; they are returned
// together once everything has exited.
func (l *Logger) Run(ctx context.Context, stop <-chan struct{}) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("logger already started")
	}
	if err := l.cfg.Sink.Header(l.cfg.Registers, l.labels); err != nil {
		return fmt.Errorf("writing log header: %w", err)
	}

	loopCtx := l.store.Context()
	var g errgroup.Group
	var pollErr, writeErr, motionErr error
	g.Go(func() error {
		pollErr = l.poller.Run(loopCtx)
		return pollErr
	})
	g.Go(func() error {
		writeErr = l.writer.Run(loopCtx)
		return writeErr
	})
	if l.seq != nil {
		g.Go(func() error {
			motionErr = l.seq.Run(loopCtx)
			// A sequencer that faulted before the first position never
			// raised Ready; log telemetry without motion from here on.
			l.store.SetReady()
			return motionErr
		})
	} else {
		l.store.SetReady()
	}

	select {
	case <-stop:
		log.Print("stop requested; shutting down")
	case <-ctx.Done():
		log.Printf("shutting down: %v", ctx.Err())
	}
	l.store.Shutdown()
	g.Wait()
	log.Printf("all loops stopped after %d rows", l.writer.Rows())
	return multierr.Combine(pollErr, writeErr, motionErr)
}

type RegisterStatus struct {
	Name      string  `json:"name"`
	Label     string  `json:"label"`
	Value     float64 `json:"value"`
	Failures  int     `json:"failures"`
	LastError string  `json:"last_error,omitempty"`
}

type Status struct {
	Time      time.Time        `json:"time"`
	Ready     bool             `json:"ready"`
	Shutdown  bool             `json:"shutdown"`
	Logging   bool             `json:"logging"`
	Rows      int64            `json:"rows"`
	Registers []RegisterStatus `json:"registers"`

	Motion       string  `json:"motion,omitempty"`
	MotionTarget float64 `json:"motion_target,omitempty"`
	MotionError  string  `json:"motion_error,omitempty"`
}

// Status is a point-in-time view of the store and loops.
func (l *Logger) Status() Status {
	status := Status{
		Time:     time.Now(),
		Ready:    l.store.IsReady(),
		Shutdown: l.store.IsShutdown(),
		Logging:  l.writer.Started(),
		Rows:     l.writer.Rows(),
	}
	for i, c := range l.store.Cells() {
		rs := RegisterStatus{
			Name:     c.Name(),
			Label:    l.labels[i],
			Value:    c.Value(),
			Failures: c.Failures(),
		}
		if rs.Failures > 0 {
			if err := c.LastError(); err != nil {
				rs.LastError = err.Error()
			}
		}
		status.Registers = append(status.Registers, rs)
	}
	if l.seq != nil {
		ms := l.seq.Status()
		status.Motion = ms.State.String()
		status.MotionTarget = ms.Target
		if ms.Err != nil {
			status.MotionError = ms.Err.Error()
		}
	}
	return status
}
