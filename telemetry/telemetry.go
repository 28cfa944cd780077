// Package telemetry samples drive registers into the shared store, one
// independent loop per register.
package telemetry

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/w1xm/drive_logger/drive"
	"github.com/w1xm/drive_logger/internal/schedule"
	"github.com/w1xm/drive_logger/store"
)

type Poller struct {
	drive  drive.Drive
	store  *store.Store
	period time.Duration
}

func New(d drive.Drive, s *store.Store, period time.Duration) *Poller {
	return &Poller{drive: d, store: s, period: period}
}

// Run samples every cell of the store until ctx is done, then waits for all
// sampling loops to exit. Read failures never stop a loop.
func (p *Poller) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, cell := range p.store.Cells() {
		wg.Add(1)
		go func(cell *store.Cell) {
			defer wg.Done()
			p.sample(ctx, cell)
		}(cell)
	}
	wg.Wait()
	return nil
}

func (p *Poller) sample(ctx context.Context, cell *store.Cell) {
	sched := schedule.New(p.period)
	for {
		if ctx.Err() != nil {
			return
		}
		v, err := p.drive.Read(ctx, cell.Name())
		if err != nil {
			// Keep the stale value; only the start of a failure streak is logged.
			if cell.Fail(err) == 1 && ctx.Err() == nil {
				log.Printf("sampling %s: %v", cell.Name(), err)
			}
		} else {
			if n := cell.Failures(); n > 0 {
				log.Printf("sampling %s: recovered after %d failures", cell.Name(), n)
			}
			cell.Set(v)
		}
		if err := sched.Wait(ctx); err != nil {
			return
		}
	}
}
