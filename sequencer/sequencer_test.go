package sequencer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/w1xm/drive_logger/drive"
	"github.com/w1xm/drive_logger/drive/simulator"
	"github.com/w1xm/drive_logger/store"
)

type recorder struct {
	mu     sync.Mutex
	states []State
	onStep func(n int)
}

func (r *recorder) callback(status Status) {
	r.mu.Lock()
	r.states = append(r.states, status.State)
	n := len(r.states)
	r.mu.Unlock()
	if r.onStep != nil {
		r.onStep(n)
	}
}

func (r *recorder) get() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func lastCall(t *testing.T, sim *simulator.Simulator) string {
	t.Helper()
	calls := sim.Calls()
	if len(calls) == 0 {
		t.Fatalf("no drive calls recorded")
	}
	return calls[len(calls)-1]
}

func TestOscillation(t *testing.T) {
	sim := simulator.New(nil)
	s := store.New(context.Background(), nil)
	rec := &recorder{}
	// Enabling, SeekingFirst, then A, B, A, B, A, B.
	rec.onStep = func(n int) {
		if n == 8 {
			s.Shutdown()
		}
	}
	seq := New(sim, s, Config{Position1: 0, Position2: 65535, Tolerance: 200, PollInterval: time.Millisecond}, rec.callback)
	if err := seq.Run(s.Context()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []State{Enabling, SeekingFirst, AtPositionA, AtPositionB, AtPositionA, AtPositionB, AtPositionA, AtPositionB, Stopped}
	if diff := cmp.Diff(rec.get(), want); diff != "" {
		t.Errorf("unexpected states: got(-)/want(+):\n%s", diff)
	}
	states := rec.get()
	for i := 1; i < len(states); i++ {
		if states[i] == states[i-1] {
			t.Errorf("state %v repeated at %d", states[i], i)
		}
	}
	if !s.IsReady() {
		t.Errorf("Ready not set after reaching the first position")
	}
	if got := lastCall(t, sim); got != "disable" {
		t.Errorf("last drive call = %q, want disable", got)
	}
	if sim.Enabled() {
		t.Errorf("motor left enabled")
	}
	if st := seq.Status(); st.State != Stopped || st.Err != nil {
		t.Errorf("final status = %+v, want clean stop", st)
	}
}

func TestLatchClearsThenSets(t *testing.T) {
	sim := simulator.New(nil)
	s := store.New(context.Background(), nil)
	rec := &recorder{onStep: func(n int) {
		if n == 3 {
			s.Shutdown()
		}
	}}
	New(sim, s, Config{Position1: 1000, Position2: 2000, Tolerance: 1, PollInterval: time.Millisecond}, rec.callback).Run(s.Context())

	want := []string{
		"disable",
		"write MODE_OF_OPERATION 20",
		"enable",
		"write POSITION_SET-POINT 1000",
		"write CONTROL_WORD 15",
		"write CONTROL_WORD 527",
		"disable",
	}
	if diff := cmp.Diff(sim.Calls(), want); diff != "" {
		t.Errorf("unexpected drive calls: got(-)/want(+):\n%s", diff)
	}
}

func TestEnableFault(t *testing.T) {
	sim := simulator.New(nil)
	sim.EnableError = errors.New("under-voltage")
	s := store.New(context.Background(), nil)
	seq := New(sim, s, Config{Position1: 0, Position2: 100, Tolerance: 10}, nil)

	err := seq.Run(s.Context())
	if !errors.Is(err, sim.EnableError) {
		t.Fatalf("Run = %v, want enable error", err)
	}
	if st := seq.Status(); st.State != Faulted || st.Err == nil {
		t.Errorf("status = %+v, want Faulted", st)
	}
	if s.IsReady() {
		t.Errorf("Ready set although the first position was never reached")
	}
	if got := lastCall(t, sim); got != "disable" {
		t.Errorf("last drive call = %q, want disable", got)
	}
}

func TestMoveFault(t *testing.T) {
	sim := simulator.New(nil)
	var broken atomic.Bool
	encoderLost := errors.New("encoder lost")
	sim.ReadError = func(name string) error {
		if name == drive.ActualPosition && broken.Load() {
			return encoderLost
		}
		return nil
	}
	s := store.New(context.Background(), nil)
	rec := &recorder{onStep: func(n int) {
		if n == 3 { // at position A
			broken.Store(true)
		}
	}}
	seq := New(sim, s, Config{Position1: 0, Position2: 100, Tolerance: 10, PollInterval: time.Millisecond}, rec.callback)

	done := make(chan error, 1)
	go func() { done <- seq.Run(s.Context()) }()
	select {
	case err := <-done:
		if !errors.Is(err, encoderLost) {
			t.Errorf("Run = %v, want encoder error", err)
		}
	case <-time.After(time.Second):
		s.Shutdown()
		t.Fatalf("sequencer did not fault")
	}
	if diff := cmp.Diff(rec.get(), []State{Enabling, SeekingFirst, AtPositionA, Faulted}); diff != "" {
		t.Errorf("unexpected states: got(-)/want(+):\n%s", diff)
	}
	if got := lastCall(t, sim); got != "disable" {
		t.Errorf("last drive call = %q, want disable", got)
	}
	if s.IsShutdown() {
		t.Errorf("a motion fault must not shut the store down")
	}
}

func TestShutdownWhileSeeking(t *testing.T) {
	sim := simulator.New(nil)
	sim.Speed = 1 // effectively never arrives
	s := store.New(context.Background(), nil)
	seq := New(sim, s, Config{Position1: 100000, Position2: 0, Tolerance: 10, PollInterval: 5 * time.Millisecond}, nil)

	done := make(chan error, 1)
	go func() { done <- seq.Run(s.Context()) }()
	time.Sleep(30 * time.Millisecond)
	if st := seq.Status(); st.State != SeekingFirst {
		t.Errorf("state while moving = %v, want SEEKING_FIRST", st.State)
	}
	s.Shutdown()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want clean exit", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("sequencer did not observe shutdown")
	}
	if s.IsReady() {
		t.Errorf("Ready set without reaching the first position")
	}
	if got := seq.Status().State; got != Stopped {
		t.Errorf("final state = %v, want STOPPED", got)
	}
	if got := lastCall(t, sim); got != "disable" {
		t.Errorf("last drive call = %q, want disable", got)
	}
}

func TestNoDriveCallsAfterShutdown(t *testing.T) {
	for _, tc := range []struct {
		name string
		// stopAt is the status callback count that raises shutdown; 0
		// raises it before Run.
		stopAt int
	}{
		{"before run", 0},
		{"while enabling", 1},
		{"seeking first", 2},
		{"at first position", 3},
	} {
		t.Run(tc.name, func(t *testing.T) {
			sim := simulator.New(nil)
			s := store.New(context.Background(), nil)
			reads := func() int {
				return sim.Reads(drive.ActualPosition) + sim.Reads(drive.ControlWord)
			}
			var before []string
			var readsBefore int
			rec := &recorder{onStep: func(n int) {
				if n == tc.stopAt {
					before = sim.Calls()
					readsBefore = reads()
					s.Shutdown()
				}
			}}
			if tc.stopAt == 0 {
				s.Shutdown()
			}
			seq := New(sim, s, Config{Position1: 1000, Position2: 2000, Tolerance: 1, PollInterval: time.Millisecond}, rec.callback)
			if err := seq.Run(s.Context()); err != nil {
				t.Fatalf("Run: %v", err)
			}

			after := sim.Calls()[len(before):]
			if diff := cmp.Diff(after, []string{"disable"}); diff != "" {
				t.Errorf("drive calls after shutdown: got(-)/want(+):\n%s", diff)
			}
			if got := reads(); got != readsBefore {
				t.Errorf("%d register reads after shutdown, want 0", got-readsBefore)
			}
			if sim.Enabled() {
				t.Errorf("motor left enabled")
			}
			if got := seq.Status().State; got != Stopped {
				t.Errorf("final state = %v, want STOPPED", got)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	if got := AtPositionB.String(); got != "AT_POSITION_B" {
		t.Errorf("String = %q", got)
	}
	if got := State(42).String(); got != "UNKNOWN(42)" {
		t.Errorf("String = %q", got)
	}
}
