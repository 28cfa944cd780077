// Package sequencer moves the motor back and forth between two positions
// while telemetry is collected.
package sequencer

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/w1xm/drive_logger/drive"
	"github.com/w1xm/drive_logger/store"
)

// LATCH_BIT in the control word must see a 0 to 1 edge for the drive to
// accept a new position set-point, even one equal to the previous set-point.
const LATCH_BIT uint16 = 1 << 9

// PROFILE_POSITION is the drive's profile position operation mode.
const PROFILE_POSITION = 20

type State int

const (
	Disabled State = iota
	Enabling
	SeekingFirst
	AtPositionA
	AtPositionB
	// Stopped is a clean exit after shutdown with the motor disabled.
	Stopped
	// Faulted is an exit after a drive error with the motor disabled.
	Faulted
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "DISABLED"
	case Enabling:
		return "ENABLING"
	case SeekingFirst:
		return "SEEKING_FIRST"
	case AtPositionA:
		return "AT_POSITION_A"
	case AtPositionB:
		return "AT_POSITION_B"
	case Stopped:
		return "STOPPED"
	case Faulted:
		return "FAULTED"
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(s))
}

type Config struct {
	Position1, Position2 float64
	// Tolerance is the maximum |actual - target| counted as arrived.
	Tolerance float64
	// PollInterval between position checks while moving; defaults to 200ms.
	PollInterval time.Duration
	// OperationMode defaults to PROFILE_POSITION.
	OperationMode int
}

type Status struct {
	State  State
	Target float64
	// Err is set once the sequencer has faulted.
	Err error
}

type StatusCallback func(status Status)

type Sequencer struct {
	drive          drive.Drive
	store          *store.Store
	cfg            Config
	statusCallback StatusCallback

	mu     sync.Mutex
	status Status
}

// New returns a sequencer that raises s's Ready signal when the first
// position is reached. statusCallback, if non-nil, sees every state change.
func New(d drive.Drive, s *store.Store, cfg Config, statusCallback StatusCallback) *Sequencer {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.OperationMode == 0 {
		cfg.OperationMode = PROFILE_POSITION
	}
	return &Sequencer{drive: d, store: s, cfg: cfg, statusCallback: statusCallback}
}

func (s *Sequencer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Sequencer) setStatus(state State, target float64, err error) {
	s.mu.Lock()
	s.status = Status{State: state, Target: target, Err: err}
	status := s.status
	s.mu.Unlock()
	if s.statusCallback != nil {
		s.statusCallback(status)
	}
}

// Run sequences the motor until ctx is done or the drive faults. On every
// exit path the last drive call is Disable. A returned error means the
// sequencer faulted; motion is not retried.
func (s *Sequencer) Run(ctx context.Context) (err error) {
	var target float64
	defer func() {
		if derr := s.drive.Disable(context.Background()); derr != nil {
			log.Printf("disabling motor: %v", derr)
		} else {
			log.Print("motor disabled")
		}
		if err != nil {
			s.setStatus(Faulted, target, err)
		} else {
			s.setStatus(Stopped, target, nil)
		}
	}()

	s.setStatus(Enabling, target, nil)
	if ctx.Err() != nil {
		return nil
	}
	if err := s.drive.Disable(ctx); err != nil {
		log.Printf("disabling motor before start: %v", err)
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := s.drive.Write(ctx, drive.ModeOfOperation, float64(s.cfg.OperationMode)); err != nil {
		return s.fault(ctx, "setting operation mode", err)
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := s.drive.Enable(ctx); err != nil {
		return s.fault(ctx, "enabling motor", err)
	}
	log.Print("motor enabled")

	target = s.cfg.Position1
	s.setStatus(SeekingFirst, target, nil)
	if err := s.moveTo(ctx, target); err != nil {
		return s.fault(ctx, "moving to first position", err)
	}
	if ctx.Err() != nil {
		return nil
	}
	s.store.SetReady()
	s.setStatus(AtPositionA, target, nil)

	atA := true
	for ctx.Err() == nil {
		next, state := s.cfg.Position2, AtPositionB
		if !atA {
			next, state = s.cfg.Position1, AtPositionA
		}
		target = next
		if err := s.moveTo(ctx, target); err != nil {
			return s.fault(ctx, "moving", err)
		}
		if ctx.Err() != nil {
			break
		}
		atA = !atA
		s.setStatus(state, target, nil)
	}
	return nil
}

// fault converts err into the sequencer's terminal error, unless it only
// reflects shutdown interrupting a drive call.
func (s *Sequencer) fault(ctx context.Context, what string, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	log.Printf("error %s: %v", what, err)
	return fmt.Errorf("%s: %w", what, err)
}

// moveTo returns nil without touching the drive further once ctx is done;
// callers check ctx to tell an interrupted move from an arrival.
func (s *Sequencer) moveTo(ctx context.Context, target float64) error {
	if ctx.Err() != nil {
		return nil
	}
	if err := s.drive.Write(ctx, drive.PositionSetPoint, target); err != nil {
		return err
	}
	if err := s.latch(ctx); err != nil {
		return err
	}
	return s.waitArrived(ctx, target)
}

// latch clears then sets LATCH_BIT so the drive picks up the set-point.
func (s *Sequencer) latch(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	v, err := s.drive.Read(ctx, drive.ControlWord)
	if err != nil {
		return err
	}
	cw := uint16(v)
	if err := s.drive.Write(ctx, drive.ControlWord, float64(cw&^LATCH_BIT)); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return nil
	}
	return s.drive.Write(ctx, drive.ControlWord, float64(cw|LATCH_BIT))
}

// waitArrived polls the actual position until it is within tolerance of
// target. There is no timeout: only shutdown ends an unfinished move.
func (s *Sequencer) waitArrived(ctx context.Context, target float64) error {
	for ctx.Err() == nil {
		pos, err := s.drive.Read(ctx, drive.ActualPosition)
		if err != nil {
			return err
		}
		if math.Abs(pos-target) < s.cfg.Tolerance {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.cfg.PollInterval):
		}
	}
	return nil
}
