// Package simulator provides an in-memory drive that follows position
// commands, for tests and for running the logger without hardware.
package simulator

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/w1xm/drive_logger/drive"
)

// Control and status word bits used by the simulated power stage.
const (
	cwEnableOperation = 0x000F
	cwShutdown        = 0x0006
	swOperationEnable = 0x0027
	swReadyToSwitchOn = 0x0021
	swSwitchOnDisable = 0x0040
	latchBit          = 1 << 9
)

// Simulator implements drive.Drive.
type Simulator struct {
	// Speed is the travel rate in counts per second. Zero moves instantly.
	Speed float64
	// ReadError, if set, is consulted before every read.
	ReadError func(name string) error
	// EnableError is returned by Enable when set.
	EnableError error

	dict *drive.Dictionary
	now  func() time.Time

	mu        sync.Mutex
	values    map[string]float64
	enabled   bool
	target    float64
	position  float64
	lastMove  time.Time
	calls     []string
	readCount map[string]int
}

func New(dict *drive.Dictionary) *Simulator {
	if dict == nil {
		dict = drive.DefaultDictionary()
	}
	s := &Simulator{
		dict:      dict,
		now:       time.Now,
		values:    make(map[string]float64),
		readCount: make(map[string]int),
	}
	s.values[drive.StatusWord] = swSwitchOnDisable
	s.values["BUS_VOLTAGE_READINGS"] = 48
	s.values["MOTOR_TEMPERATURE"] = 25
	s.values["POW_STAGE_TEMP"] = 30
	s.lastMove = s.now()
	return s
}

// step advances the simulated position. Must hold mu.
func (s *Simulator) step() {
	now := s.now()
	dt := now.Sub(s.lastMove).Seconds()
	s.lastMove = now
	if !s.enabled {
		s.values["ACTUAL_VELOCITY"] = 0
		return
	}
	delta := s.target - s.position
	if s.Speed <= 0 || math.Abs(delta) <= s.Speed*dt {
		s.position = s.target
		s.values["ACTUAL_VELOCITY"] = 0
	} else {
		v := math.Copysign(s.Speed, delta)
		s.position += v * dt
		s.values["ACTUAL_VELOCITY"] = v
	}
	s.values[drive.ActualPosition] = math.Round(s.position)
	s.values["POSITION_DEMAND"] = s.target
	s.values["DIGITAL_ENCODER_VALUE"] = math.Round(s.position)
}

func (s *Simulator) Read(ctx context.Context, name string) (float64, error) {
	if _, err := s.dict.Lookup(name); err != nil {
		return 0, &drive.Error{Op: "read", Register: name, Err: err}
	}
	if s.ReadError != nil {
		if err := s.ReadError(name); err != nil {
			return 0, &drive.Error{Op: "read", Register: name, Err: err}
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step()
	s.readCount[name]++
	return s.values[name], nil
}

func (s *Simulator) Write(ctx context.Context, name string, value float64) error {
	if _, err := s.dict.Lookup(name); err != nil {
		return &drive.Error{Op: "write", Register: name, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step()
	s.calls = append(s.calls, fmt.Sprintf("write %s %v", name, value))
	if name == drive.ControlWord {
		old := uint16(s.values[drive.ControlWord])
		cw := uint16(value)
		if s.enabled && old&latchBit == 0 && cw&latchBit != 0 {
			s.target = s.values[drive.PositionSetPoint]
		}
	}
	s.values[name] = value
	return nil
}

func (s *Simulator) Enable(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "enable")
	if s.EnableError != nil {
		return &drive.Error{Op: "enable", Err: s.EnableError}
	}
	s.step()
	s.enabled = true
	s.target = s.position
	s.values[drive.ControlWord] = cwEnableOperation
	s.values[drive.StatusWord] = swOperationEnable
	return nil
}

func (s *Simulator) Disable(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "disable")
	s.step()
	s.enabled = false
	s.values[drive.ControlWord] = cwShutdown
	s.values[drive.StatusWord] = swReadyToSwitchOn
	return nil
}

func (s *Simulator) Label(name string) string {
	return s.dict.Label(name)
}

// Enabled reports whether the simulated power stage is on.
func (s *Simulator) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Calls returns the writes, enables and disables issued so far, in order.
func (s *Simulator) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Reads returns how many times name has been read successfully.
func (s *Simulator) Reads(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readCount[name]
}
