// Package drive defines the collaborator interface for a networked motor
// drive: register reads and writes, power stage enable/disable, and register
// labels for log headers.
package drive

import (
	"context"
	"errors"
	"fmt"
)

type Drive interface {
	Read(ctx context.Context, name string) (float64, error)
	Write(ctx context.Context, name string, value float64) error
	// Enable brings the power stage to operation enabled.
	Enable(ctx context.Context) error
	// Disable removes power from the motor. Disabling an already disabled
	// drive is not an error.
	Disable(ctx context.Context) error
	Label(name string) string
}

// Registers referenced directly by the motion sequencer.
const (
	ControlWord      = "CONTROL_WORD"
	StatusWord       = "STATUS_WORD"
	ModeOfOperation  = "MODE_OF_OPERATION"
	PositionSetPoint = "POSITION_SET-POINT"
	ActualPosition   = "ACTUAL_POSITION"
)

// DefaultRegisters is the monitored register set, in log column order.
func DefaultRegisters() []string {
	return []string{
		"POSITION_SET-POINT",
		"POSITION_DEMAND",
		"ACTUAL_POSITION",
		"VELOCITY_SET-POINT",
		"VELOCITY_DEMAND",
		"ACTUAL_VELOCITY",
		"DIGITAL_HALL_VALUE",
		"DIGITAL_ENCODER_VALUE",
		"BUS_VOLTAGE_READINGS",
		"MOTOR_TEMPERATURE",
		"CURRENT_A",
		"CURRENT_B",
		"CURRENT_C",
		"POW_STAGE_TEMP",
		"GEN._VOLTAGE_PHASE_A",
		"GEN._VOLTAGE_PHASE_B",
		"GEN._VOLTAGE_PHASE_C",
	}
}

var (
	ErrUnknownRegister = errors.New("unknown register")
	// ErrFault is reported when the drive signals a fault in its status word.
	ErrFault        = errors.New("drive fault")
	ErrStateTimeout = errors.New("timed out waiting for drive state")
)

// Error describes a failed drive operation.
type Error struct {
	Op       string // connect, read, write, enable or disable
	Register string
	Err      error
}

func (e *Error) Error() string {
	if e.Register == "" {
		return fmt.Sprintf("drive %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("drive %s %s: %v", e.Op, e.Register, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
