// Package summit drives a Summit servo drive through its Modbus register map.
package summit

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"github.com/w1xm/drive_logger/drive"
	imodbus "github.com/w1xm/drive_logger/internal/modbus"
)

// CiA-402 control words.
const (
	CW_SHUTDOWN         uint16 = 0x0006
	CW_SWITCH_ON        uint16 = 0x0007
	CW_ENABLE_OPERATION uint16 = 0x000F
	CW_FAULT_RESET      uint16 = 0x0080
)

// CiA-402 status word states, compared under STATE_MASK.
const (
	STATE_MASK              uint16 = 0x006F
	STATE_READY_TO_SWITCH   uint16 = 0x0021
	STATE_SWITCHED_ON       uint16 = 0x0023
	STATE_OPERATION_ENABLED uint16 = 0x0027
	SW_FAULT                uint16 = 0x0008
)

type Config struct {
	// Address is host:port for Modbus TCP.
	Address string
	// Serial and BaudRate select Modbus RTU instead.
	Serial   string
	BaudRate int
	// URL reaches the drive through a modbus_bridge.
	URL      string
	Password string
	SlaveId  byte
	Timeout  time.Duration
	Debug    bool

	Dictionary *drive.Dictionary
	// EnableTimeout bounds each power stage transition; defaults to 2s.
	EnableTimeout time.Duration
}

type Drive struct {
	dict          *drive.Dictionary
	enableTimeout time.Duration
	conn          *imodbus.Client

	mu     sync.Mutex
	client modbus.Client
}

// Connect opens the Modbus connection. A failure is a *drive.Error with Op
// "connect".
func Connect(ctx context.Context, cfg Config) (*Drive, error) {
	conn := &imodbus.Client{
		Address:  cfg.Address,
		Port:     cfg.Serial,
		BaudRate: cfg.BaudRate,
		URL:      cfg.URL,
		Password: cfg.Password,
		SlaveId:  cfg.SlaveId,
		Timeout:  cfg.Timeout,
		Debug:    cfg.Debug,
	}
	if err := conn.Connect(ctx); err != nil {
		return nil, &drive.Error{Op: "connect", Err: err}
	}
	d := newDrive(conn.Client, cfg)
	d.conn = conn
	return d, nil
}

func newDrive(client modbus.Client, cfg Config) *Drive {
	d := &Drive{
		dict:          cfg.Dictionary,
		enableTimeout: cfg.EnableTimeout,
		client:        client,
	}
	if d.dict == nil {
		d.dict = drive.DefaultDictionary()
	}
	if d.enableTimeout == 0 {
		d.enableTimeout = 2 * time.Second
	}
	return d
}

func (d *Drive) Close() error {
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}

func (d *Drive) Label(name string) string {
	return d.dict.Label(name)
}

func (d *Drive) Read(ctx context.Context, name string) (float64, error) {
	reg, err := d.dict.Lookup(name)
	if err != nil {
		return 0, &drive.Error{Op: "read", Register: name, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return 0, &drive.Error{Op: "read", Register: name, Err: err}
	}
	d.mu.Lock()
	results, err := d.client.ReadHoldingRegisters(reg.Address, reg.Type.Words())
	d.mu.Unlock()
	if err != nil {
		return 0, &drive.Error{Op: "read", Register: name, Err: err}
	}
	v, err := decode(reg.Type, results)
	if err != nil {
		return 0, &drive.Error{Op: "read", Register: name, Err: err}
	}
	return v, nil
}

func (d *Drive) Write(ctx context.Context, name string, value float64) error {
	reg, err := d.dict.Lookup(name)
	if err != nil {
		return &drive.Error{Op: "write", Register: name, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return &drive.Error{Op: "write", Register: name, Err: err}
	}
	words := encode(reg.Type, value)
	d.mu.Lock()
	if len(words) == 1 {
		_, err = d.client.WriteSingleRegister(reg.Address, words[0])
	} else {
		_, err = d.client.WriteMultipleRegisters(reg.Address, uint16(len(words)), imodbus.Bytes(words...))
	}
	d.mu.Unlock()
	if err != nil {
		return &drive.Error{Op: "write", Register: name, Err: err}
	}
	return nil
}

func (d *Drive) statusWord(ctx context.Context) (uint16, error) {
	v, err := d.Read(ctx, drive.StatusWord)
	return uint16(v), err
}

// waitState polls the status word until it reaches want.
func (d *Drive) waitState(ctx context.Context, want uint16) error {
	deadline := time.Now().Add(d.enableTimeout)
	for {
		sw, err := d.statusWord(ctx)
		if err != nil {
			return err
		}
		if sw&SW_FAULT != 0 {
			return fmt.Errorf("status word 0x%04x: %w", sw, drive.ErrFault)
		}
		if sw&STATE_MASK == want {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("want state 0x%04x, have 0x%04x: %w", want, sw&STATE_MASK, drive.ErrStateTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// Enable walks the power stage state machine to operation enabled,
// clearing a latched fault first.
func (d *Drive) Enable(ctx context.Context) error {
	err := func() error {
		sw, err := d.statusWord(ctx)
		if err != nil {
			return err
		}
		if sw&SW_FAULT != 0 {
			log.Printf("drive reports fault (status 0x%04x); resetting", sw)
			if err := d.Write(ctx, drive.ControlWord, float64(CW_FAULT_RESET)); err != nil {
				return err
			}
		}
		for _, step := range []struct {
			cw, state uint16
		}{
			{CW_SHUTDOWN, STATE_READY_TO_SWITCH},
			{CW_SWITCH_ON, STATE_SWITCHED_ON},
			{CW_ENABLE_OPERATION, STATE_OPERATION_ENABLED},
		} {
			if err := d.Write(ctx, drive.ControlWord, float64(step.cw)); err != nil {
				return err
			}
			if err := d.waitState(ctx, step.state); err != nil {
				return err
			}
		}
		return nil
	}()
	if err != nil {
		return &drive.Error{Op: "enable", Err: err}
	}
	return nil
}

// Disable drops the power stage to ready-to-switch-on.
func (d *Drive) Disable(ctx context.Context) error {
	if err := d.Write(ctx, drive.ControlWord, float64(CW_SHUTDOWN)); err != nil {
		return &drive.Error{Op: "disable", Err: err}
	}
	return nil
}

func decode(t drive.Type, bs []byte) (float64, error) {
	if len(bs) < 2*int(t.Words()) {
		return 0, fmt.Errorf("short response: %d bytes for %s", len(bs), t)
	}
	switch t {
	case drive.Int16:
		return float64(int16(binary.BigEndian.Uint16(bs))), nil
	case drive.Uint16:
		return float64(binary.BigEndian.Uint16(bs)), nil
	case drive.Int32:
		return float64(int32(binary.BigEndian.Uint32(bs))), nil
	case drive.Uint32:
		return float64(binary.BigEndian.Uint32(bs)), nil
	case drive.Float32:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(bs))), nil
	}
	return 0, fmt.Errorf("unsupported type %q", t)
}

func encode(t drive.Type, v float64) []uint16 {
	var u uint32
	switch t {
	case drive.Int16:
		return []uint16{uint16(int16(math.Round(v)))}
	case drive.Uint16:
		return []uint16{uint16(math.Round(v))}
	case drive.Int32:
		u = uint32(int32(math.Round(v)))
	case drive.Uint32:
		u = uint32(math.Round(v))
	case drive.Float32:
		u = math.Float32bits(float32(v))
	}
	return []uint16{uint16(u >> 16), uint16(u)}
}
