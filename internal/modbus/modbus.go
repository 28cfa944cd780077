// Package modbus selects and owns the Modbus transport used to reach a drive.
package modbus

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/goburrow/modbus"
	"github.com/w1xm/drive_logger/internal/modbus/modbushttp"
)

type modbusHandler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

type Client struct {
	// Address creates a Modbus TCP connection to host:port.
	Address string
	// Port and BaudRate create a local serial (RTU) connection
	Port string
	// BaudRate defaults to 115200
	BaudRate int
	SlaveId  byte
	// URL creates a remote connection through a modbus_bridge.
	URL      string
	Password string
	// Timeout bounds each request; defaults to 1s.
	Timeout time.Duration
	// Debug logs every frame to stderr.
	Debug bool

	handler modbusHandler
	modbus.Client
}

func (c *Client) target() string {
	switch {
	case c.URL != "":
		return c.URL
	case c.Port != "":
		return c.Port
	}
	return c.Address
}

// Connect opens the transport. Unlike a reconnecting watcher, a failure here
// is returned to the caller.
func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 1 * time.Second
	}
	var logger *log.Logger
	if c.Debug {
		logger = log.New(os.Stderr, "modbus: ", log.Ldate|log.Ltime|log.Lmicroseconds)
	}
	switch {
	case c.URL != "":
		c.handler = modbushttp.NewClient(c.URL, c.Password, c.SlaveId, c.Port != "")
	case c.Port != "":
		handler := modbus.NewRTUClientHandler(c.Port)
		handler.BaudRate = c.BaudRate
		if handler.BaudRate == 0 {
			handler.BaudRate = 115200
		}
		handler.DataBits = 8
		handler.Parity = "N"
		handler.StopBits = 1
		handler.Timeout = timeout
		handler.SlaveId = c.SlaveId
		handler.Logger = logger
		c.handler = handler
	case c.Address != "":
		handler := modbus.NewTCPClientHandler(c.Address)
		handler.Timeout = timeout
		handler.SlaveId = c.SlaveId
		handler.Logger = logger
		c.handler = handler
	default:
		return fmt.Errorf("no address, serial port or URL configured")
	}

	if err := c.handler.Connect(); err != nil {
		return fmt.Errorf("opening %q: %w", c.target(), err)
	}
	log.Printf("opened %q", c.target())
	c.Client = modbus.NewClient(c.handler)
	return nil
}

func (c *Client) Close() error {
	if c.handler == nil {
		return nil
	}
	return c.handler.Close()
}

// Words splits a register read result into big-endian 16-bit words.
func Words(bs []byte) []uint16 {
	out := make([]uint16, len(bs)/2)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(bs[2*i:])
	}
	return out
}

// Bytes packs words big-endian for a multiple-register write.
func Bytes(words ...uint16) []byte {
	out := make([]byte, 2*len(words))
	for i, w := range words {
		binary.BigEndian.PutUint16(out[2*i:], w)
	}
	return out
}
