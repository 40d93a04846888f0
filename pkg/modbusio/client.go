package modbusio

import (
	"fmt"
	"time"

	"github.com/grid-x/modbus"
)

// ClientConfig describes the transport of one Modbus device connection.
type ClientConfig struct {
	// Address is "host:port" for TCP or a serial device path for RTU.
	Address string

	// Serial selects RTU transport with the given line parameters.
	Serial *SerialConfig

	// Unit is the slave id addressed by all requests of the block.
	Unit byte

	// Timeout bounds each request/response exchange. Zero keeps the
	// transport default.
	Timeout time.Duration
}

// SerialConfig holds the RTU line parameters.
type SerialConfig struct {
	BaudRate int
	DataBits int
	Parity   string
	StopBits int
}

// Closer releases the transport of a client built by NewClient.
type Closer interface {
	Close() error
}

// NewClient builds a grid-x Modbus client for the configured transport.
// The connection itself is established lazily on the first request.
func NewClient(cfg ClientConfig) (modbus.Client, Closer, error) {
	if cfg.Address == "" {
		return nil, nil, fmt.Errorf("%w: empty address", ErrRange)
	}

	if cfg.Serial != nil {
		h := modbus.NewRTUClientHandler(cfg.Address)
		if cfg.Serial.BaudRate > 0 {
			h.BaudRate = cfg.Serial.BaudRate
		}
		if cfg.Serial.DataBits > 0 {
			h.DataBits = cfg.Serial.DataBits
		}
		if cfg.Serial.Parity != "" {
			h.Parity = cfg.Serial.Parity
		}
		if cfg.Serial.StopBits > 0 {
			h.StopBits = cfg.Serial.StopBits
		}
		if cfg.Timeout > 0 {
			h.Timeout = cfg.Timeout
		}
		h.SetSlave(cfg.Unit)
		return modbus.NewClient(h), h, nil
	}

	h := modbus.NewTCPClientHandler(cfg.Address)
	if cfg.Timeout > 0 {
		h.Timeout = cfg.Timeout
	}
	h.SetSlave(cfg.Unit)
	return modbus.NewClient(h), h, nil
}
