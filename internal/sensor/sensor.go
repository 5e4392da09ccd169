// Package sensor reads particulate matter, climate and gas index channels from
// a Sensirion SEN55, or from a simulated source on hosts without one.
package sensor

import (
	"context"
	"errors"
	"fmt"

	"airquality-node/internal/reading"
)

var (
	ErrNotInitialized = errors.New("sensor not initialized")
	ErrNotReady       = errors.New("sensor data not ready")
)

// Driver is a measurement source. Read is only valid between Start and Stop.
type Driver interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Read(ctx context.Context) (reading.Sample, error)
	Initialized() bool
	Close() error
}

type Config struct {
	// Driver is "sen55" or "simulated".
	Driver     string
	Bus        string
	Addr       uint16
	TempOffset float64
}

// Open returns the configured driver. The SEN55 driver initializes the host
// I2C stack and resets the device.
func Open(ctx context.Context, cfg Config) (Driver, error) {
	switch cfg.Driver {
	case "sen55", "":
		return OpenSEN55(ctx, cfg.Bus, cfg.Addr, cfg.TempOffset)
	case "simulated":
		return NewSimulated(cfg.TempOffset), nil
	}
	return nil, fmt.Errorf("unknown sensor driver %q", cfg.Driver)
}
