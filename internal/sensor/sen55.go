package sensor

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"airquality-node/internal/reading"
)

const DefaultAddr uint16 = 0x69

const (
	cmdStartMeasurement uint16 = 0x0021
	cmdStopMeasurement  uint16 = 0x0104
	cmdReadDataReady    uint16 = 0x0202
	cmdReadMeasured     uint16 = 0x03C4
	cmdDeviceReset      uint16 = 0xD304
)

const (
	unknownUnsigned uint16 = 0xFFFF
	unknownSigned   int16  = 0x7FFF
)

// SEN55 speaks the Sensirion I2C protocol: 16-bit big-endian commands, and
// responses as 16-bit words each followed by a CRC-8.
type SEN55 struct {
	dev        *i2c.Dev
	closer     func() error
	tempOffset float64
	sleep      func(time.Duration)

	mu        sync.Mutex
	measuring bool
	ready     bool
}

// OpenSEN55 opens bus (empty selects the first bus), resets the device and
// leaves it idle.
func OpenSEN55(ctx context.Context, bus string, addr uint16, tempOffset float64) (*SEN55, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	b, err := i2creg.Open(bus)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", bus, err)
	}
	if addr == 0 {
		addr = DefaultAddr
	}
	s := NewSEN55(&i2c.Dev{Bus: b, Addr: addr}, tempOffset)
	s.closer = b.Close
	if err := s.Reset(ctx); err != nil {
		_ = b.Close()
		return nil, err
	}
	return s, nil
}

// NewSEN55 wraps an already opened device.
func NewSEN55(dev *i2c.Dev, tempOffset float64) *SEN55 {
	return &SEN55{dev: dev, tempOffset: tempOffset, sleep: time.Sleep}
}

func (s *SEN55) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.command(cmdDeviceReset, 200*time.Millisecond); err != nil {
		s.ready = false
		return fmt.Errorf("device reset: %w", err)
	}
	s.ready = true
	s.measuring = false
	slog.Info("sen55 reset", "addr", fmt.Sprintf("0x%02X", s.dev.Addr))
	return nil
}

func (s *SEN55) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return ErrNotInitialized
	}
	if err := s.command(cmdStartMeasurement, 50*time.Millisecond); err != nil {
		return fmt.Errorf("start measurement: %w", err)
	}
	s.measuring = true
	return nil
}

func (s *SEN55) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return ErrNotInitialized
	}
	if err := s.command(cmdStopMeasurement, 200*time.Millisecond); err != nil {
		return fmt.Errorf("stop measurement: %w", err)
	}
	s.measuring = false
	return nil
}

// Initialized reports whether the device answered its reset and is measuring.
func (s *SEN55) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready && s.measuring
}

func (s *SEN55) Read(ctx context.Context) (reading.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready || !s.measuring {
		return reading.Sample{}, ErrNotInitialized
	}

	flag, err := s.readWords(cmdReadDataReady, 1, 20*time.Millisecond)
	if err != nil {
		return reading.Sample{}, fmt.Errorf("read data-ready flag: %w", err)
	}
	if flag[0]&0x00FF == 0 {
		return reading.Sample{}, ErrNotReady
	}

	w, err := s.readWords(cmdReadMeasured, 8, 20*time.Millisecond)
	if err != nil {
		return reading.Sample{}, fmt.Errorf("read measured values: %w", err)
	}
	out := decodeMeasured(w)
	out.Temperature += s.tempOffset
	return out, nil
}

func (s *SEN55) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

func (s *SEN55) command(cmd uint16, delay time.Duration) error {
	var w [2]byte
	binary.BigEndian.PutUint16(w[:], cmd)
	if err := s.dev.Tx(w[:], nil); err != nil {
		return err
	}
	s.sleep(delay)
	return nil
}

func (s *SEN55) readWords(cmd uint16, n int, delay time.Duration) ([]uint16, error) {
	if err := s.command(cmd, delay); err != nil {
		return nil, err
	}
	buf := make([]byte, n*3)
	if err := s.dev.Tx(nil, buf); err != nil {
		return nil, err
	}
	words := make([]uint16, n)
	for i := range n {
		chunk := buf[i*3 : i*3+3]
		if crc8(chunk[:2]) != chunk[2] {
			return nil, fmt.Errorf("crc mismatch in word %d", i)
		}
		words[i] = binary.BigEndian.Uint16(chunk[:2])
	}
	return words, nil
}

func decodeMeasured(w []uint16) reading.Sample {
	return reading.Sample{
		PM1:         scaleUnsigned(w[0], 10),
		PM25:        scaleUnsigned(w[1], 10),
		PM4:         scaleUnsigned(w[2], 10),
		PM10:        scaleUnsigned(w[3], 10),
		Humidity:    scaleSigned(w[4], 100),
		Temperature: scaleSigned(w[5], 200),
		VOC:         scaleSigned(w[6], 10),
		NOx:         scaleSigned(w[7], 10),
	}
}

func scaleUnsigned(v uint16, div float64) float64 {
	if v == unknownUnsigned {
		return math.NaN()
	}
	return float64(v) / div
}

func scaleSigned(v uint16, div float64) float64 {
	sv := int16(v)
	if sv == unknownSigned {
		return math.NaN()
	}
	return float64(sv) / div
}

// crc8 is Sensirion's CRC-8: polynomial 0x31, init 0xFF, no reflection.
func crc8(data []byte) byte {
	crc := byte(0xFF)
	for _, b := range data {
		crc ^= b
		for range 8 {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
