// Package beacon advertises the node over BLE so a phone or gateway can find
// its dashboard without knowing the address.
//
// Manufacturer data (little-endian), company 0xFFFF:
// [0:2] magic 0x01 0xD1, [2:6] device id (FNV-1a of DEVICE_ID), [6:8] HTTP port.
package beacon

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"tinygo.org/x/bluetooth"

	"airquality-node/internal/utils"
)

const (
	payloadMagic0 = 0x01
	payloadMagic1 = 0xD1
	payloadLen    = 8
	companyID     = 0xFFFF
)

type Options struct {
	Adapter  string
	DeviceID string
	HTTPPort uint16
	Interval time.Duration
}

type Advertiser struct {
	adapter *bluetooth.Adapter
	opts    Options
}

func New(opts Options) *Advertiser {
	if opts.Adapter == "" {
		opts.Adapter = "hci0"
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	return &Advertiser{adapter: bluetooth.NewAdapter(opts.Adapter), opts: opts}
}

// Run advertises until ctx is done.
func (a *Advertiser) Run(ctx context.Context) error {
	slog.Info("ble: enabling adapter", "adapter", a.opts.Adapter)
	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("ble enable (%s): %w", a.opts.Adapter, err)
	}

	payload := Encode(a.opts.DeviceID, a.opts.HTTPPort)
	adv := a.adapter.DefaultAdvertisement()
	if err := adv.Configure(bluetooth.AdvertisementOptions{
		AdvertisementType: bluetooth.AdvertisingTypeNonConnInd,
		LocalName:         a.opts.DeviceID,
		Interval:          bluetooth.NewDuration(a.opts.Interval),
		ManufacturerData: []bluetooth.ManufacturerDataElement{
			{CompanyID: companyID, Data: payload},
		},
	}); err != nil {
		return fmt.Errorf("ble configure advertisement: %w", err)
	}
	if err := adv.Start(); err != nil {
		return fmt.Errorf("ble start advertisement: %w", err)
	}
	slog.Info("ble: advertising", "local_name", a.opts.DeviceID, "data", utils.BytesToHex(payload))

	<-ctx.Done()
	if err := adv.Stop(); err != nil {
		slog.Warn("ble: stop advertisement failed", "error", err)
	}
	return nil
}

// Encode builds the manufacturer data payload.
func Encode(deviceID string, httpPort uint16) []byte {
	b := make([]byte, payloadLen)
	b[0] = payloadMagic0
	b[1] = payloadMagic1
	binary.LittleEndian.PutUint32(b[2:6], DeviceHash(deviceID))
	binary.LittleEndian.PutUint16(b[6:8], httpPort)
	return b
}

// Decode is the inverse of Encode.
func Decode(b []byte) (deviceHash uint32, httpPort uint16, err error) {
	if len(b) < payloadLen {
		return 0, 0, fmt.Errorf("payload too short: %d", len(b))
	}
	if b[0] != payloadMagic0 || b[1] != payloadMagic1 {
		return 0, 0, fmt.Errorf("invalid magic: %02X %02X", b[0], b[1])
	}
	return binary.LittleEndian.Uint32(b[2:6]), binary.LittleEndian.Uint16(b[6:8]), nil
}

func DeviceHash(deviceID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(deviceID))
	return h.Sum32()
}
