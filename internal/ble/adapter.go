package ble

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tinygo.org/x/bluetooth"
)

// Adapter wraps BlueZ scanning behind the Advertiser interface with bounded
// windows and context cancellation.
type Adapter struct {
	adapter *bluetooth.Adapter
	name    string
	enabled bool
}

func NewAdapter(name string) *Adapter {
	if name == "" {
		name = "hci0"
	}
	return &Adapter{
		adapter: bluetooth.NewAdapter(name),
		name:    name,
	}
}

// Scan runs one scan window of dur, handing each advertisement to fn.
// adapter.Scan blocks until StopScan() or error, so a watcher goroutine
// stops it when the window or the context ends.
func (a *Adapter) Scan(ctx context.Context, dur time.Duration, fn func(Packet)) error {
	if !a.enabled {
		if err := a.adapter.Enable(); err != nil {
			return fmt.Errorf("ble enable (%s): %w", a.name, err)
		}
		a.enabled = true
		slog.Info("ble: adapter enabled", "adapter", a.name)
	}

	windowCtx, cancel := context.WithTimeout(ctx, dur)
	defer cancel()
	go func() {
		<-windowCtx.Done()
		_ = a.adapter.StopScan()
	}()

	err := a.adapter.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
		fn(Packet{
			Addr: r.Address.String(),
			RSSI: r.RSSI,
			Raw:  append([]byte(nil), r.Bytes()...),
			Name: r.LocalName(),
		})
	})

	// A window that simply elapsed is a clean end, not an error.
	if windowCtx.Err() != nil && ctx.Err() == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("ble scan: %w", err)
	}
	return nil
}
