// Package radio enforces the shared-radio protocol: the Bluetooth and Wi-Fi
// radios must never be active at the same time. Running both risks
// allocation failures during TLS handshakes, so this is a hard sequencing
// rule rather than an optimization.
package radio

import (
	"fmt"
	"log/slog"
	"sync"
)

// BLERadio powers the Bluetooth side of the shared radio.
type BLERadio interface {
	PowerOn() error
	PowerOff() error
}

// WifiRadio powers the Wi-Fi side of the shared radio.
type WifiRadio interface {
	PowerOn() error
	PowerOff() error
}

// Arbiter owns the single shared radio state transition. Acquire guarantees
// the other radio is off before the requested one powers up; release
// guarantees a full power-down, not merely a disconnect, so the shared
// radio memory is actually freed.
type Arbiter struct {
	mu   sync.Mutex
	ble  BLERadio
	wifi WifiRadio

	bleActive  bool
	wifiActive bool
}

func New(ble BLERadio, wifi WifiRadio) *Arbiter {
	return &Arbiter{ble: ble, wifi: wifi}
}

// AcquireWifi powers BLE down, then Wi-Fi up. On return Wi-Fi is active and
// BLE is guaranteed off.
func (a *Arbiter) AcquireWifi() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.bleActive {
		if err := a.ble.PowerOff(); err != nil {
			return fmt.Errorf("radio: ble power off: %w", err)
		}
		a.bleActive = false
		slog.Debug("radio: ble off for wifi")
	}
	if err := a.wifi.PowerOn(); err != nil {
		return fmt.Errorf("radio: wifi power on: %w", err)
	}
	a.wifiActive = true
	return nil
}

// ReleaseWifi powers the Wi-Fi interface fully down.
func (a *Arbiter) ReleaseWifi() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.wifi.PowerOff(); err != nil {
		return fmt.Errorf("radio: wifi power off: %w", err)
	}
	a.wifiActive = false
	slog.Debug("radio: wifi off")
	return nil
}

// AcquireBLE powers Wi-Fi down, then BLE up, ahead of a scan window.
func (a *Arbiter) AcquireBLE() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.wifiActive {
		if err := a.wifi.PowerOff(); err != nil {
			return fmt.Errorf("radio: wifi power off: %w", err)
		}
		a.wifiActive = false
		slog.Debug("radio: wifi off for ble")
	}
	if err := a.ble.PowerOn(); err != nil {
		return fmt.Errorf("radio: ble power on: %w", err)
	}
	a.bleActive = true
	return nil
}

// ReleaseBLE powers the Bluetooth radio down.
func (a *Arbiter) ReleaseBLE() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ble.PowerOff(); err != nil {
		return fmt.Errorf("radio: ble power off: %w", err)
	}
	a.bleActive = false
	return nil
}

// Active reports the current radio states. Status reporting only.
func (a *Arbiter) Active() (bleOn, wifiOn bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bleActive, a.wifiActive
}
