package ble

import (
	"fmt"
	"os/exec"
)

// Power drives the Bluetooth controller's power state through bluetoothctl.
// It implements the arbiter's BLERadio side.
type Power struct {
	run func(name string, args ...string) ([]byte, error)
}

func NewPower() *Power {
	return &Power{
		run: func(name string, args ...string) ([]byte, error) {
			return exec.Command(name, args...).CombinedOutput()
		},
	}
}

func (p *Power) PowerOn() error {
	if out, err := p.run("bluetoothctl", "power", "on"); err != nil {
		return fmt.Errorf("bluetoothctl power on: %w (%s)", err, out)
	}
	return nil
}

func (p *Power) PowerOff() error {
	if out, err := p.run("bluetoothctl", "power", "off"); err != nil {
		return fmt.Errorf("bluetoothctl power off: %w (%s)", err, out)
	}
	return nil
}
