// Package wifi drives the station interface through NetworkManager's nmcli.
// It implements the arbiter's WifiRadio side and the network-session
// operations: power, scan, join, disconnect.
package wifi

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// AccessPoint is one visible network from a scan, in the shape the ledger's
// Wi-Fi survey rows need.
type AccessPoint struct {
	SSID     string
	BSSID    string
	Channel  int
	Signal   int
	Security string
}

// Nmcli shells out for every operation; the runner is injectable for tests.
type Nmcli struct {
	iface string
	run   func(name string, args ...string) ([]byte, error)
}

func New(iface string) *Nmcli {
	return &Nmcli{
		iface: iface,
		run: func(name string, args ...string) ([]byte, error) {
			return exec.Command(name, args...).CombinedOutput()
		},
	}
}

func (n *Nmcli) PowerOn() error {
	if out, err := n.run("nmcli", "radio", "wifi", "on"); err != nil {
		return fmt.Errorf("wifi power on: %w (%s)", err, out)
	}
	return nil
}

// PowerOff powers the radio fully down, not merely disconnecting, so the
// shared radio memory is freed before the next BLE window.
func (n *Nmcli) PowerOff() error {
	if out, err := n.run("nmcli", "radio", "wifi", "off"); err != nil {
		return fmt.Errorf("wifi power off: %w (%s)", err, out)
	}
	return nil
}

// SetPowerSave toggles interface power saving. Default power saving drops
// connections mid-upload on this hardware, so sessions disable it right
// after power-on.
func (n *Nmcli) SetPowerSave(on bool) error {
	mode := "off"
	if on {
		mode = "on"
	}
	if out, err := n.run("iw", "dev", n.iface, "set", "power_save", mode); err != nil {
		return fmt.Errorf("wifi power_save %s: %w (%s)", mode, err, out)
	}
	return nil
}

// Scan rescans and returns the visible access points.
func (n *Nmcli) Scan() ([]AccessPoint, error) {
	out, err := n.run("nmcli", "-t", "-f", "SSID,BSSID,CHAN,SIGNAL,SECURITY",
		"dev", "wifi", "list", "ifname", n.iface, "--rescan", "yes")
	if err != nil {
		return nil, fmt.Errorf("wifi scan: %w (%s)", err, out)
	}
	var aps []AccessPoint
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		fields := splitTerse(line)
		if len(fields) < 5 {
			slog.Debug("wifi: skipping malformed scan line", "line", line)
			continue
		}
		chanNum, _ := strconv.Atoi(fields[2])
		signal, _ := strconv.Atoi(fields[3])
		aps = append(aps, AccessPoint{
			SSID:     fields[0],
			BSSID:    fields[1],
			Channel:  chanNum,
			Signal:   signal,
			Security: fields[4],
		})
	}
	return aps, nil
}

// Join initiates a connection to ssid. Success is confirmed separately by
// polling Connected.
func (n *Nmcli) Join(ssid, psk string) error {
	args := []string{"dev", "wifi", "connect", ssid, "ifname", n.iface}
	if psk != "" {
		args = append(args, "password", psk)
	}
	if out, err := n.run("nmcli", args...); err != nil {
		return fmt.Errorf("wifi join %s: %w (%s)", ssid, err, out)
	}
	return nil
}

// Connected reports whether the interface has an established connection.
func (n *Nmcli) Connected() bool {
	out, err := n.run("nmcli", "-t", "-f", "GENERAL.STATE", "dev", "show", n.iface)
	if err != nil {
		return false
	}
	return strings.Contains(string(out), "(connected)")
}

func (n *Nmcli) Disconnect() error {
	if out, err := n.run("nmcli", "dev", "disconnect", n.iface); err != nil {
		return fmt.Errorf("wifi disconnect: %w (%s)", err, out)
	}
	return nil
}

// splitTerse splits one line of `nmcli -t` output on ':', honoring the
// backslash escapes nmcli emits for colons inside values (BSSIDs).
func splitTerse(line string) []string {
	var fields []string
	var cur strings.Builder
	escaped := false
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ':':
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	fields = append(fields, cur.String())
	return fields
}
