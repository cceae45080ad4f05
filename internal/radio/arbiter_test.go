package radio

import (
	"errors"
	"testing"
)

// fakeRadio records power transitions into a shared trace and tracks its own
// active flag so tests can assert the mutual-exclusion invariant.
type fakeRadio struct {
	name   string
	trace  *[]string
	active bool
	failOn string
	other  *fakeRadio
	t      *testing.T
}

func (f *fakeRadio) PowerOn() error {
	if f.failOn == "on" {
		return errors.New("power on failed")
	}
	f.active = true
	if f.other != nil && f.other.active {
		f.t.Errorf("both radios active after %s power on", f.name)
	}
	*f.trace = append(*f.trace, f.name+".on")
	return nil
}

func (f *fakeRadio) PowerOff() error {
	if f.failOn == "off" {
		return errors.New("power off failed")
	}
	f.active = false
	*f.trace = append(*f.trace, f.name+".off")
	return nil
}

func newFakes(t *testing.T) (*fakeRadio, *fakeRadio, *[]string) {
	trace := &[]string{}
	ble := &fakeRadio{name: "ble", trace: trace, t: t}
	wifi := &fakeRadio{name: "wifi", trace: trace, t: t}
	ble.other = wifi
	wifi.other = ble
	return ble, wifi, trace
}

func TestAcquireWifiPowersBLEOffFirst(t *testing.T) {
	ble, wifi, trace := newFakes(t)
	a := New(ble, wifi)

	if err := a.AcquireBLE(); err != nil {
		t.Fatalf("AcquireBLE: %v", err)
	}
	if err := a.AcquireWifi(); err != nil {
		t.Fatalf("AcquireWifi: %v", err)
	}

	want := []string{"ble.on", "ble.off", "wifi.on"}
	if len(*trace) != len(want) {
		t.Fatalf("trace = %v; want %v", *trace, want)
	}
	for i := range want {
		if (*trace)[i] != want[i] {
			t.Errorf("trace[%d] = %q; want %q", i, (*trace)[i], want[i])
		}
	}

	bleOn, wifiOn := a.Active()
	if bleOn || !wifiOn {
		t.Errorf("Active = (%v, %v); want (false, true)", bleOn, wifiOn)
	}
}

func TestReleaseWifiFullPowerDown(t *testing.T) {
	ble, wifi, trace := newFakes(t)
	a := New(ble, wifi)

	if err := a.AcquireWifi(); err != nil {
		t.Fatalf("AcquireWifi: %v", err)
	}
	if err := a.ReleaseWifi(); err != nil {
		t.Fatalf("ReleaseWifi: %v", err)
	}

	last := (*trace)[len(*trace)-1]
	if last != "wifi.off" {
		t.Errorf("last transition = %q; want wifi.off", last)
	}
	if _, wifiOn := a.Active(); wifiOn {
		t.Error("wifi still active after release")
	}
}

func TestAcquireWifiFailsWhenBLEWillNotRelease(t *testing.T) {
	ble, wifi, _ := newFakes(t)
	a := New(ble, wifi)

	if err := a.AcquireBLE(); err != nil {
		t.Fatalf("AcquireBLE: %v", err)
	}
	ble.failOn = "off"

	if err := a.AcquireWifi(); err == nil {
		t.Fatal("AcquireWifi succeeded with BLE stuck on")
	}
	if wifi.active {
		t.Error("wifi powered on despite BLE still holding the radio")
	}
}

func TestScanUploadScanSequenceNeverOverlaps(t *testing.T) {
	ble, wifi, _ := newFakes(t)
	a := New(ble, wifi)

	// A full mission iteration: scan window, upload session, next scan
	// window. The fakes fail the test if both sides are ever active.
	for i := 0; i < 3; i++ {
		if err := a.AcquireBLE(); err != nil {
			t.Fatalf("AcquireBLE: %v", err)
		}
		if err := a.AcquireWifi(); err != nil {
			t.Fatalf("AcquireWifi: %v", err)
		}
		if err := a.ReleaseWifi(); err != nil {
			t.Fatalf("ReleaseWifi: %v", err)
		}
	}
}
