package ble

import (
	"strings"
	"testing"
)

// adBlock builds one length-prefixed AD structure.
func adBlock(typ byte, data ...byte) []byte {
	out := []byte{byte(len(data) + 1), typ}
	return append(out, data...)
}

func mfrBlock(companyID uint16, data ...byte) []byte {
	payload := append([]byte{byte(companyID), byte(companyID >> 8)}, data...)
	return adBlock(adTypeManufacturerRaw, payload...)
}

func TestParseADPayload(t *testing.T) {
	t.Run("extracts name, manufacturer and appearance", func(t *testing.T) {
		var raw []byte
		raw = append(raw, adBlock(adTypeLocalName, []byte("Ziggy Beacon")...)...)
		raw = append(raw, mfrBlock(0x004C, 0x10, 0x05, 0x01)...)
		raw = append(raw, adBlock(adTypeAppearance, 0x41, 0x03)...)

		f := parseADPayload(raw)

		if f.name != "Ziggy Beacon" {
			t.Errorf("name = %q; want Ziggy Beacon", f.name)
		}
		if !f.hasCompany || f.companyID != 0x004C {
			t.Errorf("companyID = %#x (has=%v); want 0x004c", f.companyID, f.hasCompany)
		}
		if len(f.mfrData) != 3 || f.mfrData[0] != 0x10 {
			t.Errorf("mfrData = %v; want the 3 trailing bytes", f.mfrData)
		}
		if !f.hasAppearance || f.appearance != 0x0341 {
			t.Errorf("appearance = %#x (has=%v); want 0x0341", f.appearance, f.hasAppearance)
		}
	})

	t.Run("collects 16-bit service uuids", func(t *testing.T) {
		raw := adBlock(adTypeServices16, 0x6F, 0xFD)
		f := parseADPayload(raw)
		if len(f.services16) != 1 || f.services16[0] != 0xFD6F {
			t.Errorf("services16 = %v; want [0xFD6F]", f.services16)
		}
	})

	t.Run("stops on truncated block without panicking", func(t *testing.T) {
		raw := []byte{0x10, 0x09, 'A'} // claims 16 bytes, has 2
		f := parseADPayload(raw)
		if f.name != "" {
			t.Errorf("name = %q; want empty on truncated payload", f.name)
		}
	})

	t.Run("stops on zero-length block", func(t *testing.T) {
		raw := []byte{0x00, 0xFF, 0xFF}
		f := parseADPayload(raw)
		if f.hasCompany {
			t.Error("parsed past a zero-length block")
		}
	})
}

func TestClassify(t *testing.T) {
	t.Run("apple ibeacon carries uuid prefix", func(t *testing.T) {
		mfr := append([]byte{0x02, 0x15}, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}...)
		id, class, ok := classify(advFields{hasCompany: true, companyID: companyApple, mfrData: mfr})
		if !ok || class != ClassApple {
			t.Fatalf("classify = (%q, %q, %v); want Apple_Eco", id, class, ok)
		}
		if id != "iBeacon_0102030405060708" {
			t.Errorf("identifier = %q; want iBeacon_0102030405060708", id)
		}
	})

	t.Run("short ibeacon frame is flagged malformed", func(t *testing.T) {
		id, _, ok := classify(advFields{hasCompany: true, companyID: companyApple, mfrData: []byte{0x02, 0x15, 0x01}})
		if !ok || id != "iBeacon_Malformed" {
			t.Errorf("identifier = %q (ok=%v); want iBeacon_Malformed", id, ok)
		}
	})

	t.Run("apple nearby", func(t *testing.T) {
		id, class, ok := classify(advFields{hasCompany: true, companyID: companyApple, mfrData: []byte{0x10, 0x05, 0x01}})
		if !ok || id != "Apple_Nearby" || class != ClassApple {
			t.Errorf("classify = (%q, %q, %v)", id, class, ok)
		}
	})

	t.Run("generic apple", func(t *testing.T) {
		id, _, ok := classify(advFields{hasCompany: true, companyID: companyApple, mfrData: []byte{0x0C, 0x0E}})
		if !ok || id != "Apple_Device" {
			t.Errorf("identifier = %q (ok=%v); want Apple_Device", id, ok)
		}
	})

	t.Run("microsoft", func(t *testing.T) {
		id, class, ok := classify(advFields{hasCompany: true, companyID: companyMicrosoft})
		if !ok || id != "Windows_Device" || class != ClassWindows {
			t.Errorf("classify = (%q, %q, %v)", id, class, ok)
		}
	})

	t.Run("fleet tracker", func(t *testing.T) {
		_, class, ok := classify(advFields{hasCompany: true, companyID: companyFleetTracker})
		if !ok || class != ClassFleetTracker {
			t.Errorf("classification = %q (ok=%v); want Fleet_Tracker", class, ok)
		}
	})

	t.Run("exposure notification service", func(t *testing.T) {
		id, class, ok := classify(advFields{services16: []uint16{serviceExposureNotification}})
		if !ok || id != "Contact_Trace" || class != ClassExposure {
			t.Errorf("classify = (%q, %q, %v)", id, class, ok)
		}
	})

	t.Run("named device", func(t *testing.T) {
		id, class, ok := classify(advFields{name: "Garage Sensor"})
		if !ok || id != "Garage Sensor" || class != ClassNamed {
			t.Errorf("classify = (%q, %q, %v)", id, class, ok)
		}
	})

	t.Run("unnamed unrecognized devices are dropped", func(t *testing.T) {
		if _, _, ok := classify(advFields{hasCompany: true, companyID: 0x0075}); ok {
			t.Error("unknown vendor without a name should not classify")
		}
		if _, _, ok := classify(advFields{}); ok {
			t.Error("empty advertisement should not classify")
		}
	})

	t.Run("vendor classification wins over name", func(t *testing.T) {
		id, class, ok := classify(advFields{hasCompany: true, companyID: companyMicrosoft, name: "Surface"})
		if !ok || class != ClassWindows || strings.Contains(id, "Surface") {
			t.Errorf("classify = (%q, %q, %v); vendor should win", id, class, ok)
		}
	})
}
