package record

import (
	"strings"
	"testing"
	"time"
)

func TestFormattedTime(t *testing.T) {
	t.Run("returns sentinel before clock sync", func(t *testing.T) {
		unsynced := time.Date(2000, 1, 1, 0, 3, 12, 0, time.UTC)
		if got := FormattedTime(unsynced); got != UnsyncedSentinel {
			t.Errorf("FormattedTime = %q; want %q", got, UnsyncedSentinel)
		}
	})

	t.Run("formats synced time as UTC", func(t *testing.T) {
		synced := time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC)
		if got := FormattedTime(synced); got != "2025-06-01 12:30:45" {
			t.Errorf("FormattedTime = %q; want 2025-06-01 12:30:45", got)
		}
	})
}

func TestFormatAddr(t *testing.T) {
	t.Run("groups raw hex with colons", func(t *testing.T) {
		if got := FormatAddr("aabbccddeeff"); got != "AA:BB:CC:DD:EE:FF" {
			t.Errorf("FormatAddr = %q; want AA:BB:CC:DD:EE:FF", got)
		}
	})

	t.Run("normalizes already grouped addresses", func(t *testing.T) {
		if got := FormatAddr("aa:bb:cc:dd:ee:ff"); got != "AA:BB:CC:DD:EE:FF" {
			t.Errorf("FormatAddr = %q; want AA:BB:CC:DD:EE:FF", got)
		}
	})

	t.Run("leaves malformed input alone", func(t *testing.T) {
		if got := FormatAddr("abc"); got != "ABC" {
			t.Errorf("FormatAddr = %q; want ABC", got)
		}
	})
}

func TestCSVLine(t *testing.T) {
	company := uint16(76)
	rec := Record{
		Timestamp:      "2025-06-01 12:30:45",
		Addr:           "aabbccddeeff",
		Identifier:     "Living Room, TV",
		RSSI:           -63,
		Channel:        "BLE",
		Classification: "Named_Device",
		DeviceName:     "ZIGGY_MINI_01",
		CompanyID:      &company,
	}

	line := rec.CSVLine()

	if strings.Count(line, ",") != strings.Count(CSVHeader, ",") {
		t.Errorf("column count mismatch: line %q vs header %q", line, CSVHeader)
	}
	if strings.Contains(line, "Living Room, TV") {
		t.Errorf("identifier comma not sanitized: %q", line)
	}
	if !strings.Contains(line, "Living Room  TV") {
		t.Errorf("sanitized identifier missing: %q", line)
	}
	if !strings.Contains(line, "AA:BB:CC:DD:EE:FF") {
		t.Errorf("address not formatted: %q", line)
	}
	if !strings.HasSuffix(line, ",76,") {
		t.Errorf("optional company id / empty appearance not rendered: %q", line)
	}
}
