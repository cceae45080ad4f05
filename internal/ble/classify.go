package ble

import (
	"bytes"
	"encoding/hex"
	"strings"
)

// Bluetooth SIG company identifiers and service UUIDs used for
// classification.
const (
	companyApple        = 0x004C
	companyMicrosoft    = 0x0006
	companyFleetTracker = 0x00ED // Tile

	serviceExposureNotification = 0xFD6F
)

// Classification labels persisted in the ledger.
const (
	ClassApple        = "Apple_Eco"
	ClassWindows      = "MS_Windows"
	ClassFleetTracker = "Fleet_Tracker"
	ClassExposure     = "Exposure_Notif"
	ClassNamed        = "Named_Device"
)

var (
	iBeaconMarker     = []byte{0x02, 0x15}
	appleNearbyMarker = []byte{0x10, 0x05}
)

// classify maps parsed advertisement fields to an identifier and a
// classification. ok is false for unrecognized devices without a broadcast
// name: those are noise and are deliberately not persisted.
func classify(f advFields) (identifier, classification string, ok bool) {
	if f.hasCompany {
		switch f.companyID {
		case companyApple:
			return appleIdentifier(f.mfrData), ClassApple, true
		case companyMicrosoft:
			return "Windows_Device", ClassWindows, true
		case companyFleetTracker:
			return "Fleet_Tracker", ClassFleetTracker, true
		}
	}

	for _, svc := range f.services16 {
		if svc == serviceExposureNotification {
			return "Contact_Trace", ClassExposure, true
		}
	}

	if name := strings.TrimSpace(f.name); name != "" {
		return name, ClassNamed, true
	}

	return "", "", false
}

// appleIdentifier distinguishes iBeacons and nearby/handoff frames from
// generic Apple advertisements by their manufacturer-data sub-type markers.
func appleIdentifier(mfr []byte) string {
	if start := bytes.Index(mfr, iBeaconMarker); start >= 0 {
		uuidStart := start + len(iBeaconMarker)
		if uuidStart+8 <= len(mfr) {
			return "iBeacon_" + hex.EncodeToString(mfr[uuidStart:uuidStart+8])
		}
		return "iBeacon_Malformed"
	}
	if bytes.Contains(mfr, appleNearbyMarker) {
		return "Apple_Nearby"
	}
	return "Apple_Device"
}
