package ble

import "encoding/binary"

// Advertising data (AD) structure types we care about.
const (
	adTypeServices16      = 0x03
	adTypeShortLocalName  = 0x08
	adTypeLocalName       = 0x09
	adTypeAppearance      = 0x19
	adTypeServiceData16   = 0x16
	adTypeManufacturerRaw = 0xFF
)

// advFields holds the structured blocks pulled out of one raw advertisement
// payload.
type advFields struct {
	name          string
	hasCompany    bool
	companyID     uint16
	mfrData       []byte
	hasAppearance bool
	appearance    uint16
	services16    []uint16
}

// parseADPayload walks the length-prefixed type-length-value blocks of a raw
// advertisement payload. Truncated or zero-length blocks end the walk; this
// never panics on malformed input.
func parseADPayload(raw []byte) advFields {
	var f advFields
	i := 0
	for i < len(raw) {
		l := int(raw[i])
		if l == 0 || i+1+l > len(raw) {
			break
		}
		typ := raw[i+1]
		data := raw[i+2 : i+1+l]

		switch typ {
		case adTypeShortLocalName, adTypeLocalName:
			f.name = string(data)
		case adTypeAppearance:
			if len(data) >= 2 {
				f.hasAppearance = true
				f.appearance = binary.LittleEndian.Uint16(data)
			}
		case adTypeManufacturerRaw:
			if len(data) >= 2 {
				f.hasCompany = true
				f.companyID = binary.LittleEndian.Uint16(data)
				f.mfrData = data[2:]
			}
		case adTypeServices16:
			for j := 0; j+2 <= len(data); j += 2 {
				f.services16 = append(f.services16, binary.LittleEndian.Uint16(data[j:]))
			}
		case adTypeServiceData16:
			// Only the leading UUID matters; the payload that follows is
			// opaque to classification.
			if len(data) >= 2 {
				f.services16 = append(f.services16, binary.LittleEndian.Uint16(data))
			}
		}
		i += 1 + l
	}
	return f
}
