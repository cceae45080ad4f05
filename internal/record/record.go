package record

import (
	"strconv"
	"strings"
	"time"
)

const (
	// TimeLayout is the UTC timestamp format used in every ledger row.
	TimeLayout = "2006-01-02 15:04:05"

	// UnsyncedSentinel is logged in place of a real timestamp while the
	// clock has not been synchronized yet.
	UnsyncedSentinel = "2000-01-01 00:00:00"
)

// CSVHeader is the header row written at the top of every ledger file.
const CSVHeader = "timestamp,addr,id,rssi,channel,classification,device,company_id,appearance_id"

// Record is one observed BLE advertisement or Wi-Fi access point.
// Records are immutable once appended to the ledger.
type Record struct {
	Timestamp      string
	Addr           string
	Identifier     string
	RSSI           int16
	Channel        string
	Classification string
	DeviceName     string
	CompanyID      *uint16
	AppearanceID   *uint16
}

// FormattedTime renders t as a UTC timestamp, degrading to the sentinel
// while the wall clock still reads a pre-sync year.
func FormattedTime(t time.Time) string {
	t = t.UTC()
	if t.Year() < 2024 {
		return UnsyncedSentinel
	}
	return t.Format(TimeLayout)
}

// FormatAddr normalizes a 48-bit hardware address to colon-grouped upper-case
// hex. Input may be raw hex digits or an already colon-grouped address.
func FormatAddr(s string) string {
	s = strings.ToUpper(strings.ReplaceAll(s, ":", ""))
	if len(s) != 12 {
		return s
	}
	var b strings.Builder
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(s[i : i+2])
	}
	return b.String()
}

// CSVLine renders the record as one delimited row, without a trailing
// newline. Commas in the identifier are sanitized so they cannot break the
// format.
func (r Record) CSVLine() string {
	fields := []string{
		r.Timestamp,
		FormatAddr(r.Addr),
		strings.ReplaceAll(r.Identifier, ",", " "),
		strconv.Itoa(int(r.RSSI)),
		r.Channel,
		r.Classification,
		r.DeviceName,
		optionalUint16(r.CompanyID),
		optionalUint16(r.AppearanceID),
	}
	return strings.Join(fields, ",")
}

func optionalUint16(v *uint16) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(int(*v))
}
