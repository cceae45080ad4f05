package ble

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ziggy-agent/internal/record"
)

// Packet is one received advertisement, reduced to what classification
// needs.
type Packet struct {
	Addr string
	RSSI int16
	Raw  []byte // raw AD payload; may be nil on platforms that hide it
	Name string
}

// Advertiser runs one bounded scan window, delivering packets to fn as they
// arrive. Implementations must return once the window elapses or ctx is
// canceled.
type Advertiser interface {
	Scan(ctx context.Context, dur time.Duration, fn func(Packet)) error
}

// Appender is the ledger surface the scanner writes to.
type Appender interface {
	Append(source string, rec record.Record) error
}

// RadioGate is the slice of the radio arbiter the scanner needs: a
// guarantee that Wi-Fi is off before the scan window starts.
type RadioGate interface {
	AcquireBLE() error
}

// Scanner drives BLE scan cycles: receive, classify, deduplicate, persist.
type Scanner struct {
	radio      Advertiser
	gate       RadioGate
	ledger     Appender
	deviceName string
	now        func() time.Time

	mu   sync.Mutex
	rate float64
}

func NewScanner(radio Advertiser, gate RadioGate, ledger Appender, deviceName string) *Scanner {
	return &Scanner{
		radio:      radio,
		gate:       gate,
		ledger:     ledger,
		deviceName: deviceName,
		now:        time.Now,
	}
}

// Cycle runs one scan window of the given duration and appends every
// matching advertisement to the ledger. Errors end the cycle early and are
// returned for logging; they never escalate past the caller.
func (s *Scanner) Cycle(ctx context.Context, dur time.Duration) (int, error) {
	if err := s.gate.AcquireBLE(); err != nil {
		return 0, err
	}

	seen := make(map[string]struct{})
	found := 0
	start := s.now()

	err := s.radio.Scan(ctx, dur, func(p Packet) {
		if p.Addr == "" {
			return
		}
		if len(p.Raw) == 0 && p.Name == "" {
			return
		}
		// RSSI of exactly 0 is the radio's "no reading" sentinel.
		if p.RSSI == 0 {
			return
		}
		if _, dup := seen[p.Addr]; dup {
			return
		}

		fields := parseADPayload(p.Raw)
		if fields.name == "" {
			fields.name = p.Name
		}
		id, class, ok := classify(fields)
		if !ok {
			return
		}

		seen[p.Addr] = struct{}{}
		rec := record.Record{
			Timestamp:      record.FormattedTime(s.now()),
			Addr:           p.Addr,
			Identifier:     id,
			RSSI:           p.RSSI,
			Channel:        "BLE",
			Classification: class,
			DeviceName:     s.deviceName,
		}
		if fields.hasCompany {
			company := fields.companyID
			rec.CompanyID = &company
		}
		if fields.hasAppearance {
			appearance := fields.appearance
			rec.AppearanceID = &appearance
		}
		if err := s.ledger.Append("ble", rec); err != nil {
			slog.Warn("scanner: append failed, record dropped", "addr", p.Addr, "error", err)
			return
		}
		found++
	})

	elapsed := s.now().Sub(start)
	s.mu.Lock()
	if elapsed > 0 {
		s.rate = float64(found) / elapsed.Minutes()
	}
	s.mu.Unlock()

	if err != nil {
		return found, err
	}
	slog.Info("scanner: cycle complete", "found", found, "per_minute", s.RatePerMinute())
	return found, nil
}

// RatePerMinute reports the last cycle's records-per-minute throughput.
// Status reporting only; it drives no control decision.
func (s *Scanner) RatePerMinute() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}
