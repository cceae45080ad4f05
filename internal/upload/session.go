// Package upload runs one network session: acquire the shared radio for
// Wi-Fi, join a known network, opportunistically refresh config and survey
// access points, then push pending ledger chunks to the receiver.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"ziggy-agent/internal/config"
	"ziggy-agent/internal/record"
	"ziggy-agent/internal/wifi"
)

// Store is the ledger surface a session needs.
type Store interface {
	ListPending(limit int) []string
	Read(name string) ([]byte, error)
	Remove(name string)
	Append(source string, rec record.Record) error
}

// Radio is the Wi-Fi control surface a session drives. Power transitions
// belong to the arbiter, not the session.
type Radio interface {
	SetPowerSave(on bool) error
	Scan() ([]wifi.AccessPoint, error)
	Join(ssid, psk string) error
	Connected() bool
}

// Arbiter is the slice of the radio arbiter a session needs.
type Arbiter interface {
	AcquireWifi() error
	ReleaseWifi() error
}

// Outcome summarizes one session for the failure-escalation policy.
type Outcome struct {
	Uploaded int
	Failed   bool
}

// Session holds the collaborators and identity for upload cycles. One
// Session is reused for the life of the process; Run is not safe for
// concurrent calls, which the arbiter's protocol already forbids.
type Session struct {
	arbiter  Arbiter
	radio    Radio
	store    Store
	networks []config.Network

	client     *http.Client
	serverURL  string
	deviceName string
	userAgent  string

	cfClientID     string
	cfClientSecret string

	// refresh is the best-effort config update hook, invoked once the
	// network is up. May be nil.
	refresh func(ctx context.Context) bool

	settings func() config.Settings
	freeRAM  func() (uint64, error)
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration)

	joinAttempts int
	joinDelay    time.Duration
	pace         time.Duration
}

// Options carries the constructor dependencies that have no useful default.
type Options struct {
	Arbiter    Arbiter
	Radio      Radio
	Store      Store
	Networks   []config.Network
	Client     *http.Client
	ServerURL  string
	DeviceName string
	Version    string

	CFClientID     string
	CFClientSecret string

	Refresh  func(ctx context.Context) bool
	Settings func() config.Settings
}

func New(opts Options) *Session {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	settings := opts.Settings
	if settings == nil {
		settings = func() config.Settings { return config.Defaults() }
	}
	return &Session{
		arbiter:        opts.Arbiter,
		radio:          opts.Radio,
		store:          opts.Store,
		networks:       opts.Networks,
		client:         client,
		serverURL:      opts.ServerURL,
		deviceName:     opts.DeviceName,
		userAgent:      fmt.Sprintf("Ziggy-Agent/%s", opts.Version),
		cfClientID:     opts.CFClientID,
		cfClientSecret: opts.CFClientSecret,
		refresh:        opts.Refresh,
		settings:       settings,
		freeRAM: func() (uint64, error) {
			vm, err := mem.VirtualMemory()
			if err != nil {
				return 0, err
			}
			return vm.Available, nil
		},
		now:          time.Now,
		sleep:        sleepCtx,
		joinAttempts: 15,
		joinDelay:    time.Second,
		pace:         time.Second,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Run performs one full session. critical sessions skip the opportunistic
// AP survey to keep memory headroom for the uploads that matter. Wi-Fi is
// always powered back down before Run returns, success or not.
func (s *Session) Run(ctx context.Context, critical bool) Outcome {
	if err := s.arbiter.AcquireWifi(); err != nil {
		slog.Error("session: wifi acquire failed", "error", err)
		return Outcome{Failed: true}
	}
	defer func() {
		if err := s.arbiter.ReleaseWifi(); err != nil {
			slog.Warn("session: wifi release failed", "error", err)
		}
	}()

	if err := s.radio.SetPowerSave(false); err != nil {
		// Stability fix, not a prerequisite; log and press on.
		slog.Warn("session: could not disable power saving", "error", err)
	}

	aps, target, err := s.selectNetwork()
	if err != nil {
		slog.Warn("session: no usable network", "error", err)
		return Outcome{Failed: true}
	}

	if !s.join(ctx, target) {
		slog.Warn("session: join failed", "ssid", target.SSID)
		return Outcome{Failed: true}
	}
	slog.Info("session: online", "ssid", target.SSID)

	if s.refresh != nil {
		s.refresh(ctx)
	}

	if !critical {
		s.surveyAccessPoints(aps)
	}

	return s.uploadBatch(ctx)
}

// selectNetwork scans once and picks the first known network, in priority
// order, whose SSID is visible.
func (s *Session) selectNetwork() ([]wifi.AccessPoint, config.Network, error) {
	aps, err := s.radio.Scan()
	if err != nil {
		return nil, config.Network{}, err
	}
	visible := make(map[string]struct{}, len(aps))
	for _, ap := range aps {
		visible[ap.SSID] = struct{}{}
	}
	for _, net := range s.networks {
		if _, ok := visible[net.SSID]; ok {
			return aps, net, nil
		}
	}
	return nil, config.Network{}, errors.New("no known network visible")
}

func (s *Session) join(ctx context.Context, net config.Network) bool {
	if err := s.radio.Join(net.SSID, net.Pass); err != nil {
		slog.Warn("session: connect initiation failed", "ssid", net.SSID, "error", err)
		return false
	}
	for i := 0; i < s.joinAttempts; i++ {
		if s.radio.Connected() {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		s.sleep(ctx, s.joinDelay)
	}
	return false
}

// surveyAccessPoints logs the scan results already in hand as Wi-Fi records
// for geo-positioning. A zero signal reading is the scanner's "no reading"
// sentinel, same as on the BLE side.
func (s *Session) surveyAccessPoints(aps []wifi.AccessPoint) {
	ts := record.FormattedTime(s.now())
	count := 0
	for _, ap := range aps {
		if ap.Signal == 0 {
			continue
		}
		rec := record.Record{
			Timestamp:      ts,
			Addr:           ap.BSSID,
			Identifier:     ap.SSID,
			RSSI:           int16(ap.Signal),
			Channel:        fmt.Sprintf("%d", ap.Channel),
			Classification: ap.Security,
			DeviceName:     s.deviceName,
		}
		if err := s.store.Append("wifi", rec); err != nil {
			slog.Warn("session: survey append failed", "bssid", ap.BSSID, "error", err)
			continue
		}
		count++
	}
	slog.Info("session: access point survey logged", "count", count)
}

// uploadBatch pushes up to MaxBatchFiles oldest chunks. The first failed
// POST stops the batch: pushing more files over a degraded link only burns
// memory and radio time, so back off and retry the whole batch next cycle.
func (s *Session) uploadBatch(ctx context.Context) Outcome {
	st := s.settings()
	batch := s.store.ListPending(st.MaxBatchFiles)
	if len(batch) == 0 {
		return Outcome{}
	}
	slog.Info("session: uploading batch", "files", len(batch))

	var out Outcome
	for i, name := range batch {
		if free, err := s.freeRAM(); err != nil || free < st.MinSafeRAM {
			slog.Warn("session: low memory, stopping batch", "free", free, "floor", st.MinSafeRAM, "error", err)
			break
		}

		payload, err := s.store.Read(name)
		if err != nil {
			slog.Warn("session: read failed", "name", name, "error", err)
			out.Failed = true
			break
		}

		status, err := s.post(ctx, name, payload)
		payload = nil // release before the next chunk is read

		if err != nil {
			if errors.Is(err, syscall.ENOMEM) {
				slog.Error("session: out of memory during upload", "name", name)
			} else {
				slog.Warn("session: post failed", "name", name, "error", err)
			}
			out.Failed = true
			break
		}
		if status != http.StatusOK {
			slog.Warn("session: receiver rejected chunk", "name", name, "status", status)
			out.Failed = true
			break
		}

		s.store.Remove(name)
		out.Uploaded++
		slog.Info("session: chunk uploaded", "name", name, "progress", fmt.Sprintf("%d/%d", i+1, len(batch)))

		if i < len(batch)-1 {
			s.sleep(ctx, s.pace)
		}
	}
	return out
}

func (s *Session) post(ctx context.Context, name string, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "text/csv")
	req.Header.Set("X-Pico-Device", fmt.Sprintf("%s_%s", s.deviceName, name))
	req.Header.Set("User-Agent", s.userAgent)
	if s.cfClientID != "" {
		req.Header.Set("CF-Access-Client-Id", s.cfClientID)
		req.Header.Set("CF-Access-Client-Secret", s.cfClientSecret)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
