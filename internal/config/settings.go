package config

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/peterbourgon/diskv"
)

// Settings are the tunable limits every component consults. They persist
// across reboots and may be overwritten key-by-key by the remote config
// service; unknown remote keys are ignored.
type Settings struct {
	ScanDurationMS     int     `json:"SCAN_DURATION_MS"`
	LoopIntervalS      int     `json:"LOOP_INTERVAL_S"`
	UploadIntervalS    int     `json:"UPLOAD_INTERVAL_S"`
	MaxFileSizeBytes   int     `json:"MAX_FILE_SIZE_BYTES"`
	MaxBatchFiles      int     `json:"MAX_BATCH_FILES"`
	MinSafeRAM         uint64  `json:"MIN_SAFE_RAM"`
	StorageCriticalPct float64 `json:"STORAGE_CRITICAL_PCT"`
	StorageResumePct   float64 `json:"STORAGE_RESUME_PCT"`
	MaxConsecutiveFail int     `json:"MAX_CONSECUTIVE_FAILS"`
	MinUploadBatch     int     `json:"MIN_UPLOAD_BATCH"`
}

// Defaults are the field-tuned limits the device falls back to when no
// persisted document exists.
func Defaults() Settings {
	return Settings{
		ScanDurationMS:     5000,
		LoopIntervalS:      1,
		UploadIntervalS:    600,
		MaxFileSizeBytes:   38 * 1024,
		MaxBatchFiles:      10,
		MinSafeRAM:         30000,
		StorageCriticalPct: 0.80,
		StorageResumePct:   0.30,
		MaxConsecutiveFail: 5,
		MinUploadBatch:     1,
	}
}

const settingsKey = "settings.json"

// Store owns the settings document: local persisted copy plus opportunistic
// remote overrides fetched while a network session is already open.
type Store struct {
	dv         *diskv.Diskv
	apiBase    string
	deviceName string
	client     *http.Client

	mu  sync.RWMutex
	cur Settings
}

func NewStore(dataDir, apiBase, deviceName string, client *http.Client) *Store {
	dv := diskv.New(diskv.Options{
		BasePath:     filepath.Join(dataDir, "settings"),
		Transform:    func(string) []string { return []string{} },
		CacheSizeMax: 64 * 1024,
	})
	if client == nil {
		client = http.DefaultClient
	}
	return &Store{
		dv:         dv,
		apiBase:    apiBase,
		deviceName: deviceName,
		client:     client,
		cur:        Defaults(),
	}
}

// Load reads the persisted document. On any read or parse failure it falls
// back to defaults and persists them immediately, so the next boot finds a
// healthy document.
func (s *Store) Load() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.dv.Read(settingsKey)
	if err != nil {
		slog.Warn("settings: no persisted document, writing defaults", "error", err)
		s.cur = Defaults()
		s.persistLocked()
		return s.cur
	}

	loaded := Defaults()
	if err := json.Unmarshal(b, &loaded); err != nil {
		slog.Warn("settings: persisted document unreadable, writing defaults", "error", err)
		s.cur = Defaults()
		s.persistLocked()
		return s.cur
	}
	s.cur = loaded
	return s.cur
}

// Current returns a snapshot of the in-memory settings.
func (s *Store) Current() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// RefreshFromRemote fetches the override document for this device and
// merges it key-by-key over the current settings, persisting only when
// something actually changed. Network failures keep the prior values and
// never surface as errors; a session in progress must not be aborted by a
// config hiccup.
func (s *Store) RefreshFromRemote(ctx context.Context) bool {
	if s.apiBase == "" {
		return false
	}

	url := fmt.Sprintf("%s/%s", s.apiBase, s.deviceName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		slog.Warn("settings: bad config url", "url", url, "error", err)
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		slog.Warn("settings: remote fetch failed, keeping current values", "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Debug("settings: no remote update", "status", resp.StatusCode)
		return false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		slog.Warn("settings: remote read failed", "error", err)
		return false
	}

	var remote map[string]json.RawMessage
	if err := json.Unmarshal(body, &remote); err != nil {
		slog.Warn("settings: remote document unreadable", "error", err)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	merged, err := merge(s.cur, remote)
	if err != nil {
		slog.Warn("settings: merge failed, keeping current values", "error", err)
		return false
	}
	if merged == s.cur {
		return false
	}

	slog.Info("settings: remote overrides applied", "url", url)
	s.cur = merged
	s.persistLocked()
	return true
}

// merge overlays remote values onto cur for known keys only. Round-tripping
// through the JSON field names keeps the known-key surface in one place:
// the struct tags.
func merge(cur Settings, remote map[string]json.RawMessage) (Settings, error) {
	curJSON, err := json.Marshal(cur)
	if err != nil {
		return cur, err
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(curJSON, &doc); err != nil {
		return cur, err
	}
	for key, val := range remote {
		if _, known := doc[key]; known {
			doc[key] = val
		}
	}
	mergedJSON, err := json.Marshal(doc)
	if err != nil {
		return cur, err
	}
	merged := cur
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return cur, err
	}
	return merged, nil
}

func (s *Store) persistLocked() {
	b, err := json.Marshal(s.cur)
	if err != nil {
		slog.Warn("settings: marshal failed", "error", err)
		return
	}
	if err := s.dv.Write(settingsKey, b); err != nil {
		slog.Warn("settings: persist failed", "error", err)
	}
}
