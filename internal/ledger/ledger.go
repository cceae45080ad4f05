// Package ledger is the on-device durable queue: an append-only, rotating
// CSV file store under one directory. Files are immutable once rotation has
// moved past them and are deleted only after a confirmed upload.
package ledger

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/shirou/gopsutil/v3/disk"

	"ziggy-agent/internal/record"
)

var filePattern = regexp.MustCompile(`^(ble|wifi)_log_(\d+)\.csv$`)

// Ledger owns the rotating CSV chunks for each source ("ble", "wifi").
type Ledger struct {
	dir         string
	maxFileSize int64
	indices     map[string]int

	usage func(path string) (*disk.UsageStat, error)
}

// New opens the ledger directory, creating it if needed, and recovers the
// per-source write indices from the filenames found there. The recovered
// index is one past the highest existing chunk, so files from a previous
// boot stay immutable and pending.
func New(dir string, maxFileSize int64) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ledger dir %s: %w", dir, err)
	}
	l := &Ledger{
		dir:         dir,
		maxFileSize: maxFileSize,
		indices:     map[string]int{},
		usage:       disk.Usage,
	}
	for _, src := range []string{"ble", "wifi"} {
		l.indices[src] = l.bootIndex(src)
	}
	return l, nil
}

func (l *Ledger) bootIndex(source string) int {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return 0
	}
	next := 0
	for _, e := range entries {
		m := filePattern.FindStringSubmatch(e.Name())
		if m == nil || m[1] != source {
			continue
		}
		if idx, err := strconv.Atoi(m[2]); err == nil && idx+1 > next {
			next = idx + 1
		}
	}
	return next
}

func (l *Ledger) fileName(source string, idx int) string {
	return fmt.Sprintf("%s_log_%03d.csv", source, idx)
}

// Append writes one CSV row to the active chunk for source, rotating to the
// next index first when the row would push the chunk past the size limit.
// Write errors are reported but never block the caller's scan loop.
func (l *Ledger) Append(source string, rec record.Record) error {
	line := rec.CSVLine() + "\n"

	idx := l.indices[source]
	path := filepath.Join(l.dir, l.fileName(source, idx))

	if st, err := os.Stat(path); err == nil {
		if st.Size() > 0 && st.Size()+int64(len(line)) > l.maxFileSize {
			idx++
			l.indices[source] = idx
			path = filepath.Join(l.dir, l.fileName(source, idx))
			slog.Debug("ledger: rotated", "source", source, "index", idx)
		}
	}

	needHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		needHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Warn("ledger: open failed, record dropped", "path", path, "error", err)
		return err
	}
	defer f.Close()

	if needHeader {
		if _, err := f.WriteString(record.CSVHeader + "\n"); err != nil {
			slog.Warn("ledger: header write failed", "path", path, "error", err)
			return err
		}
	}
	if _, err := f.WriteString(line); err != nil {
		slog.Warn("ledger: write failed, record dropped", "path", path, "error", err)
		return err
	}
	return nil
}

// ListPending returns up to limit pending chunk names, oldest (smallest
// index) first. Any filesystem error yields an empty list.
func (l *Ledger) ListPending(limit int) []string {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if filePattern.MatchString(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	if limit >= 0 && len(names) > limit {
		names = names[:limit]
	}
	return names
}

// PendingCount reports how many chunks are waiting for upload.
func (l *Ledger) PendingCount() int {
	return len(l.ListPending(-1))
}

// Read returns the full contents of one chunk.
func (l *Ledger) Read(name string) ([]byte, error) {
	if !filePattern.MatchString(name) {
		return nil, fmt.Errorf("ledger: not a ledger file: %s", name)
	}
	return os.ReadFile(filepath.Join(l.dir, name))
}

// Remove deletes a fully-uploaded chunk. Deletion is best-effort: a residual
// file is simply re-uploaded later and deduplicated downstream.
func (l *Ledger) Remove(name string) {
	if err := os.Remove(filepath.Join(l.dir, name)); err != nil {
		slog.Warn("ledger: remove failed", "name", name, "error", err)
	}
}

// UsageFraction reports filesystem space used as a fraction in [0,1].
// Any stat failure reads as 1.0 so the system leans toward uploading
// rather than silently losing data.
func (l *Ledger) UsageFraction() float64 {
	u, err := l.usage(l.dir)
	if err != nil || u.Total == 0 {
		return 1.0
	}
	return float64(u.Used) / float64(u.Total)
}

// Dir returns the ledger directory path.
func (l *Ledger) Dir() string { return l.dir }

// ActiveIndex reports the current write index for a source. Used by status
// reporting only.
func (l *Ledger) ActiveIndex(source string) int { return l.indices[source] }
