// Package notify is the device's outward status capability. Hardware
// variants with real indicators get a concrete implementation; headless
// builds get the no-op. The variant is selected explicitly at startup.
package notify

import "log/slog"

// Event codes, mirroring the device notifier states.
const (
	CodeOff    = "OFF"
	CodeError  = "ERROR"
	CodeSave   = "SAVE"
	CodeUpload = "UPLOAD"
	CodeBLE    = "BLE"
)

// Status is one snapshot of the agent for status reporting. Nothing in it
// drives control decisions.
type Status struct {
	Mode             string  `json:"mode"`
	Line             string  `json:"line"`
	Progress         string  `json:"progress"`
	StorageFraction  float64 `json:"storage_fraction"`
	RecordsPerMinute float64 `json:"records_per_minute"`
	FailCount        int     `json:"fail_count"`
}

type Notifier interface {
	Event(code, msg string)
	Status(st Status)
}

// Noop is the headless variant.
type Noop struct{}

func (Noop) Event(string, string) {}
func (Noop) Status(Status)        {}

// Log reports through the structured log, standing in for the physical
// indicators on development hosts and the tactical build's console.
type Log struct{}

func (Log) Event(code, msg string) {
	if code == CodeError {
		slog.Warn("notify: "+msg, "code", code)
		return
	}
	slog.Info("notify: "+msg, "code", code)
}

func (Log) Status(st Status) {
	slog.Info("status",
		"mode", st.Mode,
		"line", st.Line,
		"progress", st.Progress,
		"storage", st.StorageFraction,
		"per_minute", st.RecordsPerMinute,
		"fails", st.FailCount,
	)
}
