package models

import "time"

// Status is the three-valued coordination token.
type Status string

// Status values published on the coordination channel.
const (
	StatusBusy  Status = "busy"
	StatusDone  Status = "done"
	StatusError Status = "error"
)

// Valid reports whether s is a known status token.
func (s Status) Valid() bool {
	switch s {
	case StatusBusy, StatusDone, StatusError:
		return true
	}
	return false
}

// StatusSignal is the payload published on the coordination channel.
type StatusSignal struct {
	Device string    `json:"device"`
	Status Status    `json:"status"`
	RunID  string    `json:"run_id,omitempty"`
	Time   time.Time `json:"time"`
}
