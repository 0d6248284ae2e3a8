// Package layout computes where a device's backups live on the share.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var slots = [...]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// Slot returns the weekday slot name for d, e.g. "Mon".
func Slot(d time.Weekday) string {
	return slots[d]
}

// ParseSlot parses a slot name: the three-letter abbreviation or the full
// English day name, case-insensitively ("Mon", "monday").
func ParseSlot(s string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(s, slots[d]) || strings.EqualFold(s, d.String()) {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("invalid weekday %q", s)
}

// Paths holds the share paths for one device on one weekday slot.
type Paths struct {
	Slot string
	// SlotDir holds the archive and the log: <root>/<device>/<slot>.
	SlotDir string
	// BackupFolder is the uncompressed working tree: <SlotDir>/<slot>.
	BackupFolder string
	Archive      string
	LogFile      string
}

// For returns the layout for device under root on weekday d.
func For(root, device string, d time.Weekday) Paths {
	slot := Slot(d)
	slotDir := filepath.Join(root, device, slot)
	return Paths{
		Slot:         slot,
		SlotDir:      slotDir,
		BackupFolder: filepath.Join(slotDir, slot),
		Archive:      filepath.Join(slotDir, slot+".zip"),
		LogFile:      filepath.Join(slotDir, slot+"_log.txt"),
	}
}

// OpenLog creates the slot directory if needed and truncates the run log.
func (p Paths) OpenLog() (*os.File, error) {
	if err := os.MkdirAll(p.SlotDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating slot directory: %w", err)
	}
	f, err := os.OpenFile(p.LogFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640) //nolint:gosec // path derived from config
	if err != nil {
		return nil, fmt.Errorf("opening run log: %w", err)
	}
	return f, nil
}
