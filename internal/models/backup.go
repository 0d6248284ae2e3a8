package models

import "time"

// CopyResult holds the result of copying one source directory.
type CopyResult struct {
	Source      string
	Destination string
	Files       int
	Dirs        int
	Fallbacks   int // files copied without metadata
	Skipped     int // dangling symlinks left out
	Bytes       int64
	Duration    time.Duration
}

// ArchiveResult holds the result of archiving the backup folder.
type ArchiveResult struct {
	Path      string
	Entries   int
	SizeBytes int64
	Duration  time.Duration
}

// RunSummary collects what a finished run did, for notifications.
type RunSummary struct {
	RunID     string
	Sources   int
	Files     int
	Fallbacks int
	Skipped   int
	Bytes     int64
	Archive   *ArchiveResult
}

// MountResult holds the result of mounting the share.
type MountResult struct {
	Skipped bool // no server configured
	Command []string
	Output  string
	Error   error
}
