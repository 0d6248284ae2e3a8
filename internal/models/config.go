// Package models contains the data structures used throughout mackup.
package models

import (
	"strings"
	"time"
)

// BackupConfig holds the complete configuration for a device backup.
type BackupConfig struct {
	Device       DeviceConfig
	Share        ShareConfig
	Sources      SourcesConfig
	Coordination CoordinationConfig
	Wait         WaitSettings
	Schedule     ScheduleSettings
	WOL          *WOLConfig         // nil if not configured
	Postgres     *PostgresConfig    // nil if not configured
	SSHShutdown  *SSHShutdownConfig // nil if not configured
	Telegram     *TelegramConfig    // nil if not configured
}

// DeviceConfig identifies this device and its place in the backup rotation.
type DeviceConfig struct {
	Name        string
	Previous    string // device expected to finish before this one
	FollowOrder bool
}

// ShareConfig describes the network share backups are written to.
type ShareConfig struct {
	Root         string // local mount point
	Server       string // e.g. "pinas/backup"; empty skips mounting
	FSType       string // "smbfs" (default) or "cifs"
	MountOptions string
}

// Host returns the host part of Server, without credentials or share path.
func (c ShareConfig) Host() string {
	host := strings.TrimPrefix(c.Server, "//")
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	if i := strings.LastIndexByte(host, '@'); i >= 0 {
		host = host[i+1:]
	}
	return host
}

// SourcesConfig lists the directories to back up.
type SourcesConfig struct {
	ListFile   string
	IgnoreFile string // read path only; entries are not applied
	Paths      []string
}

// Coordination backends.
const (
	BackendHTTP  = "http"
	BackendRedis = "redis"
	BackendNone  = "none"
)

// CoordinationConfig configures the shared status channel.
type CoordinationConfig struct {
	Backend           string
	Topic             string
	NamespaceByDevice bool
	HTTP              HTTPFeedConfig
	Redis             RedisConfig
}

// HTTPFeedConfig configures a dweet-style HTTP relay.
type HTTPFeedConfig struct {
	BaseURL string
	Timeout time.Duration
}

// RedisConfig configures the Redis coordination backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// WaitSettings controls waiting for the previous device.
type WaitSettings struct {
	Enabled  bool
	Interval time.Duration
	Timeout  time.Duration // 0 waits until the context is cancelled
}

// ScheduleSettings holds the cron expression used by the schedule command.
type ScheduleSettings struct {
	Cron string
}
