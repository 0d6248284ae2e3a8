package models

import "time"

// PostgresConfig holds settings for dumping a database into the backup folder.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Format   string // "custom" (default), "plain", "tar"
}

// PostgresDumpResult holds the result of a pg_dump into the backup folder.
type PostgresDumpResult struct {
	OutputPath string
	SizeBytes  int64
	Duration   time.Duration
	Error      error
}
