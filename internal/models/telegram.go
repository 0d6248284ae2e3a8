package models

import "time"

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// TelegramMessage holds the data for a run notification.
type TelegramMessage struct {
	Success   bool
	RunID     string
	Device    string
	Weekday   string
	Share     string
	StartTime time.Time
	Duration  time.Duration

	// Run stats (if successful).
	Sources      int
	Files        int
	Fallbacks    int
	Skipped      int
	Bytes        int64
	ArchivePath  string
	ArchiveBytes int64

	// Error info (if failed).
	ErrorMessage string
	FailedStep   string
}

// TelegramResult holds the result of a Telegram notification.
type TelegramResult struct {
	MessageSent bool
	Error       error
}
