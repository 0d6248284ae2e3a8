// Package config provides configuration file parsing.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/mackup/internal/models"
	"github.com/spf13/viper"
)

// Defaults applied when the config leaves a value unset.
const (
	DefaultTopic        = "Mackup"
	DefaultHTTPBaseURL  = "https://dweet.io"
	DefaultWaitInterval = 30 * time.Second
	DefaultWaitTimeout  = 2 * time.Hour
	DefaultCron         = "0 3 * * *"
	DefaultSMBPort      = 445
	ignoreFileName      = "ignore.cfg"
)

// Parser handles configuration file parsing.
type Parser struct {
	v       *viper.Viper
	baseDir string
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	return &Parser{v: v}
}

// LoadFile loads configuration from a file path. Relative source list paths
// are resolved against the directory of the config file.
func (p *Parser) LoadFile(path string) (*models.BackupConfig, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	p.baseDir = filepath.Dir(path)
	return p.parse()
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.BackupConfig, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.BackupConfig, error) {
	cfg := &models.BackupConfig{}

	// Device (required).
	cfg.Device = models.DeviceConfig{
		Name:        p.expandEnv(p.v.GetString("device.name")),
		Previous:    p.v.GetString("device.previous"),
		FollowOrder: true,
	}
	if p.v.IsSet("device.follow_order") {
		cfg.Device.FollowOrder = p.v.GetBool("device.follow_order")
	}
	if cfg.Device.Name == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			return nil, fmt.Errorf("device.name is required")
		}
		cfg.Device.Name = hostname
	}
	if strings.ContainsAny(cfg.Device.Name, `/\`) {
		return nil, fmt.Errorf("device.name must not contain path separators")
	}

	// Share (required).
	cfg.Share = models.ShareConfig{
		Root:         p.expandEnv(p.v.GetString("share.root")),
		Server:       p.expandEnv(p.v.GetString("share.server")),
		FSType:       p.v.GetString("share.fs_type"),
		MountOptions: p.expandEnv(p.v.GetString("share.mount_options")),
	}
	if cfg.Share.Root == "" {
		return nil, fmt.Errorf("share.root is required")
	}
	if cfg.Share.FSType == "" {
		cfg.Share.FSType = "smbfs"
	}
	validFSTypes := map[string]bool{"smbfs": true, "cifs": true}
	if !validFSTypes[cfg.Share.FSType] {
		return nil, fmt.Errorf("share.fs_type must be one of: smbfs, cifs")
	}

	// Sources (at least one of list_file or paths).
	cfg.Sources = models.SourcesConfig{
		ListFile:   p.resolve(p.expandEnv(p.v.GetString("sources.list_file"))),
		IgnoreFile: p.resolve(p.expandEnv(p.v.GetString("sources.ignore_file"))),
		Paths:      p.v.GetStringSlice("sources.paths"),
	}
	for i, path := range cfg.Sources.Paths {
		cfg.Sources.Paths[i] = p.expandEnv(path)
	}
	if cfg.Sources.ListFile == "" && len(cfg.Sources.Paths) == 0 {
		return nil, fmt.Errorf("sources.list_file or sources.paths is required")
	}
	if cfg.Sources.IgnoreFile == "" && cfg.Sources.ListFile != "" {
		cfg.Sources.IgnoreFile = filepath.Join(filepath.Dir(cfg.Sources.ListFile), ignoreFileName)
	}

	// Coordination channel.
	cfg.Coordination = models.CoordinationConfig{
		Backend:           p.v.GetString("coordination.backend"),
		Topic:             p.v.GetString("coordination.topic"),
		NamespaceByDevice: p.v.GetBool("coordination.namespace_by_device"),
		HTTP: models.HTTPFeedConfig{
			BaseURL: p.expandEnv(p.v.GetString("coordination.http.base_url")),
			Timeout: p.v.GetDuration("coordination.http.timeout"),
		},
		Redis: models.RedisConfig{
			Addr:     p.expandEnv(p.v.GetString("coordination.redis.addr")),
			Password: p.expandEnv(p.v.GetString("coordination.redis.password")),
			DB:       p.v.GetInt("coordination.redis.db"),
		},
	}
	if cfg.Coordination.Backend == "" {
		cfg.Coordination.Backend = models.BackendHTTP
	}
	if cfg.Coordination.Topic == "" {
		cfg.Coordination.Topic = DefaultTopic
	}
	switch cfg.Coordination.Backend {
	case models.BackendHTTP:
		if cfg.Coordination.HTTP.BaseURL == "" {
			cfg.Coordination.HTTP.BaseURL = DefaultHTTPBaseURL
		}
		if cfg.Coordination.HTTP.Timeout == 0 {
			cfg.Coordination.HTTP.Timeout = 30 * time.Second
		}
	case models.BackendRedis:
		if cfg.Coordination.Redis.Addr == "" {
			cfg.Coordination.Redis.Addr = "localhost:6379"
		}
	case models.BackendNone:
	default:
		return nil, fmt.Errorf("coordination.backend must be one of: http, redis, none")
	}

	// Wait settings.
	cfg.Wait = models.WaitSettings{
		Enabled:  p.v.GetBool("wait.enabled"),
		Interval: p.v.GetDuration("wait.interval"),
		Timeout:  p.v.GetDuration("wait.timeout"),
	}
	if cfg.Wait.Interval == 0 {
		cfg.Wait.Interval = DefaultWaitInterval
	}
	if !p.v.IsSet("wait.timeout") {
		cfg.Wait.Timeout = DefaultWaitTimeout
	}
	if cfg.Wait.Enabled && cfg.Device.Previous == "" {
		return nil, fmt.Errorf("device.previous is required when wait is enabled")
	}

	cfg.Schedule = models.ScheduleSettings{
		Cron: p.v.GetString("schedule.cron"),
	}
	if cfg.Schedule.Cron == "" {
		cfg.Schedule.Cron = DefaultCron
	}

	// Parse optional WOL config.
	if p.v.IsSet("wol") { //nolint:nestif // config parsing with defaults
		cfg.WOL = &models.WOLConfig{
			MACAddress:    p.v.GetString("wol.mac_address"),
			BroadcastIP:   p.v.GetString("wol.broadcast_ip"),
			PollURL:       p.expandEnv(p.v.GetString("wol.poll_url")),
			Timeout:       p.v.GetDuration("wol.timeout"),
			PollInterval:  p.v.GetDuration("wol.poll_interval"),
			StabilizeWait: p.v.GetDuration("wol.stabilize_wait"),
		}

		if cfg.WOL.MACAddress == "" {
			return nil, fmt.Errorf("wol.mac_address is required when wol is configured")
		}
		if cfg.WOL.BroadcastIP == "" {
			cfg.WOL.BroadcastIP = "255.255.255.255"
		}
		readyHost := p.v.GetString("wol.ready_host")
		if readyHost == "" {
			readyHost = cfg.Share.Host()
		}
		readyPort := p.v.GetInt("wol.ready_port")
		if readyPort == 0 {
			readyPort = DefaultSMBPort
		}
		if readyHost != "" {
			cfg.WOL.ReadyAddr = net.JoinHostPort(readyHost, strconv.Itoa(readyPort))
		}
		if cfg.WOL.Timeout == 0 {
			cfg.WOL.Timeout = 5 * time.Minute
		}
		if cfg.WOL.PollInterval == 0 {
			cfg.WOL.PollInterval = 10 * time.Second
		}
		if cfg.WOL.StabilizeWait == 0 {
			cfg.WOL.StabilizeWait = 10 * time.Second
		}
	}

	// Parse optional PostgreSQL config.
	if p.v.IsSet("postgres") { //nolint:nestif // config parsing with defaults
		cfg.Postgres = &models.PostgresConfig{
			Host:     p.v.GetString("postgres.host"),
			Port:     p.v.GetInt("postgres.port"),
			Database: p.v.GetString("postgres.database"),
			Username: p.v.GetString("postgres.username"),
			Password: p.expandEnv(p.v.GetString("postgres.password")),
			Format:   p.v.GetString("postgres.format"),
		}

		if cfg.Postgres.Host == "" {
			cfg.Postgres.Host = "localhost"
		}
		if cfg.Postgres.Port == 0 {
			cfg.Postgres.Port = 5432
		}
		if cfg.Postgres.Database == "" {
			return nil, fmt.Errorf("postgres.database is required when postgres is configured")
		}
		if cfg.Postgres.Username == "" {
			cfg.Postgres.Username = "postgres"
		}
		if cfg.Postgres.Format == "" {
			cfg.Postgres.Format = "custom"
		}
		validFormats := map[string]bool{"custom": true, "plain": true, "tar": true}
		if !validFormats[cfg.Postgres.Format] {
			return nil, fmt.Errorf("postgres.format must be one of: custom, plain, tar")
		}
	}

	// Parse optional SSH shutdown config.
	if p.v.IsSet("ssh_shutdown") { //nolint:nestif // config parsing with defaults
		cfg.SSHShutdown = &models.SSHShutdownConfig{
			Host:          p.v.GetString("ssh_shutdown.host"),
			Port:          p.v.GetInt("ssh_shutdown.port"),
			Username:      p.v.GetString("ssh_shutdown.username"),
			KeyPath:       p.expandEnv(p.v.GetString("ssh_shutdown.key_path")),
			ShutdownDelay: p.v.GetInt("ssh_shutdown.shutdown_delay"),
			OS:            p.v.GetString("ssh_shutdown.os"),
		}

		if cfg.SSHShutdown.Host == "" {
			return nil, fmt.Errorf("ssh_shutdown.host is required when ssh_shutdown is configured")
		}
		if cfg.SSHShutdown.Port == 0 {
			cfg.SSHShutdown.Port = 22
		}
		if cfg.SSHShutdown.Username == "" {
			cfg.SSHShutdown.Username = "root"
		}
		if cfg.SSHShutdown.KeyPath == "" {
			return nil, fmt.Errorf("ssh_shutdown.key_path is required when ssh_shutdown is configured")
		}
		if cfg.SSHShutdown.ShutdownDelay == 0 {
			cfg.SSHShutdown.ShutdownDelay = 1
		}
		if cfg.SSHShutdown.OS == "" {
			cfg.SSHShutdown.OS = "linux"
		}
		validOS := map[string]bool{"linux": true, "windows": true}
		if !validOS[cfg.SSHShutdown.OS] {
			return nil, fmt.Errorf("ssh_shutdown.os must be one of: linux, windows")
		}
	}

	// Parse optional Telegram config.
	if p.v.IsSet("telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("telegram.bot_token")),
			ChatID:   p.expandEnv(p.v.GetString("telegram.chat_id")),
		}

		if cfg.Telegram.BotToken == "" {
			return nil, fmt.Errorf("telegram.bot_token is required when telegram is configured")
		}
		if cfg.Telegram.ChatID == "" {
			return nil, fmt.Errorf("telegram.chat_id is required when telegram is configured")
		}
	}

	return cfg, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

func (p *Parser) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || p.baseDir == "" {
		return path
	}
	return filepath.Join(p.baseDir, path)
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.BackupConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if cfg.Device.Name == "" {
		return fmt.Errorf("device.name is required")
	}

	if cfg.Share.Root == "" {
		return fmt.Errorf("share.root is required")
	}

	if cfg.Sources.ListFile == "" && len(cfg.Sources.Paths) == 0 {
		return fmt.Errorf("sources.list_file or sources.paths is required")
	}

	if cfg.Wait.Enabled && cfg.Wait.Interval <= 0 {
		return fmt.Errorf("wait.interval must be positive")
	}

	return nil
}
