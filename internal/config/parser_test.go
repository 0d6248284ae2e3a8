package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fgeck/mackup/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_LoadReader_MinimalConfig(t *testing.T) {
	yaml := `
device:
  name: macbook
share:
  root: /Volumes/backup
sources:
  paths:
    - /data/photos
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)

	require.NoError(t, err)
	assert.Equal(t, "macbook", cfg.Device.Name)
	assert.Equal(t, "/Volumes/backup", cfg.Share.Root)
	assert.Equal(t, []string{"/data/photos"}, cfg.Sources.Paths)
	// Check defaults
	assert.True(t, cfg.Device.FollowOrder)
	assert.Equal(t, "smbfs", cfg.Share.FSType)
	assert.Equal(t, models.BackendHTTP, cfg.Coordination.Backend)
	assert.Equal(t, "Mackup", cfg.Coordination.Topic)
	assert.Equal(t, "https://dweet.io", cfg.Coordination.HTTP.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Coordination.HTTP.Timeout)
	assert.False(t, cfg.Wait.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Wait.Interval)
	assert.Equal(t, 2*time.Hour, cfg.Wait.Timeout)
	assert.Equal(t, "0 3 * * *", cfg.Schedule.Cron)
	assert.Empty(t, cfg.Sources.IgnoreFile)
	assert.Nil(t, cfg.WOL)
	assert.Nil(t, cfg.Postgres)
	assert.Nil(t, cfg.SSHShutdown)
	assert.Nil(t, cfg.Telegram)
}

func TestParser_LoadReader_FullConfig(t *testing.T) {
	yaml := `
device:
  name: macbook
  previous: desktop
  follow_order: false

share:
  root: /Volumes/backup
  server: pinas/backup
  fs_type: cifs
  mount_options: "vers=3.0"

sources:
  list_file: /etc/mackup/list.cfg
  ignore_file: /etc/mackup/skip.cfg
  paths:
    - /data/extra

coordination:
  backend: redis
  topic: Homelab
  namespace_by_device: true
  redis:
    addr: "192.168.1.100:6379"
    password: "redispass"
    db: 2

wait:
  enabled: true
  interval: 10s
  timeout: 45m

schedule:
  cron: "30 1 * * *"

wol:
  mac_address: "AA:BB:CC:DD:EE:FF"
  broadcast_ip: "192.168.1.255"
  poll_url: "http://192.168.1.100:5000"
  timeout: 10m
  poll_interval: 5s
  stabilize_wait: 15s

postgres:
  host: "192.168.1.100"
  port: 5433
  database: "myapp"
  username: "dbuser"
  password: "dbpass"
  format: "plain"

ssh_shutdown:
  host: "192.168.1.100"
  port: 2222
  username: "admin"
  key_path: "/home/user/.ssh/id_rsa"
  shutdown_delay: 5

telegram:
  bot_token: "123456:ABC"
  chat_id: "-100123456789"
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)

	require.NoError(t, err)

	// Device
	assert.Equal(t, "macbook", cfg.Device.Name)
	assert.Equal(t, "desktop", cfg.Device.Previous)
	assert.False(t, cfg.Device.FollowOrder)

	// Share
	assert.Equal(t, "pinas/backup", cfg.Share.Server)
	assert.Equal(t, "cifs", cfg.Share.FSType)
	assert.Equal(t, "vers=3.0", cfg.Share.MountOptions)

	// Sources
	assert.Equal(t, "/etc/mackup/list.cfg", cfg.Sources.ListFile)
	assert.Equal(t, "/etc/mackup/skip.cfg", cfg.Sources.IgnoreFile)
	assert.Equal(t, []string{"/data/extra"}, cfg.Sources.Paths)

	// Coordination
	assert.Equal(t, models.BackendRedis, cfg.Coordination.Backend)
	assert.Equal(t, "Homelab", cfg.Coordination.Topic)
	assert.True(t, cfg.Coordination.NamespaceByDevice)
	assert.Equal(t, "192.168.1.100:6379", cfg.Coordination.Redis.Addr)
	assert.Equal(t, "redispass", cfg.Coordination.Redis.Password)
	assert.Equal(t, 2, cfg.Coordination.Redis.DB)

	// Wait
	assert.True(t, cfg.Wait.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Wait.Interval)
	assert.Equal(t, 45*time.Minute, cfg.Wait.Timeout)

	assert.Equal(t, "30 1 * * *", cfg.Schedule.Cron)

	// WOL
	require.NotNil(t, cfg.WOL)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.WOL.MACAddress)
	assert.Equal(t, "192.168.1.255", cfg.WOL.BroadcastIP)
	assert.Equal(t, "http://192.168.1.100:5000", cfg.WOL.PollURL)
	assert.Equal(t, "pinas:445", cfg.WOL.ReadyAddr)
	assert.Equal(t, 10*time.Minute, cfg.WOL.Timeout)
	assert.Equal(t, 5*time.Second, cfg.WOL.PollInterval)
	assert.Equal(t, 15*time.Second, cfg.WOL.StabilizeWait)

	// Postgres
	require.NotNil(t, cfg.Postgres)
	assert.Equal(t, 5433, cfg.Postgres.Port)
	assert.Equal(t, "myapp", cfg.Postgres.Database)
	assert.Equal(t, "dbuser", cfg.Postgres.Username)
	assert.Equal(t, "dbpass", cfg.Postgres.Password)
	assert.Equal(t, "plain", cfg.Postgres.Format)

	// SSH Shutdown
	require.NotNil(t, cfg.SSHShutdown)
	assert.Equal(t, 2222, cfg.SSHShutdown.Port)
	assert.Equal(t, "admin", cfg.SSHShutdown.Username)
	assert.Equal(t, "/home/user/.ssh/id_rsa", cfg.SSHShutdown.KeyPath)
	assert.Equal(t, 5, cfg.SSHShutdown.ShutdownDelay)
	assert.Equal(t, "linux", cfg.SSHShutdown.OS)

	// Telegram
	require.NotNil(t, cfg.Telegram)
	assert.Equal(t, "123456:ABC", cfg.Telegram.BotToken)
	assert.Equal(t, "-100123456789", cfg.Telegram.ChatID)
}

func TestParser_LoadReader_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_SHARE_ROOT", "/mnt/pinas")
	t.Setenv("TEST_REDIS_PASSWORD", "env_secret")

	yaml := `
device:
  name: macbook
share:
  root: "${TEST_SHARE_ROOT}"
sources:
  paths:
    - /data
coordination:
  backend: redis
  redis:
    password: "$TEST_REDIS_PASSWORD"
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)

	require.NoError(t, err)
	assert.Equal(t, "/mnt/pinas", cfg.Share.Root)
	assert.Equal(t, "env_secret", cfg.Coordination.Redis.Password)
	assert.Equal(t, "localhost:6379", cfg.Coordination.Redis.Addr)
}

func TestParser_LoadReader_MissingShareRoot(t *testing.T) {
	yaml := `
device:
  name: macbook
sources:
  paths:
    - /data
`
	parser := NewParser()
	_, err := parser.LoadReader(yaml)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "share.root is required")
}

func TestParser_LoadReader_MissingSources(t *testing.T) {
	yaml := `
device:
  name: macbook
share:
  root: /Volumes/backup
`
	parser := NewParser()
	_, err := parser.LoadReader(yaml)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "sources.list_file or sources.paths is required")
}

func TestParser_LoadReader_DeviceNameWithSeparator(t *testing.T) {
	yaml := `
device:
  name: "../escape"
share:
  root: /Volumes/backup
sources:
  paths:
    - /data
`
	parser := NewParser()
	_, err := parser.LoadReader(yaml)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "path separators")
}

func TestParser_LoadReader_InvalidBackend(t *testing.T) {
	yaml := `
device:
  name: macbook
share:
  root: /Volumes/backup
sources:
  paths:
    - /data
coordination:
  backend: carrier-pigeon
`
	parser := NewParser()
	_, err := parser.LoadReader(yaml)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "coordination.backend must be one of")
}

func TestParser_LoadReader_InvalidFSType(t *testing.T) {
	yaml := `
device:
  name: macbook
share:
  root: /Volumes/backup
  fs_type: nfs
sources:
  paths:
    - /data
`
	parser := NewParser()
	_, err := parser.LoadReader(yaml)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "share.fs_type must be one of")
}

func TestParser_LoadReader_WaitWithoutPrevious(t *testing.T) {
	yaml := `
device:
  name: macbook
share:
  root: /Volumes/backup
sources:
  paths:
    - /data
wait:
  enabled: true
`
	parser := NewParser()
	_, err := parser.LoadReader(yaml)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "device.previous is required")
}

func TestParser_LoadReader_WaitTimeoutZeroDisablesDeadline(t *testing.T) {
	yaml := `
device:
  name: macbook
  previous: desktop
share:
  root: /Volumes/backup
sources:
  paths:
    - /data
wait:
  enabled: true
  timeout: 0s
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)

	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.Wait.Timeout)
}

func TestParser_LoadReader_WOL_Defaults(t *testing.T) {
	yaml := `
device:
  name: macbook
share:
  root: /Volumes/backup
sources:
  paths:
    - /data
wol:
  mac_address: "AA:BB:CC:DD:EE:FF"
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)

	require.NoError(t, err)
	require.NotNil(t, cfg.WOL)
	assert.Equal(t, "255.255.255.255", cfg.WOL.BroadcastIP)
	assert.Equal(t, 5*time.Minute, cfg.WOL.Timeout)
	assert.Equal(t, 10*time.Second, cfg.WOL.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.WOL.StabilizeWait)
	assert.Empty(t, cfg.WOL.PollURL)
	assert.Empty(t, cfg.WOL.ReadyAddr, "no share server and no ready host")
}

func TestParser_LoadReader_WOL_ReadyAddr(t *testing.T) {
	tests := []struct {
		name   string
		server string
		wol    string
		want   string
	}{
		{name: "smb port of share server", server: "pinas/backup", want: "pinas:445"},
		{name: "credentials and slashes stripped", server: "//backup:secret@192.168.1.100/macs", want: "192.168.1.100:445"},
		{name: "custom port", server: "pinas/backup", wol: "  ready_port: 139\n", want: "pinas:139"},
		{name: "custom host", server: "pinas/backup", wol: "  ready_host: nas-mgmt\n", want: "nas-mgmt:445"},
		{name: "ready host without server", wol: "  ready_host: 10.0.0.5\n  ready_port: 2049\n", want: "10.0.0.5:2049"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			yaml := "device:\n  name: macbook\n" +
				"share:\n  root: /Volumes/backup\n  server: \"" + tt.server + "\"\n" +
				"sources:\n  paths:\n    - /data\n" +
				"wol:\n  mac_address: \"AA:BB:CC:DD:EE:FF\"\n" + tt.wol

			cfg, err := NewParser().LoadReader(yaml)

			require.NoError(t, err)
			require.NotNil(t, cfg.WOL)
			assert.Equal(t, tt.want, cfg.WOL.ReadyAddr)
		})
	}
}

func TestParser_LoadReader_WOL_MissingMACAddress(t *testing.T) {
	yaml := `
device:
  name: macbook
share:
  root: /Volumes/backup
sources:
  paths:
    - /data
wol:
  poll_url: "http://localhost:5000"
`
	parser := NewParser()
	_, err := parser.LoadReader(yaml)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "wol.mac_address is required")
}

func TestParser_LoadReader_Postgres_InvalidFormat(t *testing.T) {
	yaml := `
device:
  name: macbook
share:
  root: /Volumes/backup
sources:
  paths:
    - /data
postgres:
  database: app
  format: "xml"
`
	parser := NewParser()
	_, err := parser.LoadReader(yaml)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "postgres.format must be one of")
}

func TestParser_LoadReader_SSHShutdown_MissingKeyPath(t *testing.T) {
	yaml := `
device:
  name: macbook
share:
  root: /Volumes/backup
sources:
  paths:
    - /data
ssh_shutdown:
  host: pinas
`
	parser := NewParser()
	_, err := parser.LoadReader(yaml)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ssh_shutdown.key_path is required")
}

func TestParser_LoadReader_Telegram_MissingChatID(t *testing.T) {
	yaml := `
device:
  name: macbook
share:
  root: /Volumes/backup
sources:
  paths:
    - /data
telegram:
  bot_token: "123:ABC"
`
	parser := NewParser()
	_, err := parser.LoadReader(yaml)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "telegram.chat_id is required")
}

func TestParser_LoadFile_ResolvesRelativeListFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "mackup.yaml")
	content := `
device:
  name: macbook
share:
  root: /Volumes/backup
sources:
  list_file: list.cfg
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))

	parser := NewParser()
	cfg, err := parser.LoadFile(cfgPath)

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "list.cfg"), cfg.Sources.ListFile)
	assert.Equal(t, filepath.Join(dir, "ignore.cfg"), cfg.Sources.IgnoreFile)
}

func TestParser_LoadFile_NotFound(t *testing.T) {
	parser := NewParser()
	_, err := parser.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestValidate(t *testing.T) {
	valid := func() *models.BackupConfig {
		return &models.BackupConfig{
			Device:  models.DeviceConfig{Name: "macbook"},
			Share:   models.ShareConfig{Root: "/share"},
			Sources: models.SourcesConfig{Paths: []string{"/data"}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(cfg *models.BackupConfig)
		wantErr string
	}{
		{name: "valid", mutate: func(*models.BackupConfig) {}},
		{name: "missing device", mutate: func(cfg *models.BackupConfig) { cfg.Device.Name = "" }, wantErr: "device.name"},
		{name: "missing share", mutate: func(cfg *models.BackupConfig) { cfg.Share.Root = "" }, wantErr: "share.root"},
		{name: "missing sources", mutate: func(cfg *models.BackupConfig) { cfg.Sources.Paths = nil }, wantErr: "sources"},
		{
			name: "wait without interval",
			mutate: func(cfg *models.BackupConfig) {
				cfg.Wait = models.WaitSettings{Enabled: true}
			},
			wantErr: "wait.interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	assert.Error(t, Validate(nil))
}
