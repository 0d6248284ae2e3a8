package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fgeck/mackup/internal/config"
	"github.com/fgeck/mackup/internal/layout"
	"github.com/fgeck/mackup/internal/models"
	"github.com/fgeck/mackup/internal/services/coordination"
	"github.com/fgeck/mackup/internal/services/mount"
	"github.com/fgeck/mackup/internal/services/ssh"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var check bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the configuration file without executing any backup operations.
With --check the coordination channel and the SSH host are contacted too.`,
	RunE: validateConfig,
}

func init() {
	validateCmd.Flags().BoolVar(&check, "check", false, "contact the coordination channel and SSH host")
}

//nolint:gocyclo // summary printing
func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			log.Error().Str("file", configFile).Msg("config file not found")
			return fmt.Errorf("config file not found: %s", configFile)
		}
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	folders, err := config.SourceFolders(cfg.Sources)
	if err != nil {
		log.Error().Err(err).Msg("configuration validation failed")
		return err
	}

	paths := layout.For(cfg.Share.Root, cfg.Device.Name, time.Now().Weekday())

	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  Device: %s\n", cfg.Device.Name)
	if cfg.Device.Previous != "" {
		fmt.Printf("  Previous device: %s (follow order: %v)\n", cfg.Device.Previous, cfg.Device.FollowOrder)
	}
	fmt.Printf("  Share: %s\n", cfg.Share.Root)
	if cfg.Share.Server != "" {
		fmt.Printf("  Mount: %v\n", mount.Command(cfg.Share))
	}
	fmt.Printf("  Today's archive: %s\n", paths.Archive)
	fmt.Printf("  Today's log: %s\n", paths.LogFile)

	fmt.Println()
	fmt.Println("Source Folders:")
	for _, folder := range folders {
		state := "ok"
		if info, err := os.Stat(folder); err != nil {
			state = "missing"
		} else if !info.IsDir() {
			state = "not a directory"
		}
		fmt.Printf("  %s (%s)\n", folder, state)
	}

	fmt.Println()
	if ignored, err := config.IgnoreEntries(cfg.Sources); err != nil {
		fmt.Printf("Ignore list: %s (unreadable: %v)\n", cfg.Sources.IgnoreFile, err)
	} else if _, statErr := os.Stat(cfg.Sources.IgnoreFile); statErr == nil {
		fmt.Printf("Ignore list: %s (%d entries, not applied)\n", cfg.Sources.IgnoreFile, len(ignored))
	} else {
		fmt.Println("Ignore list: none")
	}

	fmt.Println()
	fmt.Println("Coordination:")
	fmt.Printf("  Backend: %s\n", cfg.Coordination.Backend)
	fmt.Printf("  Topic: %s\n", cfg.Coordination.Topic)
	switch cfg.Coordination.Backend {
	case models.BackendHTTP:
		fmt.Printf("  URL: %s\n", cfg.Coordination.HTTP.BaseURL)
	case models.BackendRedis:
		fmt.Printf("  Redis: %s (db %d)\n", cfg.Coordination.Redis.Addr, cfg.Coordination.Redis.DB)
	}
	if cfg.Wait.Enabled {
		fmt.Printf("  Wait: every %s, timeout %s\n", cfg.Wait.Interval, cfg.Wait.Timeout)
	}

	fmt.Println()
	fmt.Println("Optional Features:")
	fmt.Printf("  Wake-on-LAN: %v\n", cfg.WOL != nil)
	fmt.Printf("  PostgreSQL: %v\n", cfg.Postgres != nil)
	fmt.Printf("  SSH Shutdown: %v\n", cfg.SSHShutdown != nil)
	fmt.Printf("  Telegram: %v\n", cfg.Telegram != nil)
	fmt.Printf("  Schedule: %s\n", cfg.Schedule.Cron)

	if cfg.WOL != nil {
		fmt.Println()
		fmt.Println("Wake-on-LAN Configuration:")
		fmt.Printf("  MAC: %s via %s\n", cfg.WOL.MACAddress, cfg.WOL.BroadcastIP)
		switch {
		case cfg.WOL.PollURL != "":
			fmt.Printf("  Ready when: %s answers\n", cfg.WOL.PollURL)
		case cfg.WOL.ReadyAddr != "":
			fmt.Printf("  Ready when: %s accepts connections\n", cfg.WOL.ReadyAddr)
		default:
			fmt.Println("  Ready when: packet sent (no share server to check)")
		}
	}

	if cfg.Postgres != nil {
		fmt.Println()
		fmt.Println("PostgreSQL Configuration:")
		fmt.Printf("  Host: %s\n", cfg.Postgres.Host)
		fmt.Printf("  Port: %d\n", cfg.Postgres.Port)
		fmt.Printf("  Database: %s\n", cfg.Postgres.Database)
		fmt.Printf("  Format: %s\n", cfg.Postgres.Format)
	}

	if cfg.SSHShutdown != nil {
		fmt.Println()
		fmt.Println("SSH Shutdown Configuration:")
		fmt.Printf("  Host: %s\n", cfg.SSHShutdown.Host)
		fmt.Printf("  Command: %s\n", ssh.ShutdownCommand(*cfg.SSHShutdown))
	}

	if !check {
		return nil
	}
	return checkServices(cfg)
}

func checkServices(cfg *models.BackupConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	fmt.Println()
	fmt.Println("Checks:")

	var failed bool

	channel, err := coordination.Open(cfg.Coordination, log.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = channel.Close() }()

	coord := coordination.New(log.Logger, channel, cfg.Coordination)
	signal, err := coord.Latest(ctx, cfg.Device.Previous)
	switch {
	case errors.Is(err, coordination.ErrNoSignal):
		fmt.Println("  Coordination: reachable, no status yet")
	case err != nil:
		failed = true
		fmt.Printf("  Coordination: %v\n", err)
	default:
		fmt.Printf("  Coordination: %s is %s\n", signal.Device, signal.Status)
	}

	if cfg.SSHShutdown != nil {
		result, err := ssh.New(log.Logger).TestConnection(ctx, *cfg.SSHShutdown)
		if err == nil {
			err = result.Error
		}
		if err != nil {
			failed = true
			fmt.Printf("  SSH: %v\n", err)
		} else {
			fmt.Println("  SSH: ok")
		}
	}

	if failed {
		return fmt.Errorf("check failed")
	}
	return nil
}
