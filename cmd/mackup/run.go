package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fgeck/mackup/internal/config"
	"github.com/fgeck/mackup/internal/layout"
	"github.com/fgeck/mackup/internal/models"
	"github.com/fgeck/mackup/internal/services/coordination"
	"github.com/fgeck/mackup/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	weekdayFlag string
	noWait      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the backup workflow",
	Long: `Execute one backup into today's weekday slot:
1. Wake-on-LAN and mount the share (if configured)
2. Wait for the previous device to finish (if enabled)
3. Publish busy
4. Remove last week's archive for this slot
5. PostgreSQL dump (if configured)
6. Copy every source folder
7. Zip the copy and delete the uncompressed folder
8. Publish done, or error if any step failed
9. SSH shutdown of the share host (if configured)
10. Send Telegram notification (if configured)`,
	RunE: runBackup,
}

func init() {
	runCmd.Flags().StringVar(&weekdayFlag, "weekday", "", "weekday slot to back up into (default: today)")
	runCmd.Flags().BoolVar(&noWait, "no-wait", false, "do not wait for the previous device")
}

// loadConfig parses and validates the file given by --config.
func loadConfig(cmd *cobra.Command) (*models.BackupConfig, error) {
	if configFile == "" {
		log.Error().Msg("config file is required")
		_ = cmd.Help()
		return nil, fmt.Errorf("config file is required")
	}

	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return nil, err
	}

	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return nil, err
	}

	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	weekday := time.Now().Weekday()
	if weekdayFlag != "" {
		weekday, err = layout.ParseSlot(weekdayFlag)
		if err != nil {
			return err
		}
	}
	if noWait {
		cfg.Wait.Enabled = false
	}

	log.Info().
		Str("config", configFile).
		Str("device", cfg.Device.Name).
		Str("share", cfg.Share.Root).
		Str("slot", layout.Slot(weekday)).
		Msg("configuration loaded")

	ctx, cancel := signalContext()
	defer cancel()

	if err := backupOnce(ctx, cfg, weekday); err != nil {
		log.Error().Err(err).Msg("backup failed")
		return err
	}

	log.Info().Msg("backup completed successfully")
	return nil
}

// backupOnce prepares the share, opens the day log and runs one backup.
func backupOnce(ctx context.Context, cfg *models.BackupConfig, weekday time.Weekday) error {
	channel, err := coordination.Open(cfg.Coordination, log.Logger)
	if err != nil {
		return fmt.Errorf("opening coordination channel: %w", err)
	}
	defer func() { _ = channel.Close() }()

	prep := runner.New(log.Logger, coordination.New(log.Logger, channel, cfg.Coordination))
	if err := prep.PrepareShare(ctx, *cfg); err != nil {
		return err
	}

	paths := layout.For(cfg.Share.Root, cfg.Device.Name, weekday)
	runLog, err := paths.OpenLog()
	if err != nil {
		return err
	}
	defer func() { _ = runLog.Close() }()

	logger := teeLogger(runLog)
	logger.Info().Str("log_file", paths.LogFile).Msg("logging run to share")

	svc := runner.New(logger, coordination.New(logger, channel, cfg.Coordination))
	return svc.Run(ctx, *cfg, weekday)
}
