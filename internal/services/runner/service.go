// Package runner orchestrates the backup workflow.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fgeck/mackup/internal/config"
	"github.com/fgeck/mackup/internal/layout"
	"github.com/fgeck/mackup/internal/models"
	"github.com/fgeck/mackup/internal/services/archiver"
	"github.com/fgeck/mackup/internal/services/coordination"
	"github.com/fgeck/mackup/internal/services/copier"
	"github.com/fgeck/mackup/internal/services/mount"
	"github.com/fgeck/mackup/internal/services/postgres"
	"github.com/fgeck/mackup/internal/services/ssh"
	"github.com/fgeck/mackup/internal/services/telegram"
	"github.com/fgeck/mackup/internal/services/wol"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Step names reported in failure logs and notifications.
const (
	StepWait     = "wait"
	StepPrepare  = "prepare"
	StepPurge    = "purge"
	StepPostgres = "postgres"
	StepSources  = "sources"
	StepCopy     = "copy"
	StepArchive  = "archive"
	StepCleanup  = "cleanup"
)

// Service defines the interface for the backup runner.
type Service interface {
	PrepareShare(ctx context.Context, cfg models.BackupConfig) error
	Run(ctx context.Context, cfg models.BackupConfig, weekday time.Weekday) error
}

// Services bundles the collaborators of a runner.
type Services struct {
	Coordination coordination.Service
	Copier       copier.Service
	Archiver     archiver.Service
	Mount        mount.Service
	WOL          wol.Service
	Postgres     postgres.Service
	SSH          ssh.Service
	Telegram     telegram.Service
	Fs           afero.Fs
}

// Impl implements the runner Service interface.
type Impl struct {
	coord       coordination.Service
	copierSvc   copier.Service
	archiverSvc archiver.Service
	mountSvc    mount.Service
	wolSvc      wol.Service
	postgresSvc postgres.Service
	sshSvc      ssh.Service
	telegramSvc telegram.Service
	fs          afero.Fs
	logger      zerolog.Logger
	now         func() time.Time
}

// New creates a runner that publishes through coord.
func New(logger zerolog.Logger, coord coordination.Service) *Impl {
	return NewWithServices(logger, Services{
		Coordination: coord,
		Copier:       copier.New(logger),
		Archiver:     archiver.New(logger),
		Mount:        mount.New(logger),
		WOL:          wol.New(logger),
		Postgres:     postgres.New(logger),
		SSH:          ssh.New(logger),
		Telegram:     telegram.New(logger),
		Fs:           afero.NewOsFs(),
	})
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(logger zerolog.Logger, svcs Services) *Impl {
	fs := svcs.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Impl{
		coord:       svcs.Coordination,
		copierSvc:   svcs.Copier,
		archiverSvc: svcs.Archiver,
		mountSvc:    svcs.Mount,
		wolSvc:      svcs.WOL,
		postgresSvc: svcs.Postgres,
		sshSvc:      svcs.SSH,
		telegramSvc: svcs.Telegram,
		fs:          fs,
		logger:      logger,
		now:         time.Now,
	}
}

// PrepareShare wakes the share host and mounts the share. A failed mount is
// only logged; Run reports the real problem if the share is unusable.
func (s *Impl) PrepareShare(ctx context.Context, cfg models.BackupConfig) error {
	if cfg.WOL != nil {
		if err := s.runWOL(ctx, cfg.WOL); err != nil {
			return err
		}
	}

	result, err := s.mountSvc.Mount(ctx, cfg.Share)
	if err != nil {
		return fmt.Errorf("mount failed: %w", err)
	}
	if result.Error != nil {
		s.logger.Warn().
			Err(result.Error).
			Strs("command", result.Command).
			Msg("mounting share failed, continuing")
	}
	return nil
}

// Run performs one backup of cfg's sources into the weekday slot.
//
//nolint:gocognit,gocyclo,funlen // backup workflow has multiple steps by design
func (s *Impl) Run(ctx context.Context, cfg models.BackupConfig, weekday time.Weekday) (runErr error) {
	startTime := s.now()
	paths := layout.For(cfg.Share.Root, cfg.Device.Name, weekday)
	runID := s.coord.BeginRun()
	logger := s.logger.With().
		Str("device", cfg.Device.Name).
		Str("slot", paths.Slot).
		Str("run_id", runID).
		Logger()

	var (
		step     string
		finished bool
		summary  = models.RunSummary{RunID: runID}
	)

	defer func() {
		if r := recover(); r != nil {
			if finished {
				// done is already out; a run never reports both.
				logger.Error().Interface("panic", r).Msg("panic after backup finished")
			} else {
				runErr = fmt.Errorf("panic during %s: %v", step, r)
			}
		}
		if runErr != nil {
			// Still tell the next device when the run was cancelled.
			_ = s.coord.Publish(context.WithoutCancel(ctx), cfg.Device.Name, models.StatusError)
			logger.WithLevel(zerolog.FatalLevel).
				Err(runErr).
				Str("step", step).
				Msg("backup crashed")
		}
		if cfg.Telegram != nil {
			s.sendNotification(context.WithoutCancel(ctx), cfg, paths, startTime, summary, step, runErr)
		}
	}()

	if cfg.Wait.Enabled && cfg.Coordination.Backend != models.BackendNone {
		step = StepWait
		err := s.coord.WaitForPrevious(ctx, coordination.WaitRequest{
			Previous:    cfg.Device.Previous,
			FollowOrder: cfg.Device.FollowOrder,
			Interval:    cfg.Wait.Interval,
			Timeout:     cfg.Wait.Timeout,
		})
		if err != nil {
			return fmt.Errorf("waiting for %s: %w", cfg.Device.Previous, err)
		}
	}

	logger.Info().
		Str("share", cfg.Share.Root).
		Str("backup_folder", paths.BackupFolder).
		Msg("starting backup")

	_ = s.coord.Publish(ctx, cfg.Device.Name, models.StatusBusy)

	step = StepPrepare
	if err := s.prepareBackupFolder(ctx, logger, paths.BackupFolder); err != nil {
		return err
	}

	step = StepPurge
	if err := s.purgeArchive(logger, paths.Archive); err != nil {
		return err
	}

	if cfg.Postgres != nil {
		step = StepPostgres
		if err := s.runPostgresDump(ctx, cfg.Postgres, paths.BackupFolder); err != nil {
			return err
		}
	}

	step = StepSources
	folders, err := config.SourceFolders(cfg.Sources)
	if err != nil {
		return fmt.Errorf("reading source folders: %w", err)
	}
	if ignored, err := config.IgnoreEntries(cfg.Sources); err != nil {
		logger.Warn().Err(err).Msg("failed to read ignore list")
	} else if len(ignored) > 0 {
		logger.Warn().
			Str("ignore_file", cfg.Sources.IgnoreFile).
			Int("entries", len(ignored)).
			Msg("ignore list found but not applied, copying everything")
	}

	step = StepCopy
	logger.Info().Int("folders", len(folders)).Msg("copying source folders")
	for _, folder := range folders {
		logger.Info().Str("folder", folder).Msg("copying folder")

		res, err := s.copierSvc.CopyDirectory(ctx, folder, paths.BackupFolder)
		if err != nil {
			return fmt.Errorf("copying %s: %w", folder, err)
		}

		summary.Sources++
		summary.Files += res.Files
		summary.Fallbacks += res.Fallbacks
		summary.Skipped += res.Skipped
		summary.Bytes += res.Bytes

		logger.Info().
			Str("folder", folder).
			Int("files", res.Files).
			Int("fallbacks", res.Fallbacks).
			Int("skipped", res.Skipped).
			Int64("bytes", res.Bytes).
			Dur("duration", res.Duration).
			Msg("folder copied")
	}

	step = StepArchive
	archive, err := s.archiverSvc.Zip(ctx, paths.BackupFolder, paths.Archive)
	if err != nil {
		return fmt.Errorf("archiving %s: %w", paths.BackupFolder, err)
	}
	summary.Archive = archive
	logger.Info().
		Str("archive", archive.Path).
		Int("entries", archive.Entries).
		Int64("size_bytes", archive.SizeBytes).
		Msg("backup folder zipped")

	step = StepCleanup
	if err := s.archiverSvc.RemoveTree(ctx, paths.BackupFolder); err != nil {
		return fmt.Errorf("deleting %s: %w", paths.BackupFolder, err)
	}
	logger.Info().Msg("deleted unzipped folder")

	step = ""
	finished = true
	_ = s.coord.Publish(ctx, cfg.Device.Name, models.StatusDone)

	logger.Info().
		Int("sources", summary.Sources).
		Int("files", summary.Files).
		Int("fallbacks", summary.Fallbacks).
		Int("skipped", summary.Skipped).
		Dur("duration", s.now().Sub(startTime)).
		Msg("backup finished")

	if cfg.SSHShutdown != nil {
		s.runSSHShutdown(ctx, logger, cfg.SSHShutdown)
	}

	return nil
}

// prepareBackupFolder creates an empty backup folder. A leftover from an
// interrupted run is removed first so every source folder is created fresh.
func (s *Impl) prepareBackupFolder(ctx context.Context, logger zerolog.Logger, folder string) error {
	exists, err := afero.DirExists(s.fs, folder)
	if err != nil {
		return fmt.Errorf("checking backup folder: %w", err)
	}
	if exists {
		logger.Warn().Str("folder", folder).Msg("removing leftover backup folder")
		if err := s.archiverSvc.RemoveTree(ctx, folder); err != nil {
			return fmt.Errorf("removing leftover backup folder: %w", err)
		}
	}
	if err := s.fs.MkdirAll(folder, 0o750); err != nil {
		return fmt.Errorf("creating backup folder: %w", err)
	}
	return nil
}

func (s *Impl) purgeArchive(logger zerolog.Logger, archive string) error {
	err := s.fs.Remove(archive)
	switch {
	case err == nil:
		logger.Info().Str("archive", archive).Msg("removed previous week backup")
	case errors.Is(err, os.ErrNotExist):
		logger.Info().Str("archive", archive).Msg("no previous week backup found")
	default:
		return fmt.Errorf("removing previous archive: %w", err)
	}
	return nil
}

func (s *Impl) runWOL(ctx context.Context, cfg *models.WOLConfig) error {
	result, err := s.wolSvc.Wake(ctx, *cfg)
	if err != nil {
		return fmt.Errorf("WOL failed: %w", err)
	}
	if result.Error != nil {
		return fmt.Errorf("WOL failed: %w", result.Error)
	}

	s.logger.Info().
		Bool("packet_sent", result.PacketSent).
		Bool("host_ready", result.HostReady).
		Str("target", result.Target).
		Int("attempts", result.Attempts).
		Dur("wait_duration", result.WaitDuration).
		Msg("WOL completed")

	return nil
}

func (s *Impl) runPostgresDump(ctx context.Context, cfg *models.PostgresConfig, backupFolder string) error {
	outputPath := postgres.DumpPath(backupFolder, *cfg, s.now())

	result, err := s.postgresSvc.Dump(ctx, *cfg, outputPath)
	if err != nil {
		return fmt.Errorf("PostgreSQL dump failed: %w", err)
	}
	if result.Error != nil {
		return fmt.Errorf("PostgreSQL dump failed: %w", result.Error)
	}
	return nil
}

// runSSHShutdown powers off the share host. The backup already succeeded,
// so problems are only logged.
func (s *Impl) runSSHShutdown(ctx context.Context, logger zerolog.Logger, cfg *models.SSHShutdownConfig) {
	result, err := s.sshSvc.Shutdown(ctx, *cfg)
	if err == nil {
		err = result.Error
	}
	if err != nil {
		logger.Warn().Err(err).Str("host", cfg.Host).Msg("SSH shutdown failed")
		return
	}

	logger.Info().
		Bool("command_run", result.CommandRun).
		Str("output", result.Output).
		Msg("SSH shutdown command sent")
}

func (s *Impl) sendNotification(
	ctx context.Context,
	cfg models.BackupConfig,
	paths layout.Paths,
	startTime time.Time,
	summary models.RunSummary,
	failedStep string,
	runErr error,
) {
	msg := models.TelegramMessage{
		Success:   runErr == nil,
		RunID:     summary.RunID,
		Device:    cfg.Device.Name,
		Weekday:   paths.Slot,
		Share:     cfg.Share.Root,
		StartTime: startTime,
		Duration:  s.now().Sub(startTime),
		Sources:   summary.Sources,
		Files:     summary.Files,
		Fallbacks: summary.Fallbacks,
		Skipped:   summary.Skipped,
		Bytes:     summary.Bytes,
	}

	if summary.Archive != nil {
		msg.ArchivePath = summary.Archive.Path
		msg.ArchiveBytes = summary.Archive.SizeBytes
	}

	if runErr != nil {
		msg.FailedStep = failedStep
		msg.ErrorMessage = runErr.Error()
	}

	result, err := s.telegramSvc.SendNotification(ctx, *cfg.Telegram, msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to send Telegram notification")
		return
	}
	if result.Error != nil {
		s.logger.Error().Err(result.Error).Msg("failed to send Telegram notification")
		return
	}

	s.logger.Info().Msg("Telegram notification sent")
}
