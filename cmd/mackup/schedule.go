package main

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run backups on the configured cron schedule",
	Long: `Stay in the foreground and run one backup per tick of schedule.cron
(default "0 3 * * *"). A tick is skipped while the previous backup is
still running. Stop with SIGINT or SIGTERM.`,
	RunE: runSchedule,
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	cl := cronLogger{logger: log.Logger.With().Str("component", "scheduler").Logger()}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	_, err = c.AddFunc(cfg.Schedule.Cron, func() {
		weekday := time.Now().Weekday()
		if err := backupOnce(ctx, cfg, weekday); err != nil {
			log.Error().Err(err).Msg("scheduled backup failed")
			return
		}
		log.Info().Msg("scheduled backup completed successfully")
	})
	if err != nil {
		log.Error().Err(err).Str("cron", cfg.Schedule.Cron).Msg("invalid schedule")
		return err
	}

	c.Start()
	log.Info().
		Str("cron", cfg.Schedule.Cron).
		Str("device", cfg.Device.Name).
		Time("next", c.Entries()[0].Next).
		Msg("scheduler started")

	<-ctx.Done()
	log.Info().Msg("stopping scheduler, waiting for a running backup")
	<-c.Stop().Done()
	return nil
}
