package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/mackup/internal/services/coordination"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var statusDevice string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the latest status on the coordination channel",
	RunE:  showStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusDevice, "device", "", "device whose topic to read (default: the configured device)")
}

func showStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	device := statusDevice
	if device == "" {
		device = cfg.Device.Name
	}

	channel, err := coordination.Open(cfg.Coordination, log.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = channel.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	signal, err := coordination.New(log.Logger, channel, cfg.Coordination).Latest(ctx, device)
	if errors.Is(err, coordination.ErrNoSignal) {
		fmt.Println("No status published yet.")
		return nil
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to read status")
		return err
	}

	fmt.Printf("Device: %s\n", signal.Device)
	fmt.Printf("Status: %s\n", signal.Status)
	if signal.RunID != "" {
		fmt.Printf("Run:    %s\n", signal.RunID)
	}
	if !signal.Time.IsZero() {
		fmt.Printf("Time:   %s (%s)\n", signal.Time.Local().Format("2006-01-02 15:04:05"), humanize.Time(signal.Time))
	}
	return nil
}
