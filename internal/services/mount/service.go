// Package mount mounts the backup share with the system mount utility.
package mount

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/fgeck/mackup/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for share mount operations.
type Service interface {
	Mount(ctx context.Context, cfg models.ShareConfig) (*models.MountResult, error)
}

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	Execute(ctx context.Context, name string, args ...string) ([]byte, error)
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// Execute runs a command and returns its combined output.
func (e *DefaultExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// Impl implements the mount Service interface.
type Impl struct {
	executor CommandExecutor
	logger   zerolog.Logger
}

// New creates a new mount service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &DefaultExecutor{},
		logger:   logger,
	}
}

// NewWithExecutor creates a new mount service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, executor CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
	}
}

// Command returns the mount invocation for cfg.
func Command(cfg models.ShareConfig) []string {
	remote := "//" + strings.TrimPrefix(cfg.Server, "//")

	if cfg.FSType == "cifs" {
		args := []string{"mount", "-t", "cifs", remote, cfg.Root}
		if cfg.MountOptions != "" {
			args = append(args, "-o", cfg.MountOptions)
		}
		return args
	}

	args := []string{"mount_smbfs"}
	if cfg.MountOptions != "" {
		args = append(args, "-o", cfg.MountOptions)
	}
	return append(args, remote, cfg.Root)
}

// Mount mounts cfg.Server at cfg.Root. Nothing happens when no server is set.
func (s *Impl) Mount(ctx context.Context, cfg models.ShareConfig) (*models.MountResult, error) {
	result := &models.MountResult{}

	if cfg.Server == "" {
		s.logger.Debug().Str("root", cfg.Root).Msg("no share server configured, assuming mounted")
		result.Skipped = true
		return result, nil
	}

	if err := os.MkdirAll(cfg.Root, 0o750); err != nil {
		result.Error = fmt.Errorf("failed to create mount point: %w", err)
		return result, nil
	}

	result.Command = Command(cfg)
	s.logger.Info().
		Str("server", cfg.Server).
		Str("root", cfg.Root).
		Str("fs_type", cfg.FSType).
		Msg("mounting share")

	output, err := s.executor.Execute(ctx, result.Command[0], result.Command[1:]...)
	result.Output = strings.TrimSpace(string(output))
	if err != nil {
		result.Error = fmt.Errorf("mount failed: %w, output: %s", err, result.Output)
		return result, nil
	}

	s.logger.Info().Str("root", cfg.Root).Msg("share mounted")
	return result, nil
}
