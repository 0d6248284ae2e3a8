// Package postgres dumps a PostgreSQL database into the backup folder.
package postgres

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/mackup/internal/models"
	"github.com/rs/zerolog"
)

// DumpDir is the folder inside the backup folder that receives dumps. The
// leading underscore keeps it apart from copied source folder names.
const DumpDir = "_postgres"

// PostgreSQL dump format constants.
const (
	FormatCustom = "custom"
	FormatPlain  = "plain"
	FormatTar    = "tar"
)

// Service defines the interface for PostgreSQL dump operations.
type Service interface {
	Dump(ctx context.Context, cfg models.PostgresConfig, outputPath string) (*models.PostgresDumpResult, error)
}

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	ExecuteWithEnv(ctx context.Context, env []string, outputPath string, name string, args ...string) error
}

// DefaultExecutor runs pg_dump with stdout redirected to the output file.
type DefaultExecutor struct{}

// ExecuteWithEnv runs name and writes its stdout to outputPath. Stderr is
// included in the returned error.
func (e *DefaultExecutor) ExecuteWithEnv(ctx context.Context, env []string, outputPath string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)

	output, err := os.Create(outputPath) //nolint:gosec // outputPath is controlled by caller
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() { _ = output.Close() }()

	var stderr bytes.Buffer
	cmd.Stdout = output
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s failed: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s failed: %w", name, err)
	}

	return nil
}

// Impl implements the PostgreSQL Service interface.
type Impl struct {
	executor CommandExecutor
	logger   zerolog.Logger
}

// New creates a new PostgreSQL service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &DefaultExecutor{},
		logger:   logger,
	}
}

// NewWithExecutor creates a new PostgreSQL service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, executor CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
	}
}

// Dump runs pg_dump into outputPath, creating its directory.
func (s *Impl) Dump(ctx context.Context, cfg models.PostgresConfig, outputPath string) (*models.PostgresDumpResult, error) {
	s.logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Str("format", cfg.Format).
		Str("output", outputPath).
		Msg("starting PostgreSQL dump")

	start := time.Now()
	result := &models.PostgresDumpResult{
		OutputPath: outputPath,
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o750); err != nil {
		result.Error = fmt.Errorf("failed to create output directory: %w", err)
		result.Duration = time.Since(start)
		return result, nil
	}

	args := []string{
		"-h", cfg.Host,
		"-p", strconv.Itoa(cfg.Port),
		"-U", cfg.Username,
		"-d", cfg.Database,
		formatFlag(cfg.Format),
	}

	var env []string
	if cfg.Password != "" {
		env = append(env, "PGPASSWORD="+cfg.Password)
	}

	if execErr := s.executor.ExecuteWithEnv(ctx, env, outputPath, "pg_dump", args...); execErr != nil {
		_ = os.Remove(outputPath)
		result.Error = execErr
		result.Duration = time.Since(start)
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}

	if info, err := os.Stat(outputPath); err == nil {
		result.SizeBytes = info.Size()
	}
	result.Duration = time.Since(start)

	s.logger.Info().
		Str("output", outputPath).
		Int64("size_bytes", result.SizeBytes).
		Dur("duration", result.Duration).
		Msg("PostgreSQL dump completed")

	return result, nil
}

func formatFlag(format string) string {
	switch format {
	case FormatPlain:
		return "-Fp"
	case FormatTar:
		return "-Ft"
	default:
		return "-Fc"
	}
}

// DumpPath returns where the dump for cfg goes inside backupFolder.
func DumpPath(backupFolder string, cfg models.PostgresConfig, now time.Time) string {
	ext := "dump"
	switch cfg.Format {
	case FormatPlain:
		ext = "sql"
	case FormatTar:
		ext = FormatTar
	}

	name := fmt.Sprintf("%s-%s.%s", cfg.Database, now.Format("20060102-150405"), ext)
	return filepath.Join(backupFolder, DumpDir, name)
}
