// Package copier copies source directories into the per-day backup folder.
package copier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fgeck/mackup/internal/models"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Service defines the interface for directory copy operations.
type Service interface {
	CopyDirectory(ctx context.Context, source, backupFolder string) (*models.CopyResult, error)
}

// Impl implements the copier Service interface.
type Impl struct {
	fs     afero.Fs
	logger zerolog.Logger
}

// New creates a copier working on the OS filesystem.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		fs:     afero.NewOsFs(),
		logger: logger,
	}
}

// NewWithFs creates a copier on a custom filesystem (for testing).
func NewWithFs(logger zerolog.Logger, fs afero.Fs) *Impl {
	return &Impl{
		fs:     fs,
		logger: logger,
	}
}

// CopyDirectory copies source recursively into backupFolder/<base(source)>.
// The destination must not exist yet.
func (s *Impl) CopyDirectory(ctx context.Context, source, backupFolder string) (*models.CopyResult, error) {
	start := time.Now()
	source = filepath.Clean(source)
	dest := filepath.Join(backupFolder, filepath.Base(source))

	result := &models.CopyResult{
		Source:      source,
		Destination: dest,
	}

	info, err := s.fs.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("source folder %s: %w", source, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source folder %s is not a directory", source)
	}

	if _, err := s.fs.Stat(dest); err == nil {
		return nil, fmt.Errorf("destination %s already exists", dest)
	}
	if err := s.fs.Mkdir(dest, info.Mode().Perm()|0o700); err != nil {
		return nil, fmt.Errorf("creating destination %s: %w", dest, err)
	}

	err = afero.Walk(s.fs, source, func(path string, fi fs.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path == source {
			return nil
		}

		rel, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		if fi.Mode()&os.ModeSymlink != 0 {
			resolved, err := s.fs.Stat(path)
			if errors.Is(err, os.ErrNotExist) {
				s.logger.Warn().Str("link", path).Msg("skipping dangling symlink")
				result.Skipped++
				return nil
			}
			if err != nil {
				return fmt.Errorf("resolving link %s: %w", path, err)
			}
			fi = resolved
		}

		if fi.IsDir() {
			if err := s.fs.MkdirAll(target, fi.Mode().Perm()|0o700); err != nil {
				return fmt.Errorf("creating directory %s: %w", target, err)
			}
			result.Dirs++
			return nil
		}

		n, fellBack, err := s.copyFile(path, target, fi)
		if err != nil {
			return err
		}
		if fellBack {
			result.Fallbacks++
		}
		result.Files++
		result.Bytes += n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("copying %s: %w", source, err)
	}

	result.Duration = time.Since(start)
	return result, nil
}

// copyFile copies content, mode and timestamps. When that fails it retries
// with content only, logs a warning and reports the fallback.
func (s *Impl) copyFile(src, dst string, fi fs.FileInfo) (int64, bool, error) {
	n, err := s.copyPreserving(src, dst, fi)
	if err == nil {
		return n, false, nil
	}

	s.logger.Warn().
		Err(err).
		Str("file", src).
		Msg("metadata-preserving copy failed, falling back to content copy")

	// A partial first attempt may have left a read-only file behind.
	_ = s.fs.Remove(dst)
	n, err = s.copyContent(src, dst)
	if err != nil {
		return 0, true, fmt.Errorf("copying file %s: %w", src, err)
	}
	return n, true, nil
}

func (s *Impl) copyPreserving(src, dst string, fi fs.FileInfo) (int64, error) {
	n, err := s.copyContent(src, dst)
	if err != nil {
		return 0, err
	}
	if err := s.fs.Chmod(dst, fi.Mode().Perm()); err != nil {
		return 0, fmt.Errorf("setting mode: %w", err)
	}
	if err := s.fs.Chtimes(dst, fi.ModTime(), fi.ModTime()); err != nil {
		return 0, fmt.Errorf("setting times: %w", err)
	}
	return n, nil
}

func (s *Impl) copyContent(src, dst string) (int64, error) {
	in, err := s.fs.Open(src)
	if err != nil {
		return 0, err
	}
	defer func() { _ = in.Close() }()

	out, err := s.fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, err
	}

	n, copyErr := io.Copy(out, in)
	closeErr := out.Close()
	if copyErr != nil {
		return 0, copyErr
	}
	if closeErr != nil {
		return 0, closeErr
	}
	return n, nil
}
