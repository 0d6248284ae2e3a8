// Package archiver zips the per-day backup folder and removes the working tree.
package archiver

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fgeck/mackup/internal/models"
	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Service defines the interface for archive operations.
type Service interface {
	Zip(ctx context.Context, folder, archivePath string) (*models.ArchiveResult, error)
	RemoveTree(ctx context.Context, folder string) error
}

// Impl implements the archiver Service interface.
type Impl struct {
	fs     afero.Fs
	logger zerolog.Logger
}

// New creates an archiver working on the OS filesystem.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		fs:     afero.NewOsFs(),
		logger: logger,
	}
}

// NewWithFs creates an archiver on a custom filesystem (for testing).
func NewWithFs(logger zerolog.Logger, fs afero.Fs) *Impl {
	return &Impl{
		fs:     fs,
		logger: logger,
	}
}

// Zip writes every regular file under folder into a deflate archive at
// archivePath, named by its slash-separated path relative to folder. ZIP64
// records are emitted automatically past the 4 GiB / 65535 entry limits.
func (s *Impl) Zip(ctx context.Context, folder, archivePath string) (*models.ArchiveResult, error) {
	start := time.Now()
	tmp := archivePath + ".tmp"

	out, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return nil, fmt.Errorf("creating archive: %w", err)
	}

	entries, writeErr := s.writeArchive(ctx, out, folder)
	closeErr := out.Close()
	if writeErr != nil {
		_ = s.fs.Remove(tmp)
		return nil, writeErr
	}
	if closeErr != nil {
		_ = s.fs.Remove(tmp)
		return nil, fmt.Errorf("closing archive: %w", closeErr)
	}

	if err := s.fs.Rename(tmp, archivePath); err != nil {
		_ = s.fs.Remove(tmp)
		return nil, fmt.Errorf("finalizing archive: %w", err)
	}

	result := &models.ArchiveResult{
		Path:     archivePath,
		Entries:  entries,
		Duration: time.Since(start),
	}
	if info, err := s.fs.Stat(archivePath); err == nil {
		result.SizeBytes = info.Size()
	}

	return result, nil
}

func (s *Impl) writeArchive(ctx context.Context, w io.Writer, folder string) (int, error) {
	zw := zip.NewWriter(w)
	entries := 0

	err := afero.Walk(s.fs, folder, func(path string, fi fs.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !fi.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(folder, path)
		if err != nil {
			return err
		}

		header, err := zip.FileInfoHeader(fi)
		if err != nil {
			return fmt.Errorf("building header for %s: %w", path, err)
		}
		header.Name = filepath.ToSlash(rel)
		header.Method = zip.Deflate

		entry, err := zw.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("adding %s: %w", rel, err)
		}

		in, err := s.fs.Open(path)
		if err != nil {
			return fmt.Errorf("opening %s: %w", path, err)
		}
		_, err = io.Copy(entry, in)
		_ = in.Close()
		if err != nil {
			return fmt.Errorf("compressing %s: %w", path, err)
		}

		entries++
		s.logger.Debug().Str("entry", header.Name).Int64("size", fi.Size()).Msg("archived file")
		return nil
	})
	if err != nil {
		_ = zw.Close()
		return 0, fmt.Errorf("archiving %s: %w", folder, err)
	}

	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("writing archive directory: %w", err)
	}
	return entries, nil
}

// RemoveTree deletes folder. If the first attempt fails, every entry is made
// owner-writable and removal is retried once. A missing folder is not an error.
func (s *Impl) RemoveTree(ctx context.Context, folder string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	firstErr := s.fs.RemoveAll(folder)
	if firstErr == nil {
		return nil
	}

	s.logger.Warn().
		Err(firstErr).
		Str("folder", folder).
		Msg("removal failed, clearing read-only permissions and retrying")

	_ = afero.Walk(s.fs, folder, func(path string, fi fs.FileInfo, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best effort, keep walking
		}
		mode := os.FileMode(0o600)
		if fi.IsDir() {
			mode = 0o700
		}
		if chmodErr := s.fs.Chmod(path, mode); chmodErr != nil {
			s.logger.Debug().Err(chmodErr).Str("path", path).Msg("chmod failed")
		}
		return nil
	})

	if err := s.fs.RemoveAll(folder); err != nil {
		return fmt.Errorf("removing %s: %w", folder, err)
	}
	return nil
}
