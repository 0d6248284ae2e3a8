package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fgeck/mackup/internal/models"
)

// ReadList reads a newline-delimited path list. Blank lines are skipped and
// surrounding whitespace is trimmed.
func ReadList(path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from config
	if err != nil {
		return nil, fmt.Errorf("opening list %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var entries []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entries = append(entries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading list %s: %w", path, err)
	}

	return entries, nil
}

// SourceFolders returns the ordered folders to back up: the list file
// entries first, then inline paths.
func SourceFolders(src models.SourcesConfig) ([]string, error) {
	var folders []string
	if src.ListFile != "" {
		entries, err := ReadList(src.ListFile)
		if err != nil {
			return nil, err
		}
		folders = append(folders, entries...)
	}
	folders = append(folders, src.Paths...)

	if len(folders) == 0 {
		return nil, fmt.Errorf("no source folders configured")
	}
	return folders, nil
}

// IgnoreEntries reads the ignore list if present. A missing file yields no
// entries and no error.
func IgnoreEntries(src models.SourcesConfig) ([]string, error) {
	if src.IgnoreFile == "" {
		return nil, nil
	}
	if _, err := os.Stat(src.IgnoreFile); os.IsNotExist(err) {
		return nil, nil
	}
	return ReadList(src.IgnoreFile)
}
