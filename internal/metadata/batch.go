package metadata

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Entry is one line of a batch metadata file: an image name and the fields
// to embed into it.
type Entry struct {
	File   string
	Fields map[string]string
}

// ParseBatchFile reads a pipe-delimited batch file. Each line has the form
//
//	filename | key1=value1 | key2=value2 | ...
//
// Lines without at least one delimiter and entries without '=' are skipped
// silently.
func ParseBatchFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open batch file: %w", err)
	}
	defer f.Close()
	return ParseBatch(f)
}

// ParseBatch parses batch lines from r.
func ParseBatch(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) < 2 {
			continue
		}

		fields := make(map[string]string)
		for _, part := range parts[1:] {
			k, v, ok := strings.Cut(part, "=")
			if !ok {
				continue
			}
			fields[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
		entries = append(entries, Entry{
			File:   strings.TrimSpace(parts[0]),
			Fields: fields,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	return entries, nil
}

// ApplyBatch writes each entry's fields into the matching image under
// imageDir. One failing entry does not stop the batch; partial application
// is expected. It returns the number of images updated.
func ApplyBatch(ctx context.Context, w *Writer, entries []Entry, imageDir string) int {
	applied := 0
	for _, e := range entries {
		path := filepath.Join(imageDir, e.File)
		if _, err := os.Stat(path); err != nil {
			slog.Warn("image not found, skipping", "file", e.File)
			continue
		}
		if err := w.Set(ctx, path, e.Fields); err != nil {
			slog.Error("metadata write failed", "file", e.File, "error", err)
			continue
		}
		slog.Info("metadata updated", "file", e.File, "fields", len(e.Fields))
		applied++
	}
	return applied
}
