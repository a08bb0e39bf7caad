package metadata

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Writer embeds key/value metadata into image files: PNGs natively, JPEG and
// GIF through exiftool.
type Writer struct {
	exiftool string
	timeout  time.Duration
}

// NewWriter creates a writer using the given exiftool binary
// ("exiftool" if empty).
func NewWriter(exiftool string) *Writer {
	if exiftool == "" {
		exiftool = "exiftool"
	}
	return &Writer{exiftool: exiftool, timeout: 30 * time.Second}
}

// Set writes all fields into the image at path.
func (w *Writer) Set(ctx context.Context, path string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return setPNGText(path, fields)
	case ".jpg", ".jpeg":
		args := make([]string, 0, len(fields)+2)
		for _, k := range sortedKeys(fields) {
			args = append(args, fmt.Sprintf("-%s=%s", k, fields[k]))
		}
		return w.runExiftool(ctx, append(args, "-overwrite_original", path))
	case ".gif":
		args := make([]string, 0, len(fields)+2)
		for _, k := range sortedKeys(fields) {
			args = append(args, fmt.Sprintf("-XMP:%s=%s", k, fields[k]))
		}
		return w.runExiftool(ctx, append(args, "-overwrite_original", path))
	default:
		return fmt.Errorf("unsupported image format %q", filepath.Ext(path))
	}
}

func (w *Writer) runExiftool(ctx context.Context, args []string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, w.exiftool, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("exiftool: %s: %w", msg, err)
		}
		return fmt.Errorf("exiftool: %w", err)
	}
	return nil
}
