// Package metadata reads and writes the text descriptions embedded in quiz
// images. PNG text chunks are handled natively; everything else goes through
// the external exiftool binary.
package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// descriptionFields are the exiftool output keys checked for a caption, in
// priority order.
var descriptionFields = []string{
	"ImageDescription",
	"Description",
	"XMP:Description",
	"IPTC:Caption-Abstract",
	"PNG:Comment",
}

// Extractor pulls a short text description out of an image's metadata.
type Extractor struct {
	exiftool string
	timeout  time.Duration
}

// NewExtractor creates an extractor using the given exiftool binary
// ("exiftool" if empty).
func NewExtractor(exiftool string) *Extractor {
	if exiftool == "" {
		exiftool = "exiftool"
	}
	return &Extractor{exiftool: exiftool, timeout: 15 * time.Second}
}

// Describe returns the image's description, or "" if none can be read.
// Extraction failures never escape this boundary; they are logged and the
// caller falls back to a placeholder.
func (e *Extractor) Describe(ctx context.Context, path string) string {
	if isPNG(path) {
		texts, err := pngTextValues(path)
		if err == nil {
			if d := texts[descriptionKey]; strings.TrimSpace(d) != "" {
				return strings.TrimSpace(d)
			}
			if d := texts["description"]; strings.TrimSpace(d) != "" {
				return strings.TrimSpace(d)
			}
		} else {
			slog.Debug("native PNG text read failed", "path", path, "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.exiftool, "-j", path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		slog.Debug("exiftool failed", "path", path, "error", err, "stderr", strings.TrimSpace(stderr.String()))
		return ""
	}

	var records []map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &records); err != nil || len(records) == 0 {
		slog.Debug("unexpected exiftool output", "path", path, "error", err)
		return ""
	}
	fields := records[0]

	for _, key := range descriptionFields {
		if v, ok := fields[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	// Pillow-style PNGs surface custom chunks as Text:<keyword> fields.
	for key, v := range fields {
		if strings.HasPrefix(key, "Text:") {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}
