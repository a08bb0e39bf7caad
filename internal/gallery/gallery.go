// Package gallery indexes the folder of quiz images and hands them out in a
// deterministic rotation.
package gallery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var (
	ErrEmpty        = errors.New("no images in gallery")
	ErrInvalidName  = errors.New("invalid image name")
	ErrUnknownImage = errors.New("unknown image")
)

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
}

// Gallery is a sorted index of the image files in one directory.
type Gallery struct {
	dir string

	mu     sync.RWMutex
	images []string
}

// New scans dir for image files. An empty directory is allowed; requests
// fail later with ErrEmpty until images appear and Reload is called.
func New(dir string) (*Gallery, error) {
	g := &Gallery{dir: dir}
	if err := g.Reload(); err != nil {
		return nil, err
	}
	return g, nil
}

// Reload rescans the directory.
func (g *Gallery) Reload() error {
	entries, err := os.ReadDir(g.dir)
	if err != nil {
		return fmt.Errorf("read image dir %s: %w", g.dir, err)
	}

	var images []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			images = append(images, e.Name())
		}
	}
	sort.Strings(images)

	g.mu.Lock()
	g.images = images
	g.mu.Unlock()
	return nil
}

// Len returns the number of indexed images.
func (g *Gallery) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.images)
}

// Next advances the rotation from the given position and returns the image
// name together with the new position. The rotation wraps.
func (g *Gallery) Next(index int) (string, int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.images) == 0 {
		return "", 0, ErrEmpty
	}
	if index < 0 {
		index = -1
	}
	next := (index + 1) % len(g.images)
	return g.images[next], next, nil
}

// Path resolves an image name to a filesystem path. Only bare file names of
// indexed images are accepted, so a request cannot escape the gallery dir.
func (g *Gallery) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") {
		return "", ErrInvalidName
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, img := range g.images {
		if img == name {
			return filepath.Join(g.dir, name), nil
		}
	}
	return "", ErrUnknownImage
}
