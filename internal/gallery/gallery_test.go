package gallery

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestGallery(t *testing.T, names ...string) *Gallery {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", n, err)
		}
	}
	g, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func TestNewFiltersAndSorts(t *testing.T) {
	g := newTestGallery(t, "b.png", "a.jpg", "notes.txt", "c.GIF", "d.jpeg")

	if g.Len() != 4 {
		t.Fatalf("expected 4 images, got %d", g.Len())
	}

	// First rotation step from a fresh session.
	name, idx, err := g.Next(-1)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if name != "a.jpg" || idx != 0 {
		t.Errorf("expected a.jpg at 0, got %q at %d", name, idx)
	}
}

func TestNextWraps(t *testing.T) {
	g := newTestGallery(t, "a.jpg", "b.jpg", "c.jpg")

	idx := -1
	var seen []string
	for range 6 {
		name, next, err := g.Next(idx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		seen = append(seen, name)
		idx = next
	}

	want := []string{"a.jpg", "b.jpg", "c.jpg", "a.jpg", "b.jpg", "c.jpg"}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("rotation %v, want %v", seen, want)
		}
	}
}

func TestNextEmpty(t *testing.T) {
	g := newTestGallery(t)
	if _, _, err := g.Next(-1); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
}

func TestPath(t *testing.T) {
	g := newTestGallery(t, "a.jpg")

	p, err := g.Path("a.jpg")
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if filepath.Base(p) != "a.jpg" {
		t.Errorf("unexpected path %q", p)
	}

	tests := []struct {
		name    string
		wantErr error
	}{
		{"", ErrInvalidName},
		{"../secret.jpg", ErrInvalidName},
		{"sub/a.jpg", ErrInvalidName},
		{"b.jpg", ErrUnknownImage},
	}
	for _, tt := range tests {
		if _, err := g.Path(tt.name); !errors.Is(err, tt.wantErr) {
			t.Errorf("Path(%q): expected %v, got %v", tt.name, tt.wantErr, err)
		}
	}
}

func TestReloadPicksUpNewImages(t *testing.T) {
	dir := t.TempDir()
	g, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if g.Len() != 0 {
		t.Fatalf("expected empty gallery, got %d", g.Len())
	}

	if err := os.WriteFile(filepath.Join(dir, "late.png"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := g.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if g.Len() != 1 {
		t.Errorf("expected 1 image after reload, got %d", g.Len())
	}
}
