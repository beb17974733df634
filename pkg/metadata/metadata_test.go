package metadata

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEXIFExtractorMissingFile(t *testing.T) {
	e := NewEXIF()
	if _, ok := e.CapturedAt(filepath.Join(t.TempDir(), "gone.jpg")); ok {
		t.Error("Missing file should report an absent timestamp, not an error")
	}
}

func TestEXIFExtractorNoEXIFData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.jpg")
	if err := os.WriteFile(path, []byte("not really a jpeg"), 0644); err != nil {
		t.Fatal(err)
	}

	e := NewEXIF()
	if _, ok := e.CapturedAt(path); ok {
		t.Error("File without EXIF data should report an absent timestamp")
	}
}

func TestFuncAdapter(t *testing.T) {
	want := time.Date(2026, 3, 14, 6, 30, 0, 0, time.UTC)
	f := Func(func(string) (time.Time, bool) { return want, true })

	got, ok := f.CapturedAt("whatever.jpg")
	if !ok || !got.Equal(want) {
		t.Errorf("Func adapter returned %v, %v", got, ok)
	}
}
