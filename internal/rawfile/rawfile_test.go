package rawfile

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/pspoerri/rawcache/internal/record"
)

func writeTestJPEG(t *testing.T, dir string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encoding test jpeg: %v", err)
	}
	path := filepath.Join(dir, "preview.jpg")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("writing test jpeg: %v", err)
	}
	return path
}

func TestOpenAndDecodeEmbeddedPreview(t *testing.T) {
	path := writeTestJPEG(t, t.TempDir(), 32, 24)
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	img, err := DecodeEmbeddedPreview(f.Bytes())
	if err != nil {
		t.Fatalf("DecodeEmbeddedPreview: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != 32 || b.Dy() != 24 {
		t.Errorf("decoded preview size = %dx%d, want 32x24", b.Dx(), b.Dy())
	}
}

func TestDecodeEmbeddedPreviewRejectsUnknownMagic(t *testing.T) {
	_, err := DecodeEmbeddedPreview([]byte{0x00, 0x01, 0x02, 0x03})
	if err == nil {
		t.Fatal("expected an error for unrecognized magic bytes")
	}
}

func TestOpenMissingFileReturnsError(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "does-not-exist.raw"))
	if err == nil {
		t.Fatal("expected an error opening a missing file")
	}
}

type sizeAllocator struct {
	lastGrow int32
}

func (a *sizeAllocator) Grow(newSize int32) { a.lastGrow = newSize }

func TestStubDecoderUsesEmbeddedPreviewDimensions(t *testing.T) {
	path := writeTestJPEG(t, t.TempDir(), 16, 8)
	dec := &StubDecoder{}
	rec := &record.Record{BPP: 4}
	alloc := &sizeAllocator{}

	status, err := dec.OpenImage(rec, path, alloc)
	if err != nil {
		t.Fatalf("OpenImage: %v", err)
	}
	if status != StatusOK {
		t.Fatalf("status = %d, want StatusOK", status)
	}
	if rec.Width != 16 || rec.Height != 8 {
		t.Errorf("rec dims = %dx%d, want 16x8", rec.Width, rec.Height)
	}
	if alloc.lastGrow != 16*8*4 {
		t.Errorf("allocator grew to %d, want %d", alloc.lastGrow, 16*8*4)
	}
}

func TestStubDecoderSynthesizesWithoutAPath(t *testing.T) {
	dec := &StubDecoder{DefaultWidth: 4, DefaultHeight: 4}
	rec := &record.Record{BPP: 2}
	alloc := &sizeAllocator{}

	status, err := dec.OpenImage(rec, "", alloc)
	if err != nil {
		t.Fatalf("OpenImage: %v", err)
	}
	if status != StatusOK {
		t.Fatalf("status = %d, want StatusOK", status)
	}
	if rec.Width != 4 || rec.Height != 4 {
		t.Errorf("rec dims = %dx%d, want 4x4", rec.Width, rec.Height)
	}
}

func TestStubDecoderReportsNotFoundForMissingPath(t *testing.T) {
	dec := &StubDecoder{}
	rec := &record.Record{}
	alloc := &sizeAllocator{}

	status, err := dec.OpenImage(rec, filepath.Join(t.TempDir(), "missing.raw"), alloc)
	if err == nil {
		t.Fatal("expected an error for a missing path")
	}
	if status != StatusNotFound {
		t.Errorf("status = %d, want StatusNotFound", status)
	}
}
