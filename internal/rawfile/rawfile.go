// Package rawfile plays the raw-decoder reference collaborator described
// by the core's external interfaces (the record store's reference
// implementation is record.MemStore): a
// memory-mapped source file plus embedded-preview extraction. Real
// raw/demosaic decoding is explicitly out of scope for this module;
// StubDecoder is the reference implementation used to exercise the
// materializer's control flow without a real decoder.
package rawfile

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os"

	"github.com/gen2brain/webp"

	"github.com/pspoerri/rawcache/internal/record"
)

// File is a memory-mapped source file, opened once and shared read-only.
type File struct {
	data []byte
	path string
}

// Open memory-maps path for read-only access, mirroring the teacher's
// COG reader: open, stat, mmap, with every step wrapped in context.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	size := fi.Size()
	if size == 0 {
		return nil, fmt.Errorf("%s: empty file", path)
	}

	data, err := mmapFile(f.Fd(), int(size))
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &File{data: data, path: path}, nil
}

// Close releases the memory mapping.
func (f *File) Close() error { return munmapFile(f.data) }

// Bytes returns the mapped file contents. The slice is valid until Close.
func (f *File) Bytes() []byte { return f.data }

// Path returns the path this file was opened from.
func (f *File) Path() string { return f.path }

// DecodeEmbeddedPreview decodes a JPEG- or WebP-encoded embedded preview,
// dispatching on magic bytes the same way the teacher's
// encode.DecodeImage dispatches on an explicit format string; raw
// containers don't carry one, so the magic bytes stand in for it.
func DecodeEmbeddedPreview(data []byte) (image.Image, error) {
	switch {
	case len(data) >= 3 && data[0] == 0xff && data[1] == 0xd8 && data[2] == 0xff:
		return jpeg.Decode(bytes.NewReader(data))
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return webp.Decode(bytes.NewReader(data))
	default:
		n := len(data)
		if n > 4 {
			n = 4
		}
		return nil, fmt.Errorf("embedded preview: unrecognized format (magic %x)", data[:n])
	}
}

// Status is the outcome of a decode attempt, matching the core's raw
// decoder collaborator contract.
type Status int

const (
	StatusOK Status = iota
	StatusNotFound
	StatusCorrupted
	StatusCacheFull
)

// Allocator lets a Decoder grow its destination buffer mid-decode, once
// the real image size is known.
type Allocator interface {
	Grow(newSize int32)
}

// Decoder is the raw-decoder collaborator: given a path, it decodes
// pixel data into the buffer obtained from alloc and fills in rec's
// width, height and filter pattern.
type Decoder interface {
	OpenImage(rec *record.Record, path string, alloc Allocator) (Status, error)
}

// StubDecoder is the reference Decoder. It does not parse real raw
// sensor data: if path names a readable file with a recognizable
// embedded preview (JPEG/WebP), its dimensions are used; otherwise a
// default size is synthesized. It exercises the materializer's success
// and not-found paths without a real demosaic decoder; it never reports
// StatusCorrupted or StatusCacheFull.
type StubDecoder struct {
	DefaultWidth, DefaultHeight int32
}

func (d *StubDecoder) OpenImage(rec *record.Record, path string, alloc Allocator) (Status, error) {
	w, h := d.DefaultWidth, d.DefaultHeight
	if w <= 0 {
		w = 64
	}
	if h <= 0 {
		h = 64
	}

	if path != "" {
		f, err := Open(path)
		if err != nil {
			return StatusNotFound, err
		}
		defer f.Close()
		if img, decodeErr := DecodeEmbeddedPreview(f.Bytes()); decodeErr == nil {
			b := img.Bounds()
			w, h = int32(b.Dx()), int32(b.Dy())
		}
	}

	bpp := rec.BPP
	if bpp <= 0 {
		bpp = 4
	}
	size := w * h * bpp
	alloc.Grow(size)

	rec.Width, rec.Height = w, h
	return StatusOK, nil
}
