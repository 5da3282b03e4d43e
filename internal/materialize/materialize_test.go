package materialize

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/pspoerri/rawcache/internal/mipmap"
	"github.com/pspoerri/rawcache/internal/rawfile"
	"github.com/pspoerri/rawcache/internal/record"
)

func newTestMipmapCache() *mipmap.Cache {
	return mipmap.NewCache(mipmap.Config{
		PreSizedTiers: 3,
		MaxWidth:      64,
		MaxHeight:     64,
		Parallelism:   2,
		MemoryBudget:  4 << 20,
		RecordBPP:     4,
	})
}

func writeJPEG(t *testing.T, dir string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 5), B: 10, A: 255})
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

func TestFillFullPopulatesDimensionsAndWritesBack(t *testing.T) {
	store := record.NewMemStore(":memory:")
	store.Seed(record.Record{ID: 1, BPP: 4})
	rc := record.NewCache(store, nil, record.DefaultMaxMemoryBytes)
	mc := newTestMipmapCache()

	dir := t.TempDir()
	path := writeJPEG(t, dir, 50, 40)

	m := &Materializer{
		Records: rc,
		Mipmaps: mc,
		Decoder: &rawfile.StubDecoder{},
		PathOf:  func(id int32) string { return path },
	}

	rl, ok := mc.ReadGet(1, 0, mipmap.Blocking, m, nil)
	// tier 0 is a pre-sized tier; request the full tier explicitly instead.
	if ok {
		mc.ReadRelease(0, rl)
	}

	fullRL, ok := mc.ReadGet(1, mc.FullTier(), mipmap.Blocking, m, nil)
	if !ok {
		t.Fatal("expected full-tier materialization to succeed")
	}
	defer mc.ReadRelease(mc.FullTier(), fullRL)

	buf := *fullRL.Payload()
	if buf.Width != 50 || buf.Height != 40 {
		t.Errorf("full buffer dims = %dx%d, want 50x40", buf.Width, buf.Height)
	}

	updatedRL, ok := rc.ReadGet(1)
	if !ok {
		t.Fatal("expected record to still be present")
	}
	defer rc.ReadRelease(updatedRL)
	rec := *updatedRL.Payload()
	if rec.Width != 50 || rec.Height != 40 {
		t.Errorf("record dims after write-back = %dx%d, want 50x40", rec.Width, rec.Height)
	}

	stored, ok := store.FetchRecord(1)
	if !ok || stored.Width != 50 || stored.Height != 40 {
		t.Errorf("store row not updated with real dimensions: %+v", stored)
	}
}

func TestFillFloatReducesFullTierBuffer(t *testing.T) {
	store := record.NewMemStore(":memory:")
	store.Seed(record.Record{ID: 2, BPP: 4})
	rc := record.NewCache(store, nil, record.DefaultMaxMemoryBytes)
	mc := newTestMipmapCache()

	dir := t.TempDir()
	path := writeJPEG(t, dir, 48, 32)

	m := &Materializer{
		Records: rc,
		Mipmaps: mc,
		Decoder: &rawfile.StubDecoder{},
		PathOf:  func(id int32) string { return path },
	}

	floatRL, ok := mc.ReadGet(2, mc.FloatTier(), mipmap.Blocking, m, nil)
	if !ok {
		t.Fatal("expected float-tier materialization to succeed")
	}
	defer mc.ReadRelease(mc.FloatTier(), floatRL)

	buf := *floatRL.Payload()
	if buf.Width <= 0 || buf.Height <= 0 {
		t.Fatalf("float buffer dims = %dx%d, want positive", buf.Width, buf.Height)
	}
	maxW, maxH := mc.TierDimensions(mc.FloatTier())
	if buf.Width > maxW || buf.Height > maxH {
		t.Errorf("float buffer %dx%d exceeds tier max %dx%d", buf.Width, buf.Height, maxW, maxH)
	}
}

func TestFillPresizedUsesEmbeddedThumbnail(t *testing.T) {
	store := record.NewMemStore(":memory:")
	store.Seed(record.Record{ID: 3, BPP: 4, Maker: "Acme"})
	rc := record.NewCache(store, nil, record.DefaultMaxMemoryBytes)
	mc := newTestMipmapCache()

	dir := t.TempDir()
	path := writeJPEG(t, dir, 20, 30)

	m := &Materializer{
		Records: rc,
		Mipmaps: mc,
		Decoder: &rawfile.StubDecoder{},
		PathOf:  func(id int32) string { return path },
	}

	rl, ok := mc.ReadGet(3, 1, mipmap.Blocking, m, nil)
	if !ok {
		t.Fatal("expected pre-sized materialization to succeed")
	}
	defer mc.ReadRelease(1, rl)

	buf := *rl.Payload()
	if buf.Width <= 0 || buf.Height <= 0 {
		t.Fatalf("pre-sized buffer dims = %dx%d, want positive", buf.Width, buf.Height)
	}
}

type fakePipeline struct {
	w, h int32
}

func (p *fakePipeline) ExportAt(id int32, maxW, maxH int32) ([]byte, int32, int32, error) {
	return make([]byte, p.w*p.h*4), p.w, p.h, nil
}

func TestFillPresizedFallsBackToPipelineWhenEmbeddedDisabled(t *testing.T) {
	store := record.NewMemStore(":memory:")
	store.Seed(record.Record{ID: 4, BPP: 4})
	rc := record.NewCache(store, nil, record.DefaultMaxMemoryBytes)
	mc := newTestMipmapCache()

	m := &Materializer{
		Records:  rc,
		Mipmaps:  mc,
		Decoder:  &rawfile.StubDecoder{},
		PathOf:   func(id int32) string { return "" },
		Pipeline: &fakePipeline{w: 16, h: 16},
		Policy:   Policy{EmbeddedThumbnailsDisabled: true},
	}

	rl, ok := mc.ReadGet(4, 1, mipmap.Blocking, m, nil)
	if !ok {
		t.Fatal("expected pipeline fallback to succeed")
	}
	defer mc.ReadRelease(1, rl)

	buf := *rl.Payload()
	if buf.Width != 16 || buf.Height != 16 {
		t.Errorf("pipeline output dims = %dx%d, want 16x16", buf.Width, buf.Height)
	}
}

func TestFillPresizedFailsDeadWhenNoPathSucceeds(t *testing.T) {
	store := record.NewMemStore(":memory:")
	store.Seed(record.Record{ID: 5, BPP: 4})
	rc := record.NewCache(store, nil, record.DefaultMaxMemoryBytes)
	mc := newTestMipmapCache()

	m := &Materializer{
		Records: rc,
		Mipmaps: mc,
		Decoder: &rawfile.StubDecoder{},
		PathOf:  func(id int32) string { return "" },
	}

	rl, ok := mc.ReadGet(5, 1, mipmap.Blocking, m, nil)
	if !ok {
		t.Fatal("Blocking always returns a lease, falling back to the dead-image glyph")
	}
	defer mc.ReadRelease(1, rl)
	buf := *rl.Payload()
	if buf.Width != 8 || buf.Height != 8 {
		t.Errorf("expected dead-image glyph dims 8x8, got %dx%d", buf.Width, buf.Height)
	}
}

func TestPolicyRejectsBuggyMakers(t *testing.T) {
	p := Policy{BuggyMakers: map[string]bool{"BadCam": true}}
	rec := &record.Record{Maker: "BadCam"}
	if p.allowsEmbedded(rec) {
		t.Error("expected BuggyMakers to reject the embedded path")
	}
	rec.Maker = "GoodCam"
	if !p.allowsEmbedded(rec) {
		t.Error("expected a non-listed maker to allow the embedded path")
	}
}

func TestGrowAllocatorFallsBackWithoutGrowFunc(t *testing.T) {
	buf := &mipmap.Buffer{}
	a := &growAllocator{buf: buf}
	a.Grow(64)
	if int32(len(buf.Pix)) != 64 || buf.Size != 64 {
		t.Errorf("growAllocator fallback: Pix=%d Size=%d, want 64/64", len(buf.Pix), buf.Size)
	}
}
