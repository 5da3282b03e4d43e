// Package materialize fills empty mipmap slots: it is the C4 collaborator
// that turns a freshly-claimed, write-locked mipmap.Buffer into a
// populated one, implementing mipmap.Generator and recursively consuming
// both the image-record cache and the mipmap cache itself.
package materialize

import (
	"fmt"
	"image"
	"log"

	"github.com/pspoerri/rawcache/internal/mipmap"
	"github.com/pspoerri/rawcache/internal/rawfile"
	"github.com/pspoerri/rawcache/internal/record"
)

// PipelineExporter stands in for the full image-processing pipeline
// export path used as a pre-sized tier's fallback when no embedded
// thumbnail is usable. Real pipeline processing is out of this module's
// scope; callers needing one supply their own implementation.
type PipelineExporter interface {
	ExportAt(id int32, maxW, maxH int32) (pix []byte, w, h int32, err error)
}

// Policy decides whether the embedded-thumbnail path is eligible for a
// given record, mirroring the three conditions §4.4 names: the image
// must be unaltered, the user must not have opted out, and the camera
// maker must not be on the known-buggy list.
type Policy struct {
	Altered                    func(id int32) bool
	EmbeddedThumbnailsDisabled bool
	BuggyMakers                map[string]bool
}

func (p Policy) allowsEmbedded(rec *record.Record) bool {
	if p.EmbeddedThumbnailsDisabled {
		return false
	}
	if p.Altered != nil && p.Altered(rec.ID) {
		return false
	}
	if p.BuggyMakers != nil && p.BuggyMakers[rec.Maker] {
		return false
	}
	return true
}

// Materializer wires the image-record cache, the mipmap cache and a raw
// decoder together. It implements mipmap.Generator and is meant to be
// injected into a mipmap.Cache's Blocking read path.
type Materializer struct {
	Records  *record.Cache
	Mipmaps  *mipmap.Cache
	Decoder  rawfile.Decoder
	Pipeline PipelineExporter
	PathOf   func(id int32) string
	Policy   Policy
	Quality  int
}

// Generate implements mipmap.Generator, dispatching to the three
// materialization protocols by tier role.
func (m *Materializer) Generate(tier mipmap.Tier, id int32, buf *mipmap.Buffer, grow func(newSize int32)) error {
	switch tier {
	case m.Mipmaps.FullTier():
		return m.fillFull(id, buf, grow)
	case m.Mipmaps.FloatTier():
		return m.fillFloat(id, buf)
	default:
		return m.fillPresized(tier, id, buf)
	}
}

type growAllocator struct {
	buf  *mipmap.Buffer
	grow func(int32)
}

func (g *growAllocator) Grow(newSize int32) {
	if g.grow != nil {
		g.grow(newSize)
		return
	}
	if int32(len(g.buf.Pix)) < newSize {
		g.buf.Pix = make([]byte, newSize)
	}
	g.buf.Size = newSize
}

// fillFull materializes the full-resolution tier: the record is read
// through C2, copied to a stack-local, and the read lease dropped before
// the decoder runs, so the decoder's own write-back through C2 can
// never deadlock against this call. On success the stack-local record
// (now carrying the decoder's real width/height) is written back as the
// last action under a fresh C2 write lease, per §4.4's ordering
// guarantee.
func (m *Materializer) fillFull(id int32, buf *mipmap.Buffer, grow func(int32)) error {
	rl, ok := m.Records.ReadGet(id)
	if !ok {
		return fmt.Errorf("materialize: invalid record id %d", id)
	}
	rec := *(*rl.Payload())
	m.Records.ReadRelease(rl)

	path := ""
	if m.PathOf != nil {
		path = m.PathOf(id)
	}

	alloc := &growAllocator{buf: buf, grow: grow}
	status, err := m.Decoder.OpenImage(&rec, path, alloc)
	if status != rawfile.StatusOK {
		if err == nil {
			err = fmt.Errorf("materialize: decoder status %d for id %d", status, id)
		}
		return err
	}

	buf.Width, buf.Height = rec.Width, rec.Height

	wrl, ok := m.Records.ReadGet(id)
	if !ok {
		return nil
	}
	wwl := m.Records.WriteGet(wrl)
	*(*wwl.Payload()) = rec
	m.Records.ReadRelease(m.Records.WriteRelease(wwl, record.WriteRelaxed))
	return nil
}

// fillFloat materializes the float tier by fetching the full-resolution
// buffer through C3 (which recursively triggers fillFull on a miss),
// reducing it to fit the float tier's maximum dimensions, and releasing
// the full-tier lease before returning.
func (m *Materializer) fillFloat(id int32, buf *mipmap.Buffer) error {
	fullTier := m.Mipmaps.FullTier()
	fullRL, ok := m.Mipmaps.ReadGet(id, fullTier, mipmap.Blocking, m, nil)
	if !ok {
		buf.Width, buf.Height = 0, 0
		return nil
	}
	defer m.Mipmaps.ReadRelease(fullTier, fullRL)

	full := *fullRL.Payload()
	if full.Width <= 0 || full.Height <= 0 {
		buf.Width, buf.Height = 0, 0
		return nil
	}

	maxW, maxH := m.Mipmaps.TierDimensions(m.Mipmaps.FloatTier())
	outW, outH := fitDimensions(full.Width, full.Height, maxW, maxH)
	if outW == 0 || outH == 0 {
		buf.Width, buf.Height = 0, 0
		return nil
	}

	var filters uint32
	if rrl, ok := m.Records.ReadTestGet(id); ok {
		filters = (*rrl.Payload()).Filters
		m.Records.ReadRelease(rrl)
	}

	srcBpp := int32(4)
	if full.Width > 0 && full.Height > 0 {
		srcBpp = full.Size / (full.Width * full.Height)
		if srcBpp <= 0 {
			srcBpp = 4
		}
	}

	var rgba []byte
	if filters != 0 {
		rgba = reduceToRGBA8Demosaic(full, srcBpp, outW, outH)
	} else {
		rgba = reduceToRGBA8(full, srcBpp, outW, outH)
	}
	pix := rgba8ToFloat32(rgba)
	mipmap.PutScratch(rgba)

	need := int32(len(pix))
	if int32(len(buf.Pix)) < need {
		buf.Pix = make([]byte, need)
	}
	copy(buf.Pix, pix)
	buf.Width, buf.Height = outW, outH
	return nil
}

// fillPresized materializes a pre-sized tier, trying the embedded
// thumbnail path first and falling back to the pipeline export path.
func (m *Materializer) fillPresized(tier mipmap.Tier, id int32, buf *mipmap.Buffer) error {
	var rec record.Record
	if rl, ok := m.Records.ReadGet(id); ok {
		rec = *(*rl.Payload())
		m.Records.ReadRelease(rl)
	}

	maxW, maxH := m.Mipmaps.TierDimensions(tier)

	if m.Policy.allowsEmbedded(&rec) {
		if img, ok := m.decodeEmbeddedThumbnail(id); ok {
			rotated := rotateByOrientation(img, rec.Orientation)
			outW, outH := fitDimensions(int32(rotated.Bounds().Dx()), int32(rotated.Bounds().Dy()), maxW, maxH)
			writeResizedRGBA(buf, rotated, outW, outH)
			buf.Width, buf.Height = outW, outH
			return nil
		}
	}

	if m.Pipeline != nil {
		pix, w, h, err := m.Pipeline.ExportAt(id, maxW, maxH)
		if err == nil {
			need := w * h * 4
			if int32(len(buf.Pix)) < need {
				buf.Pix = make([]byte, need)
			}
			copy(buf.Pix, pix)
			buf.Width, buf.Height = w, h
			return nil
		}
		log.Printf("materialize: pipeline export failed for id %d tier %d: %v", id, tier, err)
	}

	buf.Width, buf.Height = 0, 0
	return fmt.Errorf("materialize: no thumbnail path succeeded for id %d tier %d", id, tier)
}

func (m *Materializer) decodeEmbeddedThumbnail(id int32) (image.Image, bool) {
	if m.PathOf == nil {
		return nil, false
	}
	path := m.PathOf(id)
	if path == "" {
		return nil, false
	}
	f, err := rawfile.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()
	img, err := rawfile.DecodeEmbeddedPreview(f.Bytes())
	if err != nil {
		return nil, false
	}
	return img, true
}

// writeResizedRGBA nearest-neighbor samples src into an outW x outH region
// of buf, overwriting its pixel storage.
func writeResizedRGBA(buf *mipmap.Buffer, src *image.RGBA, outW, outH int32) {
	need := outW * outH * 4
	if int32(len(buf.Pix)) < need {
		buf.Pix = make([]byte, need)
	}
	b := src.Bounds()
	srcW, srcH := int32(b.Dx()), int32(b.Dy())
	if srcW <= 0 || srcH <= 0 {
		return
	}
	for dy := int32(0); dy < outH; dy++ {
		sy := dy * srcH / outH
		for dx := int32(0); dx < outW; dx++ {
			sx := dx * srcW / outW
			c := src.RGBAAt(b.Min.X+int(sx), b.Min.Y+int(sy))
			off := (dy*outW + dx) * 4
			buf.Pix[off+0] = c.R
			buf.Pix[off+1] = c.G
			buf.Pix[off+2] = c.B
			buf.Pix[off+3] = c.A
		}
	}
}
