package mipmap

import (
	"encoding/binary"
	"math"
)

// deadImagePattern is the 8x8 1-bit glyph hard-coded by the original: a
// tiny face, flattened row-major. true pixels are fully opaque/white; the
// rest are zero. It is identical across all tiers, only the channel
// encoding differs.
var deadImagePattern = [64]bool{
	false, false, false, false, false, false, false, false,
	false, false, true, true, true, true, false, false,
	false, true, false, true, true, false, true, false,
	false, true, true, true, true, true, true, false,
	false, false, true, false, false, true, false, false,
	false, false, false, false, false, false, false, false,
	false, false, true, true, true, true, false, false,
	false, false, false, false, false, false, false, false,
}

// RenderDead8 draws the dead-image glyph into an 8-bit RGBA buffer: each
// pixel becomes either 0x00000000 or 0xffffffff, little-endian, and the
// buffer's dimensions are forced to 8x8.
func RenderDead8(buf *Buffer) {
	buf.Width, buf.Height = 8, 8
	need := 64 * 4
	if len(buf.Pix) < need {
		buf.Pix = make([]byte, need)
	}
	for i, on := range deadImagePattern {
		v := uint32(0)
		if on {
			v = 0xffffffff
		}
		binary.LittleEndian.PutUint32(buf.Pix[i*4:i*4+4], v)
	}
}

// RenderDeadFloat draws the same glyph into an RGBA-float buffer: each
// pixel becomes four float32 channels, all 1.0 or all 0.0.
func RenderDeadFloat(buf *Buffer) {
	buf.Width, buf.Height = 8, 8
	need := 64 * 4 * 4
	if len(buf.Pix) < need {
		buf.Pix = make([]byte, need)
	}
	for i, on := range deadImagePattern {
		v := float32(0)
		if on {
			v = 1.0
		}
		bits := math.Float32bits(v)
		for c := 0; c < 4; c++ {
			off := i*16 + c*4
			binary.LittleEndian.PutUint32(buf.Pix[off:off+4], bits)
		}
	}
}
