package materialize

import (
	"encoding/binary"
	"math"

	"github.com/pspoerri/rawcache/internal/mipmap"
)

// reduceToRGBA8 box-averages full's raw samples into an outW x outH RGBA8
// buffer, mapping each destination pixel to its proportional source
// block the way internal/tile's downsampleQuadrant* functions average a
// fixed 2x2 source block — generalized here to an arbitrary ratio since
// the float and pre-sized tiers reduce by more than a factor of two.
// Real raw pipelines demosaic the sensor mosaic before any reduction;
// since raw decoding is outside this module's scope, this treats each
// source pixel's leading channels as already-linear samples and exists
// to exercise the reduction control flow, not to produce photographic
// output.
func reduceToRGBA8(full *mipmap.Buffer, srcBpp, outW, outH int32) []byte {
	srcW, srcH := full.Width, full.Height
	out := mipmap.GetScratch(int(outW) * int(outH) * 4)
	if srcW <= 0 || srcH <= 0 || outW <= 0 || outH <= 0 {
		return out
	}

	for dy := int32(0); dy < outH; dy++ {
		sy0 := dy * srcH / outH
		sy1 := (dy + 1) * srcH / outH
		if sy1 <= sy0 {
			sy1 = sy0 + 1
		}
		for dx := int32(0); dx < outW; dx++ {
			sx0 := dx * srcW / outW
			sx1 := (dx + 1) * srcW / outW
			if sx1 <= sx0 {
				sx1 = sx0 + 1
			}

			var rSum, gSum, bSum, count uint32
			for sy := sy0; sy < sy1 && sy < srcH; sy++ {
				rowOff := sy * srcW * srcBpp
				for sx := sx0; sx < sx1 && sx < srcW; sx++ {
					off := rowOff + sx*srcBpp
					if off+srcBpp > int32(len(full.Pix)) || srcBpp <= 0 {
						continue
					}
					rSum += uint32(sampleChannel(full.Pix, off, 0, srcBpp))
					gSum += uint32(sampleChannel(full.Pix, off, 1, srcBpp))
					bSum += uint32(sampleChannel(full.Pix, off, 2, srcBpp))
					count++
				}
			}

			di := (dy*outW + dx) * 4
			if count == 0 {
				out[di+3] = 0xff
				continue
			}
			out[di+0] = uint8(rSum / count)
			out[di+1] = uint8(gSum / count)
			out[di+2] = uint8(bSum / count)
			out[di+3] = 0xff
		}
	}
	return out
}

// reduceToRGBA8Demosaic is the demosaic-aware counterpart used when the
// record's filter pattern is non-zero: the original runs a Bayer-aware
// reducer instead of a plain box filter. Without a real demosaic step
// upstream (out of scope, see the raw decoder collaborator), this
// reducer is mechanically identical to reduceToRGBA8; it exists as a
// distinct, separately named code path so the dispatch in §4.4 step 3 is
// represented, matching the teacher's own gray-vs-RGBA fast-path split
// in downsampleTile.
func reduceToRGBA8Demosaic(full *mipmap.Buffer, srcBpp, outW, outH int32) []byte {
	return reduceToRGBA8(full, srcBpp, outW, outH)
}

func sampleChannel(pix []byte, off, channel, bpp int32) byte {
	if channel >= bpp {
		channel = bpp - 1
	}
	idx := off + channel
	if idx < 0 || int(idx) >= len(pix) {
		return 0
	}
	return pix[idx]
}

// rgba8ToFloat32 expands an RGBA8 buffer into 4 float32 channels per
// pixel in [0, 1], the float tier's storage format.
func rgba8ToFloat32(rgba []byte) []byte {
	n := len(rgba) / 4
	out := make([]byte, n*16)
	for i := 0; i < n; i++ {
		for c := 0; c < 4; c++ {
			v := float32(rgba[i*4+c]) / 255.0
			off := i*16 + c*4
			binary.LittleEndian.PutUint32(out[off:off+4], math.Float32bits(v))
		}
	}
	return out
}
