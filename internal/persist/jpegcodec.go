package persist

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// encodeRGBA8 JPEG-compresses an RGBA8 pixel buffer at the given quality,
// matching the ported format's use of its own JPEG compressor for
// thumbnail tiles: stdlib image/jpeg stands in for it here.
func encodeRGBA8(pix []byte, w, h int32, quality int) ([]byte, error) {
	img := &image.RGBA{
		Pix:    pix,
		Stride: int(w) * 4,
		Rect:   image.Rect(0, 0, int(w), int(h)),
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: clampQuality(quality)}); err != nil {
		return nil, fmt.Errorf("persist: jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeToRGBA8 decompresses a JPEG record back into a flat RGBA8
// buffer, rejecting any image whose dimensions exceed maxW/maxH (the
// ported format's "sanity before it overruns the destination" check).
func decodeToRGBA8(data []byte, maxW, maxH int32) (pix []byte, w, h int32, err error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("persist: jpeg decode: %w", err)
	}
	b := img.Bounds()
	w, h = int32(b.Dx()), int32(b.Dy())
	if w > maxW || h > maxH {
		return nil, 0, 0, fmt.Errorf("persist: decoded size %dx%d exceeds tier bound %dx%d", w, h, maxW, maxH)
	}
	out := make([]byte, int(w)*int(h)*4)
	if rgba, ok := img.(*image.RGBA); ok && rgba.Stride == int(w)*4 {
		copy(out, rgba.Pix)
		return out, w, h, nil
	}
	for y := 0; y < int(h); y++ {
		for x := 0; x < int(w); x++ {
			r, g, bl, a := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			off := (y*int(w) + x) * 4
			out[off+0] = byte(r >> 8)
			out[off+1] = byte(g >> 8)
			out[off+2] = byte(bl >> 8)
			out[off+3] = byte(a >> 8)
		}
	}
	return out, w, h, nil
}
