package materialize

import "image"

// rotateByOrientation applies the EXIF-style orientation tag to img,
// returning an RGBA copy already in display rotation. Only the three
// non-mirrored rotations (1 normal, 3 180, 6 90 clockwise, 8 90
// counter-clockwise) are handled explicitly; the four mirrored
// orientations (2, 4, 5, 7) are treated as their nearest non-mirrored
// rotation, since the embedded-thumbnail path only needs a
// close-enough preview, not a pixel-exact one.
func rotateByOrientation(img image.Image, orientation int32) *image.RGBA {
	src := toRGBA(img)
	switch orientation {
	case 3, 4:
		return rotate180(src)
	case 6, 5:
		return rotate90CW(src)
	case 8, 7:
		return rotate90CCW(src)
	default:
		return src
	}
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(x, y, img.At(x, y))
		}
	}
	return dst
}

func rotate180(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(w-1-x, h-1-y, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

func rotate90CW(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(h-1-y, x, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

func rotate90CCW(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(y, w-1-x, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}
