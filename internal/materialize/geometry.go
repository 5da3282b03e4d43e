package materialize

// fitScale returns the largest scale factor that fits a w x h rectangle
// inside a maxW x maxH box without exceeding either dimension.
func fitScale(w, h, maxW, maxH int32) float64 {
	if w <= 0 || h <= 0 || maxW <= 0 || maxH <= 0 {
		return 0
	}
	sw := float64(maxW) / float64(w)
	sh := float64(maxH) / float64(h)
	if sw < sh {
		return sw
	}
	return sh
}

// fitDimensions scales (w, h) to fit within (maxW, maxH), preserving
// aspect ratio, never producing a zero dimension for a non-zero input.
func fitDimensions(w, h, maxW, maxH int32) (int32, int32) {
	scale := fitScale(w, h, maxW, maxH)
	if scale <= 0 {
		return 0, 0
	}
	outW := int32(float64(w) * scale)
	outH := int32(float64(h) * scale)
	if outW < 1 {
		outW = 1
	}
	if outH < 1 {
		outH = 1
	}
	return outW, outH
}
