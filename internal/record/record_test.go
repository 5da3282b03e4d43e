package record

import "testing"

func TestBytesPerPixelInvariant(t *testing.T) {
	cases := []struct {
		name  string
		flags Flags
		want  int32
	}{
		{"ldr", FlagLDR, bppLDRorHDR},
		{"hdr-non-raw", FlagHDR, bppLDRorHDR},
		{"hdr-raw", FlagHDR | FlagRAW, bppHDRRaw},
		{"plain-raw", FlagRAW, bppRawUint16},
		{"unflagged defaults to raw uint16", 0, bppRawUint16},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := bytesPerPixel(tc.flags); got != tc.want {
				t.Errorf("bytesPerPixel(%v) = %d, want %d", tc.flags, got, tc.want)
			}
		})
	}
}

func TestStarRatingMask(t *testing.T) {
	f := Flags(3) | FlagLDR
	if got := f.Star(); got != 3 {
		t.Errorf("Star() = %d, want 3", got)
	}
}
