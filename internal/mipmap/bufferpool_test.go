package mipmap

import "testing"

func TestScratchRoundTripReturnsZeroedBuffer(t *testing.T) {
	buf := GetScratch(16)
	for i := range buf {
		buf[i] = 0xff
	}
	PutScratch(buf)

	again := GetScratch(16)
	for i, b := range again {
		if b != 0 {
			t.Fatalf("GetScratch: byte %d = %#x, want zeroed after reuse", i, b)
		}
	}
}

func TestScratchDifferentSizesDontShareAPool(t *testing.T) {
	small := GetScratch(8)
	large := GetScratch(64)
	if len(small) != 8 || len(large) != 64 {
		t.Fatalf("GetScratch returned wrong lengths: %d, %d", len(small), len(large))
	}
}

func TestPutScratchIgnoresNil(t *testing.T) {
	PutScratch(nil) // must not panic
}
