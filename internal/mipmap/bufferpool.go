package mipmap

import "sync"

// byteSlicePools maps a buffer size to a *sync.Pool of []byte, used by the
// downsample reducers (internal/materialize) to reuse scratch buffers
// across successive reductions instead of allocating one per call. Unlike
// the pre-sized tier slabs, these are ordinary reducer scratch space, not
// cache payloads, so a sync.Map keyed by size is enough: in practice only
// a handful of distinct tier sizes exist per process.
var byteSlicePools sync.Map

// GetScratch returns a zeroed []byte of length n from the pool, or
// allocates a new one.
func GetScratch(n int) []byte {
	if p, ok := byteSlicePools.Load(n); ok {
		if v := p.(*sync.Pool).Get(); v != nil {
			buf := v.([]byte)
			clear(buf)
			return buf
		}
	}
	return make([]byte, n)
}

// PutScratch returns a []byte obtained from GetScratch for reuse.
func PutScratch(buf []byte) {
	if buf == nil {
		return
	}
	n := len(buf)
	p, _ := byteSlicePools.LoadOrStore(n, &sync.Pool{})
	p.(*sync.Pool).Put(buf)
}
