package persist

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/pspoerri/rawcache/internal/mipmap"
)

// Restore loads path into mc, seeding every pre-sized-tier slot it names
// via mipmap.Cache.Restore. A missing file is not an error (an empty
// cache is the correct starting state); a header mismatch (wrong magic,
// version, or changed tier geometry) deletes the stale file and starts
// fresh, matching the ported format's drop-and-rebuild behavior rather
// than trying to partially trust an incompatible layout. path ==
// ":memory:" is a no-op.
func Restore(mc *mipmap.Cache, path string) error {
	if path == ":memory:" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("persist: opening %s: %w", path, err)
	}
	defer f.Close()

	dims := presizedTierDims(mc)
	br := bufio.NewReader(f)
	if err := readHeader(br, dims); err != nil {
		log.Printf("persist: dropping incompatible cache file %s: %v", path, err)
		f.Close()
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return fmt.Errorf("persist: removing stale cache file %s: %w", path, rmErr)
		}
		return nil
	}

	for {
		maxLen := int32(0)
		for _, d := range dims {
			if n := d[0] * d[1] * 4; n > maxLen {
				maxLen = n
			}
		}
		rec, err := readRecord(br, maxLen)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			log.Printf("persist: stopping restore of %s after a malformed record: %v", path, err)
			return nil
		}

		tier := mipmap.Tier(rec.tier)
		if int(tier) < 0 || int(tier) >= len(dims) {
			// tier_id past the persisted tier count marks the end of the
			// entry stream, not a bad record to skip: stop reading rather
			// than risk misinterpreting trailing bytes as further records.
			return nil
		}
		maxW, maxH := dims[tier][0], dims[tier][1]
		pix, w, h, decErr := decodeToRGBA8(rec.data, maxW, maxH)
		if decErr != nil {
			log.Printf("persist: skipping unreadable thumbnail for key %d tier %d: %v", rec.key, tier, decErr)
			continue
		}
		id := mipmap.GetImgID(rec.key)
		mc.Restore(tier, id, w, h, pix)
	}
}
