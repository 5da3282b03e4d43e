package persist

import (
	"bufio"
	"fmt"
	"os"

	"github.com/pspoerri/rawcache/internal/mipmap"
)

// Quality is the JPEG quality used when snapshotting, clamped to
// [10, 100] the same way the ported format clamps its configured value.
type Quality int

// presizedTierDims returns the (width, height) bound of every pre-sized
// tier, in tier order, used both as the header written on Snapshot and
// the header expected by Restore.
func presizedTierDims(mc *mipmap.Cache) [][2]int32 {
	dims := make([][2]int32, 0, int(mc.FloatTier()))
	for t := mipmap.Tier(0); t < mc.FloatTier(); t++ {
		w, h := mc.TierDimensions(t)
		dims = append(dims, [2]int32{w, h})
	}
	return dims
}

// Snapshot writes every resident pre-sized-tier thumbnail to path as a
// JPEG-compressed envelope, skipping entries at or below 8x8 (too small
// to bother persisting) and the float/full tiers (not RGBA8, and large
// enough that reloading them cheaply isn't worth a JPEG round-trip).
// path == ":memory:" is a no-op, matching a record store with no on-disk
// identity.
func Snapshot(mc *mipmap.Cache, path string, quality Quality) error {
	if path == ":memory:" {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("persist: creating %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	dims := presizedTierDims(mc)
	if err := writeHeader(w, dims); err != nil {
		return err
	}

	var walkErr error
	for t := mipmap.Tier(0); int(t) < len(dims); t++ {
		tier := t
		mc.ForAll(tier, func(id int32, buf *mipmap.Buffer) bool {
			if buf.Width <= minPersistDimension && buf.Height <= minPersistDimension {
				return true
			}
			if buf.Width <= 0 || buf.Height <= 0 {
				return true
			}
			bpp := mipmap.BytesPerPixel(tier, mc.FloatTier(), mc.FullTier(), 4)
			if bpp != 4 || int32(len(buf.Pix)) < buf.Width*buf.Height*4 {
				return true
			}
			jpegBytes, encErr := encodeRGBA8(buf.Pix[:buf.Width*buf.Height*4], buf.Width, buf.Height, int(quality))
			if encErr != nil {
				walkErr = encErr
				return false
			}
			rec := record{
				tier:   int32(tier),
				key:    mipmap.GetKey(id, tier),
				length: int32(len(jpegBytes)),
				data:   jpegBytes,
			}
			if err := writeRecord(w, rec); err != nil {
				walkErr = fmt.Errorf("persist: writing record for image %d tier %d: %w", id, tier, err)
				return false
			}
			return true
		})
		if walkErr != nil {
			return walkErr
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("persist: flushing %s: %w", path, err)
	}
	return nil
}
