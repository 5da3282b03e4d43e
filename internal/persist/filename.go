package persist

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

// DefaultFileName is the prefix of every snapshot file name; CacheFileName
// appends "-" and the digest of the store path to it.
const DefaultFileName = "mipmaps"

// CacheFileName derives the on-disk snapshot path from a record store's
// backing path: cacheDir/mipmaps-<sha256 of the absolute store path>, or
// the literal ":memory:" sentinel when storePath has no on-disk identity
// (an in-memory store has nothing stable to hash).
func CacheFileName(cacheDir, storePath string) string {
	if storePath == ":memory:" {
		return ":memory:"
	}
	abs, err := filepath.Abs(storePath)
	if err != nil {
		abs = storePath
	}
	sum := sha256.Sum256([]byte(abs))
	digest := hex.EncodeToString(sum[:])
	return filepath.Join(cacheDir, DefaultFileName+"-"+digest)
}
