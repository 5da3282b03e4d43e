// Command cachedemo exercises the mipmap pyramid cache end to end: it
// creates an in-memory record store (seeded from -image; -db only names
// the snapshot file), restores a prior snapshot if one
// exists, materializes a thumbnail for one image id at a requested tier,
// and snapshots the cache back to disk before exiting.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pspoerri/rawcache/internal/materialize"
	"github.com/pspoerri/rawcache/internal/mipmap"
	"github.com/pspoerri/rawcache/internal/persist"
	"github.com/pspoerri/rawcache/internal/rawfile"
	"github.com/pspoerri/rawcache/internal/record"
	"github.com/pspoerri/rawcache/internal/schedule"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		dbPath      string
		imagePath   string
		id          int
		tier        int
		cacheDir    string
		quality     int
		presized    int
		maxW, maxH  int
		concurrency int
		memLimitMB  int
		verbose     bool
		showVersion bool
	)

	flag.StringVar(&dbPath, "db", ":memory:", "Record store path, used to name the snapshot file (\":memory:\" disables snapshots)")
	flag.StringVar(&imagePath, "image", "", "Path to a source image used to seed the record and materialize from")
	flag.IntVar(&id, "id", 1, "Image identifier to materialize")
	flag.IntVar(&tier, "tier", 0, "Mipmap tier to request (0..presized-1 for pre-sized tiers, presized for float, presized+1 for full)")
	flag.StringVar(&cacheDir, "cache-dir", "", "Directory for the persisted mipmap snapshot (default: OS user cache dir)")
	flag.IntVar(&quality, "quality", 85, "JPEG quality used when snapshotting, clamped to [10,100]")
	flag.IntVar(&presized, "presized-tiers", 3, "Number of pre-sized pyramid tiers")
	flag.IntVar(&maxW, "max-width", 1300, "Largest pre-sized tier's maximum width")
	flag.IntVar(&maxH, "max-height", 1000, "Largest pre-sized tier's maximum height")
	flag.IntVar(&concurrency, "concurrency", runtime.NumCPU(), "Number of background generation workers")
	flag.IntVar(&memLimitMB, "mem-limit", 0, "Per-tier memory budget in MB (0 = auto from system RAM)")
	flag.BoolVar(&verbose, "verbose", false, "Verbose logging")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cachedemo [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Materialize one thumbnail through the mipmap pyramid cache.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("cachedemo %s (commit %s)\n", version, commit)
		return
	}

	memBudget := int64(memLimitMB) << 20
	if memBudget <= 0 {
		memBudget = mipmap.ComputeDefaultMemoryBudget(verbose)
	}

	store := record.NewMemStore(dbPath)
	if imagePath != "" {
		store.Seed(record.Record{ID: int32(id), Filename: filepath.Base(imagePath), Flags: record.FlagLDR})
	}
	records := record.NewCache(store, nil, record.DefaultMaxMemoryBytes)

	mc := mipmap.NewCache(mipmap.Config{
		PreSizedTiers: presized,
		MaxWidth:      int32(maxW),
		MaxHeight:     int32(maxH),
		Parallelism:   concurrency,
		MemoryBudget:  memBudget,
		RecordBPP:     4,
	})

	materializer := &materialize.Materializer{
		Records: records,
		Mipmaps: mc,
		Decoder: &rawfile.StubDecoder{},
		PathOf:  func(int32) string { return imagePath },
		Quality: quality,
	}

	sched := schedule.New(mc, materializer, concurrency)
	defer sched.Stop()

	snapshotPath := cacheFilePath(cacheDir, dbPath)
	if err := persist.Restore(mc, snapshotPath); err != nil {
		fmt.Fprintf(os.Stderr, "cachedemo: restoring snapshot: %v\n", err)
	}

	rl, ok := mc.ReadGet(int32(id), mipmap.Tier(tier), mipmap.Blocking, materializer, sched)
	if !ok {
		fmt.Fprintf(os.Stderr, "cachedemo: no thumbnail available for id %d tier %d\n", id, tier)
		os.Exit(1)
	}
	buf := *rl.Payload()
	fmt.Printf("materialized id=%d tier=%d dims=%dx%d bytes=%d\n", id, tier, buf.Width, buf.Height, len(buf.Pix))
	mc.ReadRelease(mipmap.Tier(tier), rl)

	if err := persist.Snapshot(mc, snapshotPath, persist.Quality(quality)); err != nil {
		fmt.Fprintf(os.Stderr, "cachedemo: snapshotting cache: %v\n", err)
		os.Exit(1)
	}
}

func cacheFilePath(cacheDir, dbPath string) string {
	if dbPath == ":memory:" {
		return ":memory:"
	}
	if cacheDir == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			dir = os.TempDir()
		}
		cacheDir = dir
	}
	return persist.CacheFileName(cacheDir, dbPath)
}
