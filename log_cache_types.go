package rafter

const (
	// maxHints is the default maximum number of hints kept in cache
	maxHints int = 1000

	// hintPruneStride select which entries get evicted when the cache
	// is full: every 10th hint in iteration order, starting from the first
	hintPruneStride int = 10
)

// HintCacheOptions hold all cache options that will be later
// used by HintCache
type HintCacheOptions struct {
	// MaxHints is the maximum number of hints to keep in cache.
	// Default to 1000 if MaxHints == 0
	MaxHints int
}

// HintCache is a bounded ordered map of entry index to file offset,
// populated by successful reads and used to shorten forward scans.
// It is not safe for concurrent use, the owning store serializes access
type HintCache struct {
	// indexes hold the hinted indexes in ascending order
	indexes []uint64

	// offsets map every hinted index to the file offset
	// its entry was found at
	offsets map[uint64]uint64

	// maxHints is the maximum number of hints to keep in cache
	maxHints int

	// prunes count the decimation passes performed so far
	prunes uint64
}
