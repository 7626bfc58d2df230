package rafter

import "slices"

// NewHintCache allow us to configure the cache with the provided options
func NewHintCache(options HintCacheOptions) *HintCache {
	max := options.MaxHints
	if max == 0 {
		max = maxHints
	}

	return &HintCache{
		offsets:  make(map[uint64]uint64),
		maxHints: max,
	}
}

// put record the offset the entry at index was found at.
// When the cache is full a decimation pass evict every
// hintPruneStride-th hint to make room. It reports whether
// a decimation pass ran
func (h *HintCache) put(index, offset uint64) bool {
	if _, ok := h.offsets[index]; ok {
		h.offsets[index] = offset
		return false
	}

	var pruned bool
	if len(h.indexes) >= h.maxHints {
		h.prune()
		pruned = true
	}

	pos, _ := slices.BinarySearch(h.indexes, index)
	h.indexes = slices.Insert(h.indexes, pos, index)
	h.offsets[index] = offset
	return pruned
}

// prune delete every hintPruneStride-th hint in iteration order,
// starting from the first
func (h *HintCache) prune() {
	kept := h.indexes[:0]
	for i, index := range h.indexes {
		if i%hintPruneStride == 0 {
			delete(h.offsets, index)
			continue
		}
		kept = append(kept, index)
	}
	h.indexes = kept
	h.prunes++
}

// closestForwardOffset return the offset stored under the greatest
// hinted index strictly less than index. Offsets at or past limit are
// skipped so a stale hint can never point beyond the retained prefix.
// When no hint qualifies the scan starts right after the file header
func (h *HintCache) closestForwardOffset(index, limit uint64) uint64 {
	pos, _ := slices.BinarySearch(h.indexes, index)
	for i := pos - 1; i >= 0; i-- {
		if offset := h.offsets[h.indexes[i]]; offset < limit {
			return offset
		}
	}
	return fileHeaderSize
}

// dropFrom evict every hint pointing at or past the provided offset.
// Called when the log is truncated
func (h *HintCache) dropFrom(offset uint64) {
	kept := h.indexes[:0]
	for _, index := range h.indexes {
		if h.offsets[index] >= offset {
			delete(h.offsets, index)
			continue
		}
		kept = append(kept, index)
	}
	h.indexes = kept
}

// Len return the current number of hints in cache
func (h *HintCache) Len() int {
	return len(h.indexes)
}

// Prunes return the number of decimation passes performed so far
func (h *HintCache) Prunes() uint64 {
	return h.prunes
}
