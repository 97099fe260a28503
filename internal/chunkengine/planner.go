package chunkengine

// PlanChunks deterministically partitions [0, totalSize) into parts
// contiguous, non-overlapping chunks sorted by Start. It is a pure
// function of its inputs: the same (totalSize, parts, maxFailover)
// always produces a byte-identical plan.
//
// parts is first coerced to >= 1, then clamped upward so no chunk
// exceeds 2^31-1 bytes (a resource bigger than parts*2GiB forces more,
// smaller chunks).
func PlanChunks(totalSize int64, parts int, maxFailover int) []*Chunk {
	if parts < 1 {
		parts = 1
	}
	parts = clampPartsForSizeBound(totalSize, parts)

	chunkSize := totalSize / int64(parts)
	if chunkSize < 1 {
		chunkSize = 1
		parts = int(totalSize)
		if parts < 1 {
			parts = 1
		}
	}

	chunks := make([]*Chunk, 0, parts)
	for i := 0; i < parts; i++ {
		start := int64(i) * chunkSize
		var end int64
		if i == parts-1 {
			end = totalSize - 1
		} else {
			end = start + chunkSize - 1
		}
		chunks = append(chunks, &Chunk{
			ID:          i,
			Start:       start,
			End:         end,
			MaxFailover: maxFailover,
		})
	}
	return chunks
}

// clampPartsForSizeBound raises parts, if needed, so that no chunk,
// including the last one that absorbs the remainder
// (totalSize/parts + totalSize%parts bytes), exceeds maxChunkBytes.
func clampPartsForSizeBound(totalSize int64, parts int) int {
	if totalSize <= 0 {
		return parts
	}
	minParts := int64(parts)
	for totalSize/minParts+totalSize%minParts > maxChunkBytes {
		minParts++
	}
	if minParts > int64(parts) {
		if minParts > int64(int(^uint(0)>>1)) {
			return parts // pathological overflow guard, never hit in practice
		}
		return int(minParts)
	}
	return parts
}
