package suballoc

import "github.com/deviceruntime/suballoc/memutils"

// conformAlignment reconciles a request's alignment with a block's
// required alignment by taking the stronger (larger) of the two. Both
// arguments, and the result, are powers of two.
func conformAlignment(requested, required uint) uint {
	if required > requested {
		requested = required
	}
	return uint(memutils.NextPow2(int(requested)))
}

// alignedOffset rounds offset up to the nearest multiple of alignment.
func alignedOffset(offset int, alignment uint) int {
	return memutils.AlignUp(offset, int(alignment))
}

// alignedSize returns the number of bytes consumed by placing a region of
// size bytes at offset under alignment: the distance from offset to the
// aligned end of the placement.
func alignedSize(offset, size int, alignment uint) int {
	return memutils.AlignUp(offset+size, int(alignment)) - offset
}
