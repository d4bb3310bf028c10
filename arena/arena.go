// Package arena implements a fixed-size slab allocator used as backing
// storage for the doubly-linked region list in package suballoc. It hands
// out stably-addressed *T values in amortized O(1) time and recycles them
// through a free list of pointers to reclaimed entries. Unlike a package-level sync.Pool, an
// Arena can be deterministically torn down by Destroy.
package arena

// DefaultChunkCapacity is the number of entries allocated per chunk when a
// caller does not specify one.
const DefaultChunkCapacity = 32

// Arena is a slab allocator over fixed-size entries of type T. It is not
// safe for concurrent use; callers serialize access exactly as the rest of
// this module does.
type Arena[T any] struct {
	chunkCapacity int
	chunks        [][]T
	freeList      []*T
}

// New creates an Arena that grows by chunkCapacity entries at a time. A
// chunkCapacity <= 0 selects DefaultChunkCapacity.
func New[T any](chunkCapacity int) *Arena[T] {
	if chunkCapacity <= 0 {
		chunkCapacity = DefaultChunkCapacity
	}
	return &Arena[T]{chunkCapacity: chunkCapacity}
}

// Reserve returns a pointer to a fresh entry, growing the arena with a new
// chunk if the free list is empty. If zeroInit is true, the entry's memory
// is reset to its zero value before being returned (it may be non-zero if
// it was previously reclaimed and reused).
func (a *Arena[T]) Reserve(zeroInit bool) *T {
	if len(a.freeList) == 0 {
		a.growChunk()
	}

	last := len(a.freeList) - 1
	entry := a.freeList[last]
	a.freeList = a.freeList[:last]

	if zeroInit {
		var zero T
		*entry = zero
	}
	return entry
}

// Reclaim returns entry to the free list for reuse. entry must have been
// returned by Reserve on this Arena and must not be used again until a
// subsequent Reserve returns it.
func (a *Arena[T]) Reclaim(entry *T) {
	a.freeList = append(a.freeList, entry)
}

// Destroy releases every chunk this Arena owns. The Arena must not be used
// afterward.
func (a *Arena[T]) Destroy() {
	a.chunks = nil
	a.freeList = nil
}

// Len reports the number of entries currently reserved (not on the free
// list). It is O(chunks) and intended for diagnostics/tests, not hot paths.
func (a *Arena[T]) Len() int {
	total := 0
	for _, chunk := range a.chunks {
		total += len(chunk)
	}
	return total - len(a.freeList)
}

func (a *Arena[T]) growChunk() {
	chunk := make([]T, a.chunkCapacity)
	a.chunks = append(a.chunks, chunk)
	for i := range chunk {
		a.freeList = append(a.freeList, &chunk[i])
	}
}
