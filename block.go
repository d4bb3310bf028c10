package suballoc

// MemoryBlock is a single contiguous backend allocation (a Vulkan device
// memory object, a CUDA memory pool chunk, ...).
type MemoryBlock struct {
	Handle     BackendHandle
	Size       int
	Properties MemoryProperties
	Dedicated  bool
}

// BlockResource wraps a MemoryBlock with the bookkeeping the BlockAllocator
// and regionAllocator need: how many bytes are currently reserved, the head
// of the region list tiling the block, and a back-pointer to the
// regionAllocator responsible for it.
type BlockResource struct {
	memory     MemoryBlock
	reserved   int
	regions    *Region
	allocator  *regionAllocator
	id         int
	generation uint64 // bumped on every reserve/release/reclaim, used for LRU eviction order
}

// Memory returns the underlying MemoryBlock this resource wraps.
func (b *BlockResource) Memory() MemoryBlock { return b.memory }

// Reserved returns the number of bytes currently in the InUse or Dedicated
// state within this block.
func (b *BlockResource) Reserved() int { return b.reserved }

// ID returns the block's identifier, unique within its Allocator for the
// lifetime of the allocator.
func (b *BlockResource) ID() int { return b.id }

// IsEmpty reports whether the block has no reserved bytes, i.e. every
// region in it is Available or Purgeable.
func (b *BlockResource) IsEmpty() bool { return b.reserved == 0 }
