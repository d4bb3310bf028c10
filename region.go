package suballoc

// BackendHandle is an opaque handle to backend-owned memory (a Vulkan
// VkDeviceMemory-derived pointer, a CUDA device pointer, a Metal buffer,
// etc). The sub-allocator never interprets it; it only passes it through
// the callback tables in callbacks.go and caches it on a Region between
// Release and the next Reserve.
type BackendHandle any

// RegionHandle numbers the Regions created for one block, in creation
// order. It is unique within that block only; Regions of different blocks
// may share a value. The ownership check behind the Invalid error kind
// documented in errs.go is keyed by the *Region pointer, not by this value.
type RegionHandle uint64

// RegionStatus is a region's place in its lifecycle state machine.
type RegionStatus uint8

const (
	// Available regions hold no live allocation. They may have a cached
	// BackendHandle left over from a prior Release.
	Available RegionStatus = iota
	// InUse regions are held by exactly one live allocation (usageCount > 0).
	InUse
	// Dedicated regions occupy an entire block allocated specifically for
	// them; like InUse, but never split and never coalesced.
	Dedicated
	// Purgeable regions are available for placement and coalescing like
	// Available, but collect() eagerly frees their backend handle instead
	// of leaving it cached. See MarkPurgeable.
	Purgeable
)

func (s RegionStatus) String() string {
	switch s {
	case Available:
		return "Available"
	case InUse:
		return "InUse"
	case Dedicated:
		return "Dedicated"
	case Purgeable:
		return "Purgeable"
	default:
		return "Unknown"
	}
}

// Region is a sub-range of a block handed out to a caller by Reserve. Its
// fields are private; callers interact with it only through Allocator's
// public methods and these read-only accessors.
type Region struct {
	id         RegionHandle
	handle     BackendHandle
	offset     int
	size       int
	properties MemoryProperties
	dedicated  bool
	isOwner    bool

	status     RegionStatus
	usageCount uint32

	block      *BlockResource
	prev, next *Region
}

// Offset returns the region's byte offset within its owning block.
func (r *Region) Offset() int { return r.offset }

// Size returns the region's size in bytes.
func (r *Region) Size() int { return r.size }

// Properties returns the region's memory properties.
func (r *Region) Properties() MemoryProperties { return r.properties }

// Dedicated reports whether this region occupies an entire block allocated
// specifically for it.
func (r *Region) Dedicated() bool { return r.dedicated }

// IsOwner reports whether this region currently owns (is responsible for
// freeing) its BackendHandle, as opposed to merely observing one.
func (r *Region) IsOwner() bool { return r.isOwner }

// BackendHandle returns the backend memory handle currently attached to
// this region, or nil if none is attached.
func (r *Region) BackendHandle() BackendHandle { return r.handle }

// Status returns the region's current state-machine status.
func (r *Region) Status() RegionStatus { return r.status }

// UsageCount returns the region's current retain count.
func (r *Region) UsageCount() uint32 { return r.usageCount }

// Block returns the BlockResource that owns this region.
func (r *Region) Block() *BlockResource { return r.block }
