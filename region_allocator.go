package suballoc

import (
	"fmt"

	"github.com/dolthub/swiss"
	"github.com/pkg/errors"
	"log/slog"

	"github.com/deviceruntime/suballoc/arena"
	"github.com/deviceruntime/suballoc/memutils"
)

// regionAllocator owns exactly one BlockResource and the doubly-linked
// region list tiling it: reserve, release, reclaim, retain, collect,
// split, coalesce, destroy. It manages a single block; multi-block
// orchestration is Allocator's job (block_allocator.go).
type regionAllocator struct {
	block                  *BlockResource
	arena                  *arena.Arena[Region]
	owned                  *swiss.Map[*Region, struct{}]
	allocators             MemoryAllocators
	minAllocationAlignment uint
	logger                 *slog.Logger
	nextID                 RegionHandle
}

func newRegionAllocator(block *BlockResource, allocators MemoryAllocators, minAllocationAlignment uint, logger *slog.Logger) *regionAllocator {
	if minAllocationAlignment == 0 {
		minAllocationAlignment = 1
	}

	ra := &regionAllocator{
		block:                  block,
		arena:                  arena.New[Region](arena.DefaultChunkCapacity),
		owned:                  swiss.NewMap[*Region, struct{}](8),
		allocators:             allocators,
		minAllocationAlignment: minAllocationAlignment,
		logger:                 logger,
	}
	block.allocator = ra
	block.regions = ra.createRegion(block.memory.Properties, 0, block.memory.Size, block.memory.Dedicated)
	return ra
}

func (ra *regionAllocator) createRegion(properties MemoryProperties, offset, size int, dedicated bool) *Region {
	region := ra.arena.Reserve(true)
	region.id = ra.nextID
	ra.nextID++
	region.offset = offset
	region.size = size
	region.properties = properties
	region.dedicated = dedicated
	region.status = Available
	region.block = ra.block
	ra.owned.Put(region, struct{}{})
	return region
}

func (ra *regionAllocator) destroyRegionNode(region *Region) {
	ra.owned.Delete(region)
	ra.arena.Reclaim(region)
}

func (ra *regionAllocator) requireOwned(region *Region) {
	if region == nil {
		panic(newInvalidError("operation on a nil region"))
	}
	if _, ok := ra.owned.Get(region); !ok || region.block != ra.block {
		panic(newInvalidError("region %p is not owned by this allocator's block %d", region, ra.block.id))
	}
}

// reserve attempts to satisfy request from this block alone. A nil, nil
// result means the block cannot satisfy the request (too little remaining
// space, no compatible region, or nothing large enough) and the caller
// (Allocator) should try another block or grow. A non-nil error means a
// backend callback failed.
func (ra *regionAllocator) reserve(request MemoryRequest) (*Region, error) {
	if remaining := ra.block.memory.Size - ra.block.reserved; remaining < request.Size {
		return nil, nil
	}

	region := ra.findRegion(request)
	if region == nil {
		return nil, nil
	}

	alignment := conformAlignment(request.Alignment, ra.minAllocationAlignment)
	effectiveSize := alignedSize(region.offset, request.Size, alignment)

	if ra.canSplit(region, effectiveSize) {
		region = ra.split(region, request.Size, alignment)
	}

	if err := ra.allocBackendRegion(region, request.Dedicated); err != nil {
		return nil, errors.Wrapf(ErrOutOfMemory, "region allocate callback failed: %v", err)
	}

	region.usageCount = 1
	ra.block.reserved += region.size
	ra.block.generation++

	ra.logger.Debug("regionAllocator.reserve",
		slog.Int("offset", region.offset), slog.Int("size", region.size))

	memutils.DebugValidate(ra)
	return region, nil
}

// findRegion scans the region list front-to-back (first-fit-in-list-order)
// and returns the first Available-or-Purgeable, property-compatible
// region whose effective (alignment-conforming) size fits both the region
// and the block's remaining free space.
func (ra *regionAllocator) findRegion(request MemoryRequest) *Region {
	for region := ra.block.regions; region != nil; region = region.next {
		if !ra.isAvailable(region) {
			continue
		}
		if !request.Properties.CompatibleWith(region.properties) {
			continue
		}
		if request.Size > region.size {
			continue
		}

		alignment := conformAlignment(request.Alignment, ra.minAllocationAlignment)
		effectiveSize := alignedSize(region.offset, request.Size, alignment)
		if effectiveSize > region.size {
			continue
		}
		if effectiveSize+ra.block.reserved > ra.block.memory.Size {
			continue
		}
		return region
	}
	return nil
}

func (ra *regionAllocator) canSplit(region *Region, effectiveSize int) bool {
	return region.size > effectiveSize && region.usageCount == 0
}

// split carves region into a leading part of effective (aligned) size and
// a trailing Available region covering the remainder. The leading part's
// recorded size is the alignment-conforming effective size (not the raw
// requested size) so that the region list stays gapless and adjacent
// regions' offsets and sizes line up exactly, even when alignment padding
// is non-zero.
func (ra *regionAllocator) split(region *Region, size int, alignment uint) *Region {
	ra.freeHandleIfUnused(region)

	adjustedSize := alignedSize(region.offset, size, alignment)
	adjustedOffset := alignedOffset(region.offset+size, alignment)
	emptySize := region.size - adjustedSize

	next := region.next
	empty := ra.createRegion(region.properties, adjustedOffset, emptySize, region.dedicated)
	empty.next = next
	if next != nil {
		next.prev = empty
	}
	region.next = empty
	empty.prev = region
	region.size = adjustedSize

	return region
}

func (ra *regionAllocator) allocBackendRegion(region *Region, dedicated bool) error {
	if region.handle == nil {
		req := &MemoryRegionRequest{
			Offset:     region.offset,
			Size:       region.size,
			Properties: region.properties,
			Dedicated:  region.dedicated,
			Block:      ra.block.memory,
		}
		if err := ra.allocators.Region.Allocate(ra.allocators.UserCtx, req); err != nil {
			return err
		}
		region.handle = req.Handle
		region.isOwner = true
	}

	if dedicated {
		region.status = Dedicated
	} else {
		region.status = InUse
	}
	return nil
}

// freeHandleIfUnused frees region's cached backend handle via the
// region-deallocate callback, iff it is unreferenced and holds one. A
// deallocate callback failure is treated as a fatal invariant violation,
// since freeing already-allocated memory is not expected to fail in
// practice.
func (ra *regionAllocator) freeHandleIfUnused(region *Region) {
	if region.usageCount != 0 || region.handle == nil {
		return
	}

	req := &MemoryRegionRequest{
		Handle:     region.handle,
		Offset:     region.offset,
		Size:       region.size,
		Properties: region.properties,
		Dedicated:  region.dedicated,
		Block:      ra.block.memory,
	}
	if err := ra.allocators.Region.Deallocate(ra.allocators.UserCtx, req); err != nil {
		panic(fmt.Sprintf("suballoc: region deallocate callback failed unexpectedly: %+v", err))
	}
	region.handle = nil
	region.isOwner = false
}

func (ra *regionAllocator) release(region *Region) {
	ra.requireOwned(region)
	if region.usageCount > 0 {
		region.usageCount--
	}
	ra.releaseRegion(region)
	ra.block.generation++
	memutils.DebugValidate(ra)
}

// releaseRegion transitions region to Available if it is now unreferenced,
// adjusting block.reserved. The backend handle is deliberately left
// attached: this soft-free / cache-for-reuse behavior is what
// distinguishes Release from Reclaim.
func (ra *regionAllocator) releaseRegion(region *Region) {
	if region.usageCount > 0 {
		return
	}
	if region.status == InUse || region.status == Dedicated {
		ra.block.reserved -= region.size
	}
	region.status = Available
}

func (ra *regionAllocator) reclaim(region *Region) {
	ra.requireOwned(region)
	if region.usageCount > 0 {
		region.usageCount--
	}
	ra.releaseRegion(region)
	ra.freeHandleIfUnused(region)

	if ra.canCoalesce(region) {
		ra.coalesce(region)
	}
	ra.block.generation++
	memutils.DebugValidate(ra)
}

func (ra *regionAllocator) retain(region *Region) {
	ra.requireOwned(region)
	region.usageCount++
}

// markPurgeable moves an unreferenced Available region to Purgeable.
// Purgeable behaves like Available for placement and coalescing, but
// collect() eagerly frees its cached backend handle instead of leaving it
// attached for reuse.
func (ra *regionAllocator) markPurgeable(region *Region) error {
	ra.requireOwned(region)
	if region.usageCount != 0 || region.status != Available {
		return errors.New("suballoc: only an unreferenced Available region may be marked Purgeable")
	}
	region.status = Purgeable
	return nil
}

func (ra *regionAllocator) isAvailable(region *Region) bool {
	return region != nil && region.usageCount == 0 &&
		(region.status == Available || region.status == Purgeable)
}

func (ra *regionAllocator) canCoalesce(region *Region) bool {
	if !ra.isAvailable(region) {
		return false
	}
	return ra.isAvailable(region.prev) || ra.isAvailable(region.next)
}

// coalesce merges region with any Available/Purgeable neighbors, freeing
// every participating handle first since a merged region's offset/size no
// longer matches any handle that was cached against the smaller, original
// extents. Prev is merged first so the resulting node identity is prev
// when possible.
func (ra *regionAllocator) coalesce(region *Region) *Region {
	ra.freeHandleIfUnused(region)

	if ra.isAvailable(region.prev) {
		prev := region.prev
		ra.freeHandleIfUnused(prev)

		prev.next = region.next
		if region.next != nil {
			region.next.prev = prev
		}
		prev.size += region.size
		ra.destroyRegionNode(region)
		region = prev
	}

	if ra.isAvailable(region.next) {
		next := region.next
		ra.freeHandleIfUnused(next)

		if next.next != nil {
			next.next.prev = region
		}
		region.next = next.next
		region.size += next.size
		ra.destroyRegionNode(next)
	}

	region.status = Available
	return region
}

// collect opportunistically coalesces adjacent free regions across the
// whole block. It also eagerly frees the backend handle of any Purgeable
// region it visits, distinguishing Purgeable from the ordinary Available
// cache-for-reuse behavior. Returns true iff at least one coalesce
// occurred.
func (ra *regionAllocator) collect() bool {
	result := false
	for region := ra.block.regions; region != nil; {
		next := region.next

		if region.status == Purgeable {
			ra.freeHandleIfUnused(region)
		}

		if ra.canCoalesce(region) {
			merged := ra.coalesce(region)
			result = true
			next = merged.next
		}
		region = next
	}

	if result {
		ra.block.generation++
	}
	memutils.DebugValidate(ra)
	return result
}

// releaseAll marks every region Available and zeroes block.reserved.
// Backend memory is not freed. usageCount is reset to zero alongside
// status so a region never ends up with a positive usage count while
// marked Available.
func (ra *regionAllocator) releaseAll() {
	for region := ra.block.regions; region != nil; region = region.next {
		region.usageCount = 0
		region.status = Available
	}
	ra.block.reserved = 0
	ra.block.generation++
}

// destroy frees backend memory for every region regardless of its current
// status (this is unconditional teardown, not a graceful drain), reclaims
// every node through the arena, destroys the arena, and zeroes the
// block's region head and reserved count.
func (ra *regionAllocator) destroy() {
	for region := ra.block.regions; region != nil; {
		next := region.next
		region.usageCount = 0
		ra.freeHandleIfUnused(region)
		ra.destroyRegionNode(region)
		region = next
	}
	ra.block.reserved = 0
	ra.block.regions = nil
	ra.block.allocator = nil
	ra.arena.Destroy()
}

// Validate checks that the region list gaplessly covers the block, that
// adjacent regions' offsets and sizes line up, that usage count and
// status are consistent, and that the reserved-byte total matches the
// sum of InUse/Dedicated region sizes. It is expensive (O(regions)) and
// is only invoked automatically under the debug_mem_utils build tag via
// memutils.DebugValidate.
func (ra *regionAllocator) Validate() error {
	offset := 0
	reserved := 0

	for region := ra.block.regions; region != nil; region = region.next {
		if region.offset != offset {
			return errors.Errorf("region at expected offset %d actually starts at %d", offset, region.offset)
		}
		if region.size <= 0 {
			return errors.Errorf("region at offset %d has non-positive size %d", region.offset, region.size)
		}
		if region.usageCount > 0 && region.status != InUse && region.status != Dedicated {
			return errors.Errorf("region at offset %d has usageCount %d but status %s", region.offset, region.usageCount, region.status)
		}
		if region.status == InUse || region.status == Dedicated {
			reserved += region.size
		}

		offset += region.size
		if region.next != nil && region.next.offset != offset {
			return errors.Errorf("region at offset %d (size %d) is not adjacent to next region at offset %d", region.offset, region.size, region.next.offset)
		}
	}

	if offset != ra.block.memory.Size {
		return errors.Errorf("region list covers [0, %d) but block size is %d", offset, ra.block.memory.Size)
	}
	if reserved != ra.block.reserved {
		return errors.Errorf("summed InUse/Dedicated region bytes (%d) does not match block.reserved (%d)", reserved, ra.block.reserved)
	}
	return nil
}

func (ra *regionAllocator) addStatistics(stats *memutils.Statistics) {
	stats.BlockCount++
	stats.BlockBytes += ra.block.memory.Size
	for region := ra.block.regions; region != nil; region = region.next {
		if region.status == InUse || region.status == Dedicated {
			stats.AllocationCount++
			stats.AllocationBytes += region.size
		}
	}
}

func (ra *regionAllocator) addDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.BlockCount++
	stats.BlockBytes += ra.block.memory.Size
	for region := ra.block.regions; region != nil; region = region.next {
		if region.status == InUse || region.status == Dedicated {
			stats.AddAllocation(region.size)
		} else {
			stats.AddUnusedRange(region.size)
		}
	}
}
