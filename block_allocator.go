package suballoc

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/pkg/errors"
	"log/slog"
	"sync"

	"github.com/deviceruntime/suballoc/memutils"
)

// Allocator is the top-level entry point of this package: a two-level
// sub-allocator that tiles a growable set of backend MemoryBlocks with
// Regions, routing requests across blocks and growing or evicting them
// as needed.
type Allocator struct {
	mu             sync.Mutex
	config         Config
	allocators     MemoryAllocators
	blocks         []*BlockResource
	nextID         int
	nextGeneration uint64
}

// New validates config and callbacks and returns a ready-to-use Allocator.
// It does not allocate any backend block up front; the first block is
// created lazily by the first Reserve call.
func New(config Config, allocators MemoryAllocators) (*Allocator, error) {
	config = config.withDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}
	if err := allocators.validate(); err != nil {
		return nil, err
	}

	return &Allocator{
		config:     config,
		allocators: allocators,
	}, nil
}

// Reserve finds or creates a Region satisfying request. It first scans
// existing blocks in creation order, then grows a new block if none fit
// and MaximumBlockCount allows it.
func (a *Allocator) Reserve(request MemoryRequest) (*Region, error) {
	if !request.Valid() {
		panic(newInvalidError("invalid MemoryRequest: %+v", request))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if request.Dedicated {
		return a.reserveDedicated(request)
	}

	for _, block := range a.blocks {
		if block.memory.Dedicated {
			continue
		}
		region, err := block.allocator.reserve(request)
		if err != nil {
			return nil, err
		}
		if region != nil {
			block.generation = a.bumpGeneration()
			return region, nil
		}
	}

	block, err := a.growBlock(request)
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, errors.Wrap(ErrNoFit, "no existing block fits and growth is disallowed by configuration")
	}
	if block.memory.Dedicated {
		request.Dedicated = true
	}

	region, err := block.allocator.reserve(request)
	if err != nil {
		return nil, err
	}
	if region == nil {
		return nil, errors.Wrap(ErrOutOfMemory, "newly grown block unexpectedly could not satisfy request")
	}
	return region, nil
}

func (a *Allocator) reserveDedicated(request MemoryRequest) (*Region, error) {
	block, err := a.createBlock(request.Size, request.Properties, true)
	if err != nil {
		return nil, err
	}
	region, err := block.allocator.reserve(request)
	if err != nil {
		return nil, err
	}
	if region == nil {
		return nil, errors.Wrap(ErrOutOfMemory, "dedicated block could not satisfy request")
	}
	return region, nil
}

// growBlock creates a new block sized to comfortably fit request, honoring
// MinimumBlockSize/MaximumBlockSize/NearestMultiple, evicting the
// least-recently-used empty block first if MaximumBlockCount has been
// reached. A request bigger than MaximumBlockSize is promoted to a
// dedicated block sized to the request itself rather than rejected. It
// returns (nil, nil) only if growth is disallowed by MaximumBlockCount
// and no empty block could be evicted to make room.
func (a *Allocator) growBlock(request MemoryRequest) (*BlockResource, error) {
	if a.config.MaximumBlockCount != 0 && uint32(len(a.blocks)) >= a.config.MaximumBlockCount {
		if !a.evictOldestEmptyBlock() {
			return nil, nil
		}
	}

	size := roundToNearestMultiple(a.config.MinimumBlockSize, a.config.NearestMultiple)
	if uint64(request.Size) > size {
		size = roundToNearestMultiple(uint64(request.Size), a.config.NearestMultiple)
	}
	if a.config.MaximumBlockSize != 0 && size > a.config.MaximumBlockSize {
		if uint64(request.Size) > a.config.MaximumBlockSize {
			// The request itself exceeds the configured cap: promote it to a
			// dedicated block sized to the request verbatim (not rounded),
			// rather than failing it outright.
			return a.createBlock(request.Size, request.Properties, true)
		}
		size = a.config.MaximumBlockSize
	}

	return a.createBlock(int(size), request.Properties, false)
}

func (a *Allocator) createBlock(size int, properties MemoryProperties, dedicated bool) (*BlockResource, error) {
	memory := MemoryBlock{Size: size, Properties: properties, Dedicated: dedicated}
	if err := a.allocators.Block.Allocate(a.allocators.UserCtx, &memory); err != nil {
		return nil, errors.Wrapf(ErrOutOfMemory, "block allocate callback failed: %v", err)
	}

	block := &BlockResource{memory: memory, id: a.nextID}
	a.nextID++
	newRegionAllocator(block, a.allocators, a.config.MinAllocationAlignment, a.config.Logger)
	block.generation = a.bumpGeneration()

	a.blocks = append(a.blocks, block)
	a.config.Logger.Debug("allocator.createBlock",
		slog.Int("id", block.id), slog.Int("size", size), slog.Bool("dedicated", dedicated))
	return block, nil
}

func (a *Allocator) bumpGeneration() uint64 {
	a.nextGeneration++
	return a.nextGeneration
}

// evictOldestEmptyBlock frees the least-recently-used empty block (the one
// with the oldest generation) and returns whether one was found.
func (a *Allocator) evictOldestEmptyBlock() bool {
	oldestIdx := -1
	for i, block := range a.blocks {
		if !block.IsEmpty() {
			continue
		}
		if oldestIdx == -1 || block.generation < a.blocks[oldestIdx].generation {
			oldestIdx = i
		}
	}
	if oldestIdx == -1 {
		return false
	}

	block := a.blocks[oldestIdx]
	block.allocator.destroy()
	if err := a.allocators.Block.Deallocate(a.allocators.UserCtx, &block.memory); err != nil {
		panic(errors.Wrap(err, "suballoc: block deallocate callback failed unexpectedly").Error())
	}

	a.blocks = append(a.blocks[:oldestIdx], a.blocks[oldestIdx+1:]...)
	return true
}

// Release decrements region's usage count, and if it reaches zero marks the
// region Available while leaving its backend handle cached for reuse. It
// does not free backend memory; see Reclaim for that.
func (a *Allocator) Release(region *Region) {
	a.mu.Lock()
	defer a.mu.Unlock()
	region.block.allocator.release(region)
}

// Reclaim decrements region's usage count, and if it reaches zero frees its
// backend handle and attempts to coalesce it with adjacent free regions.
func (a *Allocator) Reclaim(region *Region) {
	a.mu.Lock()
	defer a.mu.Unlock()
	region.block.allocator.reclaim(region)
	a.collectEmptyDedicatedOrOversizedBlock(region.block)
}

// collectEmptyDedicatedOrOversizedBlock frees a dedicated block's backend
// memory outright once its sole region is reclaimed, since a Dedicated
// block is never reused for another allocation.
func (a *Allocator) collectEmptyDedicatedOrOversizedBlock(block *BlockResource) {
	if !block.memory.Dedicated || !block.IsEmpty() {
		return
	}
	for i, candidate := range a.blocks {
		if candidate == block {
			block.allocator.destroy()
			if err := a.allocators.Block.Deallocate(a.allocators.UserCtx, &block.memory); err != nil {
				panic(errors.Wrap(err, "suballoc: block deallocate callback failed unexpectedly").Error())
			}
			a.blocks = append(a.blocks[:i], a.blocks[i+1:]...)
			return
		}
	}
}

// Retain increments region's usage count, keeping it InUse/Dedicated
// through a matching number of future Release/Reclaim calls.
func (a *Allocator) Retain(region *Region) {
	a.mu.Lock()
	defer a.mu.Unlock()
	region.block.allocator.retain(region)
}

// ReleaseAll marks every region in every block Available, ignoring usage
// counts, without freeing any backend memory. It is for callers that
// track allocation lifetime externally (e.g. a per-frame arena) and want
// to reset in bulk rather than call Release once per outstanding region.
func (a *Allocator) ReleaseAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, block := range a.blocks {
		block.allocator.releaseAll()
	}
}

// MarkPurgeable transitions an unreferenced Available region to Purgeable.
func (a *Allocator) MarkPurgeable(region *Region) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return region.block.allocator.markPurgeable(region)
}

// Collect runs opportunistic coalescing and Purgeable-handle collection
// across every block, returning whether at least one coalesce occurred.
// Freeing a Purgeable region's handle without a coalesce is not reported.
func (a *Allocator) Collect() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	changed := false
	for _, block := range a.blocks {
		if block.allocator.collect() {
			changed = true
		}
	}
	return changed
}

// Destroy tears down every block, freeing all backend memory unconditionally.
// The Allocator must not be used afterward.
func (a *Allocator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, block := range a.blocks {
		block.allocator.destroy()
		if err := a.allocators.Block.Deallocate(a.allocators.UserCtx, &block.memory); err != nil {
			panic(errors.Wrap(err, "suballoc: block deallocate callback failed unexpectedly").Error())
		}
	}
	a.blocks = nil
}

// Statistics aggregates basic accounting across every block.
func (a *Allocator) Statistics() memutils.Statistics {
	a.mu.Lock()
	defer a.mu.Unlock()

	var stats memutils.Statistics
	for _, block := range a.blocks {
		block.allocator.addStatistics(&stats)
	}
	return stats
}

// DetailedStatistics aggregates min/max region-size accounting across every
// block, for diagnostics.
func (a *Allocator) DetailedStatistics() memutils.DetailedStatistics {
	a.mu.Lock()
	defer a.mu.Unlock()

	var stats memutils.DetailedStatistics
	stats.Clear()
	for _, block := range a.blocks {
		block.allocator.addDetailedStatistics(&stats)
	}
	return stats
}

// Validate checks every block's internal invariants. It is exposed so
// callers can assert consistency in their own tests without needing the
// debug_mem_utils build tag.
func (a *Allocator) Validate() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, block := range a.blocks {
		if err := block.allocator.Validate(); err != nil {
			return cerrors.Wrapf(err, "block %d", block.id)
		}
	}
	return nil
}
