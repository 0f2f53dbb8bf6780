// Package placement implements the allocator's placement policy:
// segregated first-fit search, splitting an over-large block on
// allocation, coalescing a freed block with its neighbors, and
// extending the heap on exhaustion.
package placement

import (
	"github.com/Xinyue-Yang/Memory-Allocator/internal/arena"
	"github.com/Xinyue-Yang/Memory-Allocator/internal/block"
	"github.com/Xinyue-Yang/Memory-Allocator/internal/freelist"
)

// ChunkSize is the default amount by which the heap is extended, both
// at init and whenever malloc finds no fit.
const ChunkSize = 1 << 12

// FindFit returns the first free block of size >= asize, scanning
// class_of(asize) head-to-tail and then advancing to the next class on
// exhaustion, up to the last class. Returns 0 if no class yields a
// fit. This is a segregated first-fit: first hit in the smallest
// admissible class, LIFO tie-breaking within a class.
func FindFit(idx *freelist.Index, asize uint64) uintptr {
	start := freelist.ClassOf(asize)
	var found uintptr
	for i := start; i < freelist.NumClasses; i++ {
		idx.Walk(i, func(blk uintptr) bool {
			if block.Size(blk) >= asize {
				found = blk
				return false
			}
			return true
		})
		if found != 0 {
			return found
		}
	}
	return 0
}

// SplitBlock splits blk (already written as allocated at its full
// size) into an allocated prefix of asize bytes and, if the remainder
// is at least block.MinBlockSize, a free suffix inserted into idx.
//
// The caller must have already marked blk allocated at its full size
// before calling SplitBlock; if the remainder is too small to split,
// this is a no-op and blk keeps its full size.
func SplitBlock(idx *freelist.Index, blk uintptr, asize uint64) {
	bs := block.Size(blk)
	if bs-asize < block.MinBlockSize {
		return
	}
	block.WriteBlock(blk, asize, true)
	rest := block.Next(blk)
	block.WriteBlock(rest, bs-asize, false)
	idx.Insert(rest)
}

// CoalesceBlock merges blk with any free immediate neighbors. blk must
// already be written as free, and must not yet be in any free list: it
// is called on a newly freed block before insertion, or on a block
// just produced by ExtendHeap. The returned block is the (possibly
// grown) block the caller must insert into idx.
//
// NULL (past the prologue) and the zero-size epilogue both count as
// allocated for this purpose, so edge blocks never appear to coalesce
// past the ends of the heap.
func CoalesceBlock(idx *freelist.Index, blk uintptr) uintptr {
	prev := block.Prev(blk)
	next := block.Next(blk)

	// The epilogue is always written with alloc=1, so next never
	// reads as free when blk is the last real block; no special case
	// is needed beyond the ordinary alloc-bit check.
	prevFree := prev != 0 && !block.Alloc(prev)
	nextFree := !block.Alloc(next)

	size := block.Size(blk)

	switch {
	case !prevFree && !nextFree:
		return blk

	case !prevFree && nextFree:
		idx.Remove(next)
		size += block.Size(next)
		block.WriteBlock(blk, size, false)
		return blk

	case prevFree && !nextFree:
		idx.Remove(prev)
		size += block.Size(prev)
		block.WriteBlock(prev, size, false)
		return prev

	default: // prevFree && nextFree
		idx.Remove(prev)
		idx.Remove(next)
		size += block.Size(prev) + block.Size(next)
		block.WriteBlock(prev, size, false)
		return prev
	}
}

// ExtendHeap grows the arena by at least size bytes (rounded up to a
// multiple of block.Align), writes a free block over the new space
// (overlaying the old epilogue), writes a fresh epilogue at the new
// high-water mark, coalesces with the previous last block if it was
// free, inserts the result into idx, and returns it. Returns 0 on
// arena exhaustion, leaving the heap unchanged.
//
// The new block reuses the address of the current epilogue rather
// than the fresh address Extend hands back: the epilogue's word is
// already committed arena space, and reusing it keeps every byte from
// HeapStart to the new epilogue covered by exactly one block, with no
// gap checkBlocks would trip over. Extend is still asked for `rounded`
// new bytes: rounded-WordSize of them extend the block past the old
// epilogue slot, and the remaining WordSize become the new epilogue.
func ExtendHeap(a arena.Interface, idx *freelist.Index, size uint64) uintptr {
	rounded := block.RoundUp(size, uint64(block.Align))

	blk := a.Hi() - block.WordSize + 1
	if _, ok := a.Extend(int(rounded)); !ok {
		return 0
	}

	block.WriteBlock(blk, rounded, false)

	epilogue := block.Next(blk)
	block.WriteEpilogue(epilogue)

	blk = CoalesceBlock(idx, blk)
	idx.Insert(blk)
	return blk
}
