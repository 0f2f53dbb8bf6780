package checker

import (
	"bytes"
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Xinyue-Yang/Memory-Allocator/internal/arena"
	"github.com/Xinyue-Yang/Memory-Allocator/internal/block"
	"github.com/Xinyue-Yang/Memory-Allocator/internal/freelist"
	"github.com/Xinyue-Yang/Memory-Allocator/internal/placement"
)

// freshHeap builds a minimal, valid heap: prologue, one free block
// spanning placement.ChunkSize bytes, and an epilogue, the same shape
// pkg/allocator.Init produces.
func freshHeap(t *testing.T) (*arena.Fixed, *freelist.Index, *bytes.Buffer) {
	t.Helper()
	a := arena.NewFixed(1 << 20)

	addr, ok := a.Extend(2 * block.WordSize)
	require.True(t, ok)
	block.WritePrologueFooter(addr)
	block.WriteEpilogue(addr + block.WordSize)

	idx := &freelist.Index{}
	require.NotEqual(t, uintptr(0), placement.ExtendHeap(a, idx, placement.ChunkSize))

	return a, idx, &bytes.Buffer{}
}

func newHeapHandle(a *arena.Fixed, idx *freelist.Index, level Level, out *bytes.Buffer) *Heap {
	return &Heap{
		Arena:     a,
		Index:     idx,
		HeapStart: a.Lo() + block.WordSize,
		Level:     level,
		Out:       out,
	}
}

func TestCheckPassesOnFreshHeap(t *testing.T) {
	a, idx, out := freshHeap(t)
	h := newHeapHandle(a, idx, Verbose, out)

	assert.True(t, Check(h, 0))
}

func TestCheckFailsOnCorruptedPrologue(t *testing.T) {
	a, idx, out := freshHeap(t)
	h := newHeapHandle(a, idx, ErrorLevel, out)

	block.WriteBlock(a.Lo(), 16, true) // corrupt: prologue should be zero-size

	assert.False(t, Check(h, 0))
	assert.Contains(t, out.String(), "prologue")
}

func TestCheckFailsOnMisalignedSize(t *testing.T) {
	a, idx, out := freshHeap(t)
	h := newHeapHandle(a, idx, ErrorLevel, out)

	blk := h.HeapStart
	idx.Remove(blk)
	block.WriteBlock(blk, block.Size(blk)-8, false) // misaligned

	assert.False(t, Check(h, 0))
}

func TestCheckFailsOnHeaderFooterMismatch(t *testing.T) {
	a, idx, out := freshHeap(t)
	h := newHeapHandle(a, idx, ErrorLevel, out)

	blk := h.HeapStart
	footerAddr := block.FooterAddr(blk, block.Size(blk))
	bad := block.Pack(block.Size(blk)-16, false)
	binary.LittleEndian.PutUint64(unsafe.Slice((*byte)(unsafe.Pointer(footerAddr)), 8), bad)

	assert.False(t, Check(h, 0))
	assert.Contains(t, out.String(), "header/footer mismatch")
}

func TestCheckFailsOnAdjacentFreeBlocks(t *testing.T) {
	a, idx, out := freshHeap(t)
	h := newHeapHandle(a, idx, ErrorLevel, out)

	blk := h.HeapStart
	total := block.Size(blk)
	idx.Remove(blk)
	block.WriteBlock(blk, 64, false)
	next := block.Next(blk)
	block.WriteBlock(next, total-64, false)
	// Two adjacent free blocks that were never coalesced.
	idx.Insert(blk)
	idx.Insert(next)

	assert.False(t, Check(h, 0))
	assert.Contains(t, out.String(), "coalescing failed")
}

func TestCheckFailsOnFreeListMembershipMismatch(t *testing.T) {
	a, idx, out := freshHeap(t)
	h := newHeapHandle(a, idx, ErrorLevel, out)

	blk := h.HeapStart
	idx.Remove(blk)
	block.WriteBlock(blk, block.Size(blk), true) // now allocated...
	idx.Insert(blk)                              // ...but still listed as free

	assert.False(t, Check(h, 0))
	assert.Contains(t, out.String(), "marked allocated")
}

func TestCheckFailsOnWrongSizeClass(t *testing.T) {
	a, idx, out := freshHeap(t)
	h := newHeapHandle(a, idx, ErrorLevel, out)

	blk := h.HeapStart
	originalSize := block.Size(blk)
	require.Equal(t, 8, freelist.ClassOf(originalSize))

	// Relabel the block to a size in a different class, insert it
	// there, then restore its real size without touching the list:
	// the block is now linked in a class that disagrees with its
	// header.
	idx.Remove(blk)
	block.WriteBlock(blk, 64, false)
	require.Equal(t, 2, freelist.ClassOf(64))
	idx.Insert(blk)
	block.WriteBlock(blk, originalSize, false)

	assert.False(t, Check(h, 0))
	assert.Contains(t, out.String(), "belongs in class")
}

func TestRequireAndEnsureHeapOnlyPanicAtTraceLevel(t *testing.T) {
	a, idx, out := freshHeap(t)

	quiet := newHeapHandle(a, idx, ErrorLevel, out)
	assert.NotPanics(t, func() { RequireHeap(quiet, 0) })
	assert.NotPanics(t, func() { EnsureHeap(quiet, 0) })

	loud := newHeapHandle(a, idx, Trace, out)
	assert.NotPanics(t, func() { RequireHeap(loud, 0) }, "a valid heap must not panic even at Trace")

	blk := loud.HeapStart
	idx.Remove(blk)
	block.WriteBlock(blk, block.Size(blk)-8, false)

	assert.Panics(t, func() { EnsureHeap(loud, 0) })
}
