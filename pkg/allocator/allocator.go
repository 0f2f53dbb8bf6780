// Package allocator is the allocator's public API: Init, Malloc, Free,
// Realloc, Calloc, and CheckHeap, exactly as specified by spec.md §4.4
// and §6.
//
// Allocator is the Go-idiomatic stand-in for spec.md §5's single,
// process-wide heap: one instance plays the role the reference's
// global arrays (heap_start, segregated_list) play, but as an
// explicit, constructible, testable value rather than package-level
// state. The allocator is single-client and not reentrant, matching
// spec.md §5 — callers needing multi-threaded use must serialize
// externally.
//
// Every method's primary return stays sentinel-only (nil pointer,
// false bool), per spec.md §7; LastError is a secondary, optional
// accessor onto the *allocerr.Error describing why the most recent
// call failed, for diagnostics and tests, not for control flow.
package allocator

import (
	"io"
	"unsafe"

	"github.com/Xinyue-Yang/Memory-Allocator/internal/allocerr"
	"github.com/Xinyue-Yang/Memory-Allocator/internal/arena"
	"github.com/Xinyue-Yang/Memory-Allocator/internal/block"
	"github.com/Xinyue-Yang/Memory-Allocator/internal/checker"
	"github.com/Xinyue-Yang/Memory-Allocator/internal/freelist"
	"github.com/Xinyue-Yang/Memory-Allocator/internal/placement"
)

// DefaultCapacity bounds how large the arena is allowed to grow, in
// the absence of an explicit Config.Capacity. It is deliberately
// generous (64MiB) so realistic traces never hit it in practice, the
// same role CS:APP's mm.c gives its own fixed-size heap array.
const DefaultCapacity = 64 << 20

// Config configures a new Allocator. A zero Config is valid: Capacity
// defaults to DefaultCapacity and DebugLevel defaults to checker.Off.
type Config struct {
	// Capacity is the maximum number of bytes the arena may ever grow
	// to. Extend fails once it is exhausted.
	Capacity int

	// DebugLevel gates invariant-checking diagnostics and, at
	// checker.Trace, runs CheckHeap on entry/exit of every public
	// method (spec.md §6's DEBUG option).
	DebugLevel checker.Level

	// Output receives diagnostic text when DebugLevel >= checker.ErrorLevel.
	// Defaults to os.Stderr.
	Output io.Writer
}

// DefaultConfig returns the Config a zero-value New() would use.
func DefaultConfig() Config {
	return Config{Capacity: DefaultCapacity, DebugLevel: checker.Off}
}

// Allocator is a single heap instance: one arena, one free-list index,
// and the bookkeeping needed to service malloc/free/realloc/calloc.
type Allocator struct {
	arena       *arena.Fixed
	idx         *freelist.Index
	initialized bool
	level       checker.Level
	out         io.Writer

	// lastErr records the *allocerr.Error behind the most recent
	// failed operation, or nil if that operation succeeded. The
	// public methods below never return it directly — spec.md §7
	// keeps Init/Malloc/Free/Realloc/Calloc sentinel-only (nil/false)
	// — it is purely an optional diagnostic surfaced through
	// LastError, for callers or tests that want to know *why* a
	// sentinel came back.
	lastErr *allocerr.Error
}

// LastError returns the structured error behind the most recent failed
// operation on a, or nil if that operation succeeded. It is a
// diagnostic accessor only: callers must still branch on the public
// methods' sentinel returns (nil pointers, false booleans) to detect
// failure in the first place.
func (a *Allocator) LastError() *allocerr.Error {
	return a.lastErr
}

// New constructs an Allocator and reserves its arena's backing store.
// The heap itself (sentinels and first chunk) is not laid out until
// Init, which Malloc calls implicitly on first use (spec.md §4.4:
// "malloc detects the uninitialized state and calls init").
func New(cfg Config) *Allocator {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	return &Allocator{
		arena: arena.NewFixed(cfg.Capacity),
		idx:   &freelist.Index{},
		level: cfg.DebugLevel,
		out:   cfg.Output,
	}
}

func (a *Allocator) heap() *checker.Heap {
	return &checker.Heap{
		Arena:     a.arena,
		Index:     a.idx,
		HeapStart: a.heapStart(),
		Level:     a.level,
		Out:       a.out,
	}
}

func (a *Allocator) heapStart() uintptr {
	return a.arena.Lo() + block.WordSize
}

// Init grows the arena by 16 bytes for the prologue footer and
// epilogue header sentinels, then extends by placement.ChunkSize.
// Returns false on arena failure. Init is not idempotent: a second
// call lays out another prologue and epilogue after the existing heap,
// and the heap then fails CheckHeap. Malloc's implicit lazy Init runs
// it only once.
func (a *Allocator) Init() bool {
	a.lastErr = nil

	addr, ok := a.arena.Extend(2 * block.WordSize)
	if !ok {
		a.lastErr = allocerr.Exhausted(2 * block.WordSize)
		return false
	}
	block.WritePrologueFooter(addr)
	block.WriteEpilogue(addr + block.WordSize)

	a.idx = &freelist.Index{}

	if placement.ExtendHeap(a.arena, a.idx, placement.ChunkSize) == 0 {
		a.lastErr = allocerr.Exhausted(placement.ChunkSize)
		return false
	}

	a.initialized = true
	return true
}

// Malloc allocates a payload of at least size bytes, 16-byte aligned.
// Returns nil if size is 0 or the arena is exhausted.
func (a *Allocator) Malloc(size uint64) unsafe.Pointer {
	a.lastErr = nil

	if !a.initialized {
		if !a.Init() {
			return nil
		}
	}
	checker.RequireHeap(a.heap(), 0)

	if size == 0 {
		checker.EnsureHeap(a.heap(), 0)
		return nil
	}

	asize := block.RoundUp(size+2*block.WordSize, uint64(block.Align))

	blk := placement.FindFit(a.idx, asize)
	if blk == 0 {
		extendSize := asize
		if extendSize < placement.ChunkSize {
			extendSize = placement.ChunkSize
		}
		blk = placement.ExtendHeap(a.arena, a.idx, extendSize)
		if blk == 0 {
			a.lastErr = allocerr.Exhausted(extendSize)
			checker.EnsureHeap(a.heap(), 0)
			return nil
		}
	}

	a.idx.Remove(blk)
	block.WriteBlock(blk, block.Size(blk), true)
	placement.SplitBlock(a.idx, blk, asize)

	checker.EnsureHeap(a.heap(), 0)
	return unsafe.Pointer(block.PayloadOf(blk))
}

// Free releases ptr, a pointer previously returned by Malloc/Realloc/
// Calloc on this Allocator. ptr == nil is a no-op. Freeing any other
// pointer is undefined behavior, per spec.md §1; Free only catches the
// one case it can detect cheaply (ptr outside the arena entirely) and
// turns it into a recorded Misuse error plus a no-op rather than
// corrupting arbitrary memory.
func (a *Allocator) Free(ptr unsafe.Pointer) {
	a.lastErr = nil

	if ptr == nil {
		return
	}
	if !arena.InBounds(a.arena, uintptr(ptr), 1) {
		a.lastErr = allocerr.Misuse(uintptr(ptr), "pointer is outside this allocator's arena")
		return
	}
	checker.RequireHeap(a.heap(), 0)

	blk := block.BlockOf(uintptr(ptr))
	block.WriteBlock(blk, block.Size(blk), false)
	blk = placement.CoalesceBlock(a.idx, blk)
	a.idx.Insert(blk)

	checker.EnsureHeap(a.heap(), 0)
}

// Realloc resizes the allocation at ptr to size bytes, copying
// min(size, old payload size) bytes into a freshly allocated block. It
// never attempts in-place growth (spec.md §4.4/§9). size == 0 is
// equivalent to Free(ptr) followed by returning nil; ptr == nil is
// equivalent to Malloc(size).
func (a *Allocator) Realloc(ptr unsafe.Pointer, size uint64) unsafe.Pointer {
	if size == 0 {
		a.Free(ptr)
		return nil
	}
	if ptr == nil {
		return a.Malloc(size)
	}

	oldBlk := block.BlockOf(uintptr(ptr))
	oldPayloadSize := block.PayloadSize(oldBlk)

	newPtr := a.Malloc(size)
	if newPtr == nil {
		return nil
	}

	copySize := size
	if oldPayloadSize < copySize {
		copySize = oldPayloadSize
	}
	arena.Copy(uintptr(newPtr), uintptr(ptr), int(copySize))

	a.Free(ptr)
	return newPtr
}

// Calloc allocates space for n elements of size bytes each, zeroed.
// Returns nil if n == 0 or n*size overflows uint64, checked before any
// allocation is attempted.
func (a *Allocator) Calloc(n, size uint64) unsafe.Pointer {
	a.lastErr = nil

	if n == 0 {
		return nil
	}
	total := n * size
	if size != 0 && total/size != n {
		a.lastErr = allocerr.Overflow(n, size)
		return nil
	}

	ptr := a.Malloc(total)
	if ptr == nil {
		return nil
	}
	arena.Fill(uintptr(ptr), 0, int(total))
	return ptr
}

// CheckHeap runs the structural invariant audit (spec.md §4.5) and
// returns whether the heap is well-formed. lineHint is included in any
// diagnostic output when the configured DebugLevel is >= checker.ErrorLevel.
func (a *Allocator) CheckHeap(lineHint int) bool {
	return checker.Check(a.heap(), lineHint)
}

// defaultAllocator backs the package-level Malloc/Free/Realloc/Calloc/
// CheckHeap wrappers below, for callers that want literal
// malloc/free-style globals rather than an explicit Allocator value.
// Its own heap (the prologue/epilogue sentinels and first chunk) is
// still only materialized on first use, via Malloc's lazy Init.
var defaultAllocator = New(DefaultConfig())

// Malloc calls Malloc on the package-level default Allocator.
func Malloc(size uint64) unsafe.Pointer { return defaultAllocator.Malloc(size) }

// Free calls Free on the package-level default Allocator.
func Free(ptr unsafe.Pointer) { defaultAllocator.Free(ptr) }

// Realloc calls Realloc on the package-level default Allocator.
func Realloc(ptr unsafe.Pointer, size uint64) unsafe.Pointer {
	return defaultAllocator.Realloc(ptr, size)
}

// Calloc calls Calloc on the package-level default Allocator.
func Calloc(n, size uint64) unsafe.Pointer { return defaultAllocator.Calloc(n, size) }

// CheckHeap calls CheckHeap on the package-level default Allocator.
func CheckHeap(lineHint int) bool { return defaultAllocator.CheckHeap(lineHint) }
