// Package checker implements the allocator's structural invariant
// audit: a pure, O(n), side-effect-free traversal of every block and
// every free list, used to assert spec.md §3's seven invariants.
package checker

import (
	"fmt"
	"io"
	"os"

	"github.com/Xinyue-Yang/Memory-Allocator/internal/allocerr"
	"github.com/Xinyue-Yang/Memory-Allocator/internal/arena"
	"github.com/Xinyue-Yang/Memory-Allocator/internal/block"
	"github.com/Xinyue-Yang/Memory-Allocator/internal/freelist"
)

// Level controls how much diagnostic output the checker and the
// allocator's debug assertions produce. It is the Go-idiomatic
// translation of spec.md §6's DEBUG compile-time option: a runtime
// knob rather than a build tag, matching how the teacher gates its own
// diagnostics (internal/wasm/debug.go's DebugLevel).
type Level int

const (
	// Off disables all diagnostic output and debug assertions.
	Off Level = iota
	// ErrorLevel logs only invariant violations found by Check.
	ErrorLevel
	// Verbose additionally logs each block visited during Check.
	Verbose
	// Trace additionally enables RequireHeap/EnsureHeap, running
	// Check at the start and end of every public allocator call.
	Trace
)

// Heap bundles what Check needs to audit a live heap, without
// depending on pkg/allocator (which would create an import cycle,
// since pkg/allocator depends on this package).
type Heap struct {
	Arena     arena.Interface
	Index     *freelist.Index
	HeapStart uintptr // address of the first real block (Arena.Lo()+8)
	Level     Level
	Out       io.Writer // diagnostic sink; defaults to os.Stderr if nil
}

func (h *Heap) writer() io.Writer {
	if h.Out != nil {
		return h.Out
	}
	return os.Stderr
}

func (h *Heap) logf(format string, args ...any) {
	if h.Level < ErrorLevel {
		return
	}
	fmt.Fprintf(h.writer(), format, args...)
}

// violation builds an *allocerr.Error describing the invariant broken
// at addr and, at h.Level >= ErrorLevel, writes its formatted text to
// h's diagnostic sink. It always returns false, so every failing check
// below reads as `return h.violation(...)`.
func (h *Heap) violation(addr uintptr, format string, args ...any) bool {
	if h.Level >= ErrorLevel {
		err := allocerr.Invariant(addr, fmt.Sprintf(format, args...))
		fmt.Fprintln(h.writer(), err.Error())
	}
	return false
}

// Check audits the heap against spec.md §3's invariants: alignment and
// boundary-tag consistency for every block, no adjacent free blocks,
// sentinels at both ends, free-list soundness, class correctness, and
// pointer containment. It has no side effects. lineHint is included in
// diagnostic output only.
func Check(h *Heap, lineHint int) bool {
	if !checkSentinel(h, h.Arena.Lo(), "prologue") {
		return false
	}
	epilogue := h.Arena.Hi() - block.WordSize + 1
	if !checkSentinel(h, epilogue, "epilogue") {
		return false
	}

	if !checkBlocks(h, epilogue, lineHint) {
		return false
	}
	if !checkFreeLists(h, lineHint) {
		return false
	}
	return true
}

func checkSentinel(h *Heap, addr uintptr, name string) bool {
	w := block.Header(addr)
	if block.SizeOf(w) != 0 {
		return h.violation(addr, "%s sentinel has nonzero size", name)
	}
	if !block.AllocOf(w) {
		return h.violation(addr, "%s sentinel is not marked allocated", name)
	}
	if addr < h.Arena.Lo() || addr > h.Arena.Hi() {
		return h.violation(addr, "%s sentinel is outside the arena", name)
	}
	return true
}

func checkBlocks(h *Heap, epilogue uintptr, lineHint int) bool {
	for cur := h.HeapStart; cur != epilogue; cur = block.Next(cur) {
		size := block.Size(cur)
		if size == 0 {
			return h.violation(cur, "checkheap(line %d): block has zero size before the epilogue", lineHint)
		}
		if !checkBlock(h, cur, lineHint) {
			return false
		}
	}
	return true
}

func checkBlock(h *Heap, blk uintptr, lineHint int) bool {
	size := block.Size(blk)
	alloc := block.Alloc(blk)
	footer := block.Footer(blk, size)
	header := block.Header(blk)

	if h.Level >= Verbose {
		h.logf("checkheap: block 0x%x size=%d alloc=%v\n", blk, size, alloc)
	}

	if size%uint64(block.Align) != 0 {
		return h.violation(blk, "checkheap(line %d): size %d is not 16-byte aligned", lineHint, size)
	}
	if header != footer {
		return h.violation(blk, "checkheap(line %d): header/footer mismatch", lineHint)
	}

	if !alloc {
		prev := block.Prev(blk)
		next := block.Next(blk)
		if prev != 0 && !block.Alloc(prev) {
			return h.violation(blk, "checkheap(line %d): has a free predecessor — coalescing failed", lineHint)
		}
		if !block.Alloc(next) {
			return h.violation(blk, "checkheap(line %d): has a free successor — coalescing failed", lineHint)
		}
	}

	return true
}

func checkFreeLists(h *Heap, lineHint int) bool {
	for i := 0; i < freelist.NumClasses; i++ {
		ok := true
		h.Index.Walk(i, func(blk uintptr) bool {
			if !checkFreeBlock(h, blk, i, lineHint) {
				ok = false
				return false
			}
			return true
		})
		if !ok {
			return false
		}
	}
	return true
}

func checkFreeBlock(h *Heap, blk uintptr, class int, lineHint int) bool {
	if block.Alloc(blk) {
		return h.violation(blk, "checkheap(line %d): is marked allocated but is in free list %d", lineHint, class)
	}
	if !arena.InBounds(h.Arena, blk, block.WordSize) {
		return h.violation(blk, "checkheap(line %d): is outside the arena", lineHint)
	}

	pred := freelist.Pred(blk)
	succ := freelist.Succ(blk)
	if pred != 0 && freelist.Succ(pred) != blk {
		return h.violation(blk, "checkheap(line %d): has an inconsistent predecessor link", lineHint)
	}
	if succ != 0 && freelist.Pred(succ) != blk {
		return h.violation(blk, "checkheap(line %d): has an inconsistent successor link", lineHint)
	}

	want := freelist.ClassOf(block.Size(blk))
	if want != class {
		return h.violation(blk, "checkheap(line %d): belongs in class %d, found in class %d", lineHint, want, class)
	}

	return true
}

// RequireHeap is the Go analogue of mm.c's dbg_requires(mm_checkheap(...)):
// a precondition check that only runs when h.Level is Trace.
func RequireHeap(h *Heap, lineHint int) {
	if h.Level >= Trace {
		if !Check(h, lineHint) {
			panic(fmt.Sprintf("allocator: heap invariant violated on entry (line %d)", lineHint))
		}
	}
}

// EnsureHeap is the Go analogue of mm.c's dbg_ensures(mm_checkheap(...)):
// a postcondition check that only runs when h.Level is Trace.
func EnsureHeap(h *Heap, lineHint int) {
	if h.Level >= Trace {
		if !Check(h, lineHint) {
			panic(fmt.Sprintf("allocator: heap invariant violated on exit (line %d)", lineHint))
		}
	}
}
