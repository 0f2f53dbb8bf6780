package main

import (
	"flag"
	"fmt"
	"os"
	"unsafe"

	"github.com/Xinyue-Yang/Memory-Allocator/internal/checker"
	"github.com/Xinyue-Yang/Memory-Allocator/pkg/allocator"
)

func main() {
	capacity := flag.Int("capacity", allocator.DefaultCapacity, "arena capacity in bytes")
	debug := flag.Int("debug", int(checker.Off), "diagnostic level: 0=off 1=error 2=verbose 3=trace")
	requests := flag.Int("requests", 1000, "number of malloc/free pairs to run")
	blockSize := flag.Int("block-size", 64, "payload size per malloc, in bytes")
	flag.Parse()

	a := allocator.New(allocator.Config{
		Capacity:   *capacity,
		DebugLevel: checker.Level(*debug),
		Output:     os.Stderr,
	})

	ptrs := make([]unsafe.Pointer, 0, *requests)
	for i := 0; i < *requests; i++ {
		p := a.Malloc(uint64(*blockSize))
		if p == nil {
			fmt.Fprintf(os.Stderr, "allocbench: malloc failed after %d requests\n", i)
			os.Exit(1)
		}
		ptrs = append(ptrs, p)
		if i%2 == 1 {
			a.Free(ptrs[i-1])
		}
	}

	if !a.CheckHeap(0) {
		fmt.Fprintln(os.Stderr, "allocbench: heap failed its invariant check")
		os.Exit(1)
	}

	fmt.Printf("allocbench: %d requests of %d bytes completed, heap consistent\n", *requests, *blockSize)
}
