package plugin

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Allocator symbol names. All four are required.
const (
	AllocationInit   = "allocationInit"
	AllocationMalloc = "allocationMalloc"
	AllocationFree   = "allocationFree"
	AllocationClose  = "allocationClose"
)

// Allocator provides the vector buffers. Malloc returns size bytes starting
// offset bytes past an aligned base.
type Allocator interface {
	Init() error
	Malloc(size, offset int) []byte
	Free(buf []byte)
	Close() error
}

type libAllocator struct {
	init   func() error
	malloc func(int, int) []byte
	free   func([]byte)
	close  func() error
}

func (a *libAllocator) Init() error                    { return a.init() }
func (a *libAllocator) Malloc(size, offset int) []byte { return a.malloc(size, offset) }
func (a *libAllocator) Free(buf []byte)                { a.free(buf) }
func (a *libAllocator) Close() error                   { return a.close() }

// ResolveAllocator builds an allocator from a library. A missing hook is
// fatal because buffers cannot be managed by halves.
func ResolveAllocator(l Lookuper) (Allocator, error) {
	a := &libAllocator{}
	var err error
	if a.init, err = requiredHook[func() error](l, AllocationInit, "func() error"); err != nil {
		return nil, err
	}
	if a.malloc, err = requiredHook[func(int, int) []byte](l, AllocationMalloc, "func(size, offset int) []byte"); err != nil {
		return nil, err
	}
	if a.free, err = requiredHook[func([]byte)](l, AllocationFree, "func([]byte)"); err != nil {
		return nil, err
	}
	if a.close, err = requiredHook[func() error](l, AllocationClose, "func() error"); err != nil {
		return nil, err
	}
	return a, nil
}

// alignedAllocator maps anonymous pages so that every buffer starts on a page
// boundary before its offset is applied.
type alignedAllocator struct {
	pageSize int
	live     map[uintptr][]byte
}

// Aligned returns the built-in page-aligned allocator.
func Aligned() Allocator {
	return &alignedAllocator{pageSize: os.Getpagesize(), live: make(map[uintptr][]byte)}
}

func (a *alignedAllocator) Init() error { return nil }

func (a *alignedAllocator) Malloc(size, offset int) []byte {
	n := (size + offset + a.pageSize) / a.pageSize * a.pageSize
	mem, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		panic(fmt.Errorf("failed to map %d bytes: %w", n, err))
	}
	a.live[uintptr(unsafe.Pointer(&mem[offset]))] = mem
	return mem[offset : offset+size]
}

func (a *alignedAllocator) Free(buf []byte) {
	key := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	if mem, ok := a.live[key]; ok {
		delete(a.live, key)
		_ = unix.Munmap(mem)
	}
}

func (a *alignedAllocator) Close() error {
	var first error
	for key, mem := range a.live {
		delete(a.live, key)
		if err := unix.Munmap(mem); err != nil && first == nil {
			first = err
		}
	}
	return first
}
