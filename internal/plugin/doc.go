/*
Package plugin binds the launcher to the shared objects it measures.

# Libraries

Every library is a Go plugin opened with plugin.Open after its content type is
checked. Symbols are resolved once through a Lookuper, so tests substitute a
map for a real library.

# Contracts

	Kernel     configured name    func(size, elemSize int, v0, ..., vN []byte) uint64
	           variadic           func(sizes []int, elemSize int, vecs [][]byte) uint64
	           init (optional)    func(index, size, elemSize int, buf []byte)
	Evaluator  evaluationInit     func() error       (optional)
	           evaluationStart    func() float64     (optional)
	           evaluationStop     func() float64     (optional)
	           evaluationClose    func() error       (optional)
	           IS_OVERHEAD_RELEVANT  *bool or *int   (optional, default true)
	Allocator  allocationInit, allocationMalloc, allocationFree, allocationClose (all required)
	Verifier   verificationInit, verificationDisplay, verificationClose (all required)

A kernel's arity is fixed at resolve time by its Go type and must match the
configured vector count. Without an init hook vectors are filled with
FillPattern.

# Built-ins

An empty evaluator path or "clock" selects the monotonic clock; an empty
allocator path selects page-aligned anonymous mappings.

# Shutdown

Go cannot unload a plugin. Set.Close runs each close hook once, newest first.
*/
package plugin
