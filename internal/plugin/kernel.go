package plugin

import (
	"fmt"
	"os/exec"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/microlauncher/internal/infrastructure/logging"
)

// Variadic is the Arity of a kernel taking its vectors as one slice.
const Variadic = 0

// FillPattern initializes vectors when the kernel exports no init hook.
const FillPattern byte = 0xA5

// Signatures of the kernel symbols, used in diagnostics.
const (
	KernelSignature         = "func(size, elemSize int, v0, ..., vN []byte) uint64"
	VariadicKernelSignature = "func(sizes []int, elemSize int, vecs [][]byte) uint64"
	KernelInitSignature     = "func(index, size, elemSize int, buf []byte)"
)

type (
	kernel1 = func(int, int, []byte) uint64
	kernel2 = func(int, int, []byte, []byte) uint64
	kernel3 = func(int, int, []byte, []byte, []byte) uint64
	kernel4 = func(int, int, []byte, []byte, []byte, []byte) uint64
	kernel5 = func(int, int, []byte, []byte, []byte, []byte, []byte) uint64
	kernel6 = func(int, int, []byte, []byte, []byte, []byte, []byte, []byte) uint64
	kernel7 = func(int, int, []byte, []byte, []byte, []byte, []byte, []byte, []byte) uint64
	kernel8 = func(int, int, []byte, []byte, []byte, []byte, []byte, []byte, []byte, []byte) uint64

	variadicKernel = func([]int, int, [][]byte) uint64
	kernelInit     = func(int, int, int, []byte)
)

// Kernel is the function under test, resolved once to a uniform call.
type Kernel struct {
	Name  string
	Arity int

	call func(size, elemSize int, vecs [][]byte) uint64
	init kernelInit
}

// Call runs the kernel once on vecs and returns the iteration count it
// reports. vecs must hold exactly Arity vectors unless the kernel is variadic.
func (k *Kernel) Call(size, elemSize int, vecs [][]byte) uint64 {
	return k.call(size, elemSize, vecs)
}

// Init fills vector index before a measurement. Without an init hook every
// byte is set to FillPattern.
func (k *Kernel) Init(index, size, elemSize int, buf []byte) {
	if k.init != nil {
		k.init(index, size, elemSize, buf)
		return
	}
	for i := range buf {
		buf[i] = FillPattern
	}
}

// ResolveKernel looks up the kernel function and its optional init hook.
// vectors is the configured vector count; a fixed-arity kernel must match it.
func ResolveKernel(l Lookuper, function, initName string, vectors int, variadic bool) (*Kernel, error) {
	sym, ok := optional(l, function)
	if !ok {
		return nil, fmt.Errorf("%w: kernel %s", ErrMissingSymbol, function)
	}

	k := &Kernel{Name: function}
	if variadic {
		fn, ok := sym.(variadicKernel)
		if !ok {
			return nil, fmt.Errorf("%w: kernel %s is %T, want %s", ErrSignature, function, sym, VariadicKernelSignature)
		}
		k.Arity = Variadic
		k.call = func(size, elemSize int, vecs [][]byte) uint64 {
			sizes := make([]int, len(vecs))
			for i := range sizes {
				sizes[i] = size
			}
			return fn(sizes, elemSize, vecs)
		}
	} else {
		k.Arity, k.call = fixedArity(sym)
		if k.call == nil {
			return nil, fmt.Errorf("%w: kernel %s is %T, want %s", ErrSignature, function, sym, KernelSignature)
		}
		if k.Arity != vectors {
			return nil, fmt.Errorf("%w: kernel %s takes %d vectors, configured %d", ErrSignature, function, k.Arity, vectors)
		}
	}

	if initName != "" {
		fn, _, err := hook[kernelInit](l, initName, KernelInitSignature)
		if err != nil {
			return nil, err
		}
		k.init = fn
	}
	return k, nil
}

func fixedArity(sym any) (int, func(int, int, [][]byte) uint64) {
	switch fn := sym.(type) {
	case kernel1:
		return 1, func(s, e int, v [][]byte) uint64 { return fn(s, e, v[0]) }
	case kernel2:
		return 2, func(s, e int, v [][]byte) uint64 { return fn(s, e, v[0], v[1]) }
	case kernel3:
		return 3, func(s, e int, v [][]byte) uint64 { return fn(s, e, v[0], v[1], v[2]) }
	case kernel4:
		return 4, func(s, e int, v [][]byte) uint64 { return fn(s, e, v[0], v[1], v[2], v[3]) }
	case kernel5:
		return 5, func(s, e int, v [][]byte) uint64 { return fn(s, e, v[0], v[1], v[2], v[3], v[4]) }
	case kernel6:
		return 6, func(s, e int, v [][]byte) uint64 { return fn(s, e, v[0], v[1], v[2], v[3], v[4], v[5]) }
	case kernel7:
		return 7, func(s, e int, v [][]byte) uint64 {
			return fn(s, e, v[0], v[1], v[2], v[3], v[4], v[5], v[6])
		}
	case kernel8:
		return 8, func(s, e int, v [][]byte) uint64 {
			return fn(s, e, v[0], v[1], v[2], v[3], v[4], v[5], v[6], v[7])
		}
	}
	return 0, nil
}

// ExecKernel returns a kernel that runs the executable path once per call and
// waits for it. The vectors are allocated but never passed to the child; the
// iteration count is always 1. The first failed run is logged as a warning,
// later ones at debug level.
func ExecKernel(path string, args []string, vectors int, logger *logging.Logger) *Kernel {
	if logger == nil {
		logger = logging.Nop()
	}
	var failures atomic.Int64
	return &Kernel{
		Name:  path,
		Arity: vectors,
		call: func(int, int, [][]byte) uint64 {
			cmd := exec.Command(path, args...)
			if err := cmd.Start(); err != nil {
				panic(fmt.Errorf("failed to launch %s: %w", path, err))
			}
			if err := cmd.Wait(); err != nil {
				log := logger.Debug
				if failures.Add(1) == 1 {
					log = logger.Warn
				}
				log("Timed executable failed", zap.String("path", path), zap.Error(err))
			}
			return 1
		},
	}
}

// NewKernel wraps call as a kernel. It is used by tests and in-process
// benchmarks that do not go through a shared object.
func NewKernel(name string, arity int, call func(size, elemSize int, vecs [][]byte) uint64) *Kernel {
	return &Kernel{Name: name, Arity: arity, call: call}
}
