package experiment

import (
	"errors"
	"fmt"
)

// MaxVectors is the largest arity with a dedicated kernel signature.
// Larger vector counts need the variadic calling shape.
const MaxVectors = 8

// ErrInvalidConfig is wrapped by every configuration error.
var ErrInvalidConfig = errors.New("invalid experiment configuration")

// Range is an inclusive [Start, Stop] sweep advancing by Step.
type Range struct {
	Start int `json:"start" yaml:"start" toml:"start"`
	Stop  int `json:"stop" yaml:"stop" toml:"stop"`
	Step  int `json:"step" yaml:"step" toml:"step"`
}

// Count returns the number of values the range visits.
func (r Range) Count() int {
	if r.Start < r.Stop && r.Step != 0 {
		return (r.Stop-r.Start)/r.Step + 1
	}
	return r.Stop - r.Start + 1
}

func (r Range) normalized() Range {
	if r.Step == 0 {
		r.Step = 1
	}
	return r
}

func (r Range) String() string {
	return fmt.Sprintf("%d..%d/%d", r.Start, r.Stop, r.Step)
}

// DisplayMode selects the unit an evaluator's samples are reported in.
type DisplayMode string

const (
	// DisplayRaw reports elapsed time for the whole measured pass.
	DisplayRaw DisplayMode = "raw"
	// DisplayPerIteration divides by the iteration count the kernel reported.
	DisplayPerIteration DisplayMode = "per_iteration"
	// DisplayPerCall divides by the repetition count.
	DisplayPerCall DisplayMode = "per_call"
)

// EvaluatorSpec names one timing library.
// An empty Path or "clock" selects the built-in monotonic clock.
type EvaluatorSpec struct {
	Path    string      `json:"path" yaml:"path" toml:"path"`
	Display DisplayMode `json:"display" yaml:"display" toml:"display"`
}

// KernelSpec names the shared object and symbols of the kernel under test.
type KernelSpec struct {
	Path     string `json:"path" yaml:"path" toml:"path"`
	Function string `json:"function" yaml:"function" toml:"function"`
	Init     string `json:"init" yaml:"init" toml:"init"`
}

// Compression values for result files.
const (
	CompressionNone = "none"
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
)

// Config describes one experiment. It is immutable once Validate succeeds;
// every worker process receives its own copy.
type Config struct {
	Kernel     KernelSpec `json:"kernel" yaml:"kernel" toml:"kernel"`
	Executable string     `json:"executable,omitempty" yaml:"executable" toml:"executable"`
	Args       []string   `json:"args,omitempty" yaml:"args" toml:"args"`

	Vectors     int     `json:"vectors" yaml:"vectors" toml:"vectors"`
	Variadic    bool    `json:"variadic" yaml:"variadic" toml:"variadic"`
	Alignments  []Range `json:"alignments" yaml:"alignments" toml:"alignments"`
	VectorSize  Range   `json:"vector_size" yaml:"vector_size" toml:"vector_size"`
	ElementSize int     `json:"element_size" yaml:"element_size" toml:"element_size"`

	Repetitions     int `json:"repetitions" yaml:"repetitions" toml:"repetitions"`
	MetaRepetitions int `json:"meta_repetitions" yaml:"meta_repetitions" toml:"meta_repetitions"`
	Processes       int `json:"processes" yaml:"processes" toml:"processes"`

	Evaluators []EvaluatorSpec `json:"evaluators" yaml:"evaluators" toml:"evaluators"`
	Allocator  string          `json:"allocator,omitempty" yaml:"allocator" toml:"allocator"`
	Verifier   string          `json:"verifier,omitempty" yaml:"verifier" toml:"verifier"`

	AllPrintOut bool `json:"all_print_out" yaml:"all_print_out" toml:"all_print_out"`
	EvalStack   bool `json:"eval_stack" yaml:"eval_stack" toml:"eval_stack"`
	Privileged  bool `json:"privileged" yaml:"privileged" toml:"privileged"`
	CPU         int  `json:"cpu" yaml:"cpu" toml:"cpu"`

	OutputDir     string `json:"output_dir" yaml:"output_dir" toml:"output_dir"`
	OutputPrefix  string `json:"output_prefix" yaml:"output_prefix" toml:"output_prefix"`
	Compression   string `json:"compression" yaml:"compression" toml:"compression"`
	CheckpointDir string `json:"checkpoint_dir" yaml:"checkpoint_dir" toml:"checkpoint_dir"`
	Resume        bool   `json:"resume" yaml:"resume" toml:"resume"`
}

// Default returns a configuration with every optional field filled in.
func Default() *Config {
	return &Config{
		Kernel:          KernelSpec{Init: "kernelInit"},
		Vectors:         1,
		VectorSize:      Range{Start: 1, Stop: 1, Step: 1},
		ElementSize:     8,
		Repetitions:     1,
		MetaRepetitions: 1,
		Processes:       1,
		CPU:             -1,
		OutputPrefix:    "microlauncher",
		Compression:     CompressionNone,
	}
}

// ExecMode reports whether the experiment times a standalone executable
// instead of a kernel function.
func (c *Config) ExecMode() bool {
	return c.Executable != ""
}

// Verifying reports whether a verification pass precedes the measurements.
func (c *Config) Verifying() bool {
	return c.Verifier != ""
}

// Validate checks the configuration and normalizes it in place: zero steps
// become 1, a single alignment range is replicated to every vector, and an
// empty evaluator list selects the built-in clock.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...)))
	}

	switch {
	case c.ExecMode() && c.Kernel.Path != "":
		fail("kernel %s and executable %s are mutually exclusive", c.Kernel.Path, c.Executable)
	case c.ExecMode() && c.Variadic:
		fail("variadic kernels cannot be used with an executable")
	case !c.ExecMode() && c.Kernel.Path == "":
		fail("missing kernel library path")
	case !c.ExecMode() && c.Kernel.Function == "":
		fail("missing kernel function name")
	}

	if c.Vectors < 1 {
		fail("vector count %d must be at least 1", c.Vectors)
	} else if c.Vectors > MaxVectors && !c.Variadic {
		fail("vector count %d exceeds %d; use variadic mode", c.Vectors, MaxVectors)
	}

	if len(c.Alignments) == 0 {
		c.Alignments = []Range{{Start: 0, Stop: 0, Step: 1}}
	}
	if len(c.Alignments) == 1 && c.Vectors > 1 {
		first := c.Alignments[0]
		c.Alignments = make([]Range, c.Vectors)
		for i := range c.Alignments {
			c.Alignments[i] = first
		}
	}
	if c.Vectors >= 1 && len(c.Alignments) != c.Vectors {
		fail("%d alignment ranges for %d vectors", len(c.Alignments), c.Vectors)
	}
	for i, r := range c.Alignments {
		if err := checkRange(r); err != "" {
			fail("alignment %d: %s", i, err)
		}
		c.Alignments[i] = r.normalized()
	}
	if err := checkRange(c.VectorSize); err != "" {
		fail("vector size: %s", err)
	}
	c.VectorSize = c.VectorSize.normalized()

	if c.ElementSize < 1 {
		fail("element size %d must be positive", c.ElementSize)
	}
	if c.Repetitions < 1 {
		fail("repetitions %d must be positive", c.Repetitions)
	}
	if c.MetaRepetitions < 1 {
		fail("meta-repetitions %d must be positive", c.MetaRepetitions)
	}
	if c.Processes < 1 {
		fail("process count %d must be positive", c.Processes)
	}

	if len(c.Evaluators) == 0 {
		c.Evaluators = []EvaluatorSpec{{Display: DisplayRaw}}
	}
	for i := range c.Evaluators {
		switch c.Evaluators[i].Display {
		case "":
			c.Evaluators[i].Display = DisplayRaw
		case DisplayRaw, DisplayPerIteration, DisplayPerCall:
		default:
			fail("evaluator %d: unknown display mode %q", i, c.Evaluators[i].Display)
		}
	}

	switch c.Compression {
	case "":
		c.Compression = CompressionNone
	case CompressionNone, CompressionGzip, CompressionZstd:
	default:
		fail("unknown compression %q", c.Compression)
	}
	if c.OutputPrefix == "" {
		c.OutputPrefix = "microlauncher"
	}
	if c.Resume && c.CheckpointDir == "" {
		fail("resume requested without a checkpoint directory")
	}

	return errors.Join(errs...)
}

func checkRange(r Range) string {
	switch {
	case r.Start < 0:
		return fmt.Sprintf("start %d is negative", r.Start)
	case r.Stop < r.Start:
		return fmt.Sprintf("stop %d is below start %d", r.Stop, r.Start)
	case r.Step < 0:
		return fmt.Sprintf("step %d is negative", r.Step)
	}
	return ""
}
