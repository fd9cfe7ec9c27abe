package checkpoint

import (
	"fmt"
	"io"
	"slices"

	"github.com/GriffinCanCode/microlauncher/internal/experiment"
	"github.com/GriffinCanCode/microlauncher/internal/shared/id"
)

// Progress is the fast-changing part of a checkpoint: the next position to
// run and the counters that go with it.
type Progress struct {
	Alignments  []int
	VectorSize  int
	Runs        int
	Meta        int
	Exec        int
	ResumeCount int
}

// ProgressAt captures the position st for a run that has already been
// resumed resumeCount times.
func ProgressAt(st experiment.State, resumeCount int) Progress {
	return Progress{
		Alignments:  slices.Clone(st.Alignments),
		VectorSize:  st.VectorSize,
		Runs:        st.Runs,
		Meta:        st.Meta,
		Exec:        st.Exec,
		ResumeCount: resumeCount,
	}
}

// State converts the progress back into a position of space.
func (p Progress) State(space *experiment.Space) experiment.State {
	return space.Resumed(p.Alignments, p.VectorSize, p.Runs, p.Meta, p.Exec)
}

// Record is a full checkpoint: the experiment it belongs to and where it
// stopped.
type Record struct {
	ID       id.ExperimentID
	Config   experiment.Config
	Progress Progress
}

// WriteConfig encodes the slow-changing half of a checkpoint.
func WriteConfig(w io.Writer, eid id.ExperimentID, cfg *experiment.Config) error {
	e := newEncoder(w, "microlauncher experiment")
	e.str("experiment_id", eid.String())

	e.str("kernel.path", cfg.Kernel.Path)
	e.str("kernel.function", cfg.Kernel.Function)
	e.str("kernel.init", cfg.Kernel.Init)
	e.str("executable", cfg.Executable)
	for i, arg := range cfg.Args {
		e.str(fmt.Sprintf("args.%d", i), arg)
	}

	e.int("vectors", cfg.Vectors)
	e.bool("variadic", cfg.Variadic)
	for i, r := range cfg.Alignments {
		e.rng(fmt.Sprintf("alignment.%d", i), r)
	}
	e.rng("vector_size", cfg.VectorSize)
	e.int("element_size", cfg.ElementSize)

	e.int("repetitions", cfg.Repetitions)
	e.int("meta_repetitions", cfg.MetaRepetitions)
	e.int("processes", cfg.Processes)

	for i, ev := range cfg.Evaluators {
		e.str(fmt.Sprintf("evaluator.%d.path", i), ev.Path)
		e.raw(fmt.Sprintf("evaluator.%d.display", i), string(ev.Display))
	}
	e.str("allocator", cfg.Allocator)
	e.str("verifier", cfg.Verifier)

	e.bool("all_print_out", cfg.AllPrintOut)
	e.bool("eval_stack", cfg.EvalStack)
	e.bool("privileged", cfg.Privileged)
	e.int("cpu", cfg.CPU)

	e.str("output_dir", cfg.OutputDir)
	e.str("output_prefix", cfg.OutputPrefix)
	e.raw("compression", cfg.Compression)
	return e.flush()
}

// ReadConfig decodes a file written by WriteConfig. The checkpoint location
// and resume flag are not part of the file; callers set them.
func ReadConfig(name string, r io.Reader) (id.ExperimentID, *experiment.Config, error) {
	d, err := parse(name, r)
	if err != nil {
		return "", nil, err
	}

	cfg := &experiment.Config{}
	eid := id.ExperimentID(d.str("experiment_id"))

	cfg.Kernel.Path = d.str("kernel.path")
	cfg.Kernel.Function = d.str("kernel.function")
	cfg.Kernel.Init = d.str("kernel.init")
	cfg.Executable = d.str("executable")
	for i := range d.count("args", "") {
		cfg.Args = append(cfg.Args, d.str(fmt.Sprintf("args.%d", i)))
	}

	cfg.Vectors = d.int("vectors")
	cfg.Variadic = d.bool("variadic")
	for i := range d.count("alignment", "") {
		cfg.Alignments = append(cfg.Alignments, d.rng(fmt.Sprintf("alignment.%d", i)))
	}
	cfg.VectorSize = d.rng("vector_size")
	cfg.ElementSize = d.int("element_size")

	cfg.Repetitions = d.int("repetitions")
	cfg.MetaRepetitions = d.int("meta_repetitions")
	cfg.Processes = d.int("processes")

	for i := range d.count("evaluator", ".path") {
		display, _ := d.lookup(fmt.Sprintf("evaluator.%d.display", i))
		cfg.Evaluators = append(cfg.Evaluators, experiment.EvaluatorSpec{
			Path:    d.str(fmt.Sprintf("evaluator.%d.path", i)),
			Display: experiment.DisplayMode(display),
		})
	}
	cfg.Allocator = d.str("allocator")
	cfg.Verifier = d.str("verifier")

	cfg.AllPrintOut = d.bool("all_print_out")
	cfg.EvalStack = d.bool("eval_stack")
	cfg.Privileged = d.bool("privileged")
	cfg.CPU = d.int("cpu")

	cfg.OutputDir = d.str("output_dir")
	cfg.OutputPrefix = d.str("output_prefix")
	cfg.Compression, _ = d.lookup("compression")

	if err := d.finish(); err != nil {
		return "", nil, err
	}
	return eid, cfg, nil
}

// WriteProgress encodes the fast-changing half of a checkpoint.
func WriteProgress(w io.Writer, p Progress) error {
	e := newEncoder(w, "microlauncher progress")
	e.int("runs", p.Runs)
	e.int("vector_size", p.VectorSize)
	e.int("meta", p.Meta)
	e.int("exec", p.Exec)
	e.int("resume_count", p.ResumeCount)
	for i, a := range p.Alignments {
		e.int(fmt.Sprintf("alignment.%d", i), a)
	}
	return e.flush()
}

// ReadProgress decodes a file written by WriteProgress.
func ReadProgress(name string, r io.Reader) (Progress, error) {
	d, err := parse(name, r)
	if err != nil {
		return Progress{}, err
	}

	var p Progress
	p.Runs = d.int("runs")
	p.VectorSize = d.int("vector_size")
	p.Meta = d.int("meta")
	p.Exec = d.int("exec")
	p.ResumeCount = d.int("resume_count")
	for i := range d.count("alignment", "") {
		p.Alignments = append(p.Alignments, d.int(fmt.Sprintf("alignment.%d", i)))
	}

	if err := d.finish(); err != nil {
		return Progress{}, err
	}
	return p, nil
}
