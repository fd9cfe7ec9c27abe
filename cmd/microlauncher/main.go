package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/microlauncher/internal/experiment"
	"github.com/GriffinCanCode/microlauncher/internal/infrastructure/config"
	"github.com/GriffinCanCode/microlauncher/internal/infrastructure/logging"
	"github.com/GriffinCanCode/microlauncher/internal/orchestrator"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "microlauncher",
		Short:         "Micro-benchmark launcher for plugin kernels",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newWorkerCmd(), newVersionCmd())
	return root
}

// overrides are the run flags. Only flags given on the command line replace
// values from the experiment file.
type overrides struct {
	kernel, function, initName string
	executable                 string
	vectors                    int
	variadic                   bool
	evaluators, displays       []string
	allocator, verifier        string

	repetitions, metaRepetitions, processes int
	elementSize, cpu                        int

	allPrintOut, evalStack, privileged bool

	outputDir, outputPrefix, compression string
	checkpointDir                        string
	resume                               bool
}

func newRunCmd() *cobra.Command {
	var o overrides
	cmd := &cobra.Command{
		Use:   "run [experiment-file]",
		Short: "Run an experiment",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, &o)
		},
	}
	bindOverrides(cmd, &o)
	return cmd
}

// bindOverrides registers the run flags of cmd into o.
func bindOverrides(cmd *cobra.Command, o *overrides) {
	f := cmd.Flags()
	f.StringVar(&o.kernel, "kernel", "", "Kernel plugin path")
	f.StringVar(&o.function, "function", "", "Kernel function symbol")
	f.StringVar(&o.initName, "init", "", "Kernel init symbol")
	f.StringVar(&o.executable, "exec", "", "Time this executable instead of a kernel")
	f.IntVar(&o.vectors, "vectors", 0, "Vector count")
	f.BoolVar(&o.variadic, "variadic", false, "Kernel takes a vector slice")
	f.StringSliceVar(&o.evaluators, "evaluator", nil, "Evaluator plugin path or glob (repeatable, \"clock\" for the built-in)")
	f.StringSliceVar(&o.displays, "display", nil, "Display mode per evaluator, in order: raw, per_iteration or per_call")
	f.StringVar(&o.allocator, "allocator", "", "Allocator plugin path")
	f.StringVar(&o.verifier, "verifier", "", "Verifier plugin path")
	f.IntVar(&o.repetitions, "repetitions", 0, "Kernel calls per measured pass")
	f.IntVar(&o.metaRepetitions, "meta-repetitions", 0, "Measured passes per alignment step")
	f.IntVar(&o.processes, "processes", 0, "Worker processes")
	f.IntVar(&o.elementSize, "element-size", 0, "Element size in bytes")
	f.IntVar(&o.cpu, "cpu", -1, "First CPU to pin workers to (-1 disables pinning)")
	f.BoolVar(&o.allPrintOut, "all-print-out", false, "Every worker writes its own results")
	f.BoolVar(&o.evalStack, "eval-stack", false, "Stop evaluators in reverse order")
	f.BoolVar(&o.privileged, "privileged", false, "Pin the thread and pause GC while measuring")
	f.StringVar(&o.outputDir, "output-dir", "", "Results directory")
	f.StringVar(&o.outputPrefix, "output-prefix", "", "Results file prefix")
	f.StringVar(&o.compression, "compression", "", "Results compression: none, gzip or zstd")
	f.StringVar(&o.checkpointDir, "checkpoint-dir", "", "Checkpoint directory")
	f.BoolVar(&o.resume, "resume", false, "Continue from the checkpoint")
}

func run(cmd *cobra.Command, args []string, o *overrides) error {
	env, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Config{
		Level:       env.Logging.Level,
		Development: env.Logging.Development,
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := experimentConfig(cmd, args, o)
	if err != nil {
		logger.Error("Invalid experiment", zap.Error(err))
		return err
	}

	spawner, err := orchestrator.NewExecSpawner()
	if err != nil {
		logger.Error("Failed to prepare workers", zap.Error(err))
		return err
	}
	if err := orchestrator.New(cfg, env, spawner, logger).Run(context.Background()); err != nil {
		logger.Error("Experiment failed", zap.Error(err))
		return err
	}
	return nil
}

// experimentConfig loads the experiment file, if any, and applies the flags
// that were set.
func experimentConfig(cmd *cobra.Command, args []string, o *overrides) (*experiment.Config, error) {
	cfg := experiment.Default()
	switch {
	case len(args) == 1:
		loaded, err := experiment.LoadFile(args[0])
		if err != nil {
			return nil, err
		}
		cfg = loaded
	case !o.resume:
		return nil, errors.New("an experiment file is required unless resuming")
	}

	set := cmd.Flags().Changed
	if set("kernel") {
		cfg.Kernel.Path = o.kernel
	}
	if set("function") {
		cfg.Kernel.Function = o.function
	}
	if set("init") {
		cfg.Kernel.Init = o.initName
	}
	if set("exec") {
		cfg.Executable = o.executable
	}
	if set("vectors") {
		cfg.Vectors = o.vectors
	}
	if set("variadic") {
		cfg.Variadic = o.variadic
	}
	if set("evaluator") {
		// An overridden evaluator keeps the display mode of the file's
		// evaluator at the same position.
		evals := make([]experiment.EvaluatorSpec, len(o.evaluators))
		for i, path := range o.evaluators {
			evals[i].Path = path
			if i < len(cfg.Evaluators) {
				evals[i].Display = cfg.Evaluators[i].Display
			}
		}
		cfg.Evaluators = evals
	}
	if set("display") {
		if len(o.displays) > len(cfg.Evaluators) {
			return nil, fmt.Errorf("%d display modes for %d evaluators", len(o.displays), len(cfg.Evaluators))
		}
		for i, mode := range o.displays {
			cfg.Evaluators[i].Display = experiment.DisplayMode(mode)
		}
	}
	if set("allocator") {
		cfg.Allocator = o.allocator
	}
	if set("verifier") {
		cfg.Verifier = o.verifier
	}
	if set("repetitions") {
		cfg.Repetitions = o.repetitions
	}
	if set("meta-repetitions") {
		cfg.MetaRepetitions = o.metaRepetitions
	}
	if set("processes") {
		cfg.Processes = o.processes
	}
	if set("element-size") {
		cfg.ElementSize = o.elementSize
	}
	if set("cpu") {
		cfg.CPU = o.cpu
	}
	if set("all-print-out") {
		cfg.AllPrintOut = o.allPrintOut
	}
	if set("eval-stack") {
		cfg.EvalStack = o.evalStack
	}
	if set("privileged") {
		cfg.Privileged = o.privileged
	}
	if set("output-dir") {
		cfg.OutputDir = o.outputDir
	}
	if set("output-prefix") {
		cfg.OutputPrefix = o.outputPrefix
	}
	if set("compression") {
		cfg.Compression = o.compression
	}
	if set("checkpoint-dir") {
		cfg.CheckpointDir = o.checkpointDir
	}
	if set("resume") {
		cfg.Resume = o.resume
	}
	return cfg, nil
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:    orchestrator.WorkerCommand,
		Short:  "Run one worker (started by the launcher)",
		Hidden: true,
		Args:   cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(orchestrator.RunChild(nil))
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "microlauncher", version)
		},
	}
}
