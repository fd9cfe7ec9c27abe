package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/microlauncher/internal/experiment"
)

const experimentYAML = `
kernel:
  path: add.so
  function: add
vectors: 2
repetitions: 5
processes: 2
evaluators:
  - path: tsc.so
    display: per_call
`

func TestFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(experimentYAML), 0o644))

	var o overrides
	cmd := &cobra.Command{Use: "run"}
	bindOverrides(cmd, &o)
	require.NoError(t, cmd.Flags().Parse([]string{path, "--processes", "4", "--evaluator", "clock", "--compression", "zstd"}))

	cfg, err := experimentConfig(cmd, cmd.Flags().Args(), &o)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Processes)
	assert.Equal(t, 5, cfg.Repetitions)
	assert.Equal(t, 2, cfg.Vectors)
	assert.Equal(t, "add.so", cfg.Kernel.Path)
	assert.Equal(t, []experiment.EvaluatorSpec{{Path: "clock", Display: experiment.DisplayPerCall}}, cfg.Evaluators)
	assert.Equal(t, experiment.CompressionZstd, cfg.Compression)
	assert.Equal(t, -1, cfg.CPU)
}

func TestDisplayOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(experimentYAML), 0o644))

	var o overrides
	cmd := &cobra.Command{Use: "run"}
	bindOverrides(cmd, &o)
	require.NoError(t, cmd.Flags().Parse([]string{path,
		"--evaluator", "clock,pmu.so", "--display", "per_iteration,per_call"}))

	cfg, err := experimentConfig(cmd, cmd.Flags().Args(), &o)
	require.NoError(t, err)
	assert.Equal(t, []experiment.EvaluatorSpec{
		{Path: "clock", Display: experiment.DisplayPerIteration},
		{Path: "pmu.so", Display: experiment.DisplayPerCall},
	}, cfg.Evaluators)
}

func TestDisplayWithoutEvaluator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(experimentYAML), 0o644))

	var o overrides
	cmd := &cobra.Command{Use: "run"}
	bindOverrides(cmd, &o)
	require.NoError(t, cmd.Flags().Parse([]string{path, "--display", "raw,raw"}))

	_, err := experimentConfig(cmd, cmd.Flags().Args(), &o)
	assert.Error(t, err)
}

func TestResumeNeedsNoFile(t *testing.T) {
	var o overrides
	cmd := &cobra.Command{Use: "run"}
	bindOverrides(cmd, &o)
	require.NoError(t, cmd.Flags().Parse([]string{"--resume", "--checkpoint-dir", "ckpt"}))

	cfg, err := experimentConfig(cmd, nil, &o)
	require.NoError(t, err)
	assert.True(t, cfg.Resume)
	assert.Equal(t, "ckpt", cfg.CheckpointDir)
}

func TestMissingExperimentFile(t *testing.T) {
	var o overrides
	cmd := &cobra.Command{Use: "run"}
	bindOverrides(cmd, &o)

	_, err := experimentConfig(cmd, nil, &o)
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Equal(t, "microlauncher dev\n", out.String())
}
