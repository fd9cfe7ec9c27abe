package report

import (
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/microlauncher/internal/experiment"
	"github.com/GriffinCanCode/microlauncher/internal/measure"
)

func sampleStep() *measure.Step {
	return &measure.Step{
		State: experiment.State{Alignments: []int{0, 2}, VectorSize: 64, Runs: 3},
		Results: []measure.Result{
			{Meta: 0, Values: []float64{12.5, 400}},
			{Meta: 1, Values: []float64{-1, 380}, Problem: measure.ProblemOverheadExceedsSignal},
		},
	}
}

var header = Header{Evaluators: []string{"clock", "tsc.so"}, Vectors: 2}

func readAll(t *testing.T, r io.Reader) [][]string {
	t.Helper()
	rows, err := csv.NewReader(r).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteStep(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, experiment.CompressionNone, header, true)
	require.NoError(t, err)

	require.NoError(t, w.WriteStep(sampleStep(), 1))
	require.NoError(t, w.Close())

	rows := readAll(t, &buf)
	assert.Equal(t, [][]string{
		{"clock", "tsc.so", "run", "resume", "vector_size", "align_0", "align_1", "problem"},
		{"12.5", "400", "3", "1", "64", "0", "2", ""},
		{"-1", "380", "3", "1", "64", "0", "2", "overhead_exceeds_signal"},
	}, rows)
}

func TestCompressedRoundTrip(t *testing.T) {
	tests := []struct {
		compression string
		reader      func(io.Reader) (io.Reader, error)
	}{
		{experiment.CompressionGzip, func(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) }},
		{experiment.CompressionZstd, func(r io.Reader) (io.Reader, error) { return zstd.NewReader(r) }},
	}

	for _, tt := range tests {
		t.Run(tt.compression, func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewWriter(&buf, tt.compression, header, true)
			require.NoError(t, err)
			require.NoError(t, w.WriteStep(sampleStep(), 0))
			require.NoError(t, w.Close())

			r, err := tt.reader(&buf)
			require.NoError(t, err)
			assert.Len(t, readAll(t, r), 3)
		})
	}
}

func TestCreateAppendsOnResume(t *testing.T) {
	for _, compression := range []string{experiment.CompressionNone, experiment.CompressionGzip} {
		t.Run(compression, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "out", "results.csv")

			for run := range 2 {
				w, err := Create(path, compression, header)
				require.NoError(t, err)
				require.NoError(t, w.WriteStep(sampleStep(), run))
				require.NoError(t, w.Close())
			}

			f, err := os.Open(path)
			require.NoError(t, err)
			defer f.Close()
			var r io.Reader = f
			if compression == experiment.CompressionGzip {
				gz, err := gzip.NewReader(f)
				require.NoError(t, err)
				r = gz
			}

			rows := readAll(t, r)
			require.Len(t, rows, 5, "one header and two rows per run")
			assert.Equal(t, "run", rows[0][2])
			assert.Equal(t, "1", rows[4][3])
		})
	}
}

func TestFileName(t *testing.T) {
	cfg := experiment.Default()
	cfg.OutputDir = "results"
	assert.Equal(t, filepath.Join("results", "microlauncher.csv"), FileName(cfg, 0))

	cfg.AllPrintOut = true
	cfg.Compression = experiment.CompressionZstd
	assert.Equal(t, filepath.Join("results", "microlauncher_3.csv.zst"), FileName(cfg, 3))
}

func TestNewWriterRejectsUnknownCompression(t *testing.T) {
	_, err := NewWriter(io.Discard, "lz4", header, true)
	assert.Error(t, err)
}
