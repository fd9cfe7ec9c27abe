package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/GriffinCanCode/microlauncher/internal/experiment"
	"github.com/GriffinCanCode/microlauncher/internal/measure"
)

// Header describes the columns of a result file.
type Header struct {
	Evaluators []string
	Vectors    int
}

// Columns returns the header row: one column per evaluator, then run id,
// resume count, vector size, one alignment per vector and the problem code.
func (h Header) Columns() []string {
	cols := make([]string, 0, len(h.Evaluators)+h.Vectors+4)
	cols = append(cols, h.Evaluators...)
	cols = append(cols, "run", "resume", "vector_size")
	for i := range h.Vectors {
		cols = append(cols, fmt.Sprintf("align_%d", i))
	}
	return append(cols, "problem")
}

// FileName returns the result file of worker index. Without all-print-out
// only worker 0 writes and its file carries no index.
func FileName(cfg *experiment.Config, index int) string {
	name := cfg.OutputPrefix
	if cfg.AllPrintOut {
		name = fmt.Sprintf("%s_%d", cfg.OutputPrefix, index)
	}
	name += ".csv"
	switch cfg.Compression {
	case experiment.CompressionGzip:
		name += ".gz"
	case experiment.CompressionZstd:
		name += ".zst"
	}
	return filepath.Join(cfg.OutputDir, name)
}

// Writer streams result rows as CSV.
type Writer struct {
	csv     *csv.Writer
	closers []io.Closer
	header  Header
	row     []string
	closed  bool
}

// NewWriter writes rows to w through the requested compression. The header
// row is written only when withHeader is set.
func NewWriter(w io.Writer, compression string, header Header, withHeader bool) (*Writer, error) {
	out := &Writer{header: header}
	switch compression {
	case experiment.CompressionGzip:
		gz := gzip.NewWriter(w)
		out.closers = append(out.closers, gz)
		w = gz
	case experiment.CompressionZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		out.closers = append(out.closers, zw)
		w = zw
	case experiment.CompressionNone, "":
	default:
		return nil, fmt.Errorf("unknown compression %q", compression)
	}
	out.csv = csv.NewWriter(w)
	if withHeader {
		if err := out.csv.Write(header.Columns()); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}
	return out, nil
}

// Create opens path for appending, so a resumed run continues the file it
// left. The header is written only into an empty file. Compressed files get
// one more stream per run, which gzip and zstd readers concatenate.
func Create(path, compression string, header Header) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open results: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to open results: %w", err)
	}
	w, err := NewWriter(f, compression, header, info.Size() == 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closers = append(w.closers, f)
	return w, nil
}

// WriteStep appends one row per result of step and flushes them.
func (w *Writer) WriteStep(step *measure.Step, resumeCount int) error {
	st := step.State
	for _, r := range step.Results {
		w.row = w.row[:0]
		for _, v := range r.Values {
			w.row = append(w.row, strconv.FormatFloat(v, 'g', -1, 64))
		}
		w.row = append(w.row,
			strconv.Itoa(st.Runs),
			strconv.Itoa(resumeCount),
			strconv.Itoa(st.VectorSize),
		)
		for _, a := range st.Alignments {
			w.row = append(w.row, strconv.Itoa(a))
		}
		w.row = append(w.row, r.Problem)
		if err := w.csv.Write(w.row); err != nil {
			return fmt.Errorf("failed to write result row: %w", err)
		}
	}
	w.csv.Flush()
	return w.csv.Error()
}

// Close flushes buffered rows and closes the compressor and file. Calls
// after the first do nothing.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.csv.Flush()
	errs := []error{w.csv.Error()}
	for _, c := range w.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
