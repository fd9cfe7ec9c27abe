package checkpoint

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/GriffinCanCode/microlauncher/internal/experiment"
	"github.com/GriffinCanCode/microlauncher/internal/shared/id"
)

// File names inside a checkpoint directory.
const (
	ConfigFile   = "experiment.ckpt"
	ProgressFile = "progress.ckpt"
)

// Store persists checkpoints in a directory. Only one process writes to a
// given store; files are replaced atomically so a crash mid-write leaves the
// previous checkpoint intact.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the checkpoint directory.
func (s *Store) Dir() string {
	return s.dir
}

// SaveConfig writes the experiment description. It is called once per run.
func (s *Store) SaveConfig(eid id.ExperimentID, cfg *experiment.Config) error {
	var buf bytes.Buffer
	if err := WriteConfig(&buf, eid, cfg); err != nil {
		return fmt.Errorf("failed to encode experiment checkpoint: %w", err)
	}
	return s.replace(ConfigFile, buf.Bytes())
}

// SaveProgress writes the next position to run. It is called after every
// completed alignment step.
func (s *Store) SaveProgress(p Progress) error {
	var buf bytes.Buffer
	if err := WriteProgress(&buf, p); err != nil {
		return fmt.Errorf("failed to encode progress checkpoint: %w", err)
	}
	return s.replace(ProgressFile, buf.Bytes())
}

// Load reads both files back and checks that the progress lies inside the
// experiment space. A missing progress file means the run stopped before its
// first step completed, so the walk restarts at the beginning.
func (s *Store) Load() (*Record, error) {
	cfgPath := filepath.Join(s.dir, ConfigFile)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	eid, cfg, err := ReadConfig(cfgPath, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformed, cfgPath, err)
	}
	space := experiment.NewSpace(cfg)

	rec := &Record{ID: eid, Config: *cfg}
	progPath := filepath.Join(s.dir, ProgressFile)
	data, err = os.ReadFile(progPath)
	switch {
	case os.IsNotExist(err):
		rec.Progress = ProgressAt(space.First(), 0)
		return rec, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	if rec.Progress, err = ReadProgress(progPath, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	if msg := checkProgress(cfg, space, rec.Progress); msg != "" {
		return nil, fmt.Errorf("%w: %s: %s", ErrMalformed, progPath, msg)
	}
	return rec, nil
}

func checkProgress(cfg *experiment.Config, space *experiment.Space, p Progress) string {
	if p.Runs == space.TotalRuns() {
		return ""
	}
	if len(p.Alignments) != len(cfg.Alignments) {
		return fmt.Sprintf("%d alignments for %d vectors", len(p.Alignments), len(cfg.Alignments))
	}
	for i, a := range p.Alignments {
		if r := cfg.Alignments[i]; a < r.Start || a > r.Stop {
			return fmt.Sprintf("alignment %d = %d outside %s", i, a, r)
		}
	}
	if r := cfg.VectorSize; p.VectorSize < r.Start || p.VectorSize > r.Stop {
		return fmt.Sprintf("vector size %d outside %s", p.VectorSize, r)
	}
	if p.Runs < 0 || p.Runs > space.TotalRuns() {
		return fmt.Sprintf("run counter %d outside [0,%d]", p.Runs, space.TotalRuns())
	}
	if p.Meta < 0 || p.Meta >= cfg.MetaRepetitions {
		return fmt.Sprintf("meta-repetition %d outside [0,%d)", p.Meta, cfg.MetaRepetitions)
	}
	if p.Exec < 0 || p.ResumeCount < 0 {
		return "negative counter"
	}
	return ""
}

// Complete reports whether the checkpoint was written after the last step.
func (r *Record) Complete() bool {
	return r.Progress.Runs >= experiment.NewSpace(&r.Config).TotalRuns()
}

// replace writes data to name through a temporary file and a rename.
func (s *Store) replace(name string, data []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}
