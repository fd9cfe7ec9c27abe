package orchestrator

import (
	"fmt"
	"io"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/microlauncher/internal/checkpoint"
	"github.com/GriffinCanCode/microlauncher/internal/experiment"
	"github.com/GriffinCanCode/microlauncher/internal/infrastructure/config"
	"github.com/GriffinCanCode/microlauncher/internal/shared/id"
)

// WorkerSpec is the immutable snapshot a worker starts from. The orchestrator
// builds one per worker and never shares it.
type WorkerSpec struct {
	Index int `json:"index"`
	// Printer workers write result rows.
	Printer bool `json:"printer"`
	// Checkpointer is set on the one worker that records progress.
	Checkpointer bool `json:"checkpointer"`

	ExperimentID id.ExperimentID   `json:"experiment_id"`
	Experiment   experiment.Config `json:"experiment"`

	// Resume is the position to continue from, nil for a fresh run.
	Resume      *checkpoint.Progress `json:"resume,omitempty"`
	ResumeCount int                  `json:"resume_count"`

	Env config.Config `json:"env"`
}

// EncodeSpec writes spec to w as JSON.
func EncodeSpec(w io.Writer, spec *WorkerSpec) error {
	data, err := sonic.Marshal(spec)
	if err != nil {
		return fmt.Errorf("failed to encode worker snapshot: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to send worker snapshot: %w", err)
	}
	return nil
}

// DecodeSpec reads a snapshot written by EncodeSpec until end of file.
func DecodeSpec(r io.Reader) (*WorkerSpec, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read worker snapshot: %w", err)
	}
	var spec WorkerSpec
	if err := sonic.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to decode worker snapshot: %w", err)
	}
	return &spec, nil
}
