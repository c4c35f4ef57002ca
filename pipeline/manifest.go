package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/BaSui01/meshypipe/types"
)

// Manifest records what a run created and downloaded.
type Manifest struct {
	RunID     string    `json:"run_id,omitempty"`
	AssetID   string    `json:"asset_id"`
	Images    []string  `json:"images"`
	OutputDir string    `json:"output_dir"`
	Tasks     Tasks     `json:"tasks"`
	Downloads Downloads `json:"downloads"`
}

// Tasks holds one record per created task.
type Tasks struct {
	Generation *GenerationRecord          `json:"generation,omitempty"`
	Rigging    *TaskRecord                `json:"rigging,omitempty"`
	Animations map[string]*AnimationRecord `json:"animations,omitempty"`
}

// GenerationRecord is the generation task. Result is only set when the task
// ended in a non-success status.
type GenerationRecord struct {
	Endpoint string         `json:"endpoint"`
	TaskID   string         `json:"task_id"`
	Result   map[string]any `json:"result,omitempty"`
}

// TaskRecord is the rigging task.
type TaskRecord struct {
	TaskID string         `json:"task_id"`
	Result map[string]any `json:"result,omitempty"`
}

// AnimationRecord is one animation task.
type AnimationRecord struct {
	ActionID string         `json:"action_id"`
	TaskID   string         `json:"task_id"`
	Result   map[string]any `json:"result,omitempty"`
}

// Downloads holds local file paths. Extra generation formats are flattened
// into "generated_<format>" keys.
type Downloads struct {
	GeneratedGLB string
	Generated    map[string]string
	RiggedGLB    string
	Animations   map[string]string
}

// MarshalJSON flattens Generated into the top-level object.
func (d Downloads) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Generated)+3)
	if d.GeneratedGLB != "" {
		out["generated_glb"] = d.GeneratedGLB
	}
	for format, path := range d.Generated {
		out["generated_"+format] = path
	}
	if d.RiggedGLB != "" {
		out["rigged_glb"] = d.RiggedGLB
	}
	if d.Animations != nil {
		out["animations"] = d.Animations
	}
	return json.Marshal(out)
}

// newManifest seeds a manifest from a plan.
func newManifest(runID string, plan *Plan) *Manifest {
	return &Manifest{
		RunID:     runID,
		AssetID:   plan.AssetID,
		Images:    append([]string(nil), plan.Images...),
		OutputDir: plan.OutputDir,
	}
}

// TaskIDs lists every recorded task ID: generation, rigging, then animations
// in action order.
func (m *Manifest) TaskIDs(clips []string) []string {
	var ids []string
	if m.Tasks.Generation != nil {
		ids = append(ids, m.Tasks.Generation.TaskID)
	}
	if m.Tasks.Rigging != nil {
		ids = append(ids, m.Tasks.Rigging.TaskID)
	}
	for _, clip := range clips {
		if rec, ok := m.Tasks.Animations[clip]; ok {
			ids = append(ids, rec.TaskID)
		}
	}
	return ids
}

// Write stores the manifest as indented JSON with a trailing newline,
// creating parent directories.
func (m *Manifest) Write(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return types.NewError(types.ErrIO, "encode manifest").WithCause(err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return types.Errorf(types.ErrIO, "create directory for manifest %s", path).WithCause(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return types.Errorf(types.ErrIO, "write manifest %s", path).WithCause(err)
	}
	return nil
}
