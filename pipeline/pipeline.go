package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/BaSui01/meshypipe/internal/ctxkeys"
	"github.com/BaSui01/meshypipe/internal/metrics"
	"github.com/BaSui01/meshypipe/internal/telemetry"
	"github.com/BaSui01/meshypipe/meshy"
	"github.com/BaSui01/meshypipe/types"
)

// Stage is one state of the pipeline state machine.
type Stage string

const (
	StageValidate      Stage = "VALIDATE"
	StageGenerate      Stage = "GENERATE"
	StagePollGenerate  Stage = "POLL_GENERATE"
	StageDownloadBase  Stage = "DOWNLOAD_BASE"
	StageRig           Stage = "RIG"
	StagePollRig       Stage = "POLL_RIG"
	StageDownloadRig   Stage = "DOWNLOAD_RIG"
	StageAnimate       Stage = "ANIMATE"
	StagePollAnimate   Stage = "POLL_ANIMATE"
	StageDownloadAnim  Stage = "DOWNLOAD_ANIM"
	StageWriteManifest Stage = "WRITE_MANIFEST"
	StageDone          Stage = "DONE"
)

// TaskAPI is the remote service as seen by the driver.
type TaskAPI interface {
	CreateGenerationTask(ctx context.Context, req *meshy.GenerationRequest) (meshy.TaskRef, error)
	CreateRiggingTask(ctx context.Context, req *meshy.RiggingRequest) (meshy.TaskRef, error)
	CreateAnimationTask(ctx context.Context, req *meshy.AnimationRequest) (meshy.TaskRef, error)
	GetTask(ctx context.Context, ref meshy.TaskRef) (*meshy.Task, error)
	Download(ctx context.Context, kind meshy.TaskKind, url, dest string) (int64, error)
}

var _ TaskAPI = (*meshy.Client)(nil)

// Driver runs a validated Plan through the stage machine.
type Driver struct {
	api     TaskAPI
	poller  *meshy.Poller
	out     io.Writer
	logger  *zap.Logger
	metrics *metrics.Collector
	inst    *telemetry.StageInstruments
	runID   string
}

// DriverOption customizes a Driver.
type DriverOption func(*Driver)

// WithOutput sets where progress lines are printed.
func WithOutput(w io.Writer) DriverOption {
	return func(d *Driver) { d.out = w }
}

// WithDriverLogger attaches a logger.
func WithDriverLogger(l *zap.Logger) DriverOption {
	return func(d *Driver) { d.logger = l }
}

// WithDriverMetrics attaches a metrics collector.
func WithDriverMetrics(m *metrics.Collector) DriverOption {
	return func(d *Driver) { d.metrics = m }
}

// WithInstruments attaches OTel stage instruments.
func WithInstruments(inst *telemetry.StageInstruments) DriverOption {
	return func(d *Driver) { d.inst = inst }
}

// WithRunID overrides the generated run ID.
func WithRunID(id string) DriverOption {
	return func(d *Driver) { d.runID = id }
}

// NewDriver creates a Driver.
func NewDriver(api TaskAPI, poller *meshy.Poller, opts ...DriverOption) *Driver {
	d := &Driver{
		api:    api,
		poller: poller,
		out:    io.Discard,
		logger: zap.NewNop(),
		runID:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RunID returns the identifier recorded in logs and the manifest.
func (d *Driver) RunID() string { return d.runID }

// state is the mutable context of one Run.
type state struct {
	plan     *Plan
	manifest *Manifest
	logger   *zap.Logger

	generation meshy.TaskRef
	rigging    meshy.TaskRef
	animation  meshy.TaskRef
	last       *meshy.Task

	clips []string
	next  int
}

func (s *state) clip() string { return s.clips[s.next] }

// Run executes every stage in order. On failure the partially filled
// manifest is returned with the error but never written.
func (d *Driver) Run(ctx context.Context, plan *Plan) (*Manifest, error) {
	ctx = ctxkeys.WithRunID(ctx, d.runID)
	st := &state{
		plan:     plan,
		manifest: newManifest(d.runID, plan),
		logger:   d.logger.With(zap.String("run_id", d.runID), zap.String("asset_id", plan.AssetID)),
		clips:    plan.Actions.Clips(),
	}

	if err := os.MkdirAll(plan.OutputDir, 0o755); err != nil {
		return st.manifest, types.Errorf(types.ErrIO, "create output directory %s", plan.OutputDir).WithCause(err)
	}

	st.logger.Info("pipeline started",
		zap.String("generation_mode", plan.Mode),
		zap.Int("images", len(plan.Images)),
		zap.Bool("rig", plan.Rig),
		zap.Int("actions", len(st.clips)),
	)

	stage := StageGenerate
	d.metrics.RecordStageTransition(string(StageValidate), string(stage))

	for stage != StageDone {
		next, err := d.runStage(ctx, st, stage)
		if err != nil {
			st.logger.Warn("pipeline aborted", zap.String("stage", string(stage)), zap.Error(err))
			return st.manifest, err
		}
		st.logger.Debug("stage transition", zap.String("from", string(stage)), zap.String("to", string(next)))
		d.metrics.RecordStageTransition(string(stage), string(next))
		stage = next
	}

	st.logger.Info("pipeline completed", zap.Strings("task_ids", st.manifest.TaskIDs(st.clips)))
	return st.manifest, nil
}

func (d *Driver) runStage(ctx context.Context, st *state, stage Stage) (Stage, error) {
	name := strings.ToLower(string(stage))
	var attrs []attribute.KeyValue
	if stage == StageAnimate || stage == StagePollAnimate || stage == StageDownloadAnim {
		attrs = append(attrs, attribute.String("meshypipe.clip", st.clip()))
	}

	started := time.Now()
	stageCtx, span := d.inst.StartStage(ctxkeys.WithStage(ctx, string(stage)), d.runID, name, attrs...)
	next, err := d.step(stageCtx, st, stage)
	d.inst.EndStage(stageCtx, span, name, time.Since(started), err)
	return next, err
}

func (d *Driver) step(ctx context.Context, st *state, stage Stage) (Stage, error) {
	plan := st.plan
	m := st.manifest

	switch stage {
	case StageGenerate:
		fmt.Fprintln(d.out, "Creating generation task...")
		ref, err := d.api.CreateGenerationTask(ctx, &meshy.GenerationRequest{
			ImagePaths:    plan.Images,
			Topology:      plan.Topology,
			AIModel:       plan.AIModel,
			ShouldTexture: plan.ShouldTexture,
		})
		if err != nil {
			return stage, err
		}
		st.generation = ref
		m.Tasks.Generation = &GenerationRecord{Endpoint: ref.Endpoint, TaskID: ref.ID}
		st.logger.Info("generation task created", zap.String("task_id", ref.ID), zap.String("endpoint", ref.Endpoint))
		return StagePollGenerate, nil

	case StagePollGenerate:
		task, err := d.poll(ctx, "generation", st.generation)
		if err != nil {
			return stage, err
		}
		if !task.Succeeded() {
			m.Tasks.Generation.Result = task.Raw
			return stage, taskFailed("Generation task", task)
		}
		st.last = task
		return StageDownloadBase, nil

	case StageDownloadBase:
		url := st.last.ModelURL("glb")
		if url == "" {
			return stage, types.NewError(types.ErrInvalidResponse, "Generation succeeded but response has no model_urls.glb")
		}
		dest := filepath.Join(plan.OutputDir, plan.AssetID+"_generated.glb")
		fmt.Fprintf(d.out, "Downloading base GLB -> %s\n", dest)
		if err := d.download(ctx, st, meshy.KindGeneration, url, dest); err != nil {
			return stage, err
		}
		m.Downloads.GeneratedGLB = dest

		for _, format := range plan.Formats {
			url := st.last.ModelURL(format)
			if url == "" {
				return stage, types.Errorf(types.ErrInvalidResponse, "Generation succeeded but response has no model_urls.%s", format)
			}
			dest := filepath.Join(plan.OutputDir, plan.AssetID+"_generated."+format)
			fmt.Fprintf(d.out, "Downloading base %s -> %s\n", strings.ToUpper(format), dest)
			if err := d.download(ctx, st, meshy.KindGeneration, url, dest); err != nil {
				return stage, err
			}
			if m.Downloads.Generated == nil {
				m.Downloads.Generated = make(map[string]string)
			}
			m.Downloads.Generated[format] = dest
		}

		if plan.Rig {
			return StageRig, nil
		}
		return StageWriteManifest, nil

	case StageRig:
		fmt.Fprintln(d.out, "Creating rigging task...")
		ref, err := d.api.CreateRiggingTask(ctx, &meshy.RiggingRequest{
			InputTaskID:  st.generation.ID,
			HeightMeters: plan.HeightMeters,
		})
		if err != nil {
			return stage, err
		}
		st.rigging = ref
		m.Tasks.Rigging = &TaskRecord{TaskID: ref.ID}
		st.logger.Info("rigging task created", zap.String("task_id", ref.ID))
		return StagePollRig, nil

	case StagePollRig:
		task, err := d.poll(ctx, "rigging", st.rigging)
		if err != nil {
			return stage, err
		}
		if !task.Succeeded() {
			m.Tasks.Rigging.Result = task.Raw
			return stage, taskFailed("Rigging task", task)
		}
		st.last = task
		return StageDownloadRig, nil

	case StageDownloadRig:
		url := st.last.ResultURL("rigged_character_glb_url")
		if url == "" {
			// Animations only need the rigging task ID.
			st.logger.Warn("rigging succeeded without rigged_character_glb_url, skipping download",
				zap.String("task_id", st.rigging.ID))
			return d.nextAnimation(st), nil
		}
		dest := filepath.Join(plan.OutputDir, plan.AssetID+"_rigged.glb")
		fmt.Fprintf(d.out, "Downloading rigged GLB -> %s\n", dest)
		if err := d.download(ctx, st, meshy.KindRigging, url, dest); err != nil {
			return stage, err
		}
		m.Downloads.RiggedGLB = dest
		return d.nextAnimation(st), nil

	case StageAnimate:
		if st.rigging.ID == "" {
			return stage, types.NewError(types.ErrInvalidInput, "missing rigging task ID for animation calls")
		}
		clip := st.clip()
		actionID, _ := plan.Actions.Get(clip)
		fmt.Fprintf(d.out, "Creating animation task for %s (action_id=%s)...\n", clip, actionID)
		ref, err := d.api.CreateAnimationTask(ctx, &meshy.AnimationRequest{
			RiggingTaskID: st.rigging.ID,
			ActionID:      actionID,
		})
		if err != nil {
			return stage, err
		}
		st.animation = ref
		m.Tasks.Animations[clip] = &AnimationRecord{ActionID: actionID, TaskID: ref.ID}
		st.logger.Info("animation task created", zap.String("clip", clip), zap.String("task_id", ref.ID))
		return StagePollAnimate, nil

	case StagePollAnimate:
		clip := st.clip()
		task, err := d.poll(ctx, "animation:"+clip, st.animation)
		if err != nil {
			return stage, err
		}
		if !task.Succeeded() {
			m.Tasks.Animations[clip].Result = task.Raw
			return stage, taskFailed("Animation task for "+clip, task)
		}
		st.last = task
		return StageDownloadAnim, nil

	case StageDownloadAnim:
		clip := st.clip()
		url := st.last.ResultURL("animation_glb_url")
		if url == "" {
			return stage, types.Errorf(types.ErrInvalidResponse, "Animation task for %s succeeded but animation_glb_url missing", clip)
		}
		dest := filepath.Join(plan.OutputDir, plan.AssetID+"_"+SafeClipName(clip)+".glb")
		fmt.Fprintf(d.out, "Downloading animation GLB [%s] -> %s\n", clip, dest)
		if err := d.download(ctx, st, meshy.KindAnimation, url, dest); err != nil {
			return stage, err
		}
		m.Downloads.Animations[clip] = dest
		st.next++
		return d.nextAnimation(st), nil

	case StageWriteManifest:
		if plan.ManifestOut != "" {
			if err := m.Write(plan.ManifestOut); err != nil {
				return stage, err
			}
			fmt.Fprintf(d.out, "Wrote manifest: %s\n", plan.ManifestOut)
		}
		return StageDone, nil
	}

	return stage, types.Errorf(types.ErrInvalidInput, "unknown pipeline stage %s", stage)
}

// nextAnimation picks ANIMATE while clips remain, else WRITE_MANIFEST.
func (d *Driver) nextAnimation(st *state) Stage {
	if st.next >= len(st.clips) {
		return StageWriteManifest
	}
	if st.manifest.Tasks.Animations == nil {
		st.manifest.Tasks.Animations = make(map[string]*AnimationRecord)
		st.manifest.Downloads.Animations = make(map[string]string)
	}
	return StageAnimate
}

func (d *Driver) poll(ctx context.Context, label string, ref meshy.TaskRef) (*meshy.Task, error) {
	return d.poller.Poll(ctx, label, ref.Kind, func(ctx context.Context) (*meshy.Task, error) {
		return d.api.GetTask(ctx, ref)
	})
}

func (d *Driver) download(ctx context.Context, st *state, kind meshy.TaskKind, url, dest string) error {
	n, err := d.api.Download(ctx, kind, url, dest)
	if err != nil {
		return err
	}
	st.logger.Info("downloaded", zap.String("kind", string(kind)), zap.String("path", dest), zap.Int64("bytes", n))
	return nil
}

func taskFailed(what string, task *meshy.Task) error {
	status := string(task.Status)
	if reason := task.FailureMessage(); reason != "" {
		return types.Errorf(types.ErrTaskFailed, "%s ended with status %s: %s", what, status, reason)
	}
	return types.Errorf(types.ErrTaskFailed, "%s ended with status %s", what, status)
}

// SafeClipName replaces every character outside [A-Za-z0-9_-] with '_'.
func SafeClipName(clip string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, clip)
}
