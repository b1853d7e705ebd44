package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ti-toolbox/tit-core/internal/infrastructure/monitoring"
	"github.com/ti-toolbox/tit-core/internal/infrastructure/tracing"
	"github.com/ti-toolbox/tit-core/montage"
	"github.com/ti-toolbox/tit-core/pathmgr"
	"github.com/ti-toolbox/tit-core/postprocess"
	"github.com/ti-toolbox/tit-core/session"
	"github.com/ti-toolbox/tit-core/simconfig"
	"github.com/ti-toolbox/tit-core/titerrors"
)

// defaultUnitTimeout is the per-montage wall-clock deadline (spec.md
// §4.7): "A per-unit wall-clock deadline (default two hours) aborts
// stragglers as failure."
const defaultUnitTimeout = 2 * time.Hour

// Result is one montage's outcome, matching spec.md §4.7 step 6's
// `{montage_name, montage_type, status, output_mesh|error}`.
type Result struct {
	MontageName     string
	MontageType     simconfig.SimulationMode
	Status          string // "completed" or "failed"
	OutputMesh      string
	Err             error
	SubmissionIndex int // 0-based submission order, for stable manifest ordering
}

// Dirs is the directory schema produced per montage (spec.md §4.6):
// high_Frequency/{mesh,niftis,analysis}, TI/{mesh,niftis,surface_overlays,
// montage_imgs}, optionally mTI/{mesh,niftis,montage_imgs}, documentation.
type Dirs struct {
	Base               string
	HFDir              string
	HFMeshDir          string
	HFNiftiDir         string
	HFAnalysisDir      string
	TIMeshDir          string
	TINiftiDir         string
	SurfaceOverlaysDir string
	TIImagesDir        string
	MTIMeshDir         string
	MTINiftiDir        string
	MTIImagesDir       string
	DocumentationDir   string
}

func buildDirs(base string) Dirs {
	return Dirs{
		Base:               base,
		HFDir:              filepath.Join(base, "high_Frequency"),
		HFMeshDir:          filepath.Join(base, "high_Frequency", "mesh"),
		HFNiftiDir:         filepath.Join(base, "high_Frequency", "niftis"),
		HFAnalysisDir:      filepath.Join(base, "high_Frequency", "analysis"),
		TIMeshDir:          filepath.Join(base, "TI", "mesh"),
		TINiftiDir:         filepath.Join(base, "TI", "niftis"),
		SurfaceOverlaysDir: filepath.Join(base, "TI", "surface_overlays"),
		TIImagesDir:        filepath.Join(base, "TI", "montage_imgs"),
		MTIMeshDir:         filepath.Join(base, "mTI", "mesh"),
		MTINiftiDir:        filepath.Join(base, "mTI", "niftis"),
		MTIImagesDir:       filepath.Join(base, "mTI", "montage_imgs"),
		DocumentationDir:   filepath.Join(base, "documentation"),
	}
}

func (d Dirs) mkdirAll(mode simconfig.SimulationMode) error {
	dirs := []string{d.HFDir, d.HFMeshDir, d.HFNiftiDir, d.HFAnalysisDir,
		d.TIMeshDir, d.TINiftiDir, d.SurfaceOverlaysDir, d.TIImagesDir, d.DocumentationDir}
	if mode == simconfig.ModeMTI {
		dirs = append(dirs, d.MTIMeshDir, d.MTINiftiDir, d.MTIImagesDir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return titerrors.NewIOError(dir, "failed to create montage output directory", err)
		}
	}
	return nil
}

func (d Dirs) ti() postprocess.TIDirs {
	return postprocess.TIDirs{
		HFDir:              d.HFDir,
		TIMeshDir:          d.TIMeshDir,
		TINiftiDir:         d.TINiftiDir,
		SurfaceOverlaysDir: d.SurfaceOverlaysDir,
		HFMeshDir:          d.HFMeshDir,
		HFNiftiDir:         d.HFNiftiDir,
		HFAnalysisDir:      d.HFAnalysisDir,
		DocumentationDir:   d.DocumentationDir,
	}
}

func (d Dirs) mti() postprocess.MTIDirs {
	return postprocess.MTIDirs{
		HFDir:            d.HFDir,
		TIDir:            d.TIMeshDir,
		MTIMeshDir:       d.MTIMeshDir,
		MTINiftiDir:      d.MTINiftiDir,
		HFMeshDir:        d.HFMeshDir,
		HFAnalysisDir:    d.HFAnalysisDir,
		DocumentationDir: d.DocumentationDir,
	}
}

// Option configures a Runner at construction.
type Option func(*Runner)

// WithVisualizer injects the montage visualization collaborator
// (spec.md §6 item 5). Without one, visualization is always skipped.
func WithVisualizer(v Visualizer) Option {
	return func(r *Runner) { r.visualizer = v }
}

// WithObserver replaces the default (log-only) ObserverManager.
func WithObserver(o *monitoring.ObserverManager) Option {
	return func(r *Runner) { r.observer = o }
}

// WithLogger sets the run-level logger; per-worker loggers are derived
// from it via Logger.WithWorker.
func WithLogger(l *monitoring.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// WithUnitTimeout overrides the default two-hour per-montage deadline.
func WithUnitTimeout(d time.Duration) Option {
	return func(r *Runner) { r.unitTimeout = d }
}

// WithPostOptions overrides the Post-processor's default collaborators
// and tissue tag conventions.
func WithPostOptions(opts postprocess.Options) Option {
	return func(r *Runner) { r.postOptions = opts }
}

// WithWorkerLogs gives each parallel-mode unit its own log file under dir
// (spec.md §4.7: "each worker: owns a private log file under
// derivatives/tit/logs/sub-<S>/"). Sequential mode always logs through
// the run-level logger; this only affects runParallel.
func WithWorkerLogs(dir string, debug bool) Option {
	return func(r *Runner) { r.logsDir = dir; r.debugLogs = debug }
}

// Runner executes a batch of montages against one Config. Grounded on the
// teacher's internal/application/executor.WorkflowEngine: executeWave's
// semaphore+WaitGroup+errChan pattern becomes runParallel's worker pool
// over montages, and executeSequential's ordered loop becomes
// runSequential. Per spec.md §9's design note ("within a worker,
// threading is permissible but not required"), units run as goroutines,
// not OS processes.
type Runner struct {
	cfg     simconfig.Config
	pm      *pathmgr.Manager
	builder *session.Builder
	solver  Solver
	meshIO  postprocess.MeshIO

	visualizer  Visualizer
	observer    *monitoring.ObserverManager
	log         *monitoring.Logger
	unitTimeout time.Duration
	postOptions postprocess.Options

	logsDir   string // per-worker private log files, parallel mode only
	debugLogs bool
}

// New constructs a Runner. solver and meshIO are required collaborators
// (spec.md §6 items 1 and the Post-processor's mesh I/O); everything else
// defaults per Option.
func New(cfg simconfig.Config, pm *pathmgr.Manager, solver Solver, meshIO postprocess.MeshIO, opts ...Option) *Runner {
	r := &Runner{
		cfg:         cfg,
		pm:          pm,
		builder:     session.NewBuilder(cfg, pm),
		solver:      solver,
		meshIO:      meshIO,
		unitTimeout: defaultUnitTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = monitoring.NewDiscardLogger()
	}
	if r.observer == nil {
		r.observer = monitoring.NewObserverManager()
		r.observer.AddSink(monitoring.NewLogSink(r.log))
	}
	return r
}

// Run executes montages per spec.md §4.7's policy: parallel iff
// parallel.enabled ∧ |montages|>1 ∧ effective_workers>1, sequential
// otherwise. Results reflect only montages actually started; a cancelled
// ctx stops submission of further units without erroring.
func (r *Runner) Run(ctx context.Context, montages []montage.Montage) []Result {
	workers := r.cfg.Parallel.EffectiveWorkers()
	if r.cfg.Parallel.Enabled && len(montages) > 1 && workers > 1 {
		return r.runParallel(ctx, montages, workers)
	}
	return r.runSequential(ctx, montages)
}

func (r *Runner) runSequential(ctx context.Context, montages []montage.Montage) []Result {
	results := make([]Result, 0, len(montages))
	total := len(montages)
	for i, m := range montages {
		if ctx.Err() != nil {
			break
		}
		r.observer.Notify(monitoring.ProgressEvent{Index: i + 1, Total: total, Montage: m.Name, Status: "started"})
		res := r.runUnit(ctx, m, i, r.log)
		results = append(results, res)
		r.observer.Notify(monitoring.ProgressEvent{Index: i + 1, Total: total, Montage: m.Name, Completed: i + 1, Status: res.Status})
	}
	return results
}

func (r *Runner) runParallel(ctx context.Context, montages []montage.Montage, workers int) []Result {
	if w := r.cfg.Parallel.GetMemoryWarning(); w != "" {
		r.log.Warn(w)
	}
	total := len(montages)
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	resultsCh := make(chan Result, total)
	var completed int64

	for i, m := range montages {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(idx int, mt montage.Montage) {
			defer wg.Done()
			defer func() { <-sem }()

			r.observer.Notify(monitoring.ProgressEvent{Index: idx + 1, Total: total, Montage: mt.Name, Status: "started"})
			workerLog, closer := r.workerLogger(idx)
			res := r.runUnit(ctx, mt, idx, workerLog)
			if closer != nil {
				_ = closer.Close()
			}
			resultsCh <- res

			n := atomic.AddInt64(&completed, 1)
			r.observer.Notify(monitoring.ProgressEvent{Index: idx + 1, Total: total, Montage: mt.Name, Completed: int(n), Status: res.Status})
		}(i, m)
	}

	wg.Wait()
	close(resultsCh)

	results := make([]Result, 0, total)
	for res := range resultsCh {
		results = append(results, res)
	}
	return results
}

// workerLogger returns the per-unit file logger for parallel mode when
// WithWorkerLogs was configured, falling back to the shared run-level
// logger tagged with the worker index otherwise.
func (r *Runner) workerLogger(idx int) (*monitoring.Logger, io.Closer) {
	if r.logsDir == "" {
		return r.log.WithWorker(idx), nil
	}
	path := filepath.Join(r.logsDir, fmt.Sprintf("worker_%d.log", idx))
	l, closer, err := monitoring.NewFileLogger(path, r.debugLogs)
	if err != nil {
		r.log.Warn(fmt.Sprintf("failed to open worker log %s: %v", path, err))
		return r.log.WithWorker(idx), nil
	}
	return l, closer
}

// runUnit performs the per-montage unit of work shared by both modes
// (spec.md §4.7): directory schema, config snapshot, visualization,
// session build, solver invocation, post-processing.
func (r *Runner) runUnit(ctx context.Context, m montage.Montage, submissionIndex int, log *monitoring.Logger) (result Result) {
	mode := simconfig.ModeForPairCount(len(m.Pairs))
	result = Result{MontageName: m.Name, MontageType: mode, SubmissionIndex: submissionIndex, Status: "failed"}

	ctx, cancel := context.WithTimeout(ctx, r.unitTimeout)
	defer cancel()

	ctx, span := tracing.StartSpan(ctx, "runner.unit", attribute.String("montage", m.Name))
	var unitErr error
	defer tracing.EndWithError(span, &unitErr)

	log.MontageStarted(m.Name)

	if err := m.Validate(); err != nil {
		unitErr = err
		result.Err = err
		log.MontageFailed(m.Name, err)
		return result
	}

	base := r.pm.SimulationDir(r.cfg.Subject, m.Name)
	dirs := buildDirs(base)
	if err := dirs.mkdirAll(mode); err != nil {
		unitErr = err
		result.Err = err
		log.MontageFailed(m.Name, err)
		return result
	}

	r.writeConfigSnapshot(dirs, m, log)

	eegCap := m.EEGNet
	if eegCap == "" {
		eegCap = r.cfg.EEGNet
	}
	if r.visualizer != nil && !skipVisualization(eegCap) {
		imagesDir := dirs.TIImagesDir
		if mode == simconfig.ModeMTI {
			imagesDir = dirs.MTIImagesDir
		}
		if err := r.visualizer.Visualize(ctx, m.Name, string(mode), eegCap, imagesDir, m.Pairs); err != nil {
			log.StepFailed(m.Name, "visualization", err)
		}
	}

	desc, err := r.builder.Build(m, dirs.HFDir)
	if err != nil {
		unitErr = err
		result.Err = err
		log.MontageFailed(m.Name, err)
		return result
	}

	if err := r.solver.Run(ctx, desc); err != nil {
		solveErr := titerrors.NewSolverError(m.Name, "solver invocation failed", err)
		unitErr = solveErr
		result.Err = solveErr
		log.MontageFailed(m.Name, solveErr)
		return result
	}

	processor := postprocess.New(r.cfg.Subject, r.cfg.Conductivity, r.pm.M2MDir(r.cfg.Subject), log, r.meshIO, r.postOptions)

	var outputMesh string
	switch mode {
	case simconfig.ModeMTI:
		outputMesh, err = processor.ProcessMTI(ctx, dirs.mti(), m.Name)
	default:
		outputMesh, err = processor.ProcessTI(ctx, dirs.ti(), m.Name)
	}
	if err != nil {
		unitErr = err
		result.Err = err
		log.MontageFailed(m.Name, err)
		return result
	}

	result.Status = "completed"
	result.OutputMesh = outputMesh
	log.MontageCompleted(m.Name)
	return result
}

// configSnapshot is the documentation/config.json payload spec.md §4.7
// step 2 and §6 describe: enough of the run configuration and montage
// shape for downstream tools to interpret the output directory without
// re-deriving it.
type configSnapshot struct {
	Subject      string                   `json:"subject"`
	Conductivity simconfig.Conductivity   `json:"conductivity"`
	Montage      string                   `json:"montage"`
	MontageType  simconfig.SimulationMode `json:"montage_type"`
	EEGNet       string                   `json:"eeg_net"`
	SessionID    string                   `json:"session_id"`
}

func (r *Runner) writeConfigSnapshot(dirs Dirs, m montage.Montage, log *monitoring.Logger) {
	snap := configSnapshot{
		Subject:      r.cfg.Subject,
		Conductivity: r.cfg.Conductivity,
		Montage:      m.Name,
		MontageType:  simconfig.ModeForPairCount(len(m.Pairs)),
		EEGNet:       m.EEGNet,
		SessionID:    r.cfg.SessionID,
	}
	body, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		log.Warn(fmt.Sprintf("failed to marshal config snapshot for %s: %v", m.Name, err))
		return
	}
	path := filepath.Join(dirs.DocumentationDir, "config.json")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		log.Warn(fmt.Sprintf("failed to write config snapshot for %s: %v", m.Name, err))
	}
}
