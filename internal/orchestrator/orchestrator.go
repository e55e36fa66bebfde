// Package orchestrator drives a batch of scenes through one session, one
// scene at a time: queue gate, submit, wait, resolve and materialize.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/shehryarbajwa/flowreel/internal/logger"
	"github.com/shehryarbajwa/flowreel/internal/poll"
	"github.com/shehryarbajwa/flowreel/internal/session"
	"github.com/shehryarbajwa/flowreel/internal/tracker"
	"github.com/shehryarbajwa/flowreel/pkg/models"
)

// ErrSceneNotFound is returned when no scene has the requested index
var ErrSceneNotFound = errors.New("scene not found")

// Submitter places one generation request
type Submitter interface {
	Submit(ctx context.Context, s *session.Session, prompt string, params models.GenerationParams) (*tracker.Handle, error)
}

// Detector waits for a submitted request to finish
type Detector interface {
	Await(ctx context.Context, s *session.Session, h *tracker.Handle, timeout time.Duration, progress func(models.Progress)) tracker.Outcome
}

// Resolver picks the artifact a finished request produced
type Resolver interface {
	Resolve(ctx context.Context, s *session.Session, baseline tracker.ObservationSet) (tracker.Resolution, bool)
}

// QueueSampler estimates in-flight generations on the page
type QueueSampler interface {
	PendingCount(ctx context.Context, s *session.Session) (int, error)
}

// Materializer turns an artifact reference into a local file
type Materializer interface {
	Materialize(ctx context.Context, s *session.Session, ref *models.ArtifactRef, dest string) (*models.ArtifactRef, error)
}

// Navigator moves a session between workspaces and checks it is usable
type Navigator interface {
	GotoWorkspace(ctx context.Context, s *session.Session, id string) bool
	CheckAlive(ctx context.Context, s *session.Session) error
}

// Remover deletes an artifact from the workspace
type Remover interface {
	Remove(ctx context.Context, s *session.Session, ref *models.ArtifactRef) error
}

// SettingsApplier configures generation settings on the page
type SettingsApplier interface {
	Apply(ctx context.Context, s *session.Session, params models.GenerationParams) error
}

// Limiter spends the submission budget of a workspace
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// Checkpointer persists a batch after every scene change
type Checkpointer interface {
	Save(ctx context.Context, b *models.Batch) error
}

// Metrics records run measurements
type Metrics interface {
	SceneFinished(ctx context.Context, outcome string, d time.Duration)
	QueueWaited(ctx context.Context, d time.Duration)
	DegradedResolution(ctx context.Context)
}

// Config tunes waits and the queue gate
type Config struct {
	GenerationTimeout time.Duration
	QueueLimit        int
	QueueWaitTimeout  time.Duration
	QueuePollInterval time.Duration
	// DataDir holds one run directory per batch
	DataDir string
}

func (c Config) withDefaults() Config {
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = 7 * time.Minute
	}
	if c.QueueLimit <= 0 {
		c.QueueLimit = 5
	}
	if c.QueueWaitTimeout <= 0 {
		c.QueueWaitTimeout = 5 * time.Minute
	}
	if c.QueuePollInterval <= 0 {
		c.QueuePollInterval = 10 * time.Second
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	return c
}

// Deps are the collaborators of an orchestrator. Settings, Limiter,
// Checkpoint, Metrics and OnProgress are optional.
type Deps struct {
	Submitter    Submitter
	Detector     Detector
	Resolver     Resolver
	Queue        QueueSampler
	Materializer Materializer
	Navigator    Navigator
	Remover      Remover
	Settings     SettingsApplier
	Limiter      Limiter
	Checkpoint   Checkpointer
	Metrics      Metrics
	OnProgress   func(models.Progress)
}

// Orchestrator runs batches
type Orchestrator struct {
	Deps
	cfg    Config
	logger *slog.Logger
}

// New creates an orchestrator
func New(deps Deps, cfg Config, log *slog.Logger) *Orchestrator {
	return &Orchestrator{Deps: deps, cfg: cfg.withDefaults(), logger: logger.OrDefault(log)}
}

// NewBatch creates an idle batch with one pending scene per prompt
func NewBatch(prompts ...string) *models.Batch {
	now := time.Now()
	b := &models.Batch{
		ID:        uuid.New().String(),
		State:     models.BatchIdle,
		Params:    models.GenerationParams{}.WithDefaults(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i, p := range prompts {
		b.Scenes = append(b.Scenes, newScene(i+1, p, now))
	}
	return b
}

// NewBatchFromScript creates a batch from generated scene descriptions
func NewBatchFromScript(topic string, sc *models.Script) *models.Batch {
	b := NewBatch()
	b.Topic = topic
	b.Title = sc.Title
	for i, item := range sc.Scenes {
		s := newScene(i+1, item.Prompt, b.CreatedAt)
		s.Description = item.Description
		s.Duration = item.Duration
		b.Scenes = append(b.Scenes, s)
	}
	return b
}

func newScene(index int, prompt string, now time.Time) *models.Scene {
	return &models.Scene{
		ID:        uuid.New().String(),
		Index:     index,
		Prompt:    prompt,
		Status:    models.ScenePending,
		UpdatedAt: now,
	}
}

// MaterializedPaths returns the local files of completed scenes in order
func MaterializedPaths(b *models.Batch) []string {
	b.RLock()
	defer b.RUnlock()

	var paths []string
	for _, s := range b.Scenes {
		if s.Status == models.SceneCompleted && s.LocalPath != "" {
			paths = append(paths, s.LocalPath)
		}
	}
	return paths
}

// RunDir is the directory a batch writes its files to
func (o *Orchestrator) RunDir(b *models.Batch) string {
	return filepath.Join(o.cfg.DataDir, "runs", b.ID)
}

// Run processes every pending scene in order. Per-scene failures are recorded
// on the scene; only a session-fatal condition or cancellation is returned.
// On a fatal condition the remaining scenes stay pending and the session is
// closed before the error is returned.
func (o *Orchestrator) Run(ctx context.Context, s *session.Session, b *models.Batch) error {
	ctx = logger.WithBatchID(ctx, b.ID)
	log := logger.FromContext(ctx, o.logger)

	o.update(ctx, b, func() {
		b.State = models.BatchRunning
		b.Error = ""
		if b.WorkspaceID == "" {
			b.WorkspaceID = s.WorkspaceID
		}
	})
	log.Info("batch started", "scenes", len(b.Scenes), "workspace", b.WorkspaceID)

	if err := o.prepare(ctx, s, b); err != nil {
		return o.abort(ctx, s, b, nil, err)
	}

	for _, sc := range o.pendingScenes(b) {
		o.update(ctx, b, func() { b.Current = sc.Index })
		if err := o.runScene(ctx, s, b, sc, false); err != nil {
			return o.abort(ctx, s, b, sc, err)
		}
	}

	o.update(ctx, b, func() {
		b.State = models.BatchDone
		b.Current = 0
	})
	completed, failed, pending := b.Counts()
	log.Info("batch finished", "completed", completed, "failed", failed, "pending", pending)
	if err := o.exportTable(b); err != nil {
		log.Warn("scene table export failed", "error", err)
	}
	return nil
}

// Regenerate submits the prompt of a completed or failed scene again and
// replaces its artifact
func (o *Orchestrator) Regenerate(ctx context.Context, s *session.Session, b *models.Batch, index int) error {
	ctx = logger.WithBatchID(ctx, b.ID)

	b.RLock()
	sc, _ := b.Find(index)
	var status models.SceneStatus
	if sc != nil {
		status = sc.Status
	}
	b.RUnlock()
	if sc == nil {
		return fmt.Errorf("%w: %d", ErrSceneNotFound, index)
	}
	if status != models.SceneCompleted && status != models.SceneFailed {
		return fmt.Errorf("%w: cannot regenerate a %s scene", models.ErrInvalidTransition, status)
	}

	if err := o.prepare(ctx, s, b); err != nil {
		return o.fatal(ctx, s, err)
	}
	if err := o.runScene(ctx, s, b, sc, true); err != nil {
		o.update(context.WithoutCancel(ctx), b, func() { o.interrupt(sc, err) })
		logger.FromContext(ctx, o.logger).Error("regeneration interrupted", "scene", index, "error", err)
		if err := o.exportTable(b); err != nil {
			logger.FromContext(ctx, o.logger).Warn("scene table export failed", "error", err)
		}
		return o.fatal(ctx, s, err)
	}
	if err := o.exportTable(b); err != nil {
		logger.FromContext(ctx, o.logger).Warn("scene table export failed", "error", err)
	}
	return nil
}

// Delete removes a scene, its artifact in the workspace and its local file,
// then renumbers the remaining scenes so indices stay contiguous. Removal
// from the workspace is best-effort: the scene is dropped from the batch
// even when the session is missing or broken.
func (o *Orchestrator) Delete(ctx context.Context, s *session.Session, b *models.Batch, index int) (*models.Scene, error) {
	ctx = logger.WithBatchID(ctx, b.ID)
	log := logger.FromContext(ctx, o.logger)

	b.RLock()
	sc, _ := b.Find(index)
	var ref *models.ArtifactRef
	if sc != nil && sc.Artifact != nil {
		r := *sc.Artifact
		ref = &r
	}
	b.RUnlock()
	if sc == nil {
		return nil, fmt.Errorf("%w: %d", ErrSceneNotFound, index)
	}

	if ref != nil && ref.Kind == models.ArtifactRemote {
		if err := o.removeRemote(ctx, s, b, ref); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn("workspace artifact left in place", "scene", index, "error", err)
		}
	}

	var removed *models.Scene
	o.update(ctx, b, func() {
		current, pos := b.Find(index)
		if current == nil {
			return
		}
		if current.LocalPath != "" {
			if err := os.Remove(current.LocalPath); err != nil && !os.IsNotExist(err) {
				log.Warn("local file removal failed", "path", current.LocalPath, "error", err)
			}
		}
		_ = current.Transition(models.SceneDeleted)
		b.Scenes = append(b.Scenes[:pos], b.Scenes[pos+1:]...)
		for i, rest := range b.Scenes {
			rest.Index = i + 1
		}
		removed = current
	})
	if removed == nil {
		return nil, fmt.Errorf("%w: %d", ErrSceneNotFound, index)
	}
	log.Info("scene deleted", "scene", index, "remaining", len(b.Scenes))
	if err := o.exportTable(b); err != nil {
		log.Warn("scene table export failed", "error", err)
	}
	return removed, nil
}

// removeRemote deletes ref from the workspace. A session-fatal error closes
// the session.
func (o *Orchestrator) removeRemote(ctx context.Context, s *session.Session, b *models.Batch, ref *models.ArtifactRef) error {
	if o.Remover == nil {
		return nil
	}
	if s == nil {
		return errors.New("no browser session")
	}
	if err := o.verifyWorkspace(ctx, s, b); err != nil {
		return o.fatal(ctx, s, err)
	}
	if err := o.Remover.Remove(ctx, s, ref); err != nil {
		return o.fatal(ctx, s, err)
	}
	return nil
}

// prepare confirms the workspace and applies generation settings once per
// workspace
func (o *Orchestrator) prepare(ctx context.Context, s *session.Session, b *models.Batch) error {
	if err := o.verifyWorkspace(ctx, s, b); err != nil {
		return err
	}
	if o.Settings != nil && !s.SettingsApplied() {
		if err := o.Settings.Apply(ctx, s, b.Params); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) verifyWorkspace(ctx context.Context, s *session.Session, b *models.Batch) error {
	if o.Navigator == nil {
		return nil
	}
	if err := o.Navigator.CheckAlive(ctx, s); err != nil {
		return err
	}
	if b.WorkspaceID == "" || s.WorkspaceID == b.WorkspaceID {
		return nil
	}
	if o.Navigator.GotoWorkspace(ctx, s, b.WorkspaceID) {
		return nil
	}
	if err := o.Navigator.CheckAlive(ctx, s); err != nil {
		return err
	}
	return fmt.Errorf("%w: workspace %s did not open", session.ErrSessionFatal, b.WorkspaceID)
}

func (o *Orchestrator) pendingScenes(b *models.Batch) []*models.Scene {
	b.RLock()
	defer b.RUnlock()
	var out []*models.Scene
	for _, sc := range b.Scenes {
		if sc.Status == models.ScenePending {
			out = append(out, sc)
		}
	}
	return out
}

// runScene drives one scene to a terminal state. The returned error is
// session-fatal or a cancellation; every other failure is recorded on sc.
func (o *Orchestrator) runScene(ctx context.Context, s *session.Session, b *models.Batch, sc *models.Scene, regenerate bool) error {
	log := logger.FromContext(ctx, o.logger).With("scene", sc.Index)
	start := time.Now()

	if regenerate {
		o.update(ctx, b, func() {
			_ = sc.Transition(models.SceneGenerating)
			sc.Error = ""
			sc.FailureKind = ""
			sc.Warning = ""
		})
	}

	// The budget token is taken first so the queue sample is fresh at submit.
	if o.Limiter != nil {
		if err := o.Limiter.Wait(ctx, b.WorkspaceID); err != nil {
			return err
		}
	}

	if err := o.waitForSlot(ctx, s); err != nil {
		if isStop(err) {
			return err
		}
		o.finish(ctx, b, sc, start, func() { _ = sc.Fail(models.FailureQueueFull, err.Error()) })
		log.Warn("queue did not drain", "error", err)
		return nil
	}

	o.update(ctx, b, func() { sc.Attempts++ })
	h, err := o.Submitter.Submit(ctx, s, sc.Prompt, b.Params)
	if err != nil {
		if isStop(err) {
			return err
		}
		kind := models.FailureControlNotFound
		var se *tracker.SubmitError
		if errors.As(err, &se) {
			kind = se.Reason
		}
		o.finish(ctx, b, sc, start, func() { _ = sc.Fail(kind, err.Error()) })
		log.Warn("submit failed", "reason", kind, "error", err)
		return nil
	}
	if !regenerate {
		o.update(ctx, b, func() {
			_ = sc.Transition(models.SceneSubmitted)
			_ = sc.Transition(models.SceneGenerating)
		})
	}
	log.Info("scene submitted", "locator", h.Locator, "baseline", len(h.Baseline))

	out := o.Detector.Await(ctx, s, h, o.cfg.GenerationTimeout, func(p models.Progress) {
		p.BatchID = b.ID
		p.SceneIndex = sc.Index
		if o.OnProgress != nil {
			o.OnProgress(p)
		}
	})

	switch out.Kind {
	case tracker.OutcomeFatal:
		return out.Err
	case tracker.OutcomeCanceled:
		if out.Err != nil {
			return out.Err
		}
		return ctx.Err()
	case tracker.OutcomeError:
		o.finish(ctx, b, sc, start, func() { _ = sc.Fail(models.FailureGenerationError, out.Detail) })
		log.Warn("generation failed", "detail", out.Detail)
		return nil
	case tracker.OutcomeTimeout:
		o.finish(ctx, b, sc, start, func() { _ = sc.Fail(models.FailureGenerationTimeout, out.Detail) })
		log.Warn("generation timed out", "elapsed", out.Elapsed)
		return nil
	}

	res, ok := o.Resolver.Resolve(ctx, s, h.Baseline)
	if !ok {
		o.finish(ctx, b, sc, start, func() {
			_ = sc.Fail(models.FailureUnresolved, "no artifact found after completion")
		})
		return nil
	}
	if res.Confidence == models.ConfidenceDegraded && o.Metrics != nil {
		o.Metrics.DegradedResolution(ctx)
	}

	var previous string
	o.update(ctx, b, func() {
		previous = sc.LocalPath
		sc.LocalPath = ""
		_ = sc.Complete(res.Ref, res.Confidence)
	})
	log.Info("scene completed", "artifact", res.Identity, "confidence", res.Confidence, "elapsed", out.Elapsed)

	o.materialize(ctx, s, b, sc, res.Ref, previous)
	o.finish(ctx, b, sc, start, nil)
	return nil
}

func (o *Orchestrator) materialize(ctx context.Context, s *session.Session, b *models.Batch, sc *models.Scene, ref *models.ArtifactRef, previous string) {
	if o.Materializer == nil {
		return
	}
	log := logger.FromContext(ctx, o.logger).With("scene", sc.Index)

	dest := filepath.Join(o.RunDir(b), "scenes", fmt.Sprintf("scene_%03d_%s.mp4", sc.Index, shortID(sc.ID)))
	local, err := o.Materializer.Materialize(ctx, s, ref, dest)
	if err != nil {
		o.update(ctx, b, func() {
			sc.Warning = fmt.Sprintf("%s: %v", models.FailureMaterialize, err)
			sc.FailureKind = models.FailureMaterialize
		})
		log.Warn("materialize failed, keeping remote reference", "error", err)
		return
	}
	o.update(ctx, b, func() { sc.LocalPath = local.Path })
	if previous != "" && previous != local.Path {
		if err := os.Remove(previous); err != nil && !os.IsNotExist(err) {
			log.Debug("stale file not removed", "path", previous, "error", err)
		}
	}
}

// waitForSlot blocks while the advisory queue count is at or over the limit
func (o *Orchestrator) waitForSlot(ctx context.Context, s *session.Session) error {
	if o.Queue == nil {
		return nil
	}
	log := logger.FromContext(ctx, o.logger)
	last := -1

	out := poll.Until(ctx, o.cfg.QueuePollInterval, o.cfg.QueueWaitTimeout, func(ctx context.Context) (bool, error) {
		n, err := o.Queue.PendingCount(ctx, s)
		if err != nil {
			if errors.Is(err, session.ErrSessionFatal) {
				return false, err
			}
			log.Debug("queue count unavailable", "error", err)
			return false, nil
		}
		if n != last {
			log.Info("queue status", "pending", n, "limit", o.cfg.QueueLimit)
			last = n
		}
		return n < o.cfg.QueueLimit, nil
	})
	if o.Metrics != nil {
		o.Metrics.QueueWaited(ctx, out.Elapsed)
	}

	switch out.Result {
	case poll.Satisfied:
		return nil
	case poll.TimedOut:
		return fmt.Errorf("queue stayed at %d/%d for %s", last, o.cfg.QueueLimit, o.cfg.QueueWaitTimeout)
	default:
		return out.Err
	}
}

// abort stops a run on a fatal condition or cancellation. An in-flight scene
// is failed; scenes never reached stay pending.
func (o *Orchestrator) abort(ctx context.Context, s *session.Session, b *models.Batch, sc *models.Scene, cause error) error {
	log := logger.FromContext(ctx, o.logger)
	saveCtx := context.WithoutCancel(ctx)

	o.update(saveCtx, b, func() {
		o.interrupt(sc, cause)
		b.State = models.BatchAborted
		b.Error = cause.Error()
	})
	log.Error("batch aborted", "error", cause)
	if err := o.exportTable(b); err != nil {
		log.Warn("scene table export failed", "error", err)
	}
	return o.fatal(ctx, s, cause)
}

// interrupt fails sc when it was left in flight. Callers hold the batch lock.
func (o *Orchestrator) interrupt(sc *models.Scene, cause error) {
	if sc != nil && (sc.Status == models.SceneSubmitted || sc.Status == models.SceneGenerating) {
		_ = sc.Fail(models.FailureSessionFatal, cause.Error())
	}
}

// fatal closes the session when cause is session-fatal and returns cause
func (o *Orchestrator) fatal(ctx context.Context, s *session.Session, cause error) error {
	if s != nil && errors.Is(cause, session.ErrSessionFatal) {
		if err := s.Close(context.WithoutCancel(ctx), models.StatusFatal); err != nil {
			logger.FromContext(ctx, o.logger).Warn("session close failed", "error", err)
		}
	}
	return cause
}

func (o *Orchestrator) finish(ctx context.Context, b *models.Batch, sc *models.Scene, start time.Time, fn func()) {
	if fn != nil {
		o.update(ctx, b, fn)
	}
	if o.Metrics != nil {
		outcome := string(sc.Status)
		if sc.Status == models.SceneFailed {
			outcome = string(sc.FailureKind)
		}
		o.Metrics.SceneFinished(ctx, outcome, time.Since(start))
	}
}

// update applies fn under the batch lock and checkpoints the result
func (o *Orchestrator) update(ctx context.Context, b *models.Batch, fn func()) {
	b.Lock()
	fn()
	b.UpdatedAt = time.Now()
	b.Unlock()

	if o.Checkpoint != nil {
		if err := o.Checkpoint.Save(context.WithoutCancel(ctx), b); err != nil {
			logger.FromContext(ctx, o.logger).Warn("checkpoint failed", "error", err)
		}
	}
}

func isStop(err error) bool {
	return errors.Is(err, session.ErrSessionFatal) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "scene"
	}
	return id
}
