package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shehryarbajwa/flowreel/internal/browser"
	"github.com/shehryarbajwa/flowreel/internal/page/pagetest"
	"github.com/shehryarbajwa/flowreel/internal/session"
	"github.com/shehryarbajwa/flowreel/internal/tracker"
	"github.com/shehryarbajwa/flowreel/pkg/models"
)

type fakeSubmitter struct {
	errs    []error
	prompts []string
	queue   *fakeQueue
	// seen is the queue count observed when each submit happened
	seen []int
}

func (f *fakeSubmitter) Submit(ctx context.Context, s *session.Session, prompt string, params models.GenerationParams) (*tracker.Handle, error) {
	i := len(f.prompts)
	f.prompts = append(f.prompts, prompt)
	if f.queue != nil {
		f.seen = append(f.seen, f.queue.last)
	}
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return &tracker.Handle{Prompt: prompt, Params: params, Baseline: tracker.NewObservationSet(), SubmittedAt: time.Now()}, nil
}

type fakeDetector struct {
	outcomes []tracker.Outcome
	calls    int
}

func (f *fakeDetector) Await(ctx context.Context, s *session.Session, h *tracker.Handle, timeout time.Duration, progress func(models.Progress)) tracker.Outcome {
	i := f.calls
	f.calls++
	if progress != nil {
		progress(models.Progress{Percent: 50})
	}
	if i < len(f.outcomes) {
		return f.outcomes[i]
	}
	return tracker.Outcome{Kind: tracker.OutcomeSuccess}
}

type fakeResolver struct {
	refs  []string
	calls int
}

func (f *fakeResolver) Resolve(ctx context.Context, s *session.Session, baseline tracker.ObservationSet) (tracker.Resolution, bool) {
	i := f.calls
	f.calls++
	if i >= len(f.refs) || f.refs[i] == "" {
		return tracker.Resolution{}, false
	}
	return tracker.Resolution{Ref: models.Remote(f.refs[i]), Identity: f.refs[i], Confidence: models.ConfidenceHigh}, true
}

type fakeQueue struct {
	counts []int
	calls  int
	last   int
}

func (f *fakeQueue) PendingCount(ctx context.Context, s *session.Session) (int, error) {
	if f.calls < len(f.counts) {
		f.last = f.counts[f.calls]
	} else if len(f.counts) > 0 {
		f.last = f.counts[len(f.counts)-1]
	}
	f.calls++
	return f.last, nil
}

type fakeMaterializer struct {
	err   error
	dests []string
}

func (f *fakeMaterializer) Materialize(ctx context.Context, s *session.Session, ref *models.ArtifactRef, dest string) (*models.ArtifactRef, error) {
	f.dests = append(f.dests, dest)
	if f.err != nil {
		return nil, f.err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(dest, []byte(ref.URL), 0o644); err != nil {
		return nil, err
	}
	return models.Local(dest), nil
}

type fakeNavigator struct {
	alive  error
	gotoOK bool
	gotos  []string
}

func (f *fakeNavigator) GotoWorkspace(ctx context.Context, s *session.Session, id string) bool {
	f.gotos = append(f.gotos, id)
	if f.gotoOK {
		s.WorkspaceID = id
	}
	return f.gotoOK
}

func (f *fakeNavigator) CheckAlive(ctx context.Context, s *session.Session) error {
	return f.alive
}

type fakeRemover struct {
	err     error
	removed []string
}

func (f *fakeRemover) Remove(ctx context.Context, s *session.Session, ref *models.ArtifactRef) error {
	if f.err != nil {
		return f.err
	}
	f.removed = append(f.removed, ref.URL)
	return nil
}

type fakeLimiter struct {
	queue *fakeQueue
	// samples is the number of queue samples taken before each token
	samples []int
}

func (f *fakeLimiter) Wait(ctx context.Context, key string) error {
	f.samples = append(f.samples, f.queue.calls)
	return nil
}

type fakeSettings struct {
	calls int
}

func (f *fakeSettings) Apply(ctx context.Context, s *session.Session, params models.GenerationParams) error {
	f.calls++
	s.MarkSettingsApplied()
	return nil
}

type fakeCheckpoint struct {
	mu    sync.Mutex
	saves int
}

func (f *fakeCheckpoint) Save(ctx context.Context, b *models.Batch) error {
	f.mu.Lock()
	f.saves++
	f.mu.Unlock()
	return nil
}

type harness struct {
	submit   *fakeSubmitter
	detect   *fakeDetector
	resolve  *fakeResolver
	queue    *fakeQueue
	mat      *fakeMaterializer
	nav      *fakeNavigator
	remove   *fakeRemover
	settings *fakeSettings
	check    *fakeCheckpoint
	progress []models.Progress
	orch     *Orchestrator
	fake     *pagetest.Fake
	session  *session.Session
}

func newHarness(t *testing.T, refs ...string) *harness {
	t.Helper()
	h := &harness{
		detect:   &fakeDetector{},
		resolve:  &fakeResolver{refs: refs},
		queue:    &fakeQueue{counts: []int{0}},
		mat:      &fakeMaterializer{},
		nav:      &fakeNavigator{gotoOK: true},
		remove:   &fakeRemover{},
		settings: &fakeSettings{},
		check:    &fakeCheckpoint{},
		fake:     pagetest.New(),
	}
	h.submit = &fakeSubmitter{queue: h.queue}
	h.session = session.New(browser.NewInstance("test", h.fake, nil))
	h.session.WorkspaceID = "ws"
	h.orch = New(Deps{
		Submitter:    h.submit,
		Detector:     h.detect,
		Resolver:     h.resolve,
		Queue:        h.queue,
		Materializer: h.mat,
		Navigator:    h.nav,
		Remover:      h.remove,
		Settings:     h.settings,
		Checkpoint:   h.check,
		OnProgress:   func(p models.Progress) { h.progress = append(h.progress, p) },
	}, Config{
		QueueLimit:        5,
		QueueWaitTimeout:  50 * time.Millisecond,
		QueuePollInterval: time.Millisecond,
		DataDir:           t.TempDir(),
	}, nil)
	return h
}

func indices(b *models.Batch) []int {
	var out []int
	for _, s := range b.Scenes {
		out = append(out, s.Index)
	}
	return out
}

func TestNewBatch(t *testing.T) {
	b := NewBatch("a", "b", "c")

	if b.State != models.BatchIdle {
		t.Errorf("state = %s, want idle", b.State)
	}
	if fmt.Sprint(indices(b)) != "[1 2 3]" {
		t.Errorf("indices = %v", indices(b))
	}
	seen := map[string]bool{}
	for _, s := range b.Scenes {
		if s.Status != models.ScenePending {
			t.Errorf("scene %d status = %s", s.Index, s.Status)
		}
		if s.ID == "" || seen[s.ID] {
			t.Errorf("scene %d has a missing or duplicate id", s.Index)
		}
		seen[s.ID] = true
	}
	if b.Params.AspectRatio != models.AspectLandscape {
		t.Errorf("params not defaulted: %+v", b.Params)
	}
}

func TestNewBatchFromScript(t *testing.T) {
	b := NewBatchFromScript("foxes", &models.Script{
		Title: "Fox day",
		Scenes: []models.ScriptScene{
			{Description: "dawn", Prompt: "fox wakes", Duration: 8},
			{Description: "noon", Prompt: "fox hunts", Duration: 8},
		},
	})
	if b.Title != "Fox day" || b.Topic != "foxes" || len(b.Scenes) != 2 {
		t.Fatalf("unexpected batch %+v", b)
	}
	if b.Scenes[1].Index != 2 || b.Scenes[1].Description != "noon" || b.Scenes[1].Prompt != "fox hunts" {
		t.Errorf("unexpected scene %+v", b.Scenes[1])
	}
}

func TestRun_AllScenesComplete(t *testing.T) {
	h := newHarness(t, "ref-1", "ref-2", "ref-3")
	b := NewBatch("p1", "p2", "p3")

	if err := h.orch.Run(context.Background(), h.session, b); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if b.State != models.BatchDone {
		t.Errorf("state = %s, want done", b.State)
	}
	if len(b.Table()) != 3 {
		t.Fatalf("expected 3 records, got %d", len(b.Table()))
	}
	for i, s := range b.Scenes {
		if s.Status != models.SceneCompleted {
			t.Errorf("scene %d status = %s", s.Index, s.Status)
		}
		if s.Artifact == nil || s.Artifact.URL != fmt.Sprintf("ref-%d", i+1) {
			t.Errorf("scene %d artifact = %v", s.Index, s.Artifact)
		}
		if s.LocalPath == "" {
			t.Errorf("scene %d not materialized", s.Index)
		}
	}
	if fmt.Sprint(h.submit.prompts) != "[p1 p2 p3]" {
		t.Errorf("submission order = %v", h.submit.prompts)
	}
	if len(MaterializedPaths(b)) != 3 {
		t.Errorf("materialized paths = %v", MaterializedPaths(b))
	}
	if h.settings.calls != 1 {
		t.Errorf("settings applied %d times, want 1", h.settings.calls)
	}
	if h.check.saves == 0 {
		t.Error("expected checkpoints")
	}
	if len(h.progress) != 3 || h.progress[2].SceneIndex != 3 || h.progress[2].BatchID != b.ID {
		t.Errorf("unexpected progress reports %+v", h.progress)
	}

	data, err := os.ReadFile(h.orch.TablePath(b))
	if err != nil {
		t.Fatalf("scene table not exported: %v", err)
	}
	var rows []models.SceneRecord
	if err := json.Unmarshal(data, &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 || rows[0].ArtifactRef == nil || rows[0].ArtifactRef.URL != "ref-1" {
		t.Errorf("unexpected exported table %s", data)
	}
}

func TestRun_TwoScenesSecondErrors(t *testing.T) {
	h := newHarness(t, "ref-1")
	h.detect.outcomes = []tracker.Outcome{
		{Kind: tracker.OutcomeSuccess},
		{Kind: tracker.OutcomeError, Detail: "Không tạo được video"},
	}
	b := NewBatch("cat", "dog")

	if err := h.orch.Run(context.Background(), h.session, b); err != nil {
		t.Fatalf("Run: %v", err)
	}

	first, second := b.Scenes[0], b.Scenes[1]
	if first.Status != models.SceneCompleted || first.Artifact.URL != "ref-1" {
		t.Errorf("scene 1 = %s %v", first.Status, first.Artifact)
	}
	if second.Status != models.SceneFailed || second.FailureKind != models.FailureGenerationError {
		t.Errorf("scene 2 = %s %s", second.Status, second.FailureKind)
	}
	if second.Error != "Không tạo được video" {
		t.Errorf("scene 2 error = %q", second.Error)
	}
	if second.Artifact != nil {
		t.Error("failed scene must not carry an artifact")
	}
	if paths := MaterializedPaths(b); len(paths) != 1 || paths[0] != first.LocalPath {
		t.Errorf("materialized paths = %v", paths)
	}
	if b.State != models.BatchDone {
		t.Errorf("state = %s", b.State)
	}
}

func TestRun_PerSceneFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		kind  models.FailureKind
	}{
		{"submit control disabled", func(h *harness) {
			h.submit.errs = []error{&tracker.SubmitError{Reason: models.FailureControlDisabled}}
		}, models.FailureControlDisabled},
		{"generation timeout", func(h *harness) {
			h.detect.outcomes = []tracker.Outcome{{Kind: tracker.OutcomeTimeout, Detail: "no completion"}}
		}, models.FailureGenerationTimeout},
		{"nothing to resolve", func(h *harness) {
			h.resolve.refs = nil
		}, models.FailureUnresolved},
		{"queue never drains", func(h *harness) {
			h.queue.counts = []int{5}
		}, models.FailureQueueFull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "ref-1")
			tt.setup(h)
			b := NewBatch("only")

			if err := h.orch.Run(context.Background(), h.session, b); err != nil {
				t.Fatalf("Run: %v", err)
			}
			s := b.Scenes[0]
			if s.Status != models.SceneFailed || s.FailureKind != tt.kind {
				t.Errorf("scene = %s %s, want failed %s", s.Status, s.FailureKind, tt.kind)
			}
			if s.Error == "" {
				t.Error("failed scene needs a reason")
			}
		})
	}
}

func TestRun_QueueGateNeverSubmitsAtLimit(t *testing.T) {
	h := newHarness(t, "ref-1", "ref-2")
	h.queue.counts = []int{5, 6, 5, 4, 7, 3}
	b := NewBatch("a", "b")

	if err := h.orch.Run(context.Background(), h.session, b); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(h.submit.seen) != 2 {
		t.Fatalf("expected 2 submits, got %d", len(h.submit.seen))
	}
	for i, n := range h.submit.seen {
		if n >= 5 {
			t.Errorf("submit %d happened with %d pending", i+1, n)
		}
	}
	if h.queue.calls != 6 {
		t.Errorf("queue sampled %d times, want 6", h.queue.calls)
	}
}

func TestRun_BudgetTakenBeforeQueueGate(t *testing.T) {
	h := newHarness(t, "ref-1", "ref-2")
	h.queue.counts = []int{5, 6, 5, 4, 7, 3}
	limiter := &fakeLimiter{queue: h.queue}
	h.orch.Limiter = limiter
	b := NewBatch("a", "b")

	if err := h.orch.Run(context.Background(), h.session, b); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fmt.Sprint(limiter.samples) != "[0 4]" {
		t.Errorf("queue samples before each token = %v, want [0 4]", limiter.samples)
	}
	for i, n := range h.submit.seen {
		if n >= 5 {
			t.Errorf("submit %d happened with %d pending", i+1, n)
		}
	}
}

func TestRun_QueueTimeoutSkipsSubmit(t *testing.T) {
	h := newHarness(t, "ref-1")
	h.queue.counts = []int{9}
	b := NewBatch("a")

	if err := h.orch.Run(context.Background(), h.session, b); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(h.submit.prompts) != 0 {
		t.Errorf("nothing should be submitted over the limit, got %v", h.submit.prompts)
	}
	if b.Scenes[0].FailureKind != models.FailureQueueFull {
		t.Errorf("failure = %s", b.Scenes[0].FailureKind)
	}
}

func TestRun_FatalAbortsWithRemainingPending(t *testing.T) {
	h := newHarness(t, "ref-1", "ref-2", "ref-3")
	fatal := fmt.Errorf("%w: page closed", session.ErrSessionFatal)
	h.detect.outcomes = []tracker.Outcome{
		{Kind: tracker.OutcomeSuccess},
		{Kind: tracker.OutcomeFatal, Err: fatal},
	}
	b := NewBatch("a", "b", "c")

	err := h.orch.Run(context.Background(), h.session, b)
	if !errors.Is(err, session.ErrSessionFatal) {
		t.Fatalf("expected session fatal, got %v", err)
	}

	want := []models.SceneStatus{models.SceneCompleted, models.SceneFailed, models.ScenePending}
	for i, s := range b.Scenes {
		if s.Status != want[i] {
			t.Errorf("scene %d status = %s, want %s", s.Index, s.Status, want[i])
		}
	}
	if b.Scenes[1].FailureKind != models.FailureSessionFatal {
		t.Errorf("in-flight scene kind = %s", b.Scenes[1].FailureKind)
	}
	if b.State != models.BatchAborted || b.Error == "" {
		t.Errorf("batch = %s %q", b.State, b.Error)
	}
	if h.session.Status() != models.StatusFatal || !h.fake.Closed() {
		t.Error("session should be closed as fatal before Run returns")
	}
	if len(h.submit.prompts) != 2 {
		t.Errorf("no submit expected after the fatal scene, got %v", h.submit.prompts)
	}
}

func TestRun_UnreachableWorkspaceAborts(t *testing.T) {
	h := newHarness(t, "ref-1")
	h.nav.gotoOK = false
	b := NewBatch("a", "b")
	b.WorkspaceID = "elsewhere"

	err := h.orch.Run(context.Background(), h.session, b)
	if !errors.Is(err, session.ErrSessionFatal) {
		t.Fatalf("expected session fatal, got %v", err)
	}
	for _, s := range b.Scenes {
		if s.Status != models.ScenePending {
			t.Errorf("scene %d = %s, want pending", s.Index, s.Status)
		}
	}
	if len(h.submit.prompts) != 0 {
		t.Error("nothing should be submitted")
	}
}

func TestRun_CanceledContext(t *testing.T) {
	h := newHarness(t, "ref-1")
	h.detect.outcomes = []tracker.Outcome{{Kind: tracker.OutcomeCanceled, Err: context.Canceled}}
	b := NewBatch("a", "b")

	err := h.orch.Run(context.Background(), h.session, b)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if b.State != models.BatchAborted {
		t.Errorf("state = %s", b.State)
	}
	if b.Scenes[1].Status != models.ScenePending {
		t.Errorf("scene 2 = %s", b.Scenes[1].Status)
	}
	if h.session.Status() != models.StatusRunning {
		t.Error("cancellation must not close the session")
	}
}

func TestRun_MaterializeFailureKeepsRemote(t *testing.T) {
	h := newHarness(t, "ref-1")
	h.mat.err = errors.New("download refused")
	b := NewBatch("a")

	if err := h.orch.Run(context.Background(), h.session, b); err != nil {
		t.Fatalf("Run: %v", err)
	}
	s := b.Scenes[0]
	if s.Status != models.SceneCompleted || s.Artifact.URL != "ref-1" {
		t.Errorf("scene = %s %v", s.Status, s.Artifact)
	}
	if s.FailureKind != models.FailureMaterialize || s.Warning == "" || s.LocalPath != "" {
		t.Errorf("expected a materialize warning, got %+v", s)
	}
	if len(MaterializedPaths(b)) != 0 {
		t.Error("unmaterialized scenes are not assembled")
	}
}

func TestRun_ResumesPendingOnly(t *testing.T) {
	h := newHarness(t, "ref-2")
	b := NewBatch("a", "b")
	_ = b.Scenes[0].Fail(models.FailureGenerationError, "old failure")

	if err := h.orch.Run(context.Background(), h.session, b); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fmt.Sprint(h.submit.prompts) != "[b]" {
		t.Errorf("submitted %v, want only the pending scene", h.submit.prompts)
	}
	if b.Scenes[0].Status != models.SceneFailed {
		t.Error("terminal scenes are left alone")
	}
}

func TestRegenerate_OverwritesArtifact(t *testing.T) {
	h := newHarness(t, "ref-old", "ref-new")
	b := NewBatch("a")
	ctx := context.Background()

	if err := h.orch.Run(ctx, h.session, b); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := h.orch.Regenerate(ctx, h.session, b, 1); err != nil {
		t.Fatalf("Regenerate: %v", err)
	}

	s := b.Scenes[0]
	if s.Status != models.SceneCompleted || s.Artifact.URL != "ref-new" {
		t.Errorf("scene = %s %v, want completed ref-new", s.Status, s.Artifact)
	}
	if s.Attempts != 2 {
		t.Errorf("attempts = %d", s.Attempts)
	}
	data, err := os.ReadFile(s.LocalPath)
	if err != nil || string(data) != "ref-new" {
		t.Errorf("local file = %q, %v", data, err)
	}
	if h.settings.calls != 1 {
		t.Errorf("settings re-applied in the same workspace: %d", h.settings.calls)
	}
}

func TestRegenerate_FailedSceneRecovers(t *testing.T) {
	h := newHarness(t, "", "ref-2")
	b := NewBatch("a")
	ctx := context.Background()

	_ = h.orch.Run(ctx, h.session, b)
	if b.Scenes[0].Status != models.SceneFailed {
		t.Fatalf("setup: scene = %s", b.Scenes[0].Status)
	}
	if err := h.orch.Regenerate(ctx, h.session, b, 1); err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	s := b.Scenes[0]
	if s.Status != models.SceneCompleted || s.Error != "" || s.FailureKind != "" {
		t.Errorf("scene = %+v", s)
	}
}

func TestRegenerate_FatalFailsScene(t *testing.T) {
	h := newHarness(t, "ref-1", "ref-2")
	fatal := fmt.Errorf("%w: page closed", session.ErrSessionFatal)
	h.detect.outcomes = []tracker.Outcome{
		{Kind: tracker.OutcomeSuccess},
		{Kind: tracker.OutcomeFatal, Err: fatal},
	}
	b := NewBatch("a")
	ctx := context.Background()

	if err := h.orch.Run(ctx, h.session, b); err != nil {
		t.Fatalf("Run: %v", err)
	}
	err := h.orch.Regenerate(ctx, h.session, b, 1)
	if !errors.Is(err, session.ErrSessionFatal) {
		t.Fatalf("expected session fatal, got %v", err)
	}

	s := b.Scenes[0]
	if s.Status != models.SceneFailed || s.FailureKind != models.FailureSessionFatal || s.Error == "" {
		t.Errorf("scene = %s %s %q, want failed session_fatal", s.Status, s.FailureKind, s.Error)
	}
	if !h.fake.Closed() {
		t.Error("session should be closed after a fatal regeneration")
	}

	// A failed scene can be regenerated again.
	if err := h.orch.Regenerate(ctx, h.session, b, 1); err != nil {
		t.Fatalf("second Regenerate: %v", err)
	}
	if s.Status != models.SceneCompleted || s.Artifact.URL != "ref-2" {
		t.Errorf("scene = %s %v, want completed ref-2", s.Status, s.Artifact)
	}
}

func TestRegenerate_CanceledFailsScene(t *testing.T) {
	h := newHarness(t, "ref-1")
	b := NewBatch("a")

	if err := h.orch.Run(context.Background(), h.session, b); err != nil {
		t.Fatalf("Run: %v", err)
	}
	h.queue.counts = []int{5}
	h.queue.calls = 0
	h.orch.cfg.QueuePollInterval = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.orch.Regenerate(ctx, h.session, b, 1)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	s := b.Scenes[0]
	if s.Status != models.SceneFailed || s.FailureKind != models.FailureSessionFatal {
		t.Errorf("scene = %s %s, want failed session_fatal", s.Status, s.FailureKind)
	}
	if len(h.submit.prompts) != 1 {
		t.Errorf("nothing should be submitted after cancellation, got %v", h.submit.prompts)
	}
	if h.session.Status() != models.StatusRunning {
		t.Error("cancellation must not close the session")
	}
}

func TestRegenerate_Rejects(t *testing.T) {
	h := newHarness(t, "ref-1")
	b := NewBatch("a")

	if err := h.orch.Regenerate(context.Background(), h.session, b, 7); !errors.Is(err, ErrSceneNotFound) {
		t.Errorf("missing index: got %v", err)
	}
	if err := h.orch.Regenerate(context.Background(), h.session, b, 1); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("pending scene: got %v", err)
	}
	if len(h.submit.prompts) != 0 {
		t.Error("nothing should be submitted")
	}
}

func TestRegenerate_ReverifiesWorkspace(t *testing.T) {
	h := newHarness(t, "ref-1", "ref-2")
	b := NewBatch("a")
	b.WorkspaceID = "ws"
	ctx := context.Background()

	if err := h.orch.Run(ctx, h.session, b); err != nil {
		t.Fatalf("Run: %v", err)
	}
	h.session.WorkspaceID = "drifted"
	if err := h.orch.Regenerate(ctx, h.session, b, 1); err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if len(h.nav.gotos) != 1 || h.nav.gotos[0] != "ws" {
		t.Errorf("expected navigation back to ws, got %v", h.nav.gotos)
	}
}

func TestDelete_RenumbersScenes(t *testing.T) {
	h := newHarness(t, "ref-1", "ref-2", "ref-3")
	b := NewBatch("a", "b", "c")
	ctx := context.Background()
	if err := h.orch.Run(ctx, h.session, b); err != nil {
		t.Fatalf("Run: %v", err)
	}
	local := b.Scenes[1].LocalPath

	removed, err := h.orch.Delete(ctx, h.session, b, 2)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if removed.Prompt != "b" || removed.Status != models.SceneDeleted {
		t.Errorf("removed = %+v", removed)
	}
	if fmt.Sprint(indices(b)) != "[1 2]" || b.Scenes[1].Prompt != "c" {
		t.Errorf("remaining = %v", indices(b))
	}
	if fmt.Sprint(h.remove.removed) != "[ref-2]" {
		t.Errorf("removed artifacts = %v", h.remove.removed)
	}
	if _, err := os.Stat(local); !os.IsNotExist(err) {
		t.Errorf("local file should be gone, stat err = %v", err)
	}
}

func TestDelete_MissingIndex(t *testing.T) {
	h := newHarness(t)
	b := NewBatch("a", "b", "c")

	_, err := h.orch.Delete(context.Background(), h.session, b, 4)
	if !errors.Is(err, ErrSceneNotFound) {
		t.Fatalf("expected ErrSceneNotFound, got %v", err)
	}
	if fmt.Sprint(indices(b)) != "[1 2 3]" {
		t.Errorf("indices changed: %v", indices(b))
	}
}

func TestDelete_PendingSceneSkipsRemoval(t *testing.T) {
	h := newHarness(t)
	b := NewBatch("a", "b")

	if _, err := h.orch.Delete(context.Background(), h.session, b, 1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(h.remove.removed) != 0 {
		t.Error("a scene without an artifact has nothing to remove")
	}
	if len(b.Scenes) != 1 || b.Scenes[0].Index != 1 || b.Scenes[0].Prompt != "b" {
		t.Errorf("remaining = %+v", b.Scenes)
	}
}

func TestDelete_RemovalFailureStillDeletes(t *testing.T) {
	h := newHarness(t, "ref-1", "ref-2", "ref-3")
	b := NewBatch("a", "b", "c")
	ctx := context.Background()
	if err := h.orch.Run(ctx, h.session, b); err != nil {
		t.Fatalf("Run: %v", err)
	}
	h.remove.err = errors.New("card menu did not open")

	removed, err := h.orch.Delete(ctx, h.session, b, 2)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if removed.Prompt != "b" {
		t.Errorf("removed = %+v", removed)
	}
	if fmt.Sprint(indices(b)) != "[1 2]" || b.Scenes[1].Prompt != "c" {
		t.Errorf("remaining = %v", indices(b))
	}
	if h.session.Status() != models.StatusRunning {
		t.Error("a non-fatal removal error must not close the session")
	}
}

func TestDelete_BrokenSessionStillDeletes(t *testing.T) {
	h := newHarness(t, "ref-1", "ref-2")
	b := NewBatch("a", "b")
	ctx := context.Background()
	if err := h.orch.Run(ctx, h.session, b); err != nil {
		t.Fatalf("Run: %v", err)
	}
	local := b.Scenes[0].LocalPath
	h.nav.alive = fmt.Errorf("%w: page crashed", session.ErrSessionFatal)

	if _, err := h.orch.Delete(ctx, h.session, b, 1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if fmt.Sprint(indices(b)) != "[1]" || b.Scenes[0].Prompt != "b" {
		t.Errorf("remaining = %v", indices(b))
	}
	if len(h.remove.removed) != 0 {
		t.Errorf("nothing can be removed from a dead page, got %v", h.remove.removed)
	}
	if _, err := os.Stat(local); !os.IsNotExist(err) {
		t.Errorf("local file should be gone, stat err = %v", err)
	}
	if h.session.Status() != models.StatusFatal || !h.fake.Closed() {
		t.Error("a session-fatal check should close the session")
	}
}

func TestDelete_WithoutSession(t *testing.T) {
	h := newHarness(t, "ref-1")
	b := NewBatch("a")
	if err := h.orch.Run(context.Background(), h.session, b); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := h.orch.Delete(context.Background(), nil, b, 1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(b.Scenes) != 0 || len(h.remove.removed) != 0 {
		t.Errorf("scenes = %v removed = %v", indices(b), h.remove.removed)
	}
}
