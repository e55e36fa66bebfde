// Package batch owns batches and the browser sessions that work on them. Each
// batch has at most one operation in flight and at most one live session.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/shehryarbajwa/flowreel/internal/assemble"
	"github.com/shehryarbajwa/flowreel/internal/credentials"
	"github.com/shehryarbajwa/flowreel/internal/logger"
	"github.com/shehryarbajwa/flowreel/internal/orchestrator"
	"github.com/shehryarbajwa/flowreel/internal/script"
	"github.com/shehryarbajwa/flowreel/internal/session"
	"github.com/shehryarbajwa/flowreel/pkg/models"
)

var (
	// ErrBatchNotFound is returned for an unknown batch id
	ErrBatchNotFound = errors.New("batch not found")
	// ErrBatchBusy is returned while another operation holds the batch
	ErrBatchBusy = errors.New("batch is busy")
	// ErrNoSession is returned when an operation needs a live browser and the
	// batch has none
	ErrNoSession = errors.New("batch has no live session")
	// ErrInvalidRequest wraps validation failures of a create request
	ErrInvalidRequest = errors.New("invalid request")
)

// Starter opens sessions and workspaces
type Starter interface {
	Start(ctx context.Context) (*session.Session, error)
	EnsureWorkspace(ctx context.Context, s *session.Session, id, hint string) (string, error)
}

// Runner executes batch operations on a session
type Runner interface {
	Run(ctx context.Context, s *session.Session, b *models.Batch) error
	Regenerate(ctx context.Context, s *session.Session, b *models.Batch, index int) error
	Delete(ctx context.Context, s *session.Session, b *models.Batch, index int) (*models.Scene, error)
	RunDir(b *models.Batch) string
}

// Store checkpoints batches
type Store interface {
	Save(ctx context.Context, b *models.Batch) error
	List(ctx context.Context) ([]*models.Batch, error)
}

// Options configures a Manager. Script, Assembler and Cookies are optional.
type Options struct {
	Starter     Starter
	Runner      Runner
	Store       Store
	Script      script.Generator
	Assembler   assemble.Assembler
	Cookies     *credentials.Manager
	IdleTimeout time.Duration
}

type entry struct {
	batch *models.Batch
	// sem admits one operation at a time
	sem *semaphore.Weighted

	mu   sync.Mutex
	sess *session.Session
}

func (e *entry) session() *session.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess != nil && !e.sess.Running() {
		e.sess = nil
	}
	return e.sess
}

// detach forgets the live session and returns it
func (e *entry) detach() *session.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.sess
	e.sess = nil
	return s
}

// Manager handles all batch operations
type Manager struct {
	batches sync.Map // map[batchID]*entry
	opts    Options
	logger  *slog.Logger

	// base outlives requests; async runs use it
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a batch manager
func NewManager(opts Options, log *slog.Logger) *Manager {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 15 * time.Minute
	}
	base, cancel := context.WithCancel(context.Background())
	return &Manager{opts: opts, logger: logger.OrDefault(log), base: base, cancel: cancel}
}

// Restore loads checkpointed batches. Runs interrupted by a restart are
// marked aborted and their in-flight scenes failed.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	if m.opts.Store == nil {
		return 0, nil
	}
	batches, err := m.opts.Store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load batches: %w", err)
	}
	for _, b := range batches {
		if b.State == models.BatchRunning {
			b.State = models.BatchAborted
			b.Error = "interrupted by restart"
			for _, s := range b.Scenes {
				if s.Status == models.SceneSubmitted || s.Status == models.SceneGenerating {
					_ = s.Fail(models.FailureSessionFatal, "interrupted by restart")
				}
			}
			m.save(ctx, b)
		}
		m.batches.Store(b.ID, &entry{batch: b, sem: semaphore.NewWeighted(1)})
	}
	return len(batches), nil
}

// Create builds a batch from prompts, or from a script generated for the
// topic, and optionally starts running it
func (m *Manager) Create(ctx context.Context, req models.CreateBatchRequest) (*models.Batch, error) {
	if err := req.Params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	var prompts []string
	for _, p := range req.Prompts {
		if p = strings.TrimSpace(p); p != "" {
			prompts = append(prompts, p)
		}
	}

	var b *models.Batch
	switch {
	case len(prompts) > 0:
		b = orchestrator.NewBatch(prompts...)
		b.Topic = strings.TrimSpace(req.Topic)
		b.Title = b.Topic
	case strings.TrimSpace(req.Topic) != "":
		if m.opts.Script == nil {
			return nil, fmt.Errorf("%w: no script generator configured, pass prompts", ErrInvalidRequest)
		}
		sc, err := m.opts.Script.Generate(ctx, req.Topic, req.Duration)
		if err != nil {
			return nil, fmt.Errorf("failed to generate script: %w", err)
		}
		b = orchestrator.NewBatchFromScript(strings.TrimSpace(req.Topic), sc)
	default:
		return nil, fmt.Errorf("%w: prompts or topic is required", ErrInvalidRequest)
	}

	b.WorkspaceID = req.WorkspaceID
	b.Params = req.Params.WithDefaults()
	if b.Params.OutputCount > 1 {
		m.logger.Warn("more than one output per prompt lowers resolver confidence", "outputCount", b.Params.OutputCount)
	}

	m.batches.Store(b.ID, &entry{batch: b, sem: semaphore.NewWeighted(1)})
	m.save(ctx, b)
	m.logger.Info("batch created", "batch_id", b.ID, "scenes", len(b.Scenes), "workspace", b.WorkspaceID)

	if req.Start {
		if err := m.StartRun(b.ID); err != nil {
			return nil, err
		}
	}
	return b.Snapshot(), nil
}

func (m *Manager) get(id string) (*entry, error) {
	value, ok := m.batches.Load(id)
	if !ok {
		return nil, ErrBatchNotFound
	}
	return value.(*entry), nil
}

// Get returns a snapshot of a batch
func (m *Manager) Get(id string) (*models.Batch, error) {
	e, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return e.batch.Snapshot(), nil
}

// List returns snapshots of every batch, oldest first
func (m *Manager) List() []*models.Batch {
	var out []*models.Batch
	m.batches.Range(func(key, value interface{}) bool {
		out = append(out, value.(*entry).batch.Snapshot())
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// WorkspaceOf returns the workspace a batch submits to
func (m *Manager) WorkspaceOf(id string) string {
	e, err := m.get(id)
	if err != nil {
		return ""
	}
	e.batch.RLock()
	defer e.batch.RUnlock()
	return e.batch.WorkspaceID
}

// Busy reports whether an operation holds the batch
func (m *Manager) Busy(id string) bool {
	e, err := m.get(id)
	if err != nil {
		return false
	}
	if e.sem.TryAcquire(1) {
		e.sem.Release(1)
		return false
	}
	return true
}

// RecordProgress stores the latest progress report on its batch
func (m *Manager) RecordProgress(p models.Progress) {
	e, err := m.get(p.BatchID)
	if err != nil {
		return
	}
	e.batch.Lock()
	e.batch.Progress = &p
	e.batch.Unlock()
}

// StartRun runs every pending scene of a batch in the background. Each run
// gets a fresh session; a session left over from earlier work is closed.
func (m *Manager) StartRun(id string) error {
	return m.async(id, "run", true, func(ctx context.Context, s *session.Session, b *models.Batch) error {
		return m.opts.Runner.Run(ctx, s, b)
	})
}

// Regenerate resubmits one completed or failed scene in the background
func (m *Manager) Regenerate(id string, index int) error {
	e, err := m.get(id)
	if err != nil {
		return err
	}
	e.batch.RLock()
	sc, _ := e.batch.Find(index)
	var status models.SceneStatus
	if sc != nil {
		status = sc.Status
	}
	e.batch.RUnlock()
	if sc == nil {
		return fmt.Errorf("%w: %d", orchestrator.ErrSceneNotFound, index)
	}
	if status != models.SceneCompleted && status != models.SceneFailed {
		return fmt.Errorf("%w: cannot regenerate a %s scene", models.ErrInvalidTransition, status)
	}

	return m.async(id, "regenerate", false, func(ctx context.Context, s *session.Session, b *models.Batch) error {
		return m.opts.Runner.Regenerate(ctx, s, b, index)
	})
}

func (m *Manager) async(id, op string, fresh bool, fn func(ctx context.Context, s *session.Session, b *models.Batch) error) error {
	e, err := m.get(id)
	if err != nil {
		return err
	}
	if !e.sem.TryAcquire(1) {
		return ErrBatchBusy
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer e.sem.Release(1)

		ctx := logger.WithBatchID(m.base, id)
		log := logger.FromContext(ctx, m.logger)

		s, err := m.session(ctx, e, fresh)
		if err != nil {
			log.Error("session unavailable", "op", op, "error", err)
			e.batch.Lock()
			e.batch.State = models.BatchAborted
			e.batch.Error = err.Error()
			e.batch.Unlock()
			m.save(ctx, e.batch)
			return
		}

		if err := fn(ctx, s, e.batch); err != nil {
			log.Error("batch operation stopped", "op", op, "error", err)
			return
		}
		s.Touch()
		log.Info("batch operation finished", "op", op)
	}()
	return nil
}

// Delete removes a scene synchronously. When no browser can be had the
// scene is still removed from the batch and its workspace copy is left behind.
func (m *Manager) Delete(ctx context.Context, id string, index int) (*models.Scene, error) {
	e, err := m.get(id)
	if err != nil {
		return nil, err
	}
	if !e.sem.TryAcquire(1) {
		return nil, ErrBatchBusy
	}
	defer e.sem.Release(1)
	ctx = logger.WithBatchID(ctx, id)

	e.batch.RLock()
	sc, _ := e.batch.Find(index)
	needsBrowser := sc != nil && sc.Artifact != nil && sc.Artifact.Kind == models.ArtifactRemote
	e.batch.RUnlock()

	var s *session.Session
	if needsBrowser {
		if s, err = m.session(ctx, e, false); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.FromContext(ctx, m.logger).Warn("no session for workspace removal", "scene", index, "error", err)
			s = nil
		}
	}
	removed, err := m.opts.Runner.Delete(ctx, s, e.batch, index)
	if err != nil {
		return nil, err
	}
	if s != nil {
		s.Touch()
	}
	return removed, nil
}

// Assemble joins the materialized clips of a batch into its final video
func (m *Manager) Assemble(ctx context.Context, id string) (string, error) {
	if m.opts.Assembler == nil {
		return "", fmt.Errorf("no assembler configured")
	}
	e, err := m.get(id)
	if err != nil {
		return "", err
	}
	if !e.sem.TryAcquire(1) {
		return "", ErrBatchBusy
	}
	defer e.sem.Release(1)
	ctx = logger.WithBatchID(ctx, id)

	output := filepath.Join(m.opts.Runner.RunDir(e.batch), "final.mp4")
	path, err := m.opts.Assembler.Assemble(ctx, orchestrator.MaterializedPaths(e.batch), output)
	if err != nil {
		return "", err
	}
	e.batch.Lock()
	e.batch.FinalVideo = path
	e.batch.UpdatedAt = time.Now()
	e.batch.Unlock()
	m.save(ctx, e.batch)
	return path, nil
}

// Screenshot captures the live page of a batch
func (m *Manager) Screenshot(ctx context.Context, id string) ([]byte, error) {
	e, err := m.get(id)
	if err != nil {
		return nil, err
	}
	s := e.session()
	if s == nil {
		return nil, ErrNoSession
	}
	return s.Page.Screenshot(ctx)
}

// ExportCookies writes the live cookie jar of a batch's session to disk
func (m *Manager) ExportCookies(ctx context.Context, id string) (*models.CookieSnapshot, error) {
	if m.opts.Cookies == nil {
		return nil, fmt.Errorf("cookie export not configured")
	}
	e, err := m.get(id)
	if err != nil {
		return nil, err
	}
	s := e.session()
	if s == nil {
		return nil, ErrNoSession
	}
	return m.opts.Cookies.Export(ctx, s.Page, id)
}

// ConnectURL returns the CDP websocket of a batch's live browser
func (m *Manager) ConnectURL(id string) (string, error) {
	e, err := m.get(id)
	if err != nil {
		return "", err
	}
	s := e.session()
	if s == nil || s.ConnectURL == "" {
		return "", ErrNoSession
	}
	return s.ConnectURL, nil
}

// session returns the batch's live session, bootstrapping one and opening
// the batch's workspace when needed. fresh closes any live session first.
func (m *Manager) session(ctx context.Context, e *entry, fresh bool) (*session.Session, error) {
	if fresh {
		if old := e.detach(); old != nil {
			if err := old.Close(context.WithoutCancel(ctx), models.StatusClosed); err != nil {
				logger.FromContext(ctx, m.logger).Warn("previous session close failed", "session_id", old.ID, "error", err)
			}
		}
	} else if s := e.session(); s != nil {
		s.Touch()
		return s, nil
	}

	s, err := m.opts.Starter.Start(ctx)
	if err != nil {
		return nil, err
	}

	e.batch.RLock()
	want, hint := e.batch.WorkspaceID, e.batch.Title
	e.batch.RUnlock()

	id, err := m.opts.Starter.EnsureWorkspace(ctx, s, want, hint)
	if err != nil {
		s.Close(context.WithoutCancel(ctx), models.StatusFatal)
		return nil, err
	}

	e.batch.Lock()
	e.batch.WorkspaceID = id
	e.batch.Unlock()

	e.mu.Lock()
	e.sess = s
	e.mu.Unlock()
	return s, nil
}

// Reap closes sessions idle for longer than the idle timeout until ctx ends
func (m *Manager) Reap(ctx context.Context) error {
	interval := m.opts.IdleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.ReapIdle(ctx)
		}
	}
}

// ReapIdle closes every idle session once and returns how many were closed
func (m *Manager) ReapIdle(ctx context.Context) int {
	closed := 0
	m.batches.Range(func(key, value interface{}) bool {
		e := value.(*entry)
		if !e.sem.TryAcquire(1) {
			return true
		}
		defer e.sem.Release(1)

		e.mu.Lock()
		s := e.sess
		idle := s != nil && s.IdleFor() > m.opts.IdleTimeout
		if idle || (s != nil && !s.Running()) {
			e.sess = nil
		}
		e.mu.Unlock()

		if idle {
			m.logger.Info("closing idle session", "batch_id", key, "session_id", s.ID, "idle", s.IdleFor().Round(time.Second))
			if err := s.Close(ctx, models.StatusIdledOut); err != nil {
				m.logger.Warn("idle session close failed", "batch_id", key, "error", err)
			}
			closed++
		}
		return true
	})
	return closed
}

// Wait blocks until background operations finish
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown cancels background operations and closes every session
func (m *Manager) Shutdown(ctx context.Context) {
	m.cancel()
	m.wg.Wait()
	m.batches.Range(func(key, value interface{}) bool {
		e := value.(*entry)
		if s := e.detach(); s != nil {
			if err := s.Close(ctx, models.StatusClosed); err != nil {
				m.logger.Warn("session close failed", "batch_id", key, "error", err)
			}
		}
		return true
	})
}

func (m *Manager) save(ctx context.Context, b *models.Batch) {
	if m.opts.Store == nil {
		return
	}
	if err := m.opts.Store.Save(context.WithoutCancel(ctx), b); err != nil {
		m.logger.Warn("checkpoint failed", "batch_id", b.ID, "error", err)
	}
}
