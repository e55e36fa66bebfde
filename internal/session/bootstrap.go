package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shehryarbajwa/flowreel/internal/browser"
	"github.com/shehryarbajwa/flowreel/internal/locator"
	"github.com/shehryarbajwa/flowreel/internal/logger"
	"github.com/shehryarbajwa/flowreel/internal/page"
	"github.com/shehryarbajwa/flowreel/internal/poll"
	"github.com/shehryarbajwa/flowreel/internal/profile"
	"github.com/shehryarbajwa/flowreel/pkg/models"
)

// Launcher starts a browser for a session id
type Launcher interface {
	Launch(ctx context.Context, sessionID string) (*browser.Instance, error)
}

// Config tunes the bootstrapper
type Config struct {
	Cookies          []models.Cookie
	DefaultWorkspace string
	// NavigateTimeout bounds the wait for a navigation to land
	NavigateTimeout time.Duration
	PollInterval    time.Duration
}

// Bootstrapper opens authenticated sessions and moves them between workspaces
type Bootstrapper struct {
	launcher Launcher
	profile  *profile.Profile
	cfg      Config
	logger   *slog.Logger
	newID    func() string
}

// NewBootstrapper creates a bootstrapper. A nil profile uses the built-in one.
func NewBootstrapper(l Launcher, p *profile.Profile, cfg Config, log *slog.Logger) *Bootstrapper {
	if p == nil {
		p = profile.Default()
	}
	if cfg.NavigateTimeout <= 0 {
		cfg.NavigateTimeout = 20 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &Bootstrapper{
		launcher: l,
		profile:  p,
		cfg:      cfg,
		logger:   logger.OrDefault(log),
		newID:    func() string { return uuid.New().String() },
	}
}

// Start launches a browser, installs the credential bundle against the
// service origin and opens the service home page.
func (b *Bootstrapper) Start(ctx context.Context) (*Session, error) {
	id := b.newID()
	inst, err := b.launcher.Launch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	s := New(inst)

	fail := func(err error) (*Session, error) {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.Close(closeCtx, models.StatusFatal)
		return nil, err
	}

	// cookies can only be set for the origin the page is on
	if err := s.Page.Navigate(ctx, b.profile.Origin); err != nil {
		return fail(fmt.Errorf("failed to open service origin: %w", err))
	}
	if len(b.cfg.Cookies) > 0 {
		if err := s.Page.SetCookies(ctx, b.cfg.Cookies); err != nil {
			return fail(fmt.Errorf("failed to install credentials: %w", err))
		}
	}
	if err := s.Page.Navigate(ctx, b.profile.BaseURL); err != nil {
		return fail(fmt.Errorf("failed to open service: %w", err))
	}
	if err := b.CheckAlive(ctx, s); err != nil {
		return fail(err)
	}

	b.logger.Info("session started",
		"session_id", s.ID,
		"cookies", len(b.cfg.Cookies),
		"container_id", s.ContainerID,
	)
	return s, nil
}

// CheckAlive returns ErrSessionFatal when the page is closed or sitting on a
// login page. Other read errors are treated as transient.
func (b *Bootstrapper) CheckAlive(ctx context.Context, s *Session) error {
	url, err := s.Page.URL(ctx)
	if err != nil {
		if errors.Is(err, page.ErrClosed) {
			return fmt.Errorf("%w: %v", ErrSessionFatal, err)
		}
		return nil
	}
	if b.profile.IsLoginURL(url) {
		return fmt.Errorf("%w: redirected to login (%s)", ErrSessionFatal, url)
	}
	return nil
}

// GotoWorkspace navigates to a workspace and confirms the URL carries its id
func (b *Bootstrapper) GotoWorkspace(ctx context.Context, s *Session, id string) bool {
	if id == "" {
		return false
	}
	log := logger.FromContext(ctx, b.logger).With("workspace_id", id)

	if err := s.Page.Navigate(ctx, b.profile.WorkspaceURL(id)); err != nil {
		log.Warn("workspace navigation failed", "error", err)
		return false
	}
	if !b.waitForWorkspace(ctx, s, func(got string) bool { return strings.EqualFold(got, id) }) {
		log.Warn("workspace navigation did not land")
		return false
	}

	s.WorkspaceID = id
	s.Touch()
	log.Info("workspace opened")
	return true
}

// CreateWorkspace allocates a new workspace. It first navigates to a freshly
// generated id, then falls back to the service's new-project control.
func (b *Bootstrapper) CreateWorkspace(ctx context.Context, s *Session, hint string) (string, bool) {
	log := logger.FromContext(ctx, b.logger).With("hint", hint)

	id := b.newID()
	if b.GotoWorkspace(ctx, s, id) {
		log.Info("workspace allocated by url", "workspace_id", id)
		return id, true
	}

	if err := s.Page.Navigate(ctx, b.profile.BaseURL); err != nil {
		log.Warn("failed to open dashboard", "error", err)
		return "", false
	}
	chain := locator.Chain{
		locator.ByText(b.profile.NewProject.Selector, b.profile.NewProject.Texts, locator.TextOptions{}),
		locator.ByAttrContains("button", "aria-label", "new"),
		locator.ByAttrContains("button", "aria-label", "create"),
	}
	var el *page.Element
	found := poll.Until(ctx, b.cfg.PollInterval, b.cfg.NavigateTimeout, func(ctx context.Context) (bool, error) {
		var err error
		el, _, err = chain.First(ctx, s.Page)
		if errors.Is(err, page.ErrClosed) {
			return false, err
		}
		return el != nil, nil
	})
	if found.Result != poll.Satisfied {
		log.Warn("new project control not found")
		return "", false
	}
	if err := s.Page.Click(ctx, el.Ref); err != nil {
		log.Warn("failed to click new project control", "error", err)
		return "", false
	}

	var created string
	if !b.waitForWorkspace(ctx, s, func(got string) bool {
		created = got
		return got != ""
	}) {
		log.Warn("new project did not open")
		return "", false
	}

	s.WorkspaceID = created
	s.Touch()
	log.Info("workspace created from dashboard", "workspace_id", created)
	return created, true
}

// EnsureWorkspace opens id if given, otherwise creates a workspace, and falls
// back to the configured default workspace.
func (b *Bootstrapper) EnsureWorkspace(ctx context.Context, s *Session, id, hint string) (string, error) {
	if id != "" && b.GotoWorkspace(ctx, s, id) {
		return id, nil
	}
	if err := b.CheckAlive(ctx, s); err != nil {
		return "", err
	}
	if id == "" {
		if created, ok := b.CreateWorkspace(ctx, s, hint); ok {
			return created, nil
		}
	}
	if def := b.cfg.DefaultWorkspace; def != "" && def != id && b.GotoWorkspace(ctx, s, def) {
		return def, nil
	}
	if err := b.CheckAlive(ctx, s); err != nil {
		return "", err
	}
	return "", fmt.Errorf("no workspace available")
}

func (b *Bootstrapper) waitForWorkspace(ctx context.Context, s *Session, match func(id string) bool) bool {
	out := poll.Until(ctx, b.cfg.PollInterval, b.cfg.NavigateTimeout, func(ctx context.Context) (bool, error) {
		url, err := s.Page.URL(ctx)
		if err != nil {
			if errors.Is(err, page.ErrClosed) {
				return false, err
			}
			return false, nil
		}
		if b.profile.IsLoginURL(url) {
			return false, ErrSessionFatal
		}
		return match(b.profile.WorkspaceIDFromURL(url)), nil
	})
	return out.Result == poll.Satisfied
}
