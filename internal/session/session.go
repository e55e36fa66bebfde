// Package session owns an authenticated browser session against the video
// service and the navigation between its workspaces.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shehryarbajwa/flowreel/internal/browser"
	"github.com/shehryarbajwa/flowreel/internal/page"
	"github.com/shehryarbajwa/flowreel/pkg/models"
)

// ErrSessionFatal means the session can no longer act: the browser is gone
// or the service redirected to a login page.
var ErrSessionFatal = errors.New("session fatal")

// Session is one browser page logged into the service. It is owned by a
// single batch at a time and never pooled.
type Session struct {
	ID          string
	Page        page.Page
	WorkspaceID string
	ConnectURL  string
	ContainerID string
	StartedAt   time.Time

	mu       sync.Mutex
	inst     *browser.Instance
	status   models.SessionStatus
	lastUsed time.Time
	// settingsFor is the workspace generation settings were last applied in
	settingsFor string
}

// New wraps a launched browser instance
func New(inst *browser.Instance) *Session {
	now := time.Now()
	return &Session{
		ID:          inst.SessionID,
		Page:        inst.Page,
		ConnectURL:  inst.ConnectURL,
		ContainerID: inst.ContainerID,
		StartedAt:   now,
		inst:        inst,
		status:      models.StatusRunning,
		lastUsed:    now,
	}
}

// Touch records activity for idle tracking
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

// IdleFor returns how long the session has been unused
func (s *Session) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastUsed)
}

// Status returns the session status
func (s *Session) Status() models.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Running reports whether the session can still be used
func (s *Session) Running() bool {
	return s.Status() == models.StatusRunning
}

// SettingsApplied reports whether generation settings were applied in the
// current workspace
func (s *Session) SettingsApplied() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settingsFor != "" && s.settingsFor == s.WorkspaceID
}

// MarkSettingsApplied records that settings are in place for the current workspace
func (s *Session) MarkSettingsApplied() {
	s.mu.Lock()
	s.settingsFor = s.WorkspaceID
	s.mu.Unlock()
}

// Info returns the JSON view of the session
func (s *Session) Info() models.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.SessionInfo{
		ID:          s.ID,
		Status:      s.status,
		WorkspaceID: s.WorkspaceID,
		StartedAt:   s.StartedAt,
		LastUsedAt:  s.lastUsed,
		ConnectURL:  s.ConnectURL,
		ContainerID: s.ContainerID,
	}
}

// Close releases every browser resource. The final status is status when it
// is not running, otherwise CLOSED. Closing twice is a no-op.
func (s *Session) Close(ctx context.Context, status models.SessionStatus) error {
	s.mu.Lock()
	if s.status != models.StatusRunning {
		s.mu.Unlock()
		return nil
	}
	if status == "" || status == models.StatusRunning {
		status = models.StatusClosed
	}
	s.status = status
	inst := s.inst
	s.mu.Unlock()

	if inst == nil {
		if s.Page != nil {
			return s.Page.Close()
		}
		return nil
	}
	if err := inst.Close(ctx); err != nil {
		return fmt.Errorf("failed to release browser: %w", err)
	}
	return nil
}
