package models

import "time"

// SessionStatus represents the current state of a browser session
type SessionStatus string

const (
	StatusRunning  SessionStatus = "RUNNING"
	StatusClosed   SessionStatus = "CLOSED"
	StatusFatal    SessionStatus = "FATAL"
	StatusIdledOut SessionStatus = "IDLED_OUT"
)

// SessionInfo is the JSON view of an authenticated browser session
type SessionInfo struct {
	ID          string        `json:"id"`
	Status      SessionStatus `json:"status"`
	WorkspaceID string        `json:"workspaceId,omitempty"`
	StartedAt   time.Time     `json:"startedAt"`
	LastUsedAt  time.Time     `json:"lastUsedAt"`
	ConnectURL  string        `json:"connectUrl,omitempty"`
	ContainerID string        `json:"-"`
}
