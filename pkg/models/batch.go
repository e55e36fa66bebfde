package models

import (
	"sync"
	"time"
)

// BatchState is the orchestrator state of a run
type BatchState string

const (
	BatchIdle    BatchState = "idle"
	BatchRunning BatchState = "running"
	BatchDone    BatchState = "done"
	BatchAborted BatchState = "aborted"
)

// Batch is an ordered list of scenes generated in one workspace
type Batch struct {
	ID          string           `json:"id"`
	Title       string           `json:"title,omitempty"`
	Topic       string           `json:"topic,omitempty"`
	WorkspaceID string           `json:"workspaceId,omitempty"`
	Params      GenerationParams `json:"params"`
	Scenes      []*Scene         `json:"scenes"`
	State       BatchState       `json:"state"`
	Current     int              `json:"current,omitempty"`
	FinalVideo  string           `json:"finalVideo,omitempty"`
	Progress    *Progress        `json:"progress,omitempty"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`

	mu sync.RWMutex
}

// Lock guards mutation while a run is in progress
func (b *Batch) Lock()    { b.mu.Lock() }
func (b *Batch) Unlock()  { b.mu.Unlock() }
func (b *Batch) RLock()   { b.mu.RLock() }
func (b *Batch) RUnlock() { b.mu.RUnlock() }

// Snapshot returns a deep copy safe to read while the batch is running
func (b *Batch) Snapshot() *Batch {
	b.RLock()
	defer b.RUnlock()

	out := &Batch{
		ID:          b.ID,
		Title:       b.Title,
		Topic:       b.Topic,
		WorkspaceID: b.WorkspaceID,
		Params:      b.Params,
		State:       b.State,
		Current:     b.Current,
		FinalVideo:  b.FinalVideo,
		Progress:    b.Progress,
		Error:       b.Error,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
		Scenes:      make([]*Scene, 0, len(b.Scenes)),
	}
	for _, s := range b.Scenes {
		c := *s
		if s.Artifact != nil {
			ref := *s.Artifact
			c.Artifact = &ref
		}
		out.Scenes = append(out.Scenes, &c)
	}
	return out
}

// Find returns the scene with index and its position in Scenes
func (b *Batch) Find(index int) (*Scene, int) {
	for i, s := range b.Scenes {
		if s.Index == index {
			return s, i
		}
	}
	return nil, -1
}

// SceneRecord is the persisted scene table row
type SceneRecord struct {
	Index       int          `json:"index"`
	Prompt      string       `json:"prompt"`
	Description string       `json:"description,omitempty"`
	Status      SceneStatus  `json:"status"`
	ArtifactRef *ArtifactRef `json:"artifact_ref,omitempty"`
}

// Table returns the scene table in scene order
func (b *Batch) Table() []SceneRecord {
	rows := make([]SceneRecord, 0, len(b.Scenes))
	for _, s := range b.Scenes {
		rows = append(rows, SceneRecord{
			Index:       s.Index,
			Prompt:      s.Prompt,
			Description: s.Description,
			Status:      s.Status,
			ArtifactRef: s.Artifact,
		})
	}
	return rows
}

// Counts returns completed, failed and pending scene counts
func (b *Batch) Counts() (completed, failed, pending int) {
	for _, s := range b.Scenes {
		switch s.Status {
		case SceneCompleted:
			completed++
		case SceneFailed:
			failed++
		case ScenePending:
			pending++
		}
	}
	return
}

// CreateBatchRequest is the payload for creating a batch
type CreateBatchRequest struct {
	Topic       string           `json:"topic,omitempty"`
	Duration    int              `json:"duration,omitempty"`
	Prompts     []string         `json:"prompts,omitempty"`
	WorkspaceID string           `json:"workspaceId,omitempty"`
	Params      GenerationParams `json:"params"`
	Start       bool             `json:"start,omitempty"`
}
