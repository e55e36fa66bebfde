package models

import (
	"errors"
	"fmt"
	"time"
)

// SceneStatus is the lifecycle state of one scene
type SceneStatus string

const (
	ScenePending    SceneStatus = "pending"
	SceneSubmitted  SceneStatus = "submitted"
	SceneGenerating SceneStatus = "generating"
	SceneCompleted  SceneStatus = "completed"
	SceneFailed     SceneStatus = "failed"
	SceneDeleted    SceneStatus = "deleted"
)

// FailureKind classifies why a scene failed
type FailureKind string

const (
	FailureControlNotFound   FailureKind = "control_not_found"
	FailureControlDisabled   FailureKind = "control_disabled_timeout"
	FailureQueueFull         FailureKind = "queue_full_timeout"
	FailureGenerationError   FailureKind = "generation_error"
	FailureGenerationTimeout FailureKind = "generation_timeout"
	FailureUnresolved        FailureKind = "artifact_unresolved"
	FailureMaterialize       FailureKind = "materialize_failed"
	FailureSessionFatal      FailureKind = "session_fatal"
)

// ErrInvalidTransition is returned for a status change the lifecycle forbids
var ErrInvalidTransition = errors.New("invalid scene transition")

var transitions = map[SceneStatus][]SceneStatus{
	ScenePending:    {SceneSubmitted, SceneFailed},
	SceneSubmitted:  {SceneGenerating, SceneFailed},
	SceneGenerating: {SceneCompleted, SceneFailed},
	SceneCompleted:  {SceneGenerating},
	SceneFailed:     {SceneGenerating},
}

// Scene is one prompt/response unit of a batch
type Scene struct {
	ID          string       `json:"id"`
	Index       int          `json:"index"`
	Prompt      string       `json:"prompt"`
	Description string       `json:"description,omitempty"`
	Duration    float64      `json:"duration,omitempty"`
	Status      SceneStatus  `json:"status"`
	Artifact    *ArtifactRef `json:"artifact_ref,omitempty"`
	LocalPath   string       `json:"local_path,omitempty"`
	Confidence  Confidence   `json:"confidence,omitempty"`
	Error       string       `json:"error,omitempty"`
	FailureKind FailureKind  `json:"failure_kind,omitempty"`
	Warning     string       `json:"warning,omitempty"`
	Attempts    int          `json:"attempts"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Terminal reports whether the scene reached completed or failed
func (s *Scene) Terminal() bool {
	return s.Status == SceneCompleted || s.Status == SceneFailed
}

// Transition moves the scene to a new status if the lifecycle allows it
func (s *Scene) Transition(to SceneStatus) error {
	if to == SceneDeleted {
		s.Status = to
		s.UpdatedAt = time.Now()
		return nil
	}
	for _, allowed := range transitions[s.Status] {
		if allowed == to {
			s.Status = to
			s.UpdatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
}

// Complete records a resolved artifact
func (s *Scene) Complete(ref *ArtifactRef, confidence Confidence) error {
	if err := s.Transition(SceneCompleted); err != nil {
		return err
	}
	s.Artifact = ref
	s.Confidence = confidence
	s.Error = ""
	s.FailureKind = ""
	return nil
}

// Fail records a failure with a human-readable reason
func (s *Scene) Fail(kind FailureKind, reason string) error {
	if err := s.Transition(SceneFailed); err != nil {
		return err
	}
	if reason == "" {
		reason = string(kind)
	}
	s.Error = reason
	s.FailureKind = kind
	return nil
}

// Progress is a live status report for a scene being generated
type Progress struct {
	BatchID    string        `json:"batchId,omitempty"`
	SceneIndex int           `json:"sceneIndex"`
	Elapsed    time.Duration `json:"elapsed"`
	Percent    int           `json:"percent"`
	Detail     string        `json:"detail,omitempty"`
}
