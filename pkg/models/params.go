package models

import "fmt"

// Aspect ratios the service accepts
const (
	AspectLandscape = "16:9"
	AspectPortrait  = "9:16"
	AspectSquare    = "1:1"
)

// DefaultModel is the generation backend used when none is requested
const DefaultModel = "Veo 3.1 - Fast"

// GenerationParams are the per-run generation options
type GenerationParams struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	OutputCount int    `json:"outputCount,omitempty"`
	Model       string `json:"model,omitempty"`
}

// WithDefaults fills unset fields
func (p GenerationParams) WithDefaults() GenerationParams {
	if p.AspectRatio == "" {
		p.AspectRatio = AspectLandscape
	}
	if p.OutputCount <= 0 {
		p.OutputCount = 1
	}
	if p.Model == "" {
		p.Model = DefaultModel
	}
	return p
}

// Validate rejects options the service does not offer
func (p GenerationParams) Validate() error {
	switch p.AspectRatio {
	case "", AspectLandscape, AspectPortrait, AspectSquare:
	default:
		return fmt.Errorf("unsupported aspect ratio %q", p.AspectRatio)
	}
	if p.OutputCount < 0 || p.OutputCount > 4 {
		return fmt.Errorf("outputCount must be between 1 and 4")
	}
	return nil
}
