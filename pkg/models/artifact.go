package models

import "strings"

// ArtifactKind distinguishes remote references from materialized files
type ArtifactKind string

const (
	ArtifactRemote ArtifactKind = "remote"
	ArtifactLocal  ArtifactKind = "local"
)

// ArtifactRef points at one generated video, either as a URL the service
// exposes (including in-page blob: URLs) or as a file on local disk.
type ArtifactRef struct {
	Kind ArtifactKind `json:"kind"`
	URL  string       `json:"url,omitempty"`
	Path string       `json:"path,omitempty"`
}

// Remote builds a remote artifact reference
func Remote(url string) *ArtifactRef {
	return &ArtifactRef{Kind: ArtifactRemote, URL: url}
}

// Local builds a local artifact reference
func Local(path string) *ArtifactRef {
	return &ArtifactRef{Kind: ArtifactLocal, Path: path}
}

// IsBlob reports whether the reference only lives inside the browser page
func (a *ArtifactRef) IsBlob() bool {
	return a != nil && a.Kind == ArtifactRemote && strings.HasPrefix(a.URL, "blob:")
}

// String returns the URL or path
func (a *ArtifactRef) String() string {
	if a == nil {
		return ""
	}
	if a.Kind == ArtifactLocal {
		return a.Path
	}
	return a.URL
}

// Confidence of an artifact-to-request correlation
type Confidence string

const (
	ConfidenceHigh     Confidence = "high"
	ConfidenceDegraded Confidence = "degraded"
)
