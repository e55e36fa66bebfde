// Package tracker submits generation requests through the service UI, waits
// for them to finish and works out which artifact each one produced.
package tracker

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/shehryarbajwa/flowreel/internal/page"
	"github.com/shehryarbajwa/flowreel/internal/profile"
)

// ObservationSet holds the artifact references visible at one instant, keyed
// by a stable identity. The value is the fullest URL seen for that artifact,
// which may carry a signed query string the identity lacks.
type ObservationSet map[string]string

// NewObservationSet builds a set where each reference is its own identity
func NewObservationSet(refs ...string) ObservationSet {
	s := make(ObservationSet, len(refs))
	for _, r := range refs {
		if r != "" {
			s[r] = r
		}
	}
	return s
}

// Has reports membership
func (s ObservationSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add records a reference, keeping the longer URL for an identity
func (s ObservationSet) Add(id, url string) {
	if id == "" {
		return
	}
	if cur, ok := s[id]; !ok || len(url) > len(cur) {
		s[id] = url
	}
}

// Diff returns the members of s that are not in baseline
func (s ObservationSet) Diff(baseline ObservationSet) ObservationSet {
	out := ObservationSet{}
	for id, url := range s {
		if !baseline.Has(id) {
			out[id] = url
		}
	}
	return out
}

// Sorted returns identities in lexicographic order
func (s ObservationSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Observer captures the artifact references currently on the page: URLs in
// the markup that match the artifact pattern plus the src of every media
// element.
type Observer struct {
	pattern *regexp.Regexp
	media   string
}

// NewObserver compiles the profile's artifact pattern
func NewObserver(p *profile.Profile) (*Observer, error) {
	re, err := regexp.Compile(p.ArtifactPattern)
	if err != nil {
		return nil, err
	}
	return &Observer{pattern: re, media: p.MediaSelector}, nil
}

// Observe reads the page once
func (o *Observer) Observe(ctx context.Context, p page.Page) (ObservationSet, error) {
	html, err := p.HTML(ctx)
	if err != nil {
		return nil, err
	}
	set := ObservationSet{}
	for _, m := range o.pattern.FindAllString(html, -1) {
		set.Add(m, m)
	}

	elems, err := p.Query(ctx, o.media)
	if err != nil {
		return nil, err
	}
	for _, el := range elems {
		src := strings.TrimSpace(el.Attr("src"))
		switch {
		case src == "":
		case strings.HasPrefix(src, "blob:"):
			set.Add(src, src)
		default:
			if id := o.pattern.FindString(src); id != "" {
				set.Add(id, src)
			}
		}
	}
	return set, nil
}

// Identity returns the stable identity of an artifact URL
func (o *Observer) Identity(url string) string {
	if id := o.pattern.FindString(url); id != "" {
		return id
	}
	return url
}
