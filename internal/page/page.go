// Package page abstracts the single browser tab a session drives.
package page

import (
	"context"
	"errors"

	"github.com/shehryarbajwa/flowreel/pkg/models"
)

// ErrClosed is returned once the underlying tab or browser is gone
var ErrClosed = errors.New("page closed")

// Element is a snapshot of one DOM node matched by a query. Ref is an opaque
// handle valid until the next navigation.
type Element struct {
	Ref     string            `json:"ref"`
	Tag     string            `json:"tag"`
	Text    string            `json:"text"`
	Attrs   map[string]string `json:"attrs"`
	Visible bool              `json:"visible"`
	Enabled bool              `json:"enabled"`
	// InNav is true when the node sits inside navigation chrome such as a
	// nav bar, breadcrumb or list of links.
	InNav bool `json:"inNav"`
	// Duration is the media length in seconds for audio and video nodes.
	// It stays 0 until the media's metadata has loaded.
	Duration float64 `json:"duration,omitempty"`
}

// Attr returns an attribute value or ""
func (e Element) Attr(name string) string {
	if e.Attrs == nil {
		return ""
	}
	return e.Attrs[name]
}

// Page is the set of browser operations the tracker needs
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	// Text returns the rendered text of the document body
	Text(ctx context.Context) (string, error)
	Query(ctx context.Context, css string) ([]Element, error)
	// QueryAround finds css matches inside the closest ancestor of the media
	// element whose src is mediaSrc that contains at least one match.
	QueryAround(ctx context.Context, mediaSrc, css string) ([]Element, error)
	Click(ctx context.Context, ref string) error
	Fill(ctx context.Context, ref, text string) error
	Press(ctx context.Context, key string) error
	Screenshot(ctx context.Context) ([]byte, error)
	// FetchBlob reads a URL from inside the page, which is the only place
	// blob: URLs resolve.
	FetchBlob(ctx context.Context, url string) ([]byte, error)
	// Download runs trigger and waits for the browser download it starts,
	// returning the local path of the saved file.
	Download(ctx context.Context, trigger func(context.Context) error) (string, error)
	SetCookies(ctx context.Context, cookies []models.Cookie) error
	Cookies(ctx context.Context) ([]models.Cookie, error)
	Close() error
}
