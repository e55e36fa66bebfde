// Package pagetest provides a scriptable in-memory page.Page for tests.
package pagetest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/shehryarbajwa/flowreel/internal/page"
	"github.com/shehryarbajwa/flowreel/pkg/models"
)

// Frame is the page state visible between two polls
type Frame struct {
	URL      string
	Text     string
	HTML     string
	Elements map[string][]page.Element
}

// Fake replays a sequence of frames. Each call to Text after the first moves
// to the next frame; the last frame sticks. Other reads see the current frame.
type Fake struct {
	mu      sync.Mutex
	frames  []Frame
	pos     int
	started bool
	closed  bool
	err     error

	// Around is keyed by mediaSrc + "|" + css
	Around map[string][]page.Element

	Blobs        map[string][]byte
	DownloadDir  string
	DownloadData []byte
	Jar          []models.Cookie

	OnClick    func(f *Fake, ref string) error
	OnNavigate func(f *Fake, url string) error

	Clicks      []string
	Fills       map[string]string
	Keys        []string
	Navigations []string
}

// New returns a fake starting at the first frame
func New(frames ...Frame) *Fake {
	if len(frames) == 0 {
		frames = []Frame{{}}
	}
	return &Fake{frames: frames, Fills: map[string]string{}}
}

// Mutate edits the current frame in place
func (f *Fake) Mutate(fn func(fr *Frame)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.frames[f.pos])
}

// Append adds frames to the end of the script
func (f *Fake) Append(frames ...Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frames...)
}

// Fail makes every subsequent call return err until cleared with nil
func (f *Fake) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Closed reports whether Close was called
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// ClickCount returns how many clicks hit ref
func (f *Fake) ClickCount(ref string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Clicks {
		if c == ref {
			n++
		}
	}
	return n
}

func (f *Fake) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.closed {
		return page.ErrClosed
	}
	return f.err
}

func (f *Fake) current() Frame {
	return f.frames[f.pos]
}

func (f *Fake) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	if err := f.check(ctx); err != nil {
		f.mu.Unlock()
		return err
	}
	f.Navigations = append(f.Navigations, url)
	f.frames[f.pos].URL = url
	hook := f.OnNavigate
	f.mu.Unlock()

	if hook != nil {
		return hook(f, url)
	}
	return nil
}

func (f *Fake) URL(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return "", err
	}
	return f.current().URL, nil
}

func (f *Fake) HTML(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return "", err
	}
	return f.current().HTML, nil
}

func (f *Fake) Text(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return "", err
	}
	if f.started && f.pos < len(f.frames)-1 {
		f.pos++
	}
	f.started = true
	return f.current().Text, nil
}

func (f *Fake) Query(ctx context.Context, css string) ([]page.Element, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return nil, err
	}
	return append([]page.Element(nil), f.current().Elements[css]...), nil
}

func (f *Fake) QueryAround(ctx context.Context, mediaSrc, css string) ([]page.Element, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return nil, err
	}
	return append([]page.Element(nil), f.Around[mediaSrc+"|"+css]...), nil
}

func (f *Fake) Click(ctx context.Context, ref string) error {
	f.mu.Lock()
	if err := f.check(ctx); err != nil {
		f.mu.Unlock()
		return err
	}
	f.Clicks = append(f.Clicks, ref)
	hook := f.OnClick
	f.mu.Unlock()

	if hook != nil {
		return hook(f, ref)
	}
	return nil
}

func (f *Fake) Fill(ctx context.Context, ref, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return err
	}
	f.Fills[ref] = text
	return nil
}

func (f *Fake) Press(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return err
	}
	f.Keys = append(f.Keys, key)
	return nil
}

func (f *Fake) Screenshot(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return nil, err
	}
	return []byte("\x89PNG fake"), nil
}

func (f *Fake) FetchBlob(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return nil, err
	}
	data, ok := f.Blobs[url]
	if !ok {
		return nil, fmt.Errorf("no blob at %s", url)
	}
	return data, nil
}

func (f *Fake) Download(ctx context.Context, trigger func(context.Context) error) (string, error) {
	if err := trigger(ctx); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return "", err
	}
	if f.DownloadData == nil {
		return "", fmt.Errorf("no download started")
	}
	dir := f.DownloadDir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, "download-fake")
	if err := os.WriteFile(path, f.DownloadData, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (f *Fake) SetCookies(ctx context.Context, cookies []models.Cookie) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return err
	}
	f.Jar = append(f.Jar, cookies...)
	return nil
}

func (f *Fake) Cookies(ctx context.Context) ([]models.Cookie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return nil, err
	}
	return append([]models.Cookie(nil), f.Jar...), nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

var _ page.Page = (*Fake)(nil)
