// Package materialize turns a resolved artifact reference into a video file
// on local disk.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/shehryarbajwa/flowreel/internal/locator"
	"github.com/shehryarbajwa/flowreel/internal/logger"
	"github.com/shehryarbajwa/flowreel/internal/page"
	"github.com/shehryarbajwa/flowreel/internal/poll"
	"github.com/shehryarbajwa/flowreel/internal/profile"
	"github.com/shehryarbajwa/flowreel/internal/session"
	"github.com/shehryarbajwa/flowreel/internal/tracker"
	"github.com/shehryarbajwa/flowreel/pkg/models"
)

// Tier is a download quality
type Tier string

const (
	// TierUpscaled asks the service for the 1080p render through the card menu
	TierUpscaled Tier = "upscaled"
	// TierOriginal fetches the remote URL directly
	TierOriginal Tier = "original"
	// TierBlob reads the bytes from inside the page
	TierBlob Tier = "blob"
)

// ParseTier maps a config value to a tier, defaulting to original
func ParseTier(v string) Tier {
	switch Tier(v) {
	case TierUpscaled, TierBlob:
		return Tier(v)
	default:
		return TierOriginal
	}
}

// Materializer downloads artifacts, starting at the preferred tier and falling
// back to lower ones.
type Materializer struct {
	preferred Tier
	profile   *profile.Profile
	menu      *tracker.CardMenu
	client    *http.Client
	logger    *slog.Logger
}

// New creates a materializer
func New(preferred Tier, p *profile.Profile, menu *tracker.CardMenu, client *http.Client, log *slog.Logger) *Materializer {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Materializer{
		preferred: preferred,
		profile:   p,
		menu:      menu,
		client:    client,
		logger:    logger.OrDefault(log),
	}
}

// Tiers returns the fallback chain for ref
func (m *Materializer) Tiers(ref *models.ArtifactRef) []Tier {
	var chain []Tier
	switch m.preferred {
	case TierUpscaled:
		chain = []Tier{TierUpscaled, TierOriginal, TierBlob}
	case TierBlob:
		chain = []Tier{TierBlob}
	default:
		chain = []Tier{TierOriginal, TierBlob}
	}
	if !ref.IsBlob() {
		return chain
	}
	out := chain[:0:0]
	for _, t := range chain {
		if t != TierOriginal {
			out = append(out, t)
		}
	}
	return out
}

// Materialize writes the artifact to dest and returns a local reference. A
// local reference is returned unchanged.
func (m *Materializer) Materialize(ctx context.Context, s *session.Session, ref *models.ArtifactRef, dest string) (*models.ArtifactRef, error) {
	if ref == nil {
		return nil, errors.New("nothing to materialize")
	}
	if ref.Kind == models.ArtifactLocal {
		return ref, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	log := logger.FromContext(ctx, m.logger).With("artifact", ref.URL, "dest", dest)

	var errs []error
	for _, tier := range m.Tiers(ref) {
		var err error
		switch tier {
		case TierUpscaled:
			err = m.upscaled(ctx, s, ref.URL, dest)
		case TierOriginal:
			err = m.original(ctx, ref.URL, dest)
		case TierBlob:
			err = m.blob(ctx, s.Page, ref.URL, dest)
		}
		if err == nil {
			log.Info("artifact materialized", "tier", tier)
			return models.Local(dest), nil
		}
		if errors.Is(err, page.ErrClosed) || ctx.Err() != nil {
			return nil, err
		}
		log.Warn("materialize tier failed", "tier", tier, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", tier, err))
	}
	return nil, errors.Join(errs...)
}

func (m *Materializer) original(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download returned status %d", resp.StatusCode)
	}
	return writeAtomic(dest, resp.Body)
}

func (m *Materializer) blob(ctx context.Context, p page.Page, url, dest string) error {
	data, err := p.FetchBlob(ctx, url)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return errors.New("blob is empty")
	}
	return os.WriteFile(dest, data, 0644)
}

// upscaled picks the upscaled download from the card menu, waits for the
// service to finish upscaling and saves the browser download.
func (m *Materializer) upscaled(ctx context.Context, s *session.Session, url, dest string) error {
	if err := m.menu.Open(ctx, s.Page, url); err != nil {
		return err
	}
	if err := m.menu.Choose(ctx, s.Page, m.profile.Menu.DownloadTexts); err != nil {
		return err
	}

	path, err := s.Page.Download(ctx, func(ctx context.Context) error {
		if err := m.menu.Choose(ctx, s.Page, m.profile.Menu.UpscaledTexts); err != nil {
			return err
		}
		return m.awaitUpscale(ctx, s.Page)
	})
	if err != nil {
		return err
	}
	s.Touch()
	return moveFile(path, dest)
}

// awaitUpscale waits for the upscale-done notification and clicks its
// download action. A download that starts without a notification is
// picked up by the caller's download wait.
func (m *Materializer) awaitUpscale(ctx context.Context, p page.Page) error {
	cfg := m.profile.Upscale
	action := locator.ByText(cfg.ActionSelector, m.profile.Menu.DownloadTexts, locator.TextOptions{})

	var el *page.Element
	out := poll.Until(ctx, cfg.Interval, cfg.Timeout, func(ctx context.Context) (bool, error) {
		notes, err := p.Query(ctx, cfg.NotificationSelector)
		if err != nil {
			if errors.Is(err, page.ErrClosed) {
				return false, err
			}
			return false, nil
		}
		if locator.MatchText(notes, cfg.DoneTexts, locator.TextOptions{}) == nil {
			return false, nil
		}
		el, err = action.Find(ctx, p)
		if errors.Is(err, page.ErrClosed) {
			return false, err
		}
		return el != nil, nil
	})
	switch out.Result {
	case poll.Satisfied:
		return p.Click(ctx, el.Ref)
	case poll.Aborted:
		return out.Err
	default:
		return fmt.Errorf("upscale did not finish within %s", cfg.Timeout)
	}
}

func writeAtomic(dest string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".part-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("downloaded file is empty")
	}
	return os.Rename(tmp.Name(), dest)
}

func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := writeAtomic(dest, in); err != nil {
		return err
	}
	return os.Remove(src)
}
