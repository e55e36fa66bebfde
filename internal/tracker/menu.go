package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shehryarbajwa/flowreel/internal/locator"
	"github.com/shehryarbajwa/flowreel/internal/page"
	"github.com/shehryarbajwa/flowreel/internal/poll"
	"github.com/shehryarbajwa/flowreel/internal/profile"
)

// CardMenu drives the overflow menu on a result card
type CardMenu struct {
	profile  *profile.Profile
	Wait     time.Duration
	Interval time.Duration
}

// NewCardMenu creates a card menu driver
func NewCardMenu(p *profile.Profile) *CardMenu {
	return &CardMenu{profile: p, Wait: 5 * time.Second, Interval: 250 * time.Millisecond}
}

// Open clicks the overflow control on the card showing mediaSrc
func (m *CardMenu) Open(ctx context.Context, p page.Page, mediaSrc string) error {
	elems, err := p.QueryAround(ctx, mediaSrc, m.profile.Menu.MoreSelector)
	if err != nil {
		return err
	}
	el := locator.MatchText(elems, m.profile.Menu.MoreTexts, locator.TextOptions{})
	if el == nil {
		return fmt.Errorf("card menu for %s: %w", mediaSrc, locator.ErrNotFound)
	}
	return p.Click(ctx, el.Ref)
}

// Choose waits for a menu entry matching texts and clicks it
func (m *CardMenu) Choose(ctx context.Context, p page.Page, texts []string) error {
	_, err := m.waitFor(ctx, p, m.profile.Menu.ItemSelector, texts)
	return err
}

func (m *CardMenu) waitFor(ctx context.Context, p page.Page, css string, texts []string) (*page.Element, error) {
	item := locator.ByText(css, texts, locator.TextOptions{})
	var el *page.Element
	out := poll.Until(ctx, m.Interval, m.Wait, func(ctx context.Context) (bool, error) {
		var err error
		el, err = item.Find(ctx, p)
		if errors.Is(err, page.ErrClosed) {
			return false, err
		}
		return el != nil, nil
	})
	switch out.Result {
	case poll.Satisfied:
		return el, p.Click(ctx, el.Ref)
	case poll.Aborted:
		return nil, out.Err
	default:
		return nil, fmt.Errorf("menu entry %v: %w", texts, locator.ErrNotFound)
	}
}
