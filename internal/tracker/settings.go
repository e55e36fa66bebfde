package tracker

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shehryarbajwa/flowreel/internal/locator"
	"github.com/shehryarbajwa/flowreel/internal/logger"
	"github.com/shehryarbajwa/flowreel/internal/page"
	"github.com/shehryarbajwa/flowreel/internal/poll"
	"github.com/shehryarbajwa/flowreel/internal/profile"
	"github.com/shehryarbajwa/flowreel/internal/session"
	"github.com/shehryarbajwa/flowreel/pkg/models"
)

// Settings configures aspect ratio, output count and model through the
// service's settings panel. Every step is best effort.
type Settings struct {
	profile *profile.Profile
	logger  *slog.Logger
	// OptionWait bounds the wait for a dropdown's options to render
	OptionWait time.Duration
	Interval   time.Duration
}

// NewSettings creates a settings driver
func NewSettings(p *profile.Profile, log *slog.Logger) *Settings {
	return &Settings{profile: p, logger: logger.OrDefault(log), OptionWait: 3 * time.Second, Interval: 250 * time.Millisecond}
}

// Apply sets params in the current workspace. Only session-fatal errors are
// returned; everything else is logged.
func (st *Settings) Apply(ctx context.Context, s *session.Session, params models.GenerationParams) error {
	log := logger.FromContext(ctx, st.logger)
	params = params.WithDefaults()
	cfg := st.profile.Settings

	open := locator.ByText(cfg.ButtonSelector, cfg.OpenTexts, locator.TextOptions{SkipNav: true})
	if el, err := open.Find(ctx, s.Page); err != nil {
		if fatal := asFatal(err); fatal != nil {
			return fatal
		}
	} else if el != nil {
		if err := s.Page.Click(ctx, el.Ref); err != nil {
			if fatal := asFatal(err); fatal != nil {
				return fatal
			}
		}
	}

	steps := []struct {
		name string
		run  func(context.Context, page.Page, models.GenerationParams) (bool, error)
	}{
		{"output_count", st.applyOutputCount},
		{"aspect_ratio", st.applyAspect},
		{"model", st.applyModel},
	}
	for _, step := range steps {
		changed, err := step.run(ctx, s.Page, params)
		if fatal := asFatal(err); fatal != nil {
			return fatal
		}
		if err != nil {
			log.Warn("generation setting not applied", "setting", step.name, "error", err)
			continue
		}
		log.Debug("generation setting checked", "setting", step.name, "changed", changed)
	}

	if err := s.Page.Press(ctx, "Escape"); err != nil {
		if fatal := asFatal(err); fatal != nil {
			return fatal
		}
	}
	if params.OutputCount > 1 {
		log.Warn("output count above one weakens artifact attribution", "output_count", params.OutputCount)
	}
	s.MarkSettingsApplied()
	return nil
}

func (st *Settings) buttons(ctx context.Context, p page.Page) ([]page.Element, error) {
	return p.Query(ctx, st.profile.Settings.ButtonSelector)
}

func (st *Settings) applyOutputCount(ctx context.Context, p page.Page, params models.GenerationParams) (bool, error) {
	elems, err := st.buttons(ctx, p)
	if err != nil {
		return false, err
	}
	want := strconv.Itoa(params.OutputCount)
	for i := range elems {
		text := strings.TrimSpace(elems[i].Text)
		if !elems[i].Visible || len(text) == 0 || len(text) > 2 {
			continue
		}
		if _, err := strconv.Atoi(text); err != nil {
			continue
		}
		if text == want {
			return false, nil
		}
		return true, st.choose(ctx, p, elems[i], []string{want}, true)
	}
	return false, errors.New("output count control not found")
}

func (st *Settings) applyAspect(ctx context.Context, p page.Page, params models.GenerationParams) (bool, error) {
	labels := st.profile.Settings.AspectLabels
	want := labels[params.AspectRatio]
	if len(want) == 0 {
		return false, errors.New("no labels for aspect ratio " + params.AspectRatio)
	}
	var all []string
	for _, l := range labels {
		all = append(all, l...)
	}

	elems, err := st.buttons(ctx, p)
	if err != nil {
		return false, err
	}
	for i := range elems {
		if !elems[i].Visible || !locator.ContainsAny(elems[i].Text, all) {
			continue
		}
		if locator.ContainsAny(elems[i].Text, want) {
			return false, nil
		}
		return true, st.choose(ctx, p, elems[i], want, false)
	}
	return false, errors.New("aspect ratio control not found")
}

func (st *Settings) applyModel(ctx context.Context, p page.Page, params models.GenerationParams) (bool, error) {
	elems, err := st.buttons(ctx, p)
	if err != nil {
		return false, err
	}
	marker := []string{st.profile.Settings.ModelMarker}
	for i := range elems {
		if !elems[i].Visible || !locator.ContainsAny(elems[i].Text, marker) {
			continue
		}
		if locator.ContainsAny(elems[i].Text, []string{params.Model}) {
			return false, nil
		}
		return true, st.choose(ctx, p, elems[i], []string{params.Model}, false)
	}
	return false, errors.New("model control not found")
}

// choose opens a dropdown and clicks the option matching texts
func (st *Settings) choose(ctx context.Context, p page.Page, dropdown page.Element, texts []string, exact bool) error {
	if err := p.Click(ctx, dropdown.Ref); err != nil {
		return err
	}
	option := locator.ByText(st.profile.Settings.OptionSelector, texts, locator.TextOptions{Exact: exact})

	var el *page.Element
	out := poll.Until(ctx, st.Interval, st.OptionWait, func(ctx context.Context) (bool, error) {
		var err error
		el, err = option.Find(ctx, p)
		if errors.Is(err, page.ErrClosed) {
			return false, err
		}
		return el != nil, nil
	})
	if out.Result != poll.Satisfied {
		if out.Err != nil {
			return out.Err
		}
		p.Press(ctx, "Escape")
		return errors.New("option " + strings.Join(texts, "|") + " not offered")
	}
	return p.Click(ctx, el.Ref)
}
