package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shehryarbajwa/flowreel/internal/locator"
	"github.com/shehryarbajwa/flowreel/internal/logger"
	"github.com/shehryarbajwa/flowreel/internal/page"
	"github.com/shehryarbajwa/flowreel/internal/poll"
	"github.com/shehryarbajwa/flowreel/internal/profile"
	"github.com/shehryarbajwa/flowreel/internal/session"
	"github.com/shehryarbajwa/flowreel/pkg/models"
)

// SubmitError is a submission that never reached the service
type SubmitError struct {
	Reason models.FailureKind
	Err    error
}

func (e *SubmitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return string(e.Reason)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// Handle identifies a submitted request
type Handle struct {
	Prompt      string
	Params      models.GenerationParams
	Baseline    ObservationSet
	// BaselineErrors is the error-fragment count on the page before submit
	BaselineErrors int
	SubmittedAt    time.Time
	// Locator names the strategy that found the prompt input
	Locator string
}

// Submitter fills the prompt and clicks the submit control. It is not
// idempotent: every successful call starts one generation.
type Submitter struct {
	profile    *profile.Profile
	observer   *Observer
	classifier *Classifier
	logger     *slog.Logger

	prompt locator.Chain
	submit locator.Locator
}

// NewSubmitter builds the locator chains from the profile
func NewSubmitter(p *profile.Profile, o *Observer, c *Classifier, log *slog.Logger) *Submitter {
	var chain locator.Chain
	for _, css := range p.Prompt.Selectors {
		chain = append(chain, locator.ByCSS(css))
	}
	for _, ph := range p.Prompt.Placeholders {
		chain = append(chain, locator.ByPlaceholder(p.Prompt.Fallback, ph))
	}
	chain = append(chain, locator.OnlyOfType(p.Prompt.Fallback))

	return &Submitter{
		profile:    p,
		observer:   o,
		classifier: c,
		logger:     logger.OrDefault(log),
		prompt:     chain,
		submit: locator.ByText(p.Submit.Selector, p.Submit.Texts, locator.TextOptions{
			Exclude: p.Submit.ExcludeTexts,
			SkipNav: true,
		}),
	}
}

// Submit starts one generation for prompt
func (sb *Submitter) Submit(ctx context.Context, s *session.Session, prompt string, params models.GenerationParams) (*Handle, error) {
	log := logger.FromContext(ctx, sb.logger)

	input, strategy, err := sb.prompt.First(ctx, s.Page)
	if err != nil {
		if fatal := asFatal(err); fatal != nil {
			return nil, fatal
		}
		return nil, &SubmitError{Reason: models.FailureControlNotFound, Err: fmt.Errorf("prompt input: %w", err)}
	}
	log.Debug("prompt input located", "strategy", strategy)

	if err := s.Page.Fill(ctx, input.Ref, prompt); err != nil {
		if fatal := asFatal(err); fatal != nil {
			return nil, fatal
		}
		return nil, &SubmitError{Reason: models.FailureControlNotFound, Err: fmt.Errorf("fill prompt: %w", err)}
	}
	if err := sleep(ctx, sb.profile.Prompt.SettleDelay); err != nil {
		return nil, err
	}

	button, err := sb.waitEnabled(ctx, s.Page)
	if err != nil {
		return nil, err
	}

	// last point at which nothing from this request can exist yet
	baseline, err := sb.observer.Observe(ctx, s.Page)
	if err != nil {
		if fatal := asFatal(err); fatal != nil {
			return nil, fatal
		}
		log.Warn("baseline observation failed, using empty baseline", "error", err)
		baseline = ObservationSet{}
	}
	baselineErrors := 0
	if snap, err := sb.classifier.Capture(ctx, s.Page); err == nil {
		baselineErrors = sb.classifier.Errors(snap)
	} else if fatal := asFatal(err); fatal != nil {
		return nil, fatal
	}

	if err := s.Page.Click(ctx, button.Ref); err != nil {
		if fatal := asFatal(err); fatal != nil {
			return nil, fatal
		}
		return nil, &SubmitError{Reason: models.FailureControlNotFound, Err: fmt.Errorf("click submit: %w", err)}
	}
	s.Touch()

	log.Info("generation submitted", "baseline", len(baseline), "prompt_chars", len(prompt))
	return &Handle{
		Prompt:         prompt,
		Params:         params,
		Baseline:       baseline,
		BaselineErrors: baselineErrors,
		SubmittedAt:    time.Now(),
		Locator:        strategy,
	}, nil
}

// waitEnabled re-locates the submit control until it is enabled
func (sb *Submitter) waitEnabled(ctx context.Context, p page.Page) (*page.Element, error) {
	var (
		button  *page.Element
		seen    bool
		lastErr error
	)
	attempts := sb.profile.Submit.Attempts
	if attempts < 1 {
		attempts = 1
	}
	interval := sb.profile.Submit.RetryInterval
	out := poll.Until(ctx, interval, time.Duration(attempts-1)*interval, func(ctx context.Context) (bool, error) {
		el, err := sb.submit.Find(ctx, p)
		if err != nil {
			if errors.Is(err, page.ErrClosed) {
				return false, err
			}
			lastErr = err
			return false, nil
		}
		if el == nil {
			return false, nil
		}
		seen = true
		button = el
		return el.Enabled, nil
	})

	switch {
	case out.Result == poll.Satisfied:
		return button, nil
	case out.Result == poll.Aborted:
		if fatal := asFatal(out.Err); fatal != nil {
			return nil, fatal
		}
		return nil, out.Err
	case seen:
		return nil, &SubmitError{Reason: models.FailureControlDisabled,
			Err: fmt.Errorf("submit control stayed disabled for %d attempts", out.Attempts)}
	default:
		return nil, &SubmitError{Reason: models.FailureControlNotFound,
			Err: errors.Join(locator.ErrNotFound, lastErr)}
	}
}

// asFatal converts a closed page into a session-fatal error, or returns nil
func asFatal(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, session.ErrSessionFatal) {
		return err
	}
	if errors.Is(err, page.ErrClosed) {
		return fmt.Errorf("%w: %v", session.ErrSessionFatal, err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
