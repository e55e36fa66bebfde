package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
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

// Signal is what one look at the page says about the request
type Signal int

const (
	SignalNone Signal = iota
	SignalProgress
	SignalCompleted
	SignalError
)

func (s Signal) String() string {
	return [...]string{"none", "progress", "completed", "error"}[s]
}

// Snapshot is the raw page state the classifier works on
type Snapshot struct {
	Text           string
	ProgressValues []string
	PlayControls   int
	// Alerts holds the text of visible error-selector elements
	Alerts []string
	// LoadingVideos counts players with no media loaded yet
	LoadingVideos int
}

// Classification is the result of classifying one snapshot
type Classification struct {
	Signal  Signal
	Percent int
	Detail  string
}

// Classifier turns page snapshots into signals
type Classifier struct {
	profile *profile.Profile
	percent *regexp.Regexp
}

// NewClassifier compiles the profile's progress pattern
func NewClassifier(p *profile.Profile) (*Classifier, error) {
	re, err := regexp.Compile(p.Signals.PercentPattern)
	if err != nil {
		return nil, err
	}
	return &Classifier{profile: p, percent: re}, nil
}

// Capture reads the text and controls the classifier needs
func (c *Classifier) Capture(ctx context.Context, p page.Page) (Snapshot, error) {
	var snap Snapshot
	text, err := p.Text(ctx)
	if err != nil {
		return snap, err
	}
	snap.Text = text

	bars, err := p.Query(ctx, c.profile.Signals.ProgressBarSelector)
	if err != nil {
		return snap, err
	}
	for _, b := range bars {
		if v := b.Attr("aria-valuenow"); v != "" {
			snap.ProgressValues = append(snap.ProgressValues, v)
		}
	}

	controls, err := p.Query(ctx, c.profile.Signals.PlaySelector)
	if err != nil {
		return snap, err
	}
	for _, el := range controls {
		if !el.Visible {
			continue
		}
		if locator.ContainsAny(el.Text, c.profile.Signals.PlayTexts) ||
			locator.ContainsAny(el.Attr("aria-label"), c.profile.Signals.PlayLabels) {
			snap.PlayControls++
		}
	}

	for _, sel := range c.profile.Signals.ErrorSelectors {
		alerts, err := p.Query(ctx, sel)
		if err != nil {
			return snap, err
		}
		for _, el := range alerts {
			if text := strings.TrimSpace(el.Text); el.Visible && text != "" {
				snap.Alerts = append(snap.Alerts, text)
			}
		}
	}

	if sel := c.profile.Signals.VideoSelector; sel != "" {
		videos, err := p.Query(ctx, sel)
		if err != nil {
			return snap, err
		}
		for _, el := range videos {
			if el.Duration <= 0 {
				snap.LoadingVideos++
			}
		}
	}
	return snap, nil
}

// ErrorCount counts error fragments in the page text. Failed cards from
// earlier requests stay on the page, so only an increase over the count at
// submission time means this request failed.
func (c *Classifier) ErrorCount(text string) int {
	lower := strings.ToLower(text)
	n := 0
	for _, f := range c.profile.Signals.ErrorFragments {
		if f != "" {
			n += strings.Count(lower, strings.ToLower(f))
		}
	}
	return n
}

// Errors counts error fragments in a snapshot. Alert text the page text
// already carries is counted once.
func (c *Classifier) Errors(snap Snapshot) int {
	n := c.ErrorCount(snap.Text)
	for _, a := range snap.Alerts {
		if !strings.Contains(snap.Text, a) {
			n += c.ErrorCount(a)
		}
	}
	return n
}

// Classify applies error > completion > progress > none. Completion means a
// play control is present and no percentage is showing.
func (c *Classifier) Classify(snap Snapshot, baselineErrors int) Classification {
	if c.Errors(snap) > baselineErrors {
		return Classification{Signal: SignalError, Detail: c.errorDetail(snap)}
	}

	percent, showing := c.latestPercent(snap)
	if snap.PlayControls > 0 && !showing {
		return Classification{Signal: SignalCompleted, Percent: 100}
	}
	if showing || locator.ContainsAny(snap.Text, c.profile.Signals.ProgressFragments) {
		return Classification{Signal: SignalProgress, Percent: percent}
	}
	return Classification{Signal: SignalNone}
}

func (c *Classifier) latestPercent(snap Snapshot) (int, bool) {
	percent, showing := 0, false
	for _, m := range c.percent.FindAllStringSubmatch(snap.Text, -1) {
		if len(m) < 2 {
			continue
		}
		if v, err := strconv.Atoi(m[1]); err == nil && v <= 100 {
			percent, showing = v, true
		}
	}
	for _, raw := range snap.ProgressValues {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v <= 100 {
			percent, showing = int(v), true
		}
	}
	return percent, showing
}

// errorDetail prefers an alert's message over a line of page text
func (c *Classifier) errorDetail(snap Snapshot) string {
	for _, a := range snap.Alerts {
		if locator.ContainsAny(a, c.profile.Signals.ErrorFragments) {
			return a
		}
	}
	return c.errorLine(snap.Text)
}

func (c *Classifier) errorLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if locator.ContainsAny(line, c.profile.Signals.ErrorFragments) {
			return strings.TrimSpace(line)
		}
	}
	return "generation error"
}

// OutcomeKind is how a wait ended
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeError   OutcomeKind = "error"
	OutcomeTimeout OutcomeKind = "timeout"
	OutcomeFatal   OutcomeKind = "fatal"
	// OutcomeCanceled means the caller's context ended the wait
	OutcomeCanceled OutcomeKind = "canceled"
)

// Outcome is the result of waiting for one request
type Outcome struct {
	Kind        OutcomeKind
	Detail      string
	Elapsed     time.Duration
	LastPercent int
	Err         error
}

// AliveChecker reports session-fatal conditions
type AliveChecker interface {
	CheckAlive(ctx context.Context, s *session.Session) error
}

// Detector polls the page until a submitted request finishes
type Detector struct {
	classifier *Classifier
	observer   *Observer
	alive      AliveChecker
	interval   time.Duration
	logger     *slog.Logger
}

// NewDetector creates a detector polling at interval
func NewDetector(c *Classifier, o *Observer, alive AliveChecker, interval time.Duration, log *slog.Logger) *Detector {
	if interval <= 0 {
		interval = 4 * time.Second
	}
	return &Detector{classifier: c, observer: o, alive: alive, interval: interval, logger: logger.OrDefault(log)}
}

// Await waits up to timeout for h to finish. progress, if set, receives every
// progress reading. A completion only counts once this request has shown
// progress or a new artifact has appeared, so an older finished card cannot
// satisfy a fresh request.
func (d *Detector) Await(ctx context.Context, s *session.Session, h *Handle, timeout time.Duration, progress func(models.Progress)) Outcome {
	log := logger.FromContext(ctx, d.logger)
	start := time.Now()
	var (
		result      Classification
		sawProgress bool
		lastPercent int
		misses      int
	)

	out := poll.Until(ctx, d.interval, timeout, func(ctx context.Context) (bool, error) {
		if d.alive != nil {
			if err := d.alive.CheckAlive(ctx, s); err != nil {
				return false, err
			}
		}

		snap, err := d.classifier.Capture(ctx, s.Page)
		if err != nil {
			if errors.Is(err, page.ErrClosed) {
				return false, err
			}
			misses++
			log.Debug("transient poll failure", "error", err, "misses", misses)
			return false, nil
		}

		cls := d.classifier.Classify(snap, h.BaselineErrors)
		switch cls.Signal {
		case SignalError:
			result = cls
			return true, nil
		case SignalCompleted:
			if sawProgress || d.hasNovelty(ctx, s, h) {
				result = cls
				return true, nil
			}
		case SignalProgress:
			sawProgress = true
			lastPercent = cls.Percent
			if progress != nil {
				progress(models.Progress{
					Elapsed: time.Since(start),
					Percent: cls.Percent,
					Detail:  cls.Signal.String(),
				})
			}
		}
		return false, nil
	})

	outcome := Outcome{Elapsed: out.Elapsed, LastPercent: lastPercent}
	switch out.Result {
	case poll.Satisfied:
		if result.Signal == SignalError {
			outcome.Kind = OutcomeError
			outcome.Detail = result.Detail
		} else {
			outcome.Kind = OutcomeSuccess
			outcome.LastPercent = 100
		}
	case poll.TimedOut:
		outcome.Kind = OutcomeTimeout
		outcome.Detail = fmt.Sprintf("no completion after %s (last progress %d%%)", timeout, lastPercent)
	default:
		outcome.Err = out.Err
		if fatal := asFatal(out.Err); fatal != nil {
			outcome.Kind = OutcomeFatal
			outcome.Err = fatal
		} else {
			outcome.Kind = OutcomeCanceled
		}
		if out.Err != nil {
			outcome.Detail = out.Err.Error()
		}
	}
	return outcome
}

func (d *Detector) hasNovelty(ctx context.Context, s *session.Session, h *Handle) bool {
	if d.observer == nil {
		return false
	}
	current, err := d.observer.Observe(ctx, s.Page)
	if err != nil {
		return false
	}
	return len(current.Diff(h.Baseline)) > 0
}
