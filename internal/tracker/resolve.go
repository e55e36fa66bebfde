package tracker

import (
	"context"
	"log/slog"

	"github.com/shehryarbajwa/flowreel/internal/logger"
	"github.com/shehryarbajwa/flowreel/internal/session"
	"github.com/shehryarbajwa/flowreel/pkg/models"
)

// Resolution is the artifact attributed to one request
type Resolution struct {
	Ref        *models.ArtifactRef
	Identity   string
	Confidence models.Confidence
}

// Pick attributes an artifact by set difference. A new member wins, lowest
// identity first; with no novelty the lexicographically last current member
// is returned with degraded confidence; an empty page is unresolved.
func Pick(baseline, current ObservationSet) (Resolution, bool) {
	if fresh := current.Diff(baseline).Sorted(); len(fresh) > 0 {
		id := fresh[0]
		return Resolution{Ref: models.Remote(current[id]), Identity: id, Confidence: models.ConfidenceHigh}, true
	}
	all := current.Sorted()
	if len(all) == 0 {
		return Resolution{}, false
	}
	id := all[len(all)-1]
	return Resolution{Ref: models.Remote(current[id]), Identity: id, Confidence: models.ConfidenceDegraded}, true
}

// Resolver observes the page after completion and applies Pick
type Resolver struct {
	observer *Observer
	logger   *slog.Logger
}

// NewResolver creates a resolver
func NewResolver(o *Observer, log *slog.Logger) *Resolver {
	return &Resolver{observer: o, logger: logger.OrDefault(log)}
}

// Resolve reads the current set and picks the request's artifact
func (r *Resolver) Resolve(ctx context.Context, s *session.Session, baseline ObservationSet) (Resolution, bool) {
	current, err := r.observer.Observe(ctx, s.Page)
	if err != nil {
		logger.FromContext(ctx, r.logger).Warn("artifact observation failed", "error", err)
		return Resolution{}, false
	}

	res, ok := Pick(baseline, current)
	if ok && res.Confidence == models.ConfidenceDegraded {
		logger.FromContext(ctx, r.logger).Warn("no new artifact appeared, falling back to latest on page",
			"artifact", res.Identity,
			"observed", len(current),
		)
	}
	return res, ok
}
