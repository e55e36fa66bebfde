package tracker

import (
	"context"
	"strings"

	"github.com/shehryarbajwa/flowreel/internal/session"
)

// QueueSampler estimates how many generations the service is running. The
// count is a page heuristic: it can double count or miss entries, so callers
// treat it as advisory.
type QueueSampler struct {
	classifier *Classifier
	limit      int
}

// NewQueueSampler caps estimates at limit
func NewQueueSampler(c *Classifier, limit int) *QueueSampler {
	return &QueueSampler{classifier: c, limit: limit}
}

// PendingCount samples the page once
func (q *QueueSampler) PendingCount(ctx context.Context, s *session.Session) (int, error) {
	snap, err := q.classifier.Capture(ctx, s.Page)
	if err != nil {
		if fatal := asFatal(err); fatal != nil {
			return 0, fatal
		}
		return 0, err
	}
	return q.Estimate(snap), nil
}

// Estimate counts in-flight generations in a snapshot
func (q *QueueSampler) Estimate(snap Snapshot) int {
	count := len(q.classifier.percent.FindAllString(snap.Text, -1))

	lower := strings.ToLower(snap.Text)
	for _, f := range q.classifier.profile.Signals.ProgressFragments {
		if n := strings.Count(lower, strings.ToLower(f)); n > count {
			count = n
		}
	}
	if n := len(snap.ProgressValues); n > count {
		count = n
	}
	if snap.LoadingVideos > count {
		count = snap.LoadingVideos
	}

	if q.limit > 0 && count > q.limit {
		count = q.limit
	}
	return count
}
