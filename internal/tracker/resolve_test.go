package tracker

import (
	"context"
	"testing"

	"github.com/shehryarbajwa/flowreel/internal/page"
	"github.com/shehryarbajwa/flowreel/internal/page/pagetest"
	"github.com/shehryarbajwa/flowreel/pkg/models"
)

func TestPick(t *testing.T) {
	tests := []struct {
		name       string
		baseline   []string
		current    []string
		want       string
		confidence models.Confidence
		ok         bool
	}{
		{"one new artifact", []string{"A", "B"}, []string{"A", "B", "C"}, "C", models.ConfidenceHigh, true},
		{"no novelty falls back to last", []string{"A", "B"}, []string{"A", "B"}, "B", models.ConfidenceDegraded, true},
		{"several new picks lowest", []string{"A"}, []string{"A", "D", "C"}, "C", models.ConfidenceHigh, true},
		{"empty baseline", nil, []string{"B", "A"}, "A", models.ConfidenceHigh, true},
		{"nothing on page", []string{"A"}, nil, "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok := Pick(NewObservationSet(tt.baseline...), NewObservationSet(tt.current...))
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if res.Identity != tt.want || res.Ref.URL != tt.want {
				t.Errorf("picked %q (%s), want %q", res.Identity, res.Ref.URL, tt.want)
			}
			if res.Confidence != tt.confidence {
				t.Errorf("confidence %s, want %s", res.Confidence, tt.confidence)
			}
		})
	}
}

func TestObserver_MergesMarkupAndMedia(t *testing.T) {
	p := testProfile()
	signed := videoB + "?X-Goog-Signature=abc"
	fake := pagetest.New(pagetest.Frame{
		HTML: `<div data-src="` + videoA + `"></div><video src="` + videoB + `?X-Goog-Signature=abc&amp;x=1"></video>`,
		Elements: map[string][]page.Element{
			p.MediaSelector: {
				{Tag: "video", Attrs: map[string]string{"src": signed}},
				{Tag: "video", Attrs: map[string]string{"src": "blob:https://labs.google/123"}},
				{Tag: "video", Attrs: map[string]string{"src": "https://example.com/other.mp4"}},
			},
		},
	})
	o, _ := mustTools(p)

	set, err := o.Observe(context.Background(), fake)
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if len(set) != 3 {
		t.Fatalf("expected 3 artifacts, got %v", set)
	}
	if set[videoB] != signed {
		t.Errorf("expected signed URL kept for %s, got %q", videoB, set[videoB])
	}
	if !set.Has("blob:https://labs.google/123") {
		t.Error("expected blob reference")
	}
	if o.Identity(signed) != videoB {
		t.Errorf("Identity(%q) = %q", signed, o.Identity(signed))
	}
}

func TestResolver_Resolve(t *testing.T) {
	p := testProfile()
	fake := pagetest.New(frame(p, "", []string{videoA, videoB, videoC}))
	o, _ := mustTools(p)
	r := NewResolver(o, nil)

	res, ok := r.Resolve(context.Background(), newSession(fake), NewObservationSet(videoA, videoB))
	if !ok || res.Ref.URL != videoC || res.Confidence != models.ConfidenceHigh {
		t.Fatalf("expected %s high, got %+v ok=%v", videoC, res, ok)
	}

	fake.Close()
	if _, ok := r.Resolve(context.Background(), newSession(fake), nil); ok {
		t.Error("expected unresolved when page is closed")
	}
}
