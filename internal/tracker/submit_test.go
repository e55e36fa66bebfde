package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shehryarbajwa/flowreel/internal/page"
	"github.com/shehryarbajwa/flowreel/internal/page/pagetest"
	"github.com/shehryarbajwa/flowreel/internal/profile"
	"github.com/shehryarbajwa/flowreel/internal/session"
	"github.com/shehryarbajwa/flowreel/pkg/models"
)

func submitFrame(p *profile.Profile, submitEnabled bool) pagetest.Frame {
	crumb := btn("crumb", "Trình tạo cảnh")
	crumb.InNav = true
	submit := btn("submit", "arrow_forward")
	submit.Enabled = submitEnabled

	f := frame(p, "Lỗi: quota\n", []string{videoA}, crumb, submit)
	f.Elements["textarea"] = []page.Element{{
		Ref:     "prompt",
		Tag:     "textarea",
		Attrs:   map[string]string{"placeholder": "Tạo một video bằng văn bản..."},
		Visible: true,
		Enabled: true,
	}}
	return f
}

func newSubmitter(p *profile.Profile) *Submitter {
	o, c := mustTools(p)
	return NewSubmitter(p, o, c, nil)
}

func TestSubmit_Success(t *testing.T) {
	p := testProfile()
	fake := pagetest.New(submitFrame(p, true))

	h, err := newSubmitter(p).Submit(context.Background(), newSession(fake), "a red fox", models.GenerationParams{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if fake.Fills["prompt"] != "a red fox" {
		t.Errorf("prompt not filled: %v", fake.Fills)
	}
	if fake.ClickCount("submit") != 1 || fake.ClickCount("crumb") != 0 {
		t.Errorf("expected one click on submit only, got %v", fake.Clicks)
	}
	if !h.Baseline.Has(videoA) || len(h.Baseline) != 1 {
		t.Errorf("unexpected baseline %v", h.Baseline)
	}
	if h.BaselineErrors != 1 {
		t.Errorf("expected the existing error text counted, got %d", h.BaselineErrors)
	}
	if h.Locator != "placeholder:Tạo một video bằng văn bản" {
		t.Errorf("unexpected locator %q", h.Locator)
	}
}

func TestSubmit_WaitsForEnable(t *testing.T) {
	p := testProfile()
	p.Submit.Attempts = 200
	fake := pagetest.New(submitFrame(p, false))
	go func() {
		time.Sleep(10 * time.Millisecond)
		fake.Mutate(func(fr *pagetest.Frame) {
			fr.Elements[p.Submit.Selector][1].Enabled = true
		})
	}()

	if _, err := newSubmitter(p).Submit(context.Background(), newSession(fake), "x", models.GenerationParams{}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if fake.ClickCount("submit") != 1 {
		t.Errorf("expected submit clicked once enabled, got %v", fake.Clicks)
	}
}

func TestSubmit_Failures(t *testing.T) {
	p := testProfile()

	tests := []struct {
		name   string
		frame  pagetest.Frame
		reason models.FailureKind
	}{
		{"disabled control", submitFrame(p, false), models.FailureControlDisabled},
		{"no prompt input", frame(p, "", nil, btn("submit", "Tạo")), models.FailureControlNotFound},
		{"no submit control", func() pagetest.Frame {
			f := submitFrame(p, true)
			f.Elements[p.Submit.Selector] = nil
			return f
		}(), models.FailureControlNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := pagetest.New(tt.frame)
			_, err := newSubmitter(p).Submit(context.Background(), newSession(fake), "x", models.GenerationParams{})

			var se *SubmitError
			if !errors.As(err, &se) {
				t.Fatalf("expected SubmitError, got %v", err)
			}
			if se.Reason != tt.reason {
				t.Errorf("reason = %s, want %s", se.Reason, tt.reason)
			}
			if fake.ClickCount("submit") != 0 {
				t.Error("nothing should be clicked on failure")
			}
		})
	}
}

func TestSubmit_ClosedPageIsFatal(t *testing.T) {
	p := testProfile()
	fake := pagetest.New(submitFrame(p, true))
	fake.Close()

	_, err := newSubmitter(p).Submit(context.Background(), newSession(fake), "x", models.GenerationParams{})
	if !errors.Is(err, session.ErrSessionFatal) {
		t.Fatalf("expected ErrSessionFatal, got %v", err)
	}
}

func TestQueueSampler_Estimate(t *testing.T) {
	_, c := mustTools(testProfile())
	q := NewQueueSampler(c, 5)

	tests := []struct {
		name string
		snap Snapshot
		want int
	}{
		{"idle", Snapshot{Text: "play_arrow"}, 0},
		{"two percentages", Snapshot{Text: "12% ... 40%"}, 2},
		{"generating text wins", Snapshot{Text: "Generating\nGenerating\nGenerating 10%"}, 3},
		{"progress bars", Snapshot{ProgressValues: []string{"1", "2", "3", "4"}}, 4},
		{"capped at limit", Snapshot{Text: "1% 2% 3% 4% 5% 6% 7%"}, 5},
		{"loading players", Snapshot{Text: "12%", LoadingVideos: 3}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := q.Estimate(tt.snap); got != tt.want {
				t.Errorf("Estimate() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestQueueSampler_PendingCount(t *testing.T) {
	p := testProfile()
	_, c := mustTools(p)
	fake := pagetest.New(frame(p, "10% 20%", nil))

	n, err := NewQueueSampler(c, 5).PendingCount(context.Background(), newSession(fake))
	if err != nil || n != 2 {
		t.Fatalf("PendingCount() = %d, %v; want 2", n, err)
	}
}

func TestQueueSampler_CountsLoadingPlayers(t *testing.T) {
	p := testProfile()
	_, c := mustTools(p)
	fr := frame(p, "Flow", nil)
	fr.Elements[p.Signals.VideoSelector] = []page.Element{
		{Ref: "v1", Tag: "video", Visible: true},
		{Ref: "v2", Tag: "video", Visible: true},
		{Ref: "v3", Tag: "video", Visible: true, Duration: 8},
	}

	n, err := NewQueueSampler(c, 5).PendingCount(context.Background(), newSession(pagetest.New(fr)))
	if err != nil || n != 2 {
		t.Fatalf("PendingCount() = %d, %v; want 2", n, err)
	}
}
