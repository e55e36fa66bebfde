package tracker

import (
	"context"
	"time"

	"github.com/shehryarbajwa/flowreel/internal/browser"
	"github.com/shehryarbajwa/flowreel/internal/page"
	"github.com/shehryarbajwa/flowreel/internal/page/pagetest"
	"github.com/shehryarbajwa/flowreel/internal/profile"
	"github.com/shehryarbajwa/flowreel/internal/session"
)

const (
	videoA = "https://storage.googleapis.com/ai-sandbox-videofx/video/aaaa-1111"
	videoB = "https://storage.googleapis.com/ai-sandbox-videofx/video/bbbb-2222"
	videoC = "https://storage.googleapis.com/ai-sandbox-videofx/video/cccc-3333"
)

func testProfile() *profile.Profile {
	p := profile.Default()
	p.Prompt.SettleDelay = 0
	p.Submit.Attempts = 3
	p.Submit.RetryInterval = time.Millisecond
	return p
}

func btn(ref, text string) page.Element {
	return page.Element{Ref: ref, Tag: "button", Text: text, Visible: true, Enabled: true}
}

func video(src string) page.Element {
	return page.Element{Ref: "v-" + src[len(src)-4:], Tag: "video", Attrs: map[string]string{"src": src}, Visible: true, Enabled: true}
}

// frame builds page state with the given text, media and buttons
func frame(p *profile.Profile, text string, media []string, buttons ...page.Element) pagetest.Frame {
	var vids []page.Element
	for _, m := range media {
		vids = append(vids, video(m))
	}
	return pagetest.Frame{
		URL:  p.WorkspaceURL("ws"),
		Text: text,
		Elements: map[string][]page.Element{
			p.MediaSelector:   vids,
			p.Submit.Selector: buttons,
		},
	}
}

func newSession(f *pagetest.Fake) *session.Session {
	return session.New(browser.NewInstance("test", f, nil))
}

type stubAlive struct{ err error }

func (s stubAlive) CheckAlive(context.Context, *session.Session) error { return s.err }

func mustTools(p *profile.Profile) (*Observer, *Classifier) {
	o, err := NewObserver(p)
	if err != nil {
		panic(err)
	}
	c, err := NewClassifier(p)
	if err != nil {
		panic(err)
	}
	return o, c
}
