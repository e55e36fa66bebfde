package page

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/shehryarbajwa/flowreel/pkg/models"
)

const refAttr = "data-reel-ref"

// DefaultActionTimeout bounds a single browser call when the caller's
// context carries no deadline.
const DefaultActionTimeout = 30 * time.Second

// CDPPage drives one tab over the Chrome DevTools Protocol
type CDPPage struct {
	tab       context.Context
	cancelTab context.CancelFunc
	release   func()

	// downloads land in browserDir as seen by the browser process, which is
	// hostDir on this machine
	hostDir    string
	browserDir string

	seq       atomic.Int64
	closeOnce sync.Once
}

// NewCDPPage wraps a chromedp tab context. release, if set, runs after the tab
// is closed and should free the allocator.
func NewCDPPage(tab context.Context, cancelTab context.CancelFunc, release func()) *CDPPage {
	return &CDPPage{tab: tab, cancelTab: cancelTab, release: release}
}

// WithDownloadDir sets where downloads go. browserDir is the same directory
// as the browser sees it, which differs when the browser runs in a container.
func (p *CDPPage) WithDownloadDir(hostDir, browserDir string) *CDPPage {
	if browserDir == "" {
		browserDir = hostDir
	}
	p.hostDir = hostDir
	p.browserDir = browserDir
	return p
}

func (p *CDPPage) run(ctx context.Context, actions ...chromedp.Action) error {
	if p.tab.Err() != nil {
		return ErrClosed
	}
	runCtx, cancel := context.WithCancel(p.tab)
	defer cancel()
	if _, ok := ctx.Deadline(); !ok {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, DefaultActionTimeout)
		defer cancelTimeout()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if p.tab.Err() != nil || errors.Is(err, chromedp.ErrInvalidContext) {
		return ErrClosed
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *CDPPage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *CDPPage) URL(ctx context.Context) (string, error) {
	var loc string
	err := p.run(ctx, chromedp.Location(&loc))
	return loc, err
}

func (p *CDPPage) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, chromedp.Evaluate(`document.documentElement ? document.documentElement.outerHTML : ""`, &html))
	return html, err
}

func (p *CDPPage) Text(ctx context.Context) (string, error) {
	var text string
	err := p.run(ctx, chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text))
	return text, err
}

// describeJS tags every node in the list with a ref attribute and returns
// its description.
const describeJS = `
function __reelDescribe(nodes, prefix) {
  const out = [];
  let n = 0;
  for (const el of nodes) {
    const ref = prefix + "-" + (n++);
    el.setAttribute("` + refAttr + `", ref);
    const attrs = {};
    for (const a of el.attributes) attrs[a.name] = a.value;
    const rect = el.getBoundingClientRect();
    const style = window.getComputedStyle(el);
    out.push({
      ref: ref,
      tag: el.tagName.toLowerCase(),
      text: (el.innerText || el.textContent || "").trim(),
      attrs: attrs,
      visible: rect.width > 0 && rect.height > 0 && style.visibility !== "hidden" && style.display !== "none",
      enabled: !el.disabled && el.getAttribute("aria-disabled") !== "true",
      inNav: !!el.closest("nav, ul, ol, [role=navigation], [aria-label*=breadcrumb i]"),
      duration: (el.duration > 0 && isFinite(el.duration)) ? el.duration : 0,
    });
  }
  return out;
}
`

func (p *CDPPage) Query(ctx context.Context, css string) ([]Element, error) {
	prefix := fmt.Sprintf("q%d", p.seq.Add(1))
	script := fmt.Sprintf(`(() => { %s
  return __reelDescribe(Array.from(document.querySelectorAll(%q)), %q);
})()`, describeJS, css, prefix)

	var elems []Element
	if err := p.run(ctx, chromedp.Evaluate(script, &elems)); err != nil {
		return nil, err
	}
	return elems, nil
}

func (p *CDPPage) QueryAround(ctx context.Context, mediaSrc, css string) ([]Element, error) {
	prefix := fmt.Sprintf("a%d", p.seq.Add(1))
	script := fmt.Sprintf(`(() => { %s
  const src = %q;
  const media = Array.from(document.querySelectorAll("video, video source"))
    .find(v => { const s = v.currentSrc || v.src || v.getAttribute("src") || ""; return s === src || s.startsWith(src); });
  if (!media) return [];
  let node = media.parentElement;
  while (node && node !== document.body) {
    const hits = node.querySelectorAll(%q);
    if (hits.length > 0) return __reelDescribe(Array.from(hits), %q);
    node = node.parentElement;
  }
  return [];
})()`, describeJS, mediaSrc, css, prefix)

	var elems []Element
	if err := p.run(ctx, chromedp.Evaluate(script, &elems)); err != nil {
		return nil, err
	}
	return elems, nil
}

func refSelector(ref string) string {
	return fmt.Sprintf(`[%s=%q]`, refAttr, ref)
}

func (p *CDPPage) Click(ctx context.Context, ref string) error {
	sel := refSelector(ref)
	return p.run(ctx,
		chromedp.ScrollIntoView(sel, chromedp.ByQuery),
		chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible),
	)
}

// Fill sets the value through the native setter so framework-controlled
// inputs see an input event.
func (p *CDPPage) Fill(ctx context.Context, ref, text string) error {
	script := fmt.Sprintf(`(() => {
  const el = document.querySelector(%q);
  if (!el) return false;
  el.focus();
  const proto = el.tagName === "TEXTAREA" ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
  const setter = Object.getOwnPropertyDescriptor(proto, "value").set;
  setter.call(el, %q);
  el.dispatchEvent(new Event("input", { bubbles: true }));
  el.dispatchEvent(new Event("change", { bubbles: true }));
  return true;
})()`, refSelector(ref), text)

	var ok bool
	if err := p.run(ctx, chromedp.Evaluate(script, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("fill %s: element no longer attached", ref)
	}
	return nil
}

var keys = map[string]string{
	"Escape":    kb.Escape,
	"Enter":     kb.Enter,
	"Tab":       kb.Tab,
	"Backspace": kb.Backspace,
}

func (p *CDPPage) Press(ctx context.Context, key string) error {
	k, ok := keys[key]
	if !ok {
		k = key
	}
	return p.run(ctx, chromedp.KeyEvent(k))
}

func (p *CDPPage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, chromedp.CaptureScreenshot(&buf))
	return buf, err
}

func (p *CDPPage) FetchBlob(ctx context.Context, url string) ([]byte, error) {
	script := fmt.Sprintf(`fetch(%q)
  .then(r => r.blob())
  .then(b => new Promise((resolve, reject) => {
    const reader = new FileReader();
    reader.onloadend = () => resolve(String(reader.result).split(",")[1] || "");
    reader.onerror = reject;
    reader.readAsDataURL(b);
  }))`, url)

	var encoded string
	err := p.run(ctx, chromedp.Evaluate(script, &encoded, func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
		return ep.WithAwaitPromise(true)
	}))
	if err != nil {
		return nil, err
	}
	if encoded == "" {
		return nil, fmt.Errorf("blob %s returned no data", url)
	}
	return base64.StdEncoding.DecodeString(encoded)
}

func (p *CDPPage) Download(ctx context.Context, trigger func(context.Context) error) (string, error) {
	if p.hostDir == "" {
		return "", errors.New("downloads are not configured for this page")
	}
	done := make(chan string, 1)
	failed := make(chan error, 1)

	listenCtx, stopListening := context.WithCancel(p.tab)
	defer stopListening()

	var (
		mu   sync.Mutex
		guid string
	)
	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *browser.EventDownloadWillBegin:
			mu.Lock()
			if guid == "" {
				guid = e.GUID
			}
			mu.Unlock()
		case *browser.EventDownloadProgress:
			mu.Lock()
			mine := guid != "" && guid == e.GUID
			mu.Unlock()
			if !mine {
				return
			}
			switch e.State {
			case browser.DownloadProgressStateCompleted:
				select {
				case done <- e.GUID:
				default:
				}
			case browser.DownloadProgressStateCanceled:
				select {
				case failed <- errors.New("download canceled by browser"):
				default:
				}
			}
		}
	})

	behavior := browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
		WithDownloadPath(p.browserDir).
		WithEventsEnabled(true)
	if err := p.run(ctx, behavior); err != nil {
		return "", fmt.Errorf("enable downloads: %w", err)
	}
	if err := trigger(ctx); err != nil {
		return "", err
	}

	select {
	case g := <-done:
		return filepath.Join(p.hostDir, g), nil
	case err := <-failed:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-p.tab.Done():
		return "", ErrClosed
	}
}

func (p *CDPPage) SetCookies(ctx context.Context, cookies []models.Cookie) error {
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			params := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(pathOrRoot(c.Path)).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly)
			if c.SameSite != "" {
				params = params.WithSameSite(network.CookieSameSite(c.SameSite))
			}
			if c.Expires != nil {
				exp := cdp.TimeSinceEpoch(time.Unix(int64(*c.Expires), 0))
				params = params.WithExpires(&exp)
			}
			if err := params.Do(ctx); err != nil {
				return fmt.Errorf("set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	}))
}

func (p *CDPPage) Cookies(ctx context.Context) ([]models.Cookie, error) {
	var raw []*network.Cookie
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}

	out := make([]models.Cookie, 0, len(raw))
	for _, c := range raw {
		cookie := models.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: models.NormalizeSameSite(string(c.SameSite)),
		}
		if !c.Session && c.Expires > 0 {
			exp := c.Expires
			cookie.Expires = &exp
		}
		out = append(out, cookie)
	}
	return out, nil
}

// Close closes the tab and releases the allocator
func (p *CDPPage) Close() error {
	p.closeOnce.Do(func() {
		if p.cancelTab != nil {
			p.cancelTab()
		}
		if p.release != nil {
			p.release()
		}
	})
	return nil
}

func pathOrRoot(path string) string {
	if strings.TrimSpace(path) == "" {
		return "/"
	}
	return path
}
