// Package browser launches the Chrome instance a session drives, either in a
// docker container, as a local process or by attaching to a running browser.
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/shehryarbajwa/flowreel/internal/page"
)

// Mode selects how the browser is obtained
type Mode string

const (
	ModeDocker Mode = "docker"
	ModeRemote Mode = "remote"
	ModeLocal  Mode = "local"
)

// Options configure a Launcher
type Options struct {
	Mode     Mode
	WSURL    string
	Image    string
	Headless bool
	DataDir  string
}

// Instance is a launched browser with one open page
type Instance struct {
	SessionID   string
	ContainerID string
	ConnectURL  string
	Page        page.Page

	stop func(ctx context.Context) error
}

// NewInstance wraps an already open page; stop runs on Close after the page
// is closed and may be nil.
func NewInstance(sessionID string, p page.Page, stop func(ctx context.Context) error) *Instance {
	return &Instance{SessionID: sessionID, Page: p, stop: stop}
}

// Close closes the page and releases the browser
func (i *Instance) Close(ctx context.Context) error {
	if i.Page != nil {
		i.Page.Close()
	}
	if i.stop != nil {
		return i.stop(ctx)
	}
	return nil
}

// Launcher starts browsers
type Launcher struct {
	opts Options
	pool *Pool
}

// NewLauncher validates options and connects to docker when needed
func NewLauncher(opts Options) (*Launcher, error) {
	l := &Launcher{opts: opts}
	switch opts.Mode {
	case ModeDocker:
		pool, err := NewPool(opts.Image, opts.DataDir)
		if err != nil {
			return nil, err
		}
		l.pool = pool
	case ModeRemote:
		if opts.WSURL == "" {
			return nil, fmt.Errorf("remote browser mode requires a websocket URL")
		}
	case ModeLocal:
	default:
		return nil, fmt.Errorf("unknown browser mode %q", opts.Mode)
	}
	return l, nil
}

// Prepare pulls the container image in docker mode
func (l *Launcher) Prepare(ctx context.Context) error {
	if l.pool == nil {
		return nil
	}
	return l.pool.EnsureImage(ctx)
}

// Launch starts a browser for sessionID and opens its first tab
func (l *Launcher) Launch(ctx context.Context, sessionID string) (*Instance, error) {
	switch l.opts.Mode {
	case ModeDocker:
		c, err := l.pool.Start(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		p, err := attach(ctx, c.ConnectURL, c.DownloadDir, containerDownloadDir)
		if err != nil {
			l.pool.Stop(context.Background(), c.ID)
			return nil, err
		}
		inst := NewInstance(sessionID, p, func(ctx context.Context) error {
			return l.pool.Stop(ctx, c.ID)
		})
		inst.ContainerID = c.ID
		inst.ConnectURL = c.ConnectURL
		return inst, nil

	case ModeRemote:
		downloadDir, err := l.downloadDir(sessionID)
		if err != nil {
			return nil, err
		}
		p, err := attach(ctx, l.opts.WSURL, downloadDir, "")
		if err != nil {
			return nil, err
		}
		inst := NewInstance(sessionID, p, nil)
		inst.ConnectURL = l.opts.WSURL
		return inst, nil

	default:
		downloadDir, err := l.downloadDir(sessionID)
		if err != nil {
			return nil, err
		}
		p, err := l.exec(ctx, sessionID, downloadDir)
		if err != nil {
			return nil, err
		}
		return NewInstance(sessionID, p, nil), nil
	}
}

// Close releases the docker client
func (l *Launcher) Close() error {
	if l.pool != nil {
		return l.pool.Close()
	}
	return nil
}

func (l *Launcher) downloadDir(sessionID string) (string, error) {
	dir := filepath.Join(l.opts.DataDir, "browser", sessionID, "downloads")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}
	return dir, nil
}

// attach connects to a browser over CDP. The allocator is rooted at
// context.Background so the tab outlives the request that created it.
func attach(ctx context.Context, wsURL, hostDownloads, browserDownloads string) (*page.CDPPage, error) {
	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(context.Background(), wsURL)
	tab, cancelTab := chromedp.NewContext(allocCtx)
	if err := openTab(ctx, tab); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("failed to attach to browser at %s: %w", wsURL, err)
	}
	return page.NewCDPPage(tab, cancelTab, cancelAlloc).WithDownloadDir(hostDownloads, browserDownloads), nil
}

func (l *Launcher) exec(ctx context.Context, sessionID, downloadDir string) (*page.CDPPage, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserDataDir(filepath.Join(l.opts.DataDir, "browser", sessionID, "profile")),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	tab, cancelTab := chromedp.NewContext(allocCtx)
	if err := openTab(ctx, tab); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start local browser: %w", err)
	}
	return page.NewCDPPage(tab, cancelTab, cancelAlloc).WithDownloadDir(downloadDir, ""), nil
}

// openTab runs an empty action list, which makes chromedp create the target,
// bounded by the caller's context.
func openTab(ctx context.Context, tab context.Context) error {
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(tab) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(60 * time.Second):
		return fmt.Errorf("timed out opening browser tab")
	}
}
