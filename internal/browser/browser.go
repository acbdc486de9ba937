// Package browser attaches to or launches a Chromium browser and opens
// page targets whose flattened sessions can be traced.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/zjrosen/timeline/internal/cdp"
	"github.com/zjrosen/timeline/internal/log"
)

// Protocol names used to manage targets.
const (
	MethodCreateTarget   = "Target.createTarget"
	MethodAttachToTarget = "Target.attachToTarget"
	MethodCloseTarget    = "Target.closeTarget"
	MethodPageEnable     = "Page.enable"
	MethodPageNavigate   = "Page.navigate"
	EventLoadFired       = "Page.loadEventFired"
)

// ErrNavigation is returned when the browser refuses or fails a navigation.
var ErrNavigation = errors.New("navigation failed")

// Options selects the browser to trace.
type Options struct {
	// DebuggerURL attaches to a running browser. Accepts a ws:// endpoint,
	// an http://host:port address or a bare port.
	DebuggerURL string
	// Bin is the executable to launch when DebuggerURL is empty.
	Bin string
	// Headless launches without a window.
	Headless bool
}

// Browser is a connection to one browser process.
type Browser struct {
	conn     *cdp.Conn
	launcher *launcher.Launcher
}

// Open connects to the browser described by opts, launching one when no
// debugger URL is given.
func Open(ctx context.Context, opts Options) (*Browser, error) {
	var (
		wsURL string
		l     *launcher.Launcher
		err   error
	)

	if opts.DebuggerURL != "" {
		wsURL, err = resolve(opts.DebuggerURL)
		if err != nil {
			return nil, err
		}
	} else {
		l = launcher.New().Context(ctx).Headless(opts.Headless)
		if opts.Bin != "" {
			l = l.Bin(opts.Bin)
		}
		wsURL, err = l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launching browser: %w", err)
		}
		log.Info(log.CatBrowser, "launched", "pid", l.PID(), "headless", opts.Headless)
	}

	conn, err := cdp.Dial(ctx, wsURL)
	if err != nil {
		if l != nil {
			l.Kill()
			l.Cleanup()
		}
		return nil, err
	}
	return &Browser{conn: conn, launcher: l}, nil
}

func resolve(u string) (string, error) {
	if strings.HasPrefix(u, "ws://") || strings.HasPrefix(u, "wss://") {
		return u, nil
	}
	wsURL, err := launcher.ResolveURL(u)
	if err != nil {
		return "", fmt.Errorf("resolving debugger url %s: %w", u, err)
	}
	return wsURL, nil
}

// New wraps an existing connection. The browser process is not owned.
func New(conn *cdp.Conn) *Browser {
	return &Browser{conn: conn}
}

// Conn returns the underlying connection.
func (b *Browser) Conn() *cdp.Conn {
	return b.conn
}

// NewPage opens a blank tab and attaches a flattened session to it.
func (b *Browser) NewPage(ctx context.Context) (*Page, error) {
	raw, err := b.conn.Call(ctx, MethodCreateTarget, proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("creating target: %w", err)
	}
	var created proto.TargetCreateTargetResult
	if err := json.Unmarshal(raw, &created); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", MethodCreateTarget, err)
	}

	raw, err = b.conn.Call(ctx, MethodAttachToTarget, proto.TargetAttachToTarget{
		TargetID: created.TargetID,
		Flatten:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("attaching to target %s: %w", created.TargetID, err)
	}
	var attached proto.TargetAttachToTargetResult
	if err := json.Unmarshal(raw, &attached); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", MethodAttachToTarget, err)
	}

	log.Debug(log.CatBrowser, "page attached", "target", created.TargetID, "session", attached.SessionID)
	return &Page{
		TargetID: string(created.TargetID),
		browser:  b,
		session:  b.conn.Session(string(attached.SessionID)),
	}, nil
}

// Close disconnects and, for launched browsers, kills the process and
// removes its profile directory.
func (b *Browser) Close() error {
	err := b.conn.Close()
	if b.launcher != nil {
		b.launcher.Kill()
		b.launcher.Cleanup()
		b.launcher = nil
		log.Info(log.CatBrowser, "browser stopped")
	}
	return err
}

// Page is an attached tab.
type Page struct {
	TargetID string

	browser *Browser
	session cdp.Session
}

// Session returns the page's flattened session.
func (p *Page) Session() cdp.Session {
	return p.session
}

// Navigate loads url and waits for the load event or ctx.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if _, err := p.session.Call(ctx, MethodPageEnable, nil); err != nil {
		return fmt.Errorf("enabling page domain: %w", err)
	}

	loaded := make(chan struct{}, 1)
	cancel := p.session.Once(EventLoadFired, func(json.RawMessage) {
		select {
		case loaded <- struct{}{}:
		default:
		}
	})
	defer cancel()

	raw, err := p.session.Call(ctx, MethodPageNavigate, proto.PageNavigate{URL: url})
	if err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	var res proto.PageNavigateResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &res); err != nil {
			return fmt.Errorf("decoding %s response: %w", MethodPageNavigate, err)
		}
	}
	if res.ErrorText != "" {
		return fmt.Errorf("%w: %s: %s", ErrNavigation, url, res.ErrorText)
	}

	select {
	case <-loaded:
		log.Debug(log.CatBrowser, "page loaded", "url", url)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s to load: %w", url, ctx.Err())
	}
}

// Close closes the tab.
func (p *Page) Close(ctx context.Context) error {
	if _, err := p.browser.conn.Call(ctx, MethodCloseTarget, proto.TargetCloseTarget{
		TargetID: proto.TargetTargetID(p.TargetID),
	}); err != nil {
		return fmt.Errorf("closing target %s: %w", p.TargetID, err)
	}
	return nil
}
