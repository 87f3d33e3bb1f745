// Package browser connects to a debuggable Chrome over the DevTools
// Protocol and translates its network lifecycle events into Sink calls.
// It owns no request state of its own; correlation lives in the tracker.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/sync/errgroup"

	"netlens/internal/logging"
)

// Typed failures surfaced from StartTracking. Everything else inside the
// event stream is absorbed and logged.
var (
	ErrConnect  = errors.New("browser: no debuggable target reachable")
	ErrNoTarget = errors.New("browser: no eligible page target")
)

// Sink consumes the four network lifecycle event kinds. Implemented by
// the tracker. Calls arrive one at a time from the event stream.
type Sink interface {
	OnRequestStarted(id, method, url string, headers map[string]string, resourceType string)
	OnResponseReceived(id string, status int, headers map[string]string)
	OnLoadFinished(id string, encodedDataLength int64)
	OnLoadFailed(id, errorText string)
}

// Config holds browser connection settings.
type Config struct {
	DebuggerURL string `yaml:"debugger_url"` // ws:// endpoint; empty launches a local Chrome
	Bin         string `yaml:"bin"`          // Chrome binary for launch mode
	Headless    bool   `yaml:"headless"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Headless: true}
}

// Source is one connection to a debuggable browser plus, after Attach,
// one observed page target with a running event stream.
type Source struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	page    *rod.Page
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSource creates a disconnected source.
func NewSource(cfg Config) *Source {
	return &Source{cfg: cfg}
}

// Connect dials the configured debugger endpoint, or launches a local
// Chrome when none is configured. A dead or unreachable endpoint surfaces
// as ErrConnect.
func (s *Source) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser != nil {
		return nil
	}

	controlURL := s.cfg.DebuggerURL
	if controlURL == "" {
		launch := launcher.New().Headless(s.cfg.Headless)
		if s.cfg.Bin != "" {
			launch = launch.Bin(s.cfg.Bin)
		}
		url, err := launch.Launch()
		if err != nil {
			return fmt.Errorf("%w: launch chrome: %v", ErrConnect, err)
		}
		controlURL = url
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}

	s.browser = b
	logging.Browser("connected to %s", controlURL)
	return nil
}

// Attach binds to the first eligible page target, enables the protocol
// domains, and streams network lifecycle events into sink until Detach.
// A browser with zero page targets surfaces as ErrNoTarget.
func (s *Source) Attach(ctx context.Context, sink Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser == nil {
		return ErrConnect
	}
	if s.page != nil {
		return fmt.Errorf("browser: already attached")
	}

	pages, err := s.browser.Pages()
	if err != nil {
		return fmt.Errorf("%w: list targets: %v", ErrConnect, err)
	}
	if len(pages) == 0 {
		return ErrNoTarget
	}
	page := pages[0]

	streamCtx, cancel := context.WithCancel(ctx)
	page = page.Context(streamCtx)

	var g errgroup.Group
	g.Go(func() error { return proto.NetworkEnable{}.Call(page) })
	g.Go(func() error { return proto.PageEnable{}.Call(page) })
	if err := g.Wait(); err != nil {
		cancel()
		return fmt.Errorf("%w: enable domains: %v", ErrConnect, err)
	}

	wait := page.EachEvent(
		func(ev *proto.NetworkRequestWillBeSent) {
			if ev.Request == nil {
				return
			}
			sink.OnRequestStarted(
				string(ev.RequestID),
				ev.Request.Method,
				ev.Request.URL,
				headerMap(ev.Request.Headers),
				strings.ToLower(string(ev.Type)),
			)
		},
		func(ev *proto.NetworkResponseReceived) {
			if ev.Response == nil {
				return
			}
			sink.OnResponseReceived(
				string(ev.RequestID),
				ev.Response.Status,
				headerMap(ev.Response.Headers),
			)
		},
		func(ev *proto.NetworkLoadingFinished) {
			sink.OnLoadFinished(string(ev.RequestID), int64(ev.EncodedDataLength))
		},
		func(ev *proto.NetworkLoadingFailed) {
			sink.OnLoadFailed(string(ev.RequestID), ev.ErrorText)
		},
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		wait()
		logging.Browser("event stream ended for target %s", page.TargetID)
	}()

	s.page = page
	s.cancel = cancel
	s.done = done
	logging.Browser("attached to target %s", page.TargetID)
	return nil
}

// Detach stops the event stream and releases the page. Safe to call when
// not attached.
func (s *Source) Detach() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.page = nil
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Close detaches and drops the browser connection.
func (s *Source) Close() error {
	s.Detach()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browser == nil {
		return nil
	}
	err := s.browser.Close()
	s.browser = nil
	return err
}

// IsConnected reports whether the browser connection is up.
func (s *Source) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.browser != nil
}

// currentPage returns the attached page, for pass-through calls.
func (s *Source) currentPage() (*rod.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return nil, ErrNoTarget
	}
	return s.page, nil
}

func headerMap(h proto.NetworkHeaders) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v.Str()
	}
	return out
}
