// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package collect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/pdiddy/cve-harvest/internal/logging"
	"github.com/pdiddy/cve-harvest/pkg/types"
)

// closeTimeout bounds a graceful browser shutdown before the process is
// killed.
const closeTimeout = 5 * time.Second

// searchSettle is the pause after the results page loads so late-rendered
// results are present.
const searchSettle = 2 * time.Second

// bodyTextLimit caps the body text pulled for challenge detection.
const bodyTextLimit = 4000

// ChromeLauncher starts headless Chrome sessions through chromedp.
type ChromeLauncher struct {
	cfg types.CollectorConfig
	log *zap.SugaredLogger
}

// NewChromeLauncher returns a launcher for cfg.
func NewChromeLauncher(cfg types.CollectorConfig, log *zap.SugaredLogger) *ChromeLauncher {
	return &ChromeLauncher{cfg: cfg, log: logging.OrNop(log).Named("chrome")}
}

// allocatorOptions builds the Chrome command line.
func (l *ChromeLauncher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if !l.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false), chromedp.Flag("start-maximized", true))
	}
	opts = append(opts,
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(l.cfg.ViewportWidth, l.cfg.ViewportHeight),
		chromedp.UserAgent(l.cfg.UserAgent),
	)
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}
	if l.cfg.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(l.cfg.Proxy))
	}
	return opts
}

// Launch starts Chrome, installs the stealth script and headers, and
// returns a session bound to ctx.
func (l *ChromeLauncher) Launch(ctx context.Context) (Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, l.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(l.log.Debugf),
		chromedp.WithErrorf(l.log.Debugf),
	)
	s := &chromeSession{
		ctx:    browserCtx,
		cancel: func() { browserCancel(); allocCancel() },
		cfg:    l.cfg,
		log:    l.log,
	}

	script := buildStealthScript(l.cfg.UserAgent, l.cfg.ViewportWidth, l.cfg.ViewportHeight)
	err := chromedp.Run(browserCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers(extraHeaders)),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
			return err
		}),
		chromedp.EmulateViewport(int64(l.cfg.ViewportWidth), int64(l.cfg.ViewportHeight)),
	)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: %w", types.ErrBrowserLaunch, err)
	}
	l.log.Debugw("browser started", "headless", l.cfg.Headless, "proxy", l.cfg.Proxy != "")
	return s, nil
}

// chromeSession drives a single tab.
type chromeSession struct {
	ctx    context.Context
	cancel func()
	cfg    types.CollectorConfig
	log    *zap.SugaredLogger
}

// scoped derives a tab context that ends at timeout or when ctx ends,
// whichever comes first.
func (s *chromeSession) scoped(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	var tctx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		tctx, cancel = context.WithTimeout(s.ctx, timeout)
	} else {
		tctx, cancel = context.WithCancel(s.ctx)
	}
	stop := context.AfterFunc(ctx, cancel)
	return tctx, func() {
		stop()
		cancel()
	}
}

func (s *chromeSession) Search(ctx context.Context, query string) ([]string, error) {
	tctx, cancel := s.scoped(ctx, s.cfg.SearchTimeout)
	defer cancel()

	searchURL := s.cfg.SearchURL + "?q=" + url.QueryEscape(query)
	sel, err := json.Marshal(s.cfg.ResultSelector)
	if err != nil {
		return nil, err
	}

	var hrefs []string
	err = chromedp.Run(tctx,
		chromedp.Navigate(searchURL),
		chromedp.Sleep(searchSettle),
		chromedp.Evaluate(fmt.Sprintf(
			`Array.from(document.querySelectorAll(%s)).map(a => a.href).filter(h => !!h)`, sel,
		), &hrefs),
	)
	if err != nil {
		return nil, fmt.Errorf("search page %s: %w", searchURL, err)
	}
	return hrefs, nil
}

func (s *chromeSession) Open(ctx context.Context, rawURL string) (string, error) {
	tctx, cancel := s.scoped(ctx, s.cfg.NavigationTimeout)
	defer cancel()

	err := chromedp.Run(tctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, errText, _, err := page.Navigate(rawURL).Do(ctx)
		if err != nil {
			return err
		}
		if errText != "" {
			return errors.New(errText)
		}
		return nil
	}))
	if err != nil {
		return "", fmt.Errorf("navigating to %s: %w", rawURL, err)
	}

	if err := s.poll(tctx, `document.readyState === "complete"`, s.cfg.ReadyTimeout); err != nil {
		s.log.Debugw("page not complete, continuing", "url", rawURL, "error", err)
	}

	loc, err := s.location(tctx)
	if err != nil {
		return "", err
	}
	if s.isInterstitial(loc) {
		markers, _ := json.Marshal(s.cfg.InterstitialMarkers)
		expr := fmt.Sprintf(`!%s.some(m => location.href.includes(m))`, markers)
		if err := s.poll(tctx, expr, s.cfg.RedirectTimeout); err != nil {
			s.log.Debugw("redirect interstitial did not resolve", "url", loc, "error", err)
		}
		if loc, err = s.location(tctx); err != nil {
			return "", err
		}
	}
	return loc, nil
}

func (s *chromeSession) isInterstitial(loc string) bool {
	for _, m := range s.cfg.InterstitialMarkers {
		if m != "" && strings.Contains(loc, m) {
			return true
		}
	}
	return false
}

// poll waits until expr is truthy. A timeout is reported but callers treat
// it as soft.
func (s *chromeSession) poll(ctx context.Context, expr string, timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}
	return chromedp.Run(ctx, chromedp.Poll(expr, nil,
		chromedp.WithPollingTimeout(timeout),
		chromedp.WithPollingInterval(250*time.Millisecond),
	))
}

func (s *chromeSession) location(ctx context.Context) (string, error) {
	var loc string
	if err := chromedp.Run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("reading location: %w", err)
	}
	return loc, nil
}

func (s *chromeSession) PageText(ctx context.Context) (string, string, error) {
	tctx, cancel := s.scoped(ctx, s.cfg.ReadyTimeout)
	defer cancel()

	var title, body string
	err := chromedp.Run(tctx,
		chromedp.Title(&title),
		chromedp.Evaluate(fmt.Sprintf(
			`document.body ? document.body.innerText.slice(0, %d) : ""`, bodyTextLimit,
		), &body),
	)
	return title, body, err
}

func (s *chromeSession) Humanize(ctx context.Context) error {
	tctx, cancel := s.scoped(ctx, 0)
	defer cancel()

	x := float64(300 + rand.IntN(501))
	y := float64(200 + rand.IntN(301))
	return chromedp.Run(tctx,
		chromedp.Sleep(randomBetween(300*time.Millisecond, 800*time.Millisecond)),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return input.DispatchMouseEvent(input.MouseMoved, x, y).Do(ctx)
		}),
		chromedp.Evaluate(`window.scrollBy(0, window.innerHeight / 3)`, nil),
		chromedp.Sleep(randomBetween(200*time.Millisecond, 500*time.Millisecond)),
	)
}

func (s *chromeSession) Screenshot(ctx context.Context) ([]byte, error) {
	tctx, cancel := s.scoped(ctx, s.cfg.NavigationTimeout)
	defer cancel()

	var buf []byte
	if err := chromedp.Run(tctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close cancels the browser contexts. When a graceful shutdown blocks
// longer than closeTimeout the Chrome process is killed.
func (s *chromeSession) Close() {
	var proc *os.Process
	if c := chromedp.FromContext(s.ctx); c != nil && c.Browser != nil {
		proc = c.Browser.Process()
	}

	done := make(chan struct{})
	go func() {
		s.cancel()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(closeTimeout):
		if proc != nil {
			_ = proc.Kill()
		}
		s.log.Warn("browser shutdown timed out, killed chrome")
	}
}
