// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package collect discovers pages that discuss a record identifier and
// captures them as full-page screenshots. One browser session serves one
// identifier: a single search-engine query yields candidate links, each
// candidate is opened with human-like pacing, and every screenshot is handed
// to a Verifier. Only verified captures are kept.
package collect

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/pdiddy/cve-harvest/internal/fsutil"
	"github.com/pdiddy/cve-harvest/internal/logging"
	"github.com/pdiddy/cve-harvest/pkg/types"
)

// Session is one browser instance owned by one identifier.
type Session interface {
	// Search runs query on the search engine and returns organic result
	// hrefs in page order.
	Search(ctx context.Context, query string) ([]string, error)

	// Open navigates to rawURL without waiting for the load event, waits
	// briefly for the document to settle and for redirect interstitials to
	// resolve, and returns the final location.
	Open(ctx context.Context, rawURL string) (string, error)

	// PageText returns the document title and leading body text.
	PageText(ctx context.Context) (title, body string, err error)

	// Humanize pauses, moves the mouse, and scrolls like a reader would.
	Humanize(ctx context.Context) error

	// Screenshot captures the full page as PNG.
	Screenshot(ctx context.Context) ([]byte, error)

	// Close shuts the browser down.
	Close()
}

// Launcher starts browser sessions.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// Verifier confirms that a screenshot mentions the identifier and returns
// the recognized text on success.
type Verifier interface {
	Verify(ctx context.Context, image []byte, identifier string) (string, bool)
}

// errExcluded marks a candidate whose final host is on the exclusion list.
var errExcluded = errors.New("excluded domain")

// Collector runs discovery and capture for one identifier at a time.
type Collector struct {
	launcher Launcher
	verifier Verifier
	cfg      types.CollectorConfig
	log      *zap.SugaredLogger

	// sleep and jitter are swapped by tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(lo, hi time.Duration) time.Duration
}

// New returns a Collector.
func New(l Launcher, v Verifier, cfg types.CollectorConfig, log *zap.SugaredLogger) *Collector {
	return &Collector{
		launcher: l,
		verifier: v,
		cfg:      cfg,
		log:      logging.OrNop(log).Named("collect"),
		sleep:    sleepCtx,
		jitter:   randomBetween,
	}
}

// DiscoverAndCapture searches for identifier, opens up to maxSearchResults
// eligible links, and returns at most maxCaptures verified artifacts.
// Verified screenshots are saved under the screenshot directory.
//
// A failure on one candidate only skips that candidate. A browser launch
// failure is returned as ErrBrowserLaunch; cancellation returns the
// artifacts verified so far along with ctx.Err().
func (c *Collector) DiscoverAndCapture(ctx context.Context, identifier string, maxSearchResults, maxCaptures int) ([]types.EvidenceArtifact, error) {
	id, err := types.NormalizeIdentifier(identifier)
	if err != nil {
		return nil, err
	}
	log := c.log.With("id", id)

	sess, err := c.launcher.Launch(ctx)
	if err != nil {
		if errors.Is(err, types.ErrBrowserLaunch) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", types.ErrBrowserLaunch, err)
	}
	defer sess.Close()

	hrefs, err := sess.Search(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: searching for %s: %w", types.ErrNavigation, id, err)
	}
	candidates := FilterLinks(hrefs, c.cfg.ExcludedDomains, maxSearchResults)
	log.Infow("search finished", "links", len(hrefs), "candidates", len(candidates))

	var artifacts []types.EvidenceArtifact
	for i, cand := range candidates {
		if len(artifacts) >= maxCaptures {
			break
		}
		if err := ctx.Err(); err != nil {
			return artifacts, err
		}
		if i > 0 {
			if err := c.sleep(ctx, c.jitter(c.cfg.MinCandidateDelay, c.cfg.MaxCandidateDelay)); err != nil {
				return artifacts, err
			}
		}

		art, err := c.capture(ctx, sess, id, cand)
		if err != nil {
			switch {
			case errors.Is(err, errExcluded):
				log.Debugw("skipping excluded page", "url", cand.URL, "error", err)
			case errors.Is(err, types.ErrDetectionBlock):
				log.Warnw("bot challenge, skipping", "url", cand.URL)
			default:
				log.Warnw("capture failed", "url", cand.URL, "error", err)
			}
			continue
		}

		text, ok := c.verifier.Verify(ctx, art.Image, id)
		if !ok {
			log.Debugw("capture not verified", "url", cand.URL)
			continue
		}
		art.ExtractedText = text
		art.Verified = true

		if c.cfg.ScreenshotDir != "" {
			path := filepath.Join(c.cfg.ScreenshotDir, ScreenshotName(id, cand.URL))
			if err := fsutil.WriteFileAtomic(path, art.Image, 0o644); err != nil {
				log.Warnw("saving screenshot failed", "path", path, "error", err)
			} else {
				art.ScreenshotPath = path
			}
		}
		log.Infow("verified capture", "url", cand.URL, "final_url", art.FinalURL, "chars", len(text))
		artifacts = append(artifacts, art)
	}
	return artifacts, nil
}

// capture opens one candidate and screenshots it.
func (c *Collector) capture(ctx context.Context, sess Session, id string, cand types.SearchResult) (types.EvidenceArtifact, error) {
	art := types.EvidenceArtifact{Identifier: id, SourceURL: cand.URL}

	final, err := sess.Open(ctx, cand.URL)
	if err != nil {
		return art, fmt.Errorf("%w: %w", types.ErrNavigation, err)
	}
	art.FinalURL = final
	if host := hostOf(final); host != "" && IsExcluded(host, c.cfg.ExcludedDomains) {
		return art, fmt.Errorf("%w: redirected to %s", errExcluded, host)
	}

	if title, body, err := sess.PageText(ctx); err == nil && looksLikeChallenge(title, body) {
		return art, fmt.Errorf("%w: %q", types.ErrDetectionBlock, title)
	}

	if err := sess.Humanize(ctx); err != nil {
		c.log.Debugw("human simulation failed", "url", cand.URL, "error", err)
	}

	img, err := sess.Screenshot(ctx)
	if err != nil {
		return art, fmt.Errorf("%w: screenshot: %w", types.ErrNavigation, err)
	}
	art.Image = img
	return art, nil
}

// FilterLinks keeps http(s) links whose host is not excluded, drops exact
// duplicates, and caps the result at max (no cap when max <= 0).
func FilterLinks(hrefs, excluded []string, max int) []types.SearchResult {
	seen := map[string]bool{}
	var out []types.SearchResult
	for _, href := range hrefs {
		if max > 0 && len(out) >= max {
			break
		}
		href = strings.TrimSpace(href)
		u, err := url.Parse(href)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			continue
		}
		host := strings.ToLower(u.Hostname())
		if IsExcluded(host, excluded) || seen[href] {
			continue
		}
		seen[href] = true
		out = append(out, types.SearchResult{URL: href, OriginDomain: OriginDomain(host)})
	}
	return out
}

// IsExcluded reports whether host equals an excluded domain or is a
// subdomain of one.
func IsExcluded(host string, excluded []string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	for _, d := range excluded {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), ".")
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// OriginDomain returns the registrable domain (eTLD+1) of host, or host
// itself when it has none (IP addresses, localhost).
func OriginDomain(host string) string {
	if net.ParseIP(host) != nil {
		return host
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return d
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

var (
	schemePattern  = regexp.MustCompile(`^https?://`)
	unsafeFileChar = regexp.MustCompile(`[^\w\-.]`)
)

const maxSlugLen = 80

// ScreenshotName builds "{ID}__{slug}.png" where slug is the URL without
// scheme and query, every character outside [A-Za-z0-9_.-] replaced by an
// underscore, truncated to 80 characters.
func ScreenshotName(id, rawURL string) string {
	s := rawURL
	if i := strings.IndexByte(s, '?'); i >= 0 {
		s = s[:i]
	}
	s = schemePattern.ReplaceAllString(s, "")
	s = unsafeFileChar.ReplaceAllString(s, "_")
	if len(s) > maxSlugLen {
		s = s[:maxSlugLen]
	}
	return id + "__" + s + ".png"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// randomBetween returns a uniformly random duration in [lo, hi].
func randomBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}
