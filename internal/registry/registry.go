// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package registry queries the NVD CVE API 2.0 for recently published,
// high-severity records and fetches single-record detail.
//
// All requests from one Engine share a rate limiter so the public
// unauthenticated tier (a handful of requests per 30 s) is never exceeded.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pdiddy/cve-harvest/internal/httputil"
	"github.com/pdiddy/cve-harvest/internal/logging"
	"github.com/pdiddy/cve-harvest/pkg/types"
)

// nvdTimeLayout is the extended ISO-8601 form the API expects for
// pubStartDate and pubEndDate.
const nvdTimeLayout = "2006-01-02T15:04:05.000"

const rejectMarker = "REJECT"

// Engine runs registry queries.
type Engine struct {
	cfg     types.RegistryConfig
	retrier httputil.Retrier
	limiter *rate.Limiter
	log     *zap.SugaredLogger

	// now is the clock used for the publication window and the future-year
	// filter. Tests pin it.
	now func() time.Time
}

// New returns an Engine for cfg. A nil client selects one with cfg.Timeout.
func New(cfg types.RegistryConfig, client *http.Client, log *zap.SugaredLogger) *Engine {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 2000
	}
	limit := rate.Inf
	if cfg.PageDelay > 0 {
		limit = rate.Every(cfg.PageDelay)
	}
	log = logging.OrNop(log).Named("registry")
	return &Engine{
		cfg:     cfg,
		retrier: httputil.Retrier{Client: client, MaxRetries: cfg.MaxRetries, Logger: log},
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
		now:     time.Now,
	}
}

// QueryStats describes one QueryCandidates call. Err is set when
// pagination stopped early; the candidates gathered before it are still
// returned.
type QueryStats struct {
	Window       [2]time.Time
	Pages        int
	TotalResults int
	Records      int

	Malformed      int
	FutureYear     int
	Rejected       int
	Unscored       int
	BelowThreshold int
	Duplicates     int
	Kept           int

	Err error
}

// QueryCandidates pages through every record published in the last
// windowDays days and returns those scoring at least minScore, sorted by
// score descending then identifier ascending.
//
// It never returns an error directly: a transport or parse failure ends
// pagination and is recorded in QueryStats.Err.
func (e *Engine) QueryCandidates(ctx context.Context, windowDays int, minScore float64) ([]types.VulnerabilityCandidate, QueryStats) {
	var stats QueryStats
	if windowDays <= 0 || windowDays > types.MaxWindowDays {
		stats.Err = fmt.Errorf("%w: window of %d days outside 1..%d", types.ErrConfiguration, windowDays, types.MaxWindowDays)
		return nil, stats
	}

	now := e.now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, -windowDays)
	end := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 999_000_000, now.Location())
	stats.Window = [2]time.Time{start, end}

	e.log.Infow("querying registry",
		"from", start.Format(nvdTimeLayout),
		"to", end.Format(nvdTimeLayout),
		"min_score", minScore,
	)

	var candidates []types.VulnerabilityCandidate
	seen := map[string]bool{}
	startIndex := 0
	for {
		params := url.Values{
			"pubStartDate":   {start.Format(nvdTimeLayout)},
			"pubEndDate":     {end.Format(nvdTimeLayout)},
			"resultsPerPage": {strconv.Itoa(e.cfg.PageSize)},
			"startIndex":     {strconv.Itoa(startIndex)},
		}

		page, err := e.getPage(ctx, params)
		if err != nil {
			stats.Err = err
			e.log.Warnw("pagination aborted", "start_index", startIndex, "kept", len(candidates), "error", err)
			break
		}
		stats.Pages++
		stats.TotalResults = page.TotalResults

		for _, raw := range page.Vulnerabilities {
			stats.Records++
			c, ok := e.classify(raw, now.Year(), minScore, &stats)
			if !ok {
				continue
			}
			// Records published mid-walk shift later pages by one or more.
			if seen[c.ID] {
				stats.Duplicates++
				continue
			}
			seen[c.ID] = true
			candidates = append(candidates, c)
		}

		startIndex += e.cfg.PageSize
		if startIndex >= page.TotalResults {
			break
		}
	}

	SortCandidates(candidates)
	stats.Kept = len(candidates)
	e.log.Infow("registry query finished",
		"pages", stats.Pages,
		"records", stats.Records,
		"kept", stats.Kept,
		"malformed", stats.Malformed,
		"rejected", stats.Rejected,
	)
	return candidates, stats
}

// classify applies the record filters and extracts the score.
func (e *Engine) classify(raw json.RawMessage, currentYear int, minScore float64, stats *QueryStats) (types.VulnerabilityCandidate, bool) {
	var v nvdVulnerability
	if err := json.Unmarshal(raw, &v); err != nil {
		stats.Malformed++
		e.log.Debugw("skipping undecodable record", "error", err)
		return types.VulnerabilityCandidate{}, false
	}

	id, err := types.NormalizeIdentifier(v.CVE.ID)
	if err != nil {
		stats.Malformed++
		return types.VulnerabilityCandidate{}, false
	}
	year, err := types.IdentifierYear(id)
	if err != nil {
		stats.Malformed++
		return types.VulnerabilityCandidate{}, false
	}
	if year > currentYear {
		stats.FutureYear++
		return types.VulnerabilityCandidate{}, false
	}

	if !hasUsableDescription(v.CVE) {
		stats.Rejected++
		return types.VulnerabilityCandidate{}, false
	}

	score, version, ok := baseScore(v.CVE.Metrics)
	if !ok {
		stats.Unscored++
		return types.VulnerabilityCandidate{}, false
	}
	if score < minScore {
		stats.BelowThreshold++
		return types.VulnerabilityCandidate{}, false
	}
	return types.VulnerabilityCandidate{ID: id, BaseScore: score, MetricVersion: version}, true
}

// hasUsableDescription reports whether the record has a non-empty English
// description without the rejection marker and is not itself rejected.
func hasUsableDescription(cve nvdCVE) bool {
	if strings.EqualFold(cve.VulnStatus, "Rejected") {
		return false
	}
	for _, d := range cve.Descriptions {
		if d.Lang != "en" {
			continue
		}
		text := strings.TrimSpace(d.Value)
		if text != "" && !strings.Contains(strings.ToUpper(text), rejectMarker) {
			return true
		}
	}
	return false
}

// baseScore returns the first present score in v3.1, v3.0, v2 order.
func baseScore(m nvdMetrics) (float64, types.MetricVersion, bool) {
	ordered := []struct {
		metrics []nvdMetric
		version types.MetricVersion
	}{
		{m.V31, types.MetricV31},
		{m.V30, types.MetricV30},
		{m.V2, types.MetricV2},
	}
	for _, o := range ordered {
		if len(o.metrics) == 0 || o.metrics[0].CVSSData.BaseScore == nil {
			continue
		}
		return *o.metrics[0].CVSSData.BaseScore, o.version, true
	}
	return 0, "", false
}

// SortCandidates orders candidates by score descending, ties broken by
// identifier ascending.
func SortCandidates(cs []types.VulnerabilityCandidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].BaseScore != cs[j].BaseScore {
			return cs[i].BaseScore > cs[j].BaseScore
		}
		return cs[i].ID < cs[j].ID
	})
}

// getPage issues one paced request and decodes the envelope.
func (e *Engine) getPage(ctx context.Context, params url.Values) (*nvdPage, error) {
	resp, err := e.get(ctx, params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var page nvdPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("%w: decoding registry page: %w", types.ErrParse, err)
	}
	return &page, nil
}

// get waits for the limiter, sends the request, and maps non-200 statuses
// to ErrTransport (404 to ErrNotFound). The caller closes the body.
func (e *Engine) get(ctx context.Context, params url.Values) (*http.Response, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: waiting for rate limiter: %w", types.ErrTransport, err)
	}

	reqURL := e.cfg.BaseURL + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %w", types.ErrTransport, err)
	}
	if e.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", e.cfg.UserAgent)
	}
	if e.cfg.APIKey != "" {
		req.Header.Set("apiKey", e.cfg.APIKey)
	}

	e.log.Debugw("GET", "url", reqURL)
	resp, err := e.retrier.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: registry request: %w", types.ErrTransport, err)
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: registry returned HTTP 404", types.ErrNotFound)
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: registry returned HTTP %d", types.ErrTransport, resp.StatusCode)
	}
}
