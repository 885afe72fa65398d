// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"path/filepath"
	"time"
)

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests.
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`

	// MaxRetries bounds the 429 backoff loop (0 selects the httputil default).
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
}

// RegistryConfig holds settings for the registry query engine.
type RegistryConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// BaseURL is the CVE API 2.0 endpoint.
	BaseURL string `json:"base_url" yaml:"base_url" mapstructure:"base_url"`

	// APIKey is an optional NVD API key for the higher rate tier.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// PageSize is the resultsPerPage parameter (NVD maximum is 2000).
	PageSize int `json:"page_size" yaml:"page_size" mapstructure:"page_size"`

	// PageDelay is the pause between consecutive page requests.
	PageDelay time.Duration `json:"page_delay" yaml:"page_delay" mapstructure:"page_delay"`

	// WindowDays is the default publication window for batch queries.
	WindowDays int `json:"window_days" yaml:"window_days" mapstructure:"window_days"`

	// MinScore is the default CVSS threshold for batch queries.
	MinScore float64 `json:"min_score" yaml:"min_score" mapstructure:"min_score"`
}

// CollectorConfig holds settings for the browser-driven evidence collector.
type CollectorConfig struct {
	// SearchURL is the search engine results endpoint; the query is sent as q.
	SearchURL string `json:"search_url" yaml:"search_url" mapstructure:"search_url"`

	// ResultSelector is the CSS selector for organic result links.
	ResultSelector string `json:"result_selector" yaml:"result_selector" mapstructure:"result_selector"`

	// InterstitialMarkers are URL fragments of search-engine redirect pages.
	InterstitialMarkers []string `json:"interstitial_markers" yaml:"interstitial_markers" mapstructure:"interstitial_markers"`

	// ExcludedDomains are never captured; subdomains match too.
	ExcludedDomains []string `json:"excluded_domains" yaml:"excluded_domains" mapstructure:"excluded_domains"`

	MaxSearchResults int `json:"max_search_results" yaml:"max_search_results" mapstructure:"max_search_results"`
	MaxCaptures      int `json:"max_captures" yaml:"max_captures" mapstructure:"max_captures"`

	// Headless selects headless Chrome; false shows a window for debugging.
	Headless  bool   `json:"headless" yaml:"headless" mapstructure:"headless"`
	ExecPath  string `json:"exec_path,omitempty" yaml:"exec_path,omitempty" mapstructure:"exec_path"`
	Proxy     string `json:"proxy,omitempty" yaml:"proxy,omitempty" mapstructure:"proxy"`
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`

	ViewportWidth  int `json:"viewport_width" yaml:"viewport_width" mapstructure:"viewport_width"`
	ViewportHeight int `json:"viewport_height" yaml:"viewport_height" mapstructure:"viewport_height"`

	SearchTimeout     time.Duration `json:"search_timeout" yaml:"search_timeout" mapstructure:"search_timeout"`
	NavigationTimeout time.Duration `json:"navigation_timeout" yaml:"navigation_timeout" mapstructure:"navigation_timeout"`
	ReadyTimeout      time.Duration `json:"ready_timeout" yaml:"ready_timeout" mapstructure:"ready_timeout"`
	RedirectTimeout   time.Duration `json:"redirect_timeout" yaml:"redirect_timeout" mapstructure:"redirect_timeout"`

	// MinCandidateDelay and MaxCandidateDelay bound the randomized pause
	// between candidate pages.
	MinCandidateDelay time.Duration `json:"min_candidate_delay" yaml:"min_candidate_delay" mapstructure:"min_candidate_delay"`
	MaxCandidateDelay time.Duration `json:"max_candidate_delay" yaml:"max_candidate_delay" mapstructure:"max_candidate_delay"`

	// ScreenshotDir receives verified screenshots.
	ScreenshotDir string `json:"screenshot_dir" yaml:"screenshot_dir" mapstructure:"screenshot_dir"`
}

// ValidatorConfig holds settings for OCR preprocessing and verification.
type ValidatorConfig struct {
	// Threshold is the binarization cut: luminance above it becomes white.
	Threshold uint8 `json:"threshold" yaml:"threshold" mapstructure:"threshold"`

	// MedianSize is the odd median filter window; 1 disables denoising.
	MedianSize int `json:"median_size" yaml:"median_size" mapstructure:"median_size"`

	// Language is the tesseract language pack (e.g. "eng").
	Language string `json:"language" yaml:"language" mapstructure:"language"`

	// TesseractPath overrides the tesseract binary looked up on PATH.
	TesseractPath string `json:"tesseract_path,omitempty" yaml:"tesseract_path,omitempty" mapstructure:"tesseract_path"`

	// ContainerImage runs tesseract in docker/podman when no binary is found.
	ContainerImage string `json:"container_image,omitempty" yaml:"container_image,omitempty" mapstructure:"container_image"`

	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
}

// AIConfig holds shared settings for stages that call a Generative AI API.
type AIConfig struct {
	// Model is the AI model identifier (e.g. "deepseek-chat").
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// APIKey is the authentication key for the AI API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// MaxRetries is the number of retry attempts for rate-limited calls.
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
}

// SummaryConfig holds settings for the summarization collaborator.
type SummaryConfig struct {
	AIConfig `yaml:",inline" mapstructure:",squash"`

	// BaseURL is the OpenAI-compatible API root.
	BaseURL     string        `json:"base_url" yaml:"base_url" mapstructure:"base_url"`
	MaxTokens   int           `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64       `json:"temperature" yaml:"temperature" mapstructure:"temperature"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
}

// HarvestConfig holds settings for the orchestrator and artifact layout.
type HarvestConfig struct {
	// DataDir holds ID.txt, ID.json, and cve_lists/.
	DataDir string `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`

	// LedgerPath is the SQLite run history. Empty selects
	// {DataDir}/ledger.db; LedgerDisabled turns the ledger off.
	LedgerPath string `json:"ledger_path,omitempty" yaml:"ledger_path,omitempty" mapstructure:"ledger_path"`
}

// LedgerDisabled is the LedgerPath value that turns the run history off.
const LedgerDisabled = "off"

// LedgerFile resolves LedgerPath. It returns "" when the ledger is disabled.
func (c HarvestConfig) LedgerFile() string {
	switch c.LedgerPath {
	case LedgerDisabled:
		return ""
	case "":
		return filepath.Join(c.DataDir, "ledger.db")
	}
	return c.LedgerPath
}

// PipelineConfig groups all stage configurations for the pipeline.
type PipelineConfig struct {
	Registry  RegistryConfig  `json:"registry" yaml:"registry" mapstructure:"registry"`
	Collector CollectorConfig `json:"collector" yaml:"collector" mapstructure:"collector"`
	Validator ValidatorConfig `json:"validator" yaml:"validator" mapstructure:"validator"`
	Summary   SummaryConfig   `json:"summary" yaml:"summary" mapstructure:"summary"`
	Harvest   HarvestConfig   `json:"harvest" yaml:"harvest" mapstructure:"harvest"`
}

const (
	defaultBrowserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

	// MaxWindowDays is the widest publication range the registry accepts.
	MaxWindowDays = 120
)

// DefaultPipelineConfig returns the settings the CLI starts from before
// applying the config file, environment, and flags.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Registry: RegistryConfig{
			HTTPConfig: HTTPConfig{
				Timeout:   30 * time.Second,
				UserAgent: "cve-harvest/0.1",
			},
			BaseURL:    "https://services.nvd.nist.gov/rest/json/cves/2.0",
			PageSize:   2000,
			PageDelay:  6 * time.Second,
			WindowDays: 7,
			MinScore:   9.0,
		},
		Collector: CollectorConfig{
			SearchURL:           "https://www.bing.com/search",
			ResultSelector:      "ol#b_results li.b_algo h2 a",
			InterstitialMarkers: []string{"bing.com/ck/"},
			ExcludedDomains:     []string{"nvd.nist.gov", "zhihu.com"},
			MaxSearchResults:    20,
			MaxCaptures:         3,
			Headless:            true,
			UserAgent:           defaultBrowserUA,
			ViewportWidth:       1920,
			ViewportHeight:      1080,
			SearchTimeout:       30 * time.Second,
			NavigationTimeout:   60 * time.Second,
			ReadyTimeout:        10 * time.Second,
			RedirectTimeout:     15 * time.Second,
			MinCandidateDelay:   2 * time.Second,
			MaxCandidateDelay:   5 * time.Second,
			ScreenshotDir:       "screenshots",
		},
		Validator: ValidatorConfig{
			Threshold:      150,
			MedianSize:     3,
			Language:       "eng",
			ContainerImage: "jitesoft/tesseract-ocr:latest",
			Timeout:        60 * time.Second,
		},
		Summary: SummaryConfig{
			AIConfig: AIConfig{
				Model:      "deepseek-chat",
				MaxRetries: 3,
			},
			BaseURL:   "https://api.deepseek.com",
			MaxTokens: 2048,
			Timeout:   2 * time.Minute,
		},
		Harvest: HarvestConfig{
			DataDir: "scraped_data",
		},
	}
}

// Validate rejects settings no stage can run with. Missing credentials are
// not checked here; the stage that needs them reports ErrConfiguration.
func (c PipelineConfig) Validate() error {
	switch {
	case c.Registry.BaseURL == "":
		return fmt.Errorf("%w: registry.base_url is empty", ErrConfiguration)
	case c.Registry.PageSize <= 0:
		return fmt.Errorf("%w: registry.page_size must be positive", ErrConfiguration)
	case c.Registry.WindowDays <= 0 || c.Registry.WindowDays > MaxWindowDays:
		return fmt.Errorf("%w: registry.window_days must be within 1..%d", ErrConfiguration, MaxWindowDays)
	case c.Registry.MinScore < 0 || c.Registry.MinScore > 10:
		return fmt.Errorf("%w: registry.min_score must be within 0..10", ErrConfiguration)
	case c.Collector.MaxCaptures <= 0:
		return fmt.Errorf("%w: collector.max_captures must be positive", ErrConfiguration)
	case c.Collector.MinCandidateDelay > c.Collector.MaxCandidateDelay:
		return fmt.Errorf("%w: collector.min_candidate_delay exceeds max_candidate_delay", ErrConfiguration)
	case c.Validator.MedianSize < 1 || c.Validator.MedianSize%2 == 0:
		return fmt.Errorf("%w: validator.median_size must be a positive odd number", ErrConfiguration)
	case c.Harvest.DataDir == "":
		return fmt.Errorf("%w: harvest.data_dir is empty", ErrConfiguration)
	}
	return nil
}
