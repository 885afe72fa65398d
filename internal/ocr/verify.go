// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ocr verifies that a captured page image mentions a record
// identifier. Screenshots are cleaned up for recognition, passed through
// tesseract, and the text is searched for the identifier as a whole word.
package ocr

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/cve-harvest/internal/logging"
	"github.com/pdiddy/cve-harvest/pkg/types"
)

// Validator runs the preprocess, recognize, match sequence.
type Validator struct {
	engine Engine
	cfg    types.ValidatorConfig
	log    *zap.SugaredLogger
}

// NewValidator returns a Validator that recognizes text with engine.
func NewValidator(engine Engine, cfg types.ValidatorConfig, log *zap.SugaredLogger) *Validator {
	return &Validator{engine: engine, cfg: cfg, log: logging.OrNop(log).Named("ocr")}
}

// Verify reports whether image mentions identifier. The recognized text is
// returned only on a match. Decode and engine failures are logged and
// count as a miss.
func (v *Validator) Verify(ctx context.Context, image []byte, identifier string) (string, bool) {
	png, err := PreprocessPNG(image, v.cfg.Threshold, v.cfg.MedianSize)
	if err != nil {
		v.log.Warnw("preprocessing failed", "id", identifier, "error", err)
		return "", false
	}

	if v.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := v.engine.Recognize(ctx, png)
	if err != nil {
		v.log.Warnw("ocr failed", "id", identifier, "engine", v.engine.Name(), "error", err)
		return "", false
	}
	text := strings.TrimSpace(raw)
	if !ContainsIdentifier(text, identifier) {
		v.log.Debugw("identifier not found in page text", "id", identifier, "chars", len(text), "took", time.Since(start))
		return "", false
	}
	v.log.Debugw("identifier confirmed", "id", identifier, "chars", len(text), "took", time.Since(start))
	return text, true
}

// ContainsIdentifier reports whether text contains identifier as a whole
// word, ignoring case. "CVE-2024-1234" does not match inside
// "CVE-2024-12345".
func ContainsIdentifier(text, identifier string) bool {
	if identifier == "" {
		return false
	}
	re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(identifier) + `\b`)
	return re.MatchString(text)
}
