// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the cve-harvest pipeline:
// registry candidates and detail records, evidence artifacts, harvest state,
// stage configuration, and the error taxonomy shared by every stage.
package types

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MetricVersion identifies the CVSS standard a base score was taken from.
type MetricVersion string

const (
	MetricV31 MetricVersion = "v31"
	MetricV30 MetricVersion = "v30"
	MetricV2  MetricVersion = "v2"
)

// identifierPattern matches canonical record names such as CVE-2024-12345.
var identifierPattern = regexp.MustCompile(`^([A-Z]+)-(\d{4})-(\d{4,})$`)

// VulnerabilityCandidate is a registry record that passed the batch filters.
type VulnerabilityCandidate struct {
	// ID is the canonical identifier (PREFIX-YYYY-NNNN+).
	ID string `json:"id" yaml:"id"`

	// BaseScore is the CVSS base score, 0.0 to 10.0.
	BaseScore float64 `json:"base_score" yaml:"base_score"`

	// MetricVersion records which CVSS version supplied BaseScore.
	MetricVersion MetricVersion `json:"metric_version" yaml:"metric_version"`
}

// String formats the candidate the way list output prints it.
func (c VulnerabilityCandidate) String() string {
	return fmt.Sprintf("%.1f %s", c.BaseScore, c.ID)
}

// NormalizeIdentifier trims and upper-cases id and checks it against the
// PREFIX-YYYY-NNNN+ shape. It returns ErrInvalidIdentifier on mismatch.
func NormalizeIdentifier(id string) (string, error) {
	norm := strings.ToUpper(strings.TrimSpace(id))
	if !identifierPattern.MatchString(norm) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	return norm, nil
}

// IdentifierYear returns the year component of a canonical identifier.
func IdentifierYear(id string) (int, error) {
	m := identifierPattern.FindStringSubmatch(id)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	return strconv.Atoi(m[2])
}
