// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package registry

import "encoding/json"

// CVE API 2.0 JSON structures. Only the fields the pipeline reads are
// declared; pointer fields distinguish "absent" from zero values.

type nvdPage struct {
	TotalResults    int               `json:"totalResults"`
	Vulnerabilities []json.RawMessage `json:"vulnerabilities"`
}

type nvdVulnerability struct {
	CVE nvdCVE `json:"cve"`
}

type nvdCVE struct {
	ID                 string             `json:"id"`
	SourceIdentifier   string             `json:"sourceIdentifier"`
	Published          string             `json:"published"`
	LastModified       string             `json:"lastModified"`
	VulnStatus         string             `json:"vulnStatus"`
	CISAExploitAdd     *string            `json:"cisaExploitAdd"`
	CISAActionDue      string             `json:"cisaActionDue"`
	CISARequiredAction string             `json:"cisaRequiredAction"`
	CVETags            []nvdCVETag        `json:"cveTags"`
	Descriptions       []nvdLangString    `json:"descriptions"`
	Metrics            nvdMetrics         `json:"metrics"`
	Weaknesses         []nvdWeakness      `json:"weaknesses"`
	Configurations     []nvdConfiguration `json:"configurations"`
	References         []nvdReference     `json:"references"`
	VendorComments     []nvdVendorComment `json:"vendorComments"`
}

type nvdCVETag struct {
	SourceIdentifier string   `json:"sourceIdentifier"`
	Tags             []string `json:"tags"`
}

type nvdLangString struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

type nvdMetrics struct {
	V31 []nvdMetric `json:"cvssMetricV31"`
	V30 []nvdMetric `json:"cvssMetricV30"`
	V2  []nvdMetric `json:"cvssMetricV2"`
}

type nvdMetric struct {
	Source string `json:"source"`
	Type   string `json:"type"`

	// BaseSeverity sits outside cvssData for v2 metrics.
	BaseSeverity string      `json:"baseSeverity"`
	CVSSData     nvdCVSSData `json:"cvssData"`
}

type nvdCVSSData struct {
	Version      string   `json:"version"`
	VectorString string   `json:"vectorString"`
	BaseScore    *float64 `json:"baseScore"`
	BaseSeverity string   `json:"baseSeverity"`
}

type nvdWeakness struct {
	Source      string          `json:"source"`
	Description []nvdLangString `json:"description"`
}

type nvdConfiguration struct {
	Nodes []nvdNode `json:"nodes"`
}

type nvdNode struct {
	Operator string        `json:"operator"`
	CPEMatch []nvdCPEMatch `json:"cpeMatch"`
}

type nvdCPEMatch struct {
	Vulnerable bool   `json:"vulnerable"`
	Criteria   string `json:"criteria"`
}

type nvdReference struct {
	URL    string   `json:"url"`
	Source string   `json:"source"`
	Tags   []string `json:"tags"`
}

type nvdVendorComment struct {
	Organization string `json:"organization"`
	Comment      string `json:"comment"`
}
