// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// CVSSBlock is the flattened score/severity/vector triple of one CVSS metric.
type CVSSBlock struct {
	Score    float64 `json:"score,omitempty" yaml:"score,omitempty"`
	Severity string  `json:"severity,omitempty" yaml:"severity,omitempty"`
	Vector   string  `json:"vector,omitempty" yaml:"vector,omitempty"`
}

// IsZero reports whether the block carries no data.
func (b CVSSBlock) IsZero() bool {
	return b.Score == 0 && b.Severity == "" && b.Vector == ""
}

// Reference is a deduplicated external link attached to a record.
type Reference struct {
	URL  string   `json:"url" yaml:"url"`
	Tags []string `json:"tags" yaml:"tags"`
}

// CVERecord is the flat registry detail record persisted as {dataDir}/ID.json
// and consumed by the downstream report generator.
type CVERecord struct {
	ID               string `json:"id" yaml:"id"`
	SourceIdentifier string `json:"source_identifier" yaml:"source_identifier"`
	Published        string `json:"published" yaml:"published"`
	LastModified     string `json:"last_modified" yaml:"last_modified"`
	VulnStatus       string `json:"vuln_status" yaml:"vuln_status"`
	DescriptionEN    string `json:"description_en" yaml:"description_en"`

	// CVSSv31 holds the preferred v3.x block (v3.1, falling back to v3.0).
	CVSSv31 CVSSBlock `json:"cvss_v31" yaml:"cvss_v31"`
	// CVSSv2 holds the legacy v2 block.
	CVSSv2 CVSSBlock `json:"cvss_v2" yaml:"cvss_v2"`

	CWEIDs         []string    `json:"cwe_ids" yaml:"cwe_ids"`
	AffectedCPEs   []string    `json:"affected_cpes" yaml:"affected_cpes"`
	References     []Reference `json:"references" yaml:"references"`
	VendorComments []string    `json:"vendor_comments" yaml:"vendor_comments"`

	InKEV             bool   `json:"in_kev" yaml:"in_kev"`
	KEVDate           string `json:"kev_date,omitempty" yaml:"kev_date,omitempty"`
	KEVActionDue      string `json:"kev_action_due,omitempty" yaml:"kev_action_due,omitempty"`
	KEVRequiredAction string `json:"kev_required_action,omitempty" yaml:"kev_required_action,omitempty"`

	CVETags []string `json:"cve_tags" yaml:"cve_tags"`
}
