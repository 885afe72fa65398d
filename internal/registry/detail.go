// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/pdiddy/cve-harvest/pkg/types"
)

// cweSentinels are placeholder weakness values that carry no CWE.
var cweSentinels = map[string]bool{
	"NVD-CWE-noinfo": true,
	"NVD-CWE-Other":  true,
}

// FetchRecord retrieves one record by identifier and flattens it into a
// CVERecord.
func (e *Engine) FetchRecord(ctx context.Context, id string) (*types.CVERecord, error) {
	norm, err := types.NormalizeIdentifier(id)
	if err != nil {
		return nil, err
	}

	page, err := e.getPage(ctx, url.Values{"cveId": {norm}})
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", norm, err)
	}
	if len(page.Vulnerabilities) == 0 {
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, norm)
	}

	var v nvdVulnerability
	if err := json.Unmarshal(page.Vulnerabilities[0], &v); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", types.ErrParse, norm, err)
	}
	rec := transformRecord(v.CVE)
	e.log.Debugw("fetched record", "id", rec.ID, "cwe", len(rec.CWEIDs), "refs", len(rec.References))
	return &rec, nil
}

// transformRecord flattens the API shape into the persisted record. Every
// list field is non-nil so the JSON form always carries [] rather than null.
func transformRecord(cve nvdCVE) types.CVERecord {
	rec := types.CVERecord{
		ID:                cve.ID,
		SourceIdentifier:  cve.SourceIdentifier,
		Published:         cve.Published,
		LastModified:      cve.LastModified,
		VulnStatus:        cve.VulnStatus,
		DescriptionEN:     englishDescription(cve.Descriptions),
		CWEIDs:            []string{},
		AffectedCPEs:      []string{},
		References:        []types.Reference{},
		VendorComments:    []string{},
		CVETags:           []string{},
		KEVActionDue:      cve.CISAActionDue,
		KEVRequiredAction: cve.CISARequiredAction,
	}

	if m := firstMetric(cve.Metrics.V31, cve.Metrics.V30); m != nil {
		rec.CVSSv31 = cvssBlock(*m, m.CVSSData.BaseSeverity)
	}
	if m := firstMetric(cve.Metrics.V2); m != nil {
		rec.CVSSv2 = cvssBlock(*m, m.BaseSeverity)
	}

	seen := map[string]bool{}
	for _, w := range cve.Weaknesses {
		for _, d := range w.Description {
			if d.Value == "" || cweSentinels[d.Value] || seen[d.Value] {
				continue
			}
			seen[d.Value] = true
			rec.CWEIDs = append(rec.CWEIDs, d.Value)
		}
	}

	seen = map[string]bool{}
	for _, cfg := range cve.Configurations {
		for _, node := range cfg.Nodes {
			for _, m := range node.CPEMatch {
				if !m.Vulnerable || m.Criteria == "" || seen[m.Criteria] {
					continue
				}
				seen[m.Criteria] = true
				rec.AffectedCPEs = append(rec.AffectedCPEs, m.Criteria)
			}
		}
	}

	rec.References = dedupReferences(cve.References)

	for _, c := range cve.VendorComments {
		if c.Comment != "" {
			rec.VendorComments = append(rec.VendorComments, c.Comment)
		}
	}

	if cve.CISAExploitAdd != nil {
		rec.InKEV = true
		rec.KEVDate = *cve.CISAExploitAdd
	}

	for _, t := range cve.CVETags {
		for _, tag := range t.Tags {
			if tag != "" {
				rec.CVETags = append(rec.CVETags, tag)
			}
		}
	}
	return rec
}

// dedupReferences keeps the first occurrence of each URL.
func dedupReferences(refs []nvdReference) []types.Reference {
	out := []types.Reference{}
	seen := map[string]bool{}
	for _, r := range refs {
		if r.URL == "" || seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		tags := r.Tags
		if tags == nil {
			tags = []string{}
		}
		out = append(out, types.Reference{URL: r.URL, Tags: tags})
	}
	return out
}

// englishDescription returns the first English description, or the first
// description of any language when none is English.
func englishDescription(ds []nvdLangString) string {
	for _, d := range ds {
		if d.Lang == "en" {
			return strings.TrimSpace(d.Value)
		}
	}
	if len(ds) > 0 {
		return strings.TrimSpace(ds[0].Value)
	}
	return ""
}

func firstMetric(lists ...[]nvdMetric) *nvdMetric {
	for _, l := range lists {
		if len(l) > 0 {
			return &l[0]
		}
	}
	return nil
}

func cvssBlock(m nvdMetric, severity string) types.CVSSBlock {
	b := types.CVSSBlock{Severity: severity, Vector: m.CVSSData.VectorString}
	if m.CVSSData.BaseScore != nil {
		b.Score = *m.CVSSData.BaseScore
	}
	return b
}
