// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// SearchResult is one link returned by the search engine for an identifier.
// Results are deduplicated by exact URL.
type SearchResult struct {
	URL          string `json:"url" yaml:"url"`
	OriginDomain string `json:"origin_domain" yaml:"origin_domain"`
}

// EvidenceArtifact is a captured page image and the text derived from it.
// Verified holds iff ExtractedText contains Identifier as a whole word,
// compared case-insensitively.
type EvidenceArtifact struct {
	Identifier string `json:"identifier" yaml:"identifier"`
	SourceURL  string `json:"source_url" yaml:"source_url"`

	// FinalURL is the page location after redirects.
	FinalURL string `json:"final_url,omitempty" yaml:"final_url,omitempty"`

	Image         []byte `json:"-" yaml:"-"`
	ExtractedText string `json:"extracted_text,omitempty" yaml:"extracted_text,omitempty"`
	Verified      bool   `json:"verified" yaml:"verified"`

	// ScreenshotPath is set once a verified artifact's image is on disk.
	ScreenshotPath string `json:"screenshot_path,omitempty" yaml:"screenshot_path,omitempty"`
}

// HarvestState holds the three independent checkpoint flags of one
// identifier. Each flag mirrors the presence of its artifact file.
type HarvestState struct {
	HasEvidenceText   bool `json:"has_evidence_text" yaml:"has_evidence_text"`
	HasRegistryRecord bool `json:"has_registry_record" yaml:"has_registry_record"`
	HasSummary        bool `json:"has_summary" yaml:"has_summary"`
}

// Success applies the OR policy: any one populated source is enough for
// downstream reporting.
func (s HarvestState) Success() bool {
	return s.HasEvidenceText || s.HasRegistryRecord || s.HasSummary
}

// CheckpointStatus is the outcome of one checkpoint in one run.
type CheckpointStatus string

const (
	// CheckpointSkipped: the artifact already existed; no work was done.
	CheckpointSkipped CheckpointStatus = "skipped"
	// CheckpointDone: the checkpoint ran and produced its artifact.
	CheckpointDone CheckpointStatus = "done"
	// CheckpointFailed: the checkpoint ran and produced nothing.
	CheckpointFailed CheckpointStatus = "failed"
	// CheckpointUnavailable: a prerequisite was missing so it did not run.
	CheckpointUnavailable CheckpointStatus = "unavailable"
)

// Satisfied reports whether the checkpoint's artifact exists after the run.
func (s CheckpointStatus) Satisfied() bool {
	return s == CheckpointSkipped || s == CheckpointDone
}

// HarvestResult summarizes one ProcessIdentifier call.
type HarvestResult struct {
	Identifier string           `json:"identifier" yaml:"identifier"`
	Evidence   CheckpointStatus `json:"evidence" yaml:"evidence"`
	Record     CheckpointStatus `json:"record" yaml:"record"`
	Summary    CheckpointStatus `json:"summary" yaml:"summary"`

	// Captures is the number of verified artifacts persisted this run.
	Captures int `json:"captures" yaml:"captures"`

	// Errors holds one message per failed checkpoint.
	Errors []string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// State derives the checkpoint flags from the per-checkpoint statuses.
func (r HarvestResult) State() HarvestState {
	return HarvestState{
		HasEvidenceText:   r.Evidence.Satisfied(),
		HasRegistryRecord: r.Record.Satisfied(),
		HasSummary:        r.Summary.Satisfied(),
	}
}

// Success reports the overall OR-success of the run.
func (r HarvestResult) Success() bool {
	return r.State().Success()
}
