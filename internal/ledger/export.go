// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ledger

import (
	"context"
	"fmt"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/cve-harvest/internal/fsutil"
)

// Export is the full ledger contents as written by ExportYAML.
type Export struct {
	Runs       []Run       `yaml:"runs"`
	Candidates []Candidate `yaml:"candidates"`
	Outcomes   []Outcome   `yaml:"outcomes"`
}

// ExportYAML writes every run, candidate, and outcome to path.
func (s *Store) ExportYAML(ctx context.Context, path string) error {
	var exp Export
	var err error
	if exp.Runs, err = s.Runs(ctx, 0); err != nil {
		return err
	}
	if exp.Candidates, err = s.Candidates(ctx); err != nil {
		return err
	}
	if exp.Outcomes, err = s.outcomes(ctx, ""); err != nil {
		return err
	}

	data, err := yaml.Marshal(&exp)
	if err != nil {
		return fmt.Errorf("marshaling YAML: %w", err)
	}
	return fsutil.WriteFileAtomic(path, data, 0o644)
}
