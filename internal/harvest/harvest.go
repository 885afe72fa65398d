// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package harvest drives the per-identifier checkpoint state machine.
//
// Each identifier has three independent checkpoints, each backed by a file
// in the data directory:
//
//	evidence  {dataDir}/ID.txt             verified OCR text from collected pages
//	record    {dataDir}/ID.json            the flattened registry detail record
//	summary   {dataDir}/.summarized/ID     marker written after ID.txt is
//	                                       replaced by its generated summary
//
// The generated summary is staged as {dataDir}/.summarized/ID.pending until
// the marker is written.
//
// A checkpoint whose file exists is never run again. An identifier succeeds
// when at least one checkpoint is satisfied after the run.
package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/pdiddy/cve-harvest/internal/fsutil"
	"github.com/pdiddy/cve-harvest/internal/logging"
	"github.com/pdiddy/cve-harvest/internal/metrics"
	"github.com/pdiddy/cve-harvest/internal/registry"
	"github.com/pdiddy/cve-harvest/pkg/types"
)

const (
	listDir      = "cve_lists"
	listFile     = "latest_cves.txt"
	summaryDir   = ".summarized"
	separatorLen = 60
)

// errNoEvidence marks a collection run that verified nothing.
var errNoEvidence = errors.New("no verified evidence")

// Registry is the part of the registry engine the orchestrator uses.
type Registry interface {
	QueryCandidates(ctx context.Context, windowDays int, minScore float64) ([]types.VulnerabilityCandidate, registry.QueryStats)
	FetchRecord(ctx context.Context, id string) (*types.CVERecord, error)
}

// Collector finds and verifies evidence pages for one identifier.
type Collector interface {
	DiscoverAndCapture(ctx context.Context, identifier string, maxSearchResults, maxCaptures int) ([]types.EvidenceArtifact, error)
}

// Summarizer compresses evidence text.
type Summarizer interface {
	Summarize(ctx context.Context, id, text string) (string, error)
}

// Ledger records run history. It is never consulted for checkpoint
// decisions.
type Ledger interface {
	BeginRun(ctx context.Context, command string) (string, error)
	RecordCandidates(ctx context.Context, runID string, cands []types.VulnerabilityCandidate) error
	RecordOutcome(ctx context.Context, runID string, r types.HarvestResult) error
	FinishRun(ctx context.Context, runID string, succeeded, total int) error
}

// Deps are the collaborators a Harvester sequences. Ledger and Metrics
// may be nil.
type Deps struct {
	Registry   Registry
	Collector  Collector
	Summarizer Summarizer
	Ledger     Ledger
	Metrics    *metrics.Metrics
}

// Harvester owns the artifact files of the data directory.
type Harvester struct {
	deps  Deps
	cfg   types.PipelineConfig
	log   *zap.SugaredLogger
	now   func() time.Time
	runID string
}

// New returns a Harvester writing under cfg.Harvest.DataDir.
func New(deps Deps, cfg types.PipelineConfig, log *zap.SugaredLogger) *Harvester {
	return &Harvester{
		deps: deps,
		cfg:  cfg,
		log:  logging.OrNop(log).Named("harvest"),
		now:  time.Now,
	}
}

// EvidencePath returns {dataDir}/ID.txt.
func (h *Harvester) EvidencePath(id string) string {
	return filepath.Join(h.cfg.Harvest.DataDir, id+".txt")
}

// RecordPath returns {dataDir}/ID.json.
func (h *Harvester) RecordPath(id string) string {
	return filepath.Join(h.cfg.Harvest.DataDir, id+".json")
}

// SummaryMarkerPath returns {dataDir}/.summarized/ID.
func (h *Harvester) SummaryMarkerPath(id string) string {
	return filepath.Join(h.cfg.Harvest.DataDir, summaryDir, id)
}

// ListPath returns {dataDir}/cve_lists/latest_cves.txt.
func (h *Harvester) ListPath() string {
	return filepath.Join(h.cfg.Harvest.DataDir, listDir, listFile)
}

// state reads the checkpoint flags of id from disk.
func (h *Harvester) state(id string) types.HarvestState {
	return types.HarvestState{
		HasEvidenceText:   fsutil.Exists(h.EvidencePath(id)),
		HasRegistryRecord: fsutil.Exists(h.RecordPath(id)),
		HasSummary:        fsutil.Exists(h.SummaryMarkerPath(id)),
	}
}

// ProcessIdentifier runs every unsatisfied checkpoint of identifier once.
// The returned error combines the failures of individual checkpoints; it
// may be non-nil while the result still reports success.
func (h *Harvester) ProcessIdentifier(ctx context.Context, identifier string) (types.HarvestResult, error) {
	start := h.now()
	id, err := types.NormalizeIdentifier(identifier)
	if err != nil {
		res := types.HarvestResult{
			Identifier: identifier,
			Evidence:   types.CheckpointUnavailable,
			Record:     types.CheckpointUnavailable,
			Summary:    types.CheckpointUnavailable,
			Errors:     []string{err.Error()},
		}
		return res, err
	}
	log := h.log.With("id", id)
	res := types.HarvestResult{Identifier: id}
	before := h.state(id)
	log.Debugw("checkpoint state",
		"has_evidence", before.HasEvidenceText,
		"has_record", before.HasRegistryRecord,
		"has_summary", before.HasSummary,
	)

	var errs error
	var cerr error

	res.Evidence, res.Captures, cerr = h.evidence(ctx, id)
	errs = multierr.Append(errs, checkpointError(CheckpointEvidence, cerr))

	res.Record, cerr = h.record(ctx, id)
	errs = multierr.Append(errs, checkpointError(CheckpointRecord, cerr))

	res.Summary, cerr = h.summary(ctx, id)
	errs = multierr.Append(errs, checkpointError(CheckpointSummary, cerr))

	for _, e := range multierr.Errors(errs) {
		res.Errors = append(res.Errors, e.Error())
	}

	elapsed := h.now().Sub(start)
	h.deps.Metrics.ObserveResult(res, elapsed.Seconds())
	log.Infow("identifier processed",
		"evidence", res.Evidence,
		"record", res.Record,
		"summary", res.Summary,
		"captures", res.Captures,
		"success", res.Success(),
		"elapsed", elapsed.Round(time.Millisecond),
	)
	if h.deps.Ledger != nil && h.runID != "" {
		if lerr := h.deps.Ledger.RecordOutcome(ctx, h.runID, res); lerr != nil {
			log.Warnw("ledger write failed", "error", lerr)
		}
	}
	return res, errs
}

// Checkpoint names one step of the state machine.
type Checkpoint string

const (
	CheckpointEvidence Checkpoint = "evidence"
	CheckpointRecord   Checkpoint = "record"
	CheckpointSummary  Checkpoint = "summary"
)

// RunCheckpoint runs a single checkpoint for identifier with the same
// skip-if-present rule ProcessIdentifier applies.
func (h *Harvester) RunCheckpoint(ctx context.Context, identifier string, cp Checkpoint) (types.CheckpointStatus, error) {
	id, err := types.NormalizeIdentifier(identifier)
	if err != nil {
		return types.CheckpointUnavailable, err
	}
	switch cp {
	case CheckpointEvidence:
		status, _, err := h.evidence(ctx, id)
		return status, err
	case CheckpointRecord:
		return h.record(ctx, id)
	case CheckpointSummary:
		return h.summary(ctx, id)
	}
	return types.CheckpointUnavailable, fmt.Errorf("unknown checkpoint %q", cp)
}

func checkpointError(cp Checkpoint, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", cp, err)
}

// evidence runs the collector when ID.txt is absent and persists verified
// text blocks.
func (h *Harvester) evidence(ctx context.Context, id string) (types.CheckpointStatus, int, error) {
	path := h.EvidencePath(id)
	if fsutil.Exists(path) {
		h.log.Debugw("evidence present, skipping collection", "id", id)
		return types.CheckpointSkipped, 0, nil
	}
	if h.deps.Collector == nil {
		return types.CheckpointUnavailable, 0, fmt.Errorf("%w: no evidence collector", types.ErrConfiguration)
	}

	arts, err := h.deps.Collector.DiscoverAndCapture(ctx, id, h.cfg.Collector.MaxSearchResults, h.cfg.Collector.MaxCaptures)
	if err != nil {
		// Partial results of an interrupted run are not persisted so the
		// checkpoint is retried in full next time.
		return types.CheckpointFailed, 0, err
	}
	text := FormatEvidence(arts)
	if text == "" {
		return types.CheckpointFailed, 0, errNoEvidence
	}
	if err := fsutil.WriteFileAtomic(path, []byte(text), 0o644); err != nil {
		return types.CheckpointFailed, 0, fmt.Errorf("writing %s: %w", path, err)
	}
	return types.CheckpointDone, countVerified(arts), nil
}

// record fetches and persists the registry detail record when ID.json is
// absent.
func (h *Harvester) record(ctx context.Context, id string) (types.CheckpointStatus, error) {
	path := h.RecordPath(id)
	if fsutil.Exists(path) {
		h.log.Debugw("record present, skipping registry", "id", id)
		return types.CheckpointSkipped, nil
	}
	if h.deps.Registry == nil {
		return types.CheckpointUnavailable, fmt.Errorf("%w: no registry", types.ErrConfiguration)
	}

	rec, err := h.deps.Registry.FetchRecord(ctx, id)
	if err != nil {
		return types.CheckpointFailed, err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return types.CheckpointFailed, fmt.Errorf("marshaling record: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, append(data, '\n'), 0o644); err != nil {
		return types.CheckpointFailed, fmt.Errorf("writing %s: %w", path, err)
	}
	return types.CheckpointDone, nil
}

// summary replaces ID.txt with its summary and writes the marker. It runs
// whenever ID.txt exists and no marker does, whatever the other
// checkpoints did.
//
// The summary is staged in {dataDir}/.summarized/ID.pending before ID.txt
// is touched. A run interrupted after staging finishes from the pending
// file instead of summarizing the summary.
func (h *Harvester) summary(ctx context.Context, id string) (types.CheckpointStatus, error) {
	marker := h.SummaryMarkerPath(id)
	if fsutil.Exists(marker) {
		h.log.Debugw("summary present, skipping", "id", id)
		return types.CheckpointSkipped, nil
	}
	path := h.EvidencePath(id)
	if !fsutil.Exists(path) {
		return types.CheckpointUnavailable, nil
	}

	pending := h.pendingSummaryPath(id)
	summary, err := os.ReadFile(pending)
	switch {
	case err == nil:
		h.log.Infow("resuming interrupted summary", "id", id)
	case errors.Is(err, os.ErrNotExist):
		if h.deps.Summarizer == nil {
			return types.CheckpointUnavailable, fmt.Errorf("%w: no summarizer", types.ErrConfiguration)
		}
		text, err := os.ReadFile(path)
		if err != nil {
			return types.CheckpointFailed, fmt.Errorf("reading %s: %w", path, err)
		}
		out, err := h.deps.Summarizer.Summarize(ctx, id, string(text))
		if err != nil {
			return types.CheckpointFailed, err
		}
		summary = []byte(out + "\n")
		if err := fsutil.WriteFileAtomic(pending, summary, 0o644); err != nil {
			return types.CheckpointFailed, fmt.Errorf("writing %s: %w", pending, err)
		}
	default:
		return types.CheckpointFailed, fmt.Errorf("reading %s: %w", pending, err)
	}

	if err := fsutil.WriteFileAtomic(path, summary, 0o644); err != nil {
		return types.CheckpointFailed, fmt.Errorf("writing %s: %w", path, err)
	}
	stamp := h.now().UTC().Format(time.RFC3339) + "\n"
	if err := fsutil.WriteFileAtomic(marker, []byte(stamp), 0o644); err != nil {
		return types.CheckpointFailed, fmt.Errorf("writing %s: %w", marker, err)
	}
	if err := os.Remove(pending); err != nil {
		h.log.Warnw("pending summary not removed", "path", pending, "error", err)
	}
	return types.CheckpointDone, nil
}

func (h *Harvester) pendingSummaryPath(id string) string {
	return h.SummaryMarkerPath(id) + ".pending"
}

// FormatEvidence renders verified artifacts as the evidence text file:
// one block per artifact with a Source header between separator lines.
// Unverified artifacts are ignored. It returns "" when nothing is verified.
func FormatEvidence(arts []types.EvidenceArtifact) string {
	sep := strings.Repeat("=", separatorLen)
	var b strings.Builder
	for _, a := range arts {
		if !a.Verified {
			continue
		}
		fmt.Fprintf(&b, "%s\nSource: %s\n%s\n%s\n\n", sep, a.SourceURL, sep, a.ExtractedText)
	}
	return b.String()
}

func countVerified(arts []types.EvidenceArtifact) int {
	n := 0
	for _, a := range arts {
		if a.Verified {
			n++
		}
	}
	return n
}
