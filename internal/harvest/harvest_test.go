// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package harvest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pdiddy/cve-harvest/internal/metrics"
	"github.com/pdiddy/cve-harvest/internal/registry"
	"github.com/pdiddy/cve-harvest/pkg/types"
)

func init() {
	color.NoColor = true
}

// --- fakes ---

type fakeRegistry struct {
	cands      []types.VulnerabilityCandidate
	stats      registry.QueryStats
	records    map[string]*types.CVERecord
	fetchErr   error
	queries    int
	fetchCalls []string
}

func (r *fakeRegistry) QueryCandidates(context.Context, int, float64) ([]types.VulnerabilityCandidate, registry.QueryStats) {
	r.queries++
	return r.cands, r.stats
}

func (r *fakeRegistry) FetchRecord(_ context.Context, id string) (*types.CVERecord, error) {
	r.fetchCalls = append(r.fetchCalls, id)
	if r.fetchErr != nil {
		return nil, r.fetchErr
	}
	if rec, ok := r.records[id]; ok {
		return rec, nil
	}
	return nil, fmt.Errorf("%w: %s", types.ErrNotFound, id)
}

type fakeCollector struct {
	arts  map[string][]types.EvidenceArtifact
	err   error
	calls []string
}

func (c *fakeCollector) DiscoverAndCapture(_ context.Context, id string, _, _ int) ([]types.EvidenceArtifact, error) {
	c.calls = append(c.calls, id)
	return c.arts[id], c.err
}

type fakeSummarizer struct {
	err   error
	calls []string
	input map[string]string
}

func (s *fakeSummarizer) Summarize(_ context.Context, id, text string) (string, error) {
	s.calls = append(s.calls, id)
	if s.input == nil {
		s.input = map[string]string{}
	}
	s.input[id] = text
	if s.err != nil {
		return "", s.err
	}
	return id + " threat intelligence summary", nil
}

type fakeLedger struct {
	runs       []string
	outcomes   []types.HarvestResult
	candidates []types.VulnerabilityCandidate
	finished   [2]int
}

func (l *fakeLedger) BeginRun(_ context.Context, command string) (string, error) {
	l.runs = append(l.runs, command)
	return "run-1", nil
}

func (l *fakeLedger) RecordCandidates(_ context.Context, _ string, c []types.VulnerabilityCandidate) error {
	l.candidates = append(l.candidates, c...)
	return nil
}

func (l *fakeLedger) RecordOutcome(_ context.Context, _ string, r types.HarvestResult) error {
	l.outcomes = append(l.outcomes, r)
	return nil
}

func (l *fakeLedger) FinishRun(_ context.Context, _ string, succeeded, total int) error {
	l.finished = [2]int{succeeded, total}
	return nil
}

type fixture struct {
	h    *Harvester
	reg  *fakeRegistry
	col  *fakeCollector
	sum  *fakeSummarizer
	dir  string
	deps Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		reg: &fakeRegistry{records: map[string]*types.CVERecord{}},
		col: &fakeCollector{arts: map[string][]types.EvidenceArtifact{}},
		sum: &fakeSummarizer{},
		dir: t.TempDir(),
	}
	f.deps = Deps{Registry: f.reg, Collector: f.col, Summarizer: f.sum}
	f.build(t)
	return f
}

func (f *fixture) build(t *testing.T) {
	cfg := types.DefaultPipelineConfig()
	cfg.Harvest.DataDir = f.dir
	f.h = New(f.deps, cfg, zaptest.NewLogger(t).Sugar())
}

func (f *fixture) seed(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func verified(id, url, text string) types.EvidenceArtifact {
	return types.EvidenceArtifact{Identifier: id, SourceURL: url, ExtractedText: text, Verified: true}
}

// --- ProcessIdentifier ---

func TestProcessIdentifier_AllCheckpoints(t *testing.T) {
	f := newFixture(t)
	id := "CVE-2024-1234"
	f.col.arts[id] = []types.EvidenceArtifact{
		verified(id, "https://a.example/x", "CVE-2024-1234 is bad"),
		{Identifier: id, SourceURL: "https://b.example/y", ExtractedText: "noise"},
		verified(id, "https://c.example/z", "patch CVE-2024-1234"),
	}
	f.reg.records[id] = &types.CVERecord{ID: id, CWEIDs: []string{}, AffectedCPEs: []string{}}

	res, err := f.h.ProcessIdentifier(context.Background(), " cve-2024-1234 ")
	require.NoError(t, err)
	assert.Equal(t, id, res.Identifier)
	assert.Equal(t, types.CheckpointDone, res.Evidence)
	assert.Equal(t, types.CheckpointDone, res.Record)
	assert.Equal(t, types.CheckpointDone, res.Summary)
	assert.Equal(t, 2, res.Captures)
	assert.True(t, res.Success())
	assert.Equal(t, types.HarvestState{HasEvidenceText: true, HasRegistryRecord: true, HasSummary: true}, f.h.state(id))

	sep := strings.Repeat("=", 60)
	wantEvidence := sep + "\nSource: https://a.example/x\n" + sep + "\nCVE-2024-1234 is bad\n\n" +
		sep + "\nSource: https://c.example/z\n" + sep + "\npatch CVE-2024-1234\n\n"
	assert.Equal(t, wantEvidence, f.sum.input[id], "summarizer sees the raw evidence")

	txt, err := os.ReadFile(f.h.EvidencePath(id))
	require.NoError(t, err)
	assert.Equal(t, "CVE-2024-1234 threat intelligence summary\n", string(txt), "evidence replaced in place")

	data, err := os.ReadFile(f.h.RecordPath(id))
	require.NoError(t, err)
	var rec types.CVERecord
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, id, rec.ID)
	assert.Contains(t, string(data), "\n  \"id\": ")
}

func TestProcessIdentifier_IdempotentWhenSatisfied(t *testing.T) {
	f := newFixture(t)
	id := "CVE-2024-1234"
	f.seed(t, f.h.EvidencePath(id), "summary")
	f.seed(t, f.h.RecordPath(id), "{}")
	f.seed(t, f.h.SummaryMarkerPath(id), "2024-06-15T00:00:00Z\n")

	res, err := f.h.ProcessIdentifier(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.CheckpointSkipped, res.Evidence)
	assert.Equal(t, types.CheckpointSkipped, res.Record)
	assert.Equal(t, types.CheckpointSkipped, res.Summary)
	assert.True(t, res.Success())

	assert.Empty(t, f.col.calls, "no browser work")
	assert.Empty(t, f.reg.fetchCalls, "no registry calls")
	assert.Empty(t, f.sum.calls, "no summarizer calls")

	txt, err := os.ReadFile(f.h.EvidencePath(id))
	require.NoError(t, err)
	assert.Equal(t, "summary", string(txt))
}

func TestProcessIdentifier_SecondRunSkipsEverything(t *testing.T) {
	f := newFixture(t)
	id := "CVE-2024-1234"
	f.col.arts[id] = []types.EvidenceArtifact{verified(id, "https://a.example/", "CVE-2024-1234")}
	f.reg.records[id] = &types.CVERecord{ID: id}

	_, err := f.h.ProcessIdentifier(context.Background(), id)
	require.NoError(t, err)
	res, err := f.h.ProcessIdentifier(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, types.CheckpointSkipped, res.Evidence)
	assert.Equal(t, types.CheckpointSkipped, res.Record)
	assert.Equal(t, types.CheckpointSkipped, res.Summary)
	assert.Len(t, f.col.calls, 1)
	assert.Len(t, f.reg.fetchCalls, 1)
	assert.Len(t, f.sum.calls, 1)
}

func TestProcessIdentifier_PreseededSummaryIsSuccess(t *testing.T) {
	f := newFixture(t)
	id := "CVE-2024-1234"
	f.col.err = fmt.Errorf("%w: chrome missing", types.ErrBrowserLaunch)
	f.reg.fetchErr = fmt.Errorf("%w: connection refused", types.ErrTransport)
	f.seed(t, f.h.SummaryMarkerPath(id), "")

	res, err := f.h.ProcessIdentifier(context.Background(), id)
	assert.True(t, res.Success())
	assert.Equal(t, types.CheckpointFailed, res.Evidence)
	assert.Equal(t, types.CheckpointFailed, res.Record)
	assert.Equal(t, types.CheckpointSkipped, res.Summary)

	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrBrowserLaunch)
	assert.ErrorIs(t, err, types.ErrTransport)
	assert.Len(t, res.Errors, 2)
}

func TestProcessIdentifier_AllFail(t *testing.T) {
	f := newFixture(t)
	f.reg.fetchErr = fmt.Errorf("%w: 500", types.ErrTransport)

	res, err := f.h.ProcessIdentifier(context.Background(), "CVE-2024-1234")
	require.Error(t, err)
	assert.ErrorIs(t, err, errNoEvidence)
	assert.False(t, res.Success())
	assert.Equal(t, types.CheckpointUnavailable, res.Summary, "no evidence text to summarize")
	assert.Empty(t, f.sum.calls)
	assert.False(t, f.h.state("CVE-2024-1234").Success())
}

func TestProcessIdentifier_SummaryFailureKeepsEvidence(t *testing.T) {
	f := newFixture(t)
	id := "CVE-2024-1234"
	f.seed(t, f.h.EvidencePath(id), "raw evidence")
	f.reg.records[id] = &types.CVERecord{ID: id}
	f.sum.err = fmt.Errorf("%w: summary API key is not set", types.ErrConfiguration)

	res, err := f.h.ProcessIdentifier(context.Background(), id)
	assert.ErrorIs(t, err, types.ErrConfiguration)
	assert.True(t, res.Success())
	assert.Equal(t, types.CheckpointFailed, res.Summary)
	assert.False(t, f.h.state(id).HasSummary)

	txt, err := os.ReadFile(f.h.EvidencePath(id))
	require.NoError(t, err)
	assert.Equal(t, "raw evidence", string(txt))
}

func TestProcessIdentifier_SummaryStagedBeforeMarker(t *testing.T) {
	f := newFixture(t)
	id := "CVE-2024-1234"
	f.seed(t, f.h.EvidencePath(id), "raw evidence")
	f.reg.records[id] = &types.CVERecord{ID: id}

	res, err := f.h.ProcessIdentifier(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.CheckpointDone, res.Summary)
	assert.NoFileExists(t, f.h.pendingSummaryPath(id))
	assert.FileExists(t, f.h.SummaryMarkerPath(id))
}

func TestProcessIdentifier_ResumesInterruptedSummary(t *testing.T) {
	f := newFixture(t)
	id := "CVE-2024-1234"
	// ID.txt already replaced, marker never written.
	f.seed(t, f.h.EvidencePath(id), "CVE-2024-1234 threat intelligence summary\n")
	f.seed(t, f.h.pendingSummaryPath(id), "CVE-2024-1234 threat intelligence summary\n")
	f.seed(t, f.h.RecordPath(id), "{}")

	res, err := f.h.ProcessIdentifier(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.CheckpointDone, res.Summary)
	assert.Empty(t, f.sum.calls, "the summary is not summarized again")
	assert.True(t, f.h.state(id).HasSummary)
	assert.NoFileExists(t, f.h.pendingSummaryPath(id))

	txt, err := os.ReadFile(f.h.EvidencePath(id))
	require.NoError(t, err)
	assert.Equal(t, "CVE-2024-1234 threat intelligence summary\n", string(txt))
}

func TestProcessIdentifier_InvalidIdentifierDoesNoIO(t *testing.T) {
	f := newFixture(t)

	for _, bad := range []string{"", "CVE-24-1", "CVE-2024-12", "../CVE-2024-1234", "CVE_2024_1234"} {
		res, err := f.h.ProcessIdentifier(context.Background(), bad)
		assert.ErrorIs(t, err, types.ErrInvalidIdentifier, bad)
		assert.False(t, res.Success(), bad)
	}
	assert.Empty(t, f.col.calls)
	assert.Empty(t, f.reg.fetchCalls)
	assert.Empty(t, f.sum.calls)

	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProcessIdentifier_CancelledCollectionNotPersisted(t *testing.T) {
	f := newFixture(t)
	id := "CVE-2024-1234"
	f.col.arts[id] = []types.EvidenceArtifact{verified(id, "https://a.example/", "CVE-2024-1234")}
	f.col.err = context.Canceled

	res, err := f.h.ProcessIdentifier(context.Background(), id)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, types.CheckpointFailed, res.Evidence)
	assert.False(t, f.h.state(id).HasEvidenceText)
}

func TestProcessIdentifier_RecordsLedgerAndMetrics(t *testing.T) {
	f := newFixture(t)
	led := &fakeLedger{}
	f.deps.Ledger = led
	f.deps.Metrics = metrics.New()
	f.build(t)

	f.h.BeginRun(context.Background(), "process")
	_, _ = f.h.ProcessIdentifier(context.Background(), "CVE-2024-1234")
	f.h.EndRun(context.Background(), 0, 1)

	assert.Equal(t, []string{"process"}, led.runs)
	require.Len(t, led.outcomes, 1)
	assert.Equal(t, "CVE-2024-1234", led.outcomes[0].Identifier)
	assert.Equal(t, [2]int{0, 1}, led.finished)
}

func TestFormatEvidence(t *testing.T) {
	assert.Empty(t, FormatEvidence(nil))
	assert.Empty(t, FormatEvidence([]types.EvidenceArtifact{{SourceURL: "u", ExtractedText: "t"}}))
}

// --- batch ---

func TestProcessBatch(t *testing.T) {
	f := newFixture(t)
	f.reg.records["CVE-2024-0001"] = &types.CVERecord{ID: "CVE-2024-0001"}
	f.reg.records["CVE-2024-0003"] = &types.CVERecord{ID: "CVE-2024-0003"}

	var out bytes.Buffer
	batch, err := f.h.ProcessBatch(context.Background(), []string{"CVE-2024-0001", "CVE-2024-0002", "CVE-2024-0003"}, &out)
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Succeeded)
	assert.Equal(t, 3, batch.Total)
	assert.Equal(t, 3, batch.Processed())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.True(t, strings.HasPrefix(lines[0], "[1/3] ✓ CVE-2024-0001"), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "[2/3] ✗ CVE-2024-0002"), lines[1])
	assert.Equal(t, "2/3 identifiers succeeded", lines[len(lines)-1])

	assert.Equal(t, []string{"CVE-2024-0001", "CVE-2024-0002", "CVE-2024-0003"}, f.reg.fetchCalls, "strict order")
}

func TestProcessBatch_Cancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.reg.records["CVE-2024-0001"] = &types.CVERecord{ID: "CVE-2024-0001"}
	f.col.err = errors.New("no results")
	// Cancel once the first identifier has been fetched.
	f.deps.Registry = cancelAfterFetch{f.reg, cancel}
	f.build(t)

	var out bytes.Buffer
	batch, err := f.h.ProcessBatch(ctx, []string{"CVE-2024-0001", "CVE-2024-0002"}, &out)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, batch.Processed())
	assert.Equal(t, 2, batch.Total)
	assert.Contains(t, out.String(), "interrupted, 1 identifiers not processed")
	assert.Contains(t, out.String(), "1/2 identifiers succeeded")
}

type cancelAfterFetch struct {
	*fakeRegistry
	cancel context.CancelFunc
}

func (c cancelAfterFetch) FetchRecord(ctx context.Context, id string) (*types.CVERecord, error) {
	defer c.cancel()
	return c.fakeRegistry.FetchRecord(ctx, id)
}

func TestRefreshList(t *testing.T) {
	f := newFixture(t)
	led := &fakeLedger{}
	f.deps.Ledger = led
	f.build(t)
	f.h.BeginRun(context.Background(), "fetch")

	f.reg.cands = []types.VulnerabilityCandidate{
		{ID: "CVE-2024-0002", BaseScore: 9.9, MetricVersion: types.MetricV31},
		{ID: "CVE-2024-0001", BaseScore: 9.1, MetricVersion: types.MetricV30},
	}
	cands, err := f.h.RefreshList(context.Background(), 7, 9.0)
	require.NoError(t, err)
	assert.Equal(t, []string{"CVE-2024-0002", "CVE-2024-0001"}, CandidateIDs(cands))
	assert.Len(t, led.candidates, 2)

	data, err := os.ReadFile(f.h.ListPath())
	require.NoError(t, err)
	assert.Equal(t, "CVE-2024-0002\nCVE-2024-0001\n", string(data))
}

func TestRefreshList_FallsBackToCache(t *testing.T) {
	f := newFixture(t)
	f.seed(t, f.h.ListPath(), "CVE-2023-0009\n\n  CVE-2023-0008  \n")
	f.reg.stats = registry.QueryStats{Err: fmt.Errorf("%w: 503", types.ErrTransport)}

	cands, err := f.h.RefreshList(context.Background(), 7, 9.0)
	require.NoError(t, err)
	assert.Equal(t, []string{"CVE-2023-0009", "CVE-2023-0008"}, CandidateIDs(cands))
	assert.Zero(t, cands[0].BaseScore)

	data, err := os.ReadFile(f.h.ListPath())
	require.NoError(t, err)
	assert.Equal(t, "CVE-2023-0009\n\n  CVE-2023-0008  \n", string(data), "cache untouched")
}

func TestRefreshList_NoCache(t *testing.T) {
	f := newFixture(t)
	f.reg.stats = registry.QueryStats{Err: fmt.Errorf("%w: 503", types.ErrTransport)}

	_, err := f.h.RefreshList(context.Background(), 7, 9.0)
	assert.ErrorIs(t, err, types.ErrTransport)

	f.reg.stats = registry.QueryStats{}
	cands, err := f.h.RefreshList(context.Background(), 7, 9.0)
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestRun(t *testing.T) {
	f := newFixture(t)
	id := "CVE-2024-0001"
	f.reg.cands = []types.VulnerabilityCandidate{{ID: id, BaseScore: 9.8, MetricVersion: types.MetricV31}}
	f.reg.records[id] = &types.CVERecord{ID: id}

	var out bytes.Buffer
	batch, err := f.h.Run(context.Background(), &out)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Succeeded)
	assert.Contains(t, out.String(), "processing 1 identifiers")
	assert.Equal(t, 1, f.reg.queries)
}

func TestRunCheckpoint(t *testing.T) {
	f := newFixture(t)
	id := "CVE-2024-1234"
	f.reg.records[id] = &types.CVERecord{ID: id}

	status, err := f.h.RunCheckpoint(context.Background(), "cve-2024-1234", CheckpointRecord)
	require.NoError(t, err)
	assert.Equal(t, types.CheckpointDone, status)

	status, err = f.h.RunCheckpoint(context.Background(), id, CheckpointRecord)
	require.NoError(t, err)
	assert.Equal(t, types.CheckpointSkipped, status)
	assert.Len(t, f.reg.fetchCalls, 1)

	status, err = f.h.RunCheckpoint(context.Background(), id, CheckpointSummary)
	require.NoError(t, err)
	assert.Equal(t, types.CheckpointUnavailable, status, "nothing to summarize yet")

	_, err = f.h.RunCheckpoint(context.Background(), id, Checkpoint("bogus"))
	assert.Error(t, err)
	assert.Empty(t, f.col.calls)
}
