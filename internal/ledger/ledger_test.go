// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/cve-harvest/pkg/types"
)

// testStore opens a ledger in a temp dir whose clock advances one minute
// per reading.
func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clock := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return s
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	first, err := s.BeginRun(ctx, "process")
	require.NoError(t, err)
	require.NoError(t, s.FinishRun(ctx, first, 1, 2))

	second, err := s.BeginRun(ctx, "run")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	runs, err := s.Runs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second, runs[0].ID, "newest first")
	assert.True(t, runs[0].FinishedAt.IsZero())
	assert.Equal(t, "process", runs[1].Command)
	assert.Equal(t, 1, runs[1].Succeeded)
	assert.Equal(t, 2, runs[1].Total)
	assert.Equal(t, time.Date(2024, 6, 15, 10, 2, 0, 0, time.UTC), runs[1].FinishedAt)

	limited, err := s.Runs(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	assert.ErrorIs(t, s.FinishRun(ctx, "no-such-run", 0, 0), types.ErrNotFound)
}

func TestRecordCandidates_Upsert(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	run, err := s.BeginRun(ctx, "fetch")
	require.NoError(t, err)

	require.NoError(t, s.RecordCandidates(ctx, run, []types.VulnerabilityCandidate{
		{ID: "CVE-2024-0002", BaseScore: 9.1, MetricVersion: types.MetricV30},
		{ID: "CVE-2024-0001", BaseScore: 9.8, MetricVersion: types.MetricV31},
	}))
	require.NoError(t, s.RecordCandidates(ctx, run, []types.VulnerabilityCandidate{
		{ID: "CVE-2024-0002", BaseScore: 9.3, MetricVersion: types.MetricV31},
	}))

	got, err := s.Candidates(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "CVE-2024-0001", got[0].ID)
	assert.Equal(t, 9.3, got[1].BaseScore)
	assert.Equal(t, types.MetricV31, got[1].MetricVersion)
	assert.True(t, got[1].LastSeen.After(got[1].FirstSeen), "first_seen survives the update")
}

func TestRecordOutcome_History(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	run, err := s.BeginRun(ctx, "process")
	require.NoError(t, err)

	failed := types.HarvestResult{
		Identifier: "CVE-2024-1234",
		Evidence:   types.CheckpointFailed,
		Record:     types.CheckpointFailed,
		Summary:    types.CheckpointUnavailable,
		Errors:     []string{"evidence: no verified captures", "record: transport error"},
	}
	ok := types.HarvestResult{
		Identifier: "CVE-2024-1234",
		Evidence:   types.CheckpointDone,
		Record:     types.CheckpointSkipped,
		Summary:    types.CheckpointDone,
		Captures:   2,
	}
	require.NoError(t, s.RecordOutcome(ctx, run, failed))
	require.NoError(t, s.RecordOutcome(ctx, run, ok))
	require.NoError(t, s.RecordOutcome(ctx, run, types.HarvestResult{
		Identifier: "CVE-2024-9999",
		Evidence:   types.CheckpointSkipped,
		Record:     types.CheckpointSkipped,
		Summary:    types.CheckpointSkipped,
	}))

	hist, err := s.History(ctx, "CVE-2024-1234")
	require.NoError(t, err)
	require.Len(t, hist, 2)

	assert.False(t, hist[0].Success)
	assert.Equal(t, failed.Errors, hist[0].Errors)
	assert.Equal(t, types.CheckpointUnavailable, hist[0].Summary)

	assert.True(t, hist[1].Success)
	assert.Equal(t, 2, hist[1].Captures)
	assert.Nil(t, hist[1].Errors)
	assert.Equal(t, run, hist[1].RunID)

	none, err := s.History(ctx, "CVE-2020-0001")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestExportYAML(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	run, err := s.BeginRun(ctx, "run")
	require.NoError(t, err)
	require.NoError(t, s.RecordCandidates(ctx, run, []types.VulnerabilityCandidate{
		{ID: "CVE-2024-0001", BaseScore: 9.8, MetricVersion: types.MetricV31},
	}))
	require.NoError(t, s.RecordOutcome(ctx, run, types.HarvestResult{
		Identifier: "CVE-2024-0001",
		Evidence:   types.CheckpointDone,
		Record:     types.CheckpointDone,
		Summary:    types.CheckpointDone,
		Captures:   3,
	}))
	require.NoError(t, s.FinishRun(ctx, run, 1, 1))

	path := filepath.Join(t.TempDir(), "export.yaml")
	require.NoError(t, s.ExportYAML(ctx, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var exp Export
	require.NoError(t, yaml.Unmarshal(data, &exp))
	require.Len(t, exp.Runs, 1)
	require.Len(t, exp.Candidates, 1)
	require.Len(t, exp.Outcomes, 1)
	assert.Equal(t, "CVE-2024-0001", exp.Candidates[0].ID)
	assert.Equal(t, 9.8, exp.Candidates[0].BaseScore)
	assert.Equal(t, 3, exp.Outcomes[0].Captures)
	assert.Contains(t, string(data), "metric_version: v31")
}
