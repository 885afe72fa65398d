// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/cve-harvest/pkg/types"
)

func TestObserveResult(t *testing.T) {
	m := New()

	m.ObserveResult(types.HarvestResult{
		Identifier: "CVE-2024-0001",
		Evidence:   types.CheckpointDone,
		Record:     types.CheckpointFailed,
		Summary:    types.CheckpointDone,
		Captures:   2,
	}, 12)
	m.ObserveResult(types.HarvestResult{
		Identifier: "CVE-2024-0002",
		Evidence:   types.CheckpointFailed,
		Record:     types.CheckpointFailed,
		Summary:    types.CheckpointUnavailable,
	}, 40)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.checkpoints.WithLabelValues("evidence", "done")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.checkpoints.WithLabelValues("record", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checkpoints.WithLabelValues("summary", "unavailable")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.captures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.identifiers.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.identifiers.WithLabelValues("failure")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.identifierTimer))
}

func TestObserveQuery(t *testing.T) {
	m := New()
	m.ObserveQuery(3, 17)
	m.ObserveQuery(1, 4)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.registryPages))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.candidates), "gauge holds the last query")
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveResult(types.HarvestResult{}, 1)
		m.ObserveQuery(1, 1)
		assert.NoError(t, m.WriteTextfile(t.TempDir()))
	})
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.ObserveQuery(2, 5)

	dir := filepath.Join(t.TempDir(), "data")
	require.NoError(t, m.WriteTextfile(dir))

	data, err := os.ReadFile(filepath.Join(dir, TextfileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "cve_harvest_registry_pages_total 2")
	assert.Contains(t, string(data), "cve_harvest_candidates 5")

	n, err := testutil.GatherAndCount(m.Registry(), "cve_harvest_registry_pages_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
