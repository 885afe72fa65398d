// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package harvest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/pdiddy/cve-harvest/internal/fsutil"
	"github.com/pdiddy/cve-harvest/pkg/types"
)

var (
	okMark   = color.New(color.FgGreen, color.Bold).SprintFunc()
	failMark = color.New(color.FgRed, color.Bold).SprintFunc()
	dim      = color.New(color.Faint).SprintFunc()
)

// BatchResult holds the outcome of a ProcessBatch call.
type BatchResult struct {
	Results   []types.HarvestResult
	Succeeded int
	Total     int
}

// Processed returns the number of identifiers that were attempted.
func (b BatchResult) Processed() int {
	return len(b.Results)
}

// BeginRun opens a ledger run for command. Outcomes recorded until EndRun
// are attached to it. Without a ledger this is a no-op.
func (h *Harvester) BeginRun(ctx context.Context, command string) {
	if h.deps.Ledger == nil {
		return
	}
	id, err := h.deps.Ledger.BeginRun(ctx, command)
	if err != nil {
		h.log.Warnw("ledger run not started", "error", err)
		return
	}
	h.runID = id
	h.log.Debugw("ledger run started", "run", id, "command", command)
}

// EndRun closes the current ledger run.
func (h *Harvester) EndRun(ctx context.Context, succeeded, total int) {
	if h.deps.Ledger == nil || h.runID == "" {
		return
	}
	// The run is closed even when ctx was cancelled.
	if err := h.deps.Ledger.FinishRun(context.WithoutCancel(ctx), h.runID, succeeded, total); err != nil {
		h.log.Warnw("ledger run not finished", "run", h.runID, "error", err)
	}
	h.runID = ""
}

// ProcessBatch processes ids strictly in order, printing one status line
// per identifier and a final succeeded/total line to w. Cancellation
// abandons the remaining identifiers and returns ctx.Err().
func (h *Harvester) ProcessBatch(ctx context.Context, ids []string, w io.Writer) (BatchResult, error) {
	batch := BatchResult{Total: len(ids)}
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			fmt.Fprintf(w, "interrupted, %d identifiers not processed\n", len(ids)-i)
			h.printSummary(w, batch)
			return batch, err
		}

		res, err := h.ProcessIdentifier(ctx, id)
		batch.Results = append(batch.Results, res)
		prefix := dim(fmt.Sprintf("[%d/%d]", i+1, len(ids)))
		if res.Success() {
			batch.Succeeded++
			fmt.Fprintf(w, "%s %s %s %s\n", prefix, okMark("✓"), res.Identifier, checkpointLine(res))
		} else {
			fmt.Fprintf(w, "%s %s %s %s\n", prefix, failMark("✗"), res.Identifier, checkpointLine(res))
			if err != nil {
				fmt.Fprintf(w, "      %v\n", err)
			}
		}
	}
	h.printSummary(w, batch)
	return batch, nil
}

func checkpointLine(r types.HarvestResult) string {
	line := fmt.Sprintf("evidence=%s record=%s summary=%s", r.Evidence, r.Record, r.Summary)
	if r.Captures > 0 {
		line += fmt.Sprintf(" captures=%d", r.Captures)
	}
	return dim(line)
}

func (h *Harvester) printSummary(w io.Writer, b BatchResult) {
	mark := okMark
	if b.Succeeded < b.Total {
		mark = failMark
	}
	fmt.Fprintf(w, "%s identifiers succeeded\n", mark(fmt.Sprintf("%d/%d", b.Succeeded, b.Total)))
}

// RefreshList queries the registry and writes the ordered identifier list.
// When the query yields nothing (an error or an empty window) the cached
// list from an earlier run is returned instead; cached entries carry no
// score.
func (h *Harvester) RefreshList(ctx context.Context, windowDays int, minScore float64) ([]types.VulnerabilityCandidate, error) {
	if h.deps.Registry == nil {
		return nil, fmt.Errorf("%w: no registry", types.ErrConfiguration)
	}
	cands, stats := h.deps.Registry.QueryCandidates(ctx, windowDays, minScore)
	h.deps.Metrics.ObserveQuery(stats.Pages, len(cands))
	h.log.Infow("registry query finished",
		"window_days", windowDays,
		"min_score", minScore,
		"pages", stats.Pages,
		"total_results", stats.TotalResults,
		"kept", len(cands),
		"error", stats.Err,
	)

	if len(cands) > 0 {
		if h.deps.Ledger != nil && h.runID != "" {
			if err := h.deps.Ledger.RecordCandidates(ctx, h.runID, cands); err != nil {
				h.log.Warnw("ledger candidates not recorded", "error", err)
			}
		}
		var buf bytes.Buffer
		for _, c := range cands {
			buf.WriteString(c.ID)
			buf.WriteByte('\n')
		}
		if err := fsutil.WriteFileAtomic(h.ListPath(), buf.Bytes(), 0o644); err != nil {
			return cands, fmt.Errorf("writing %s: %w", h.ListPath(), err)
		}
		return cands, nil
	}

	h.log.Warnw("registry returned no candidates, falling back to cached list", "path", h.ListPath(), "error", stats.Err)
	ids, err := ReadList(h.ListPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if stats.Err != nil {
				return nil, fmt.Errorf("no cached list after failed query: %w", stats.Err)
			}
			return nil, nil
		}
		return nil, err
	}
	cached := make([]types.VulnerabilityCandidate, len(ids))
	for i, id := range ids {
		cached[i] = types.VulnerabilityCandidate{ID: id}
	}
	return cached, nil
}

// ReadList reads a newline-delimited identifier list, skipping blank lines.
func ReadList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			ids = append(ids, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return ids, nil
}

// Run refreshes the identifier list and processes it.
func (h *Harvester) Run(ctx context.Context, w io.Writer) (BatchResult, error) {
	cands, err := h.RefreshList(ctx, h.cfg.Registry.WindowDays, h.cfg.Registry.MinScore)
	if err != nil {
		return BatchResult{}, err
	}
	ids := CandidateIDs(cands)
	if len(ids) == 0 {
		fmt.Fprintln(w, "no identifiers to process")
		return BatchResult{}, nil
	}
	fmt.Fprintf(w, "processing %d identifiers\n", len(ids))
	return h.ProcessBatch(ctx, ids, w)
}

// CandidateIDs returns the identifiers of cands in order.
func CandidateIDs(cands []types.VulnerabilityCandidate) []string {
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.ID
	}
	return ids
}
