// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/pdiddy/cve-harvest/internal/ledger"
	"github.com/pdiddy/cve-harvest/pkg/types"
)

var historyCmd = &cobra.Command{
	Use:   "history [ID]",
	Short: "Show recorded runs or the outcomes for one CVE",
	Long: `History reads the run ledger. Without arguments it lists recent runs; with
an ID it lists every recorded outcome for that identifier. Use --export to
write the whole ledger as YAML.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().Int("limit", 20, "runs to show")
	historyCmd.Flags().String("export", "", "write the full ledger as YAML to this path")

	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	path := cfg.Harvest.LedgerFile()
	if path == "" {
		return fmt.Errorf("%w: the ledger is disabled", types.ErrConfiguration)
	}
	store, err := ledger.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	if export, _ := cmd.Flags().GetString("export"); export != "" {
		if err := store.ExportYAML(ctx, export); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "ledger exported to %s\n", export)
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)

	if len(args) == 0 {
		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := store.Runs(ctx, limit)
		if err != nil {
			return err
		}
		t.AppendHeader(table.Row{"Run", "Command", "Started", "Duration", "Succeeded"})
		for _, r := range runs {
			dur := "running"
			if !r.FinishedAt.IsZero() {
				dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
			}
			t.AppendRow(table.Row{r.ID[:8], r.Command, humanize.Time(r.StartedAt), dur, fmt.Sprintf("%d/%d", r.Succeeded, r.Total)})
		}
		t.Render()
		return nil
	}

	id, err := types.NormalizeIdentifier(args[0])
	if err != nil {
		return err
	}
	outcomes, err := store.History(ctx, id)
	if err != nil {
		return err
	}
	if len(outcomes) == 0 {
		fmt.Fprintf(os.Stderr, "no recorded outcomes for %s\n", id)
		return nil
	}
	t.AppendHeader(table.Row{"When", "Evidence", "Record", "Summary", "Captures", "Result", "Errors"})
	for _, o := range outcomes {
		result := "failure"
		if o.Success {
			result = "success"
		}
		t.AppendRow(table.Row{
			humanize.Time(o.RecordedAt), o.Evidence, o.Record, o.Summary,
			o.Captures, result, strings.Join(o.Errors, "\n"),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 7, WidthMax: 60}})
	t.Render()
	return nil
}
