// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/pdiddy/cve-harvest/pkg/types"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Query the NVD for recent high-severity CVEs",
	Long: `Fetch pages through the NVD CVE API for records published in the last
--days days, keeps those scoring at least --min-score (CVSS v3.1, then v3.0,
then v2), and writes the ordered list to {data-dir}/cve_lists/latest_cves.txt.
When the query returns nothing the cached list is shown instead.`,
	Args: cobra.NoArgs,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().Int("days", 7, "publication window in days (max 120)")
	fetchCmd.Flags().Float64("min-score", 9.0, "minimum CVSS base score")
	fetchCmd.Flags().Bool("json", false, "print candidates as JSON")

	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p, err := newPipeline(ctx, stageSet{})
	if err != nil {
		return err
	}
	defer p.Close()

	p.BeginRun(ctx, "fetch")
	cands, err := p.RefreshList(ctx, cfg.Registry.WindowDays, cfg.Registry.MinScore)
	p.EndRun(ctx, len(cands), len(cands))
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cands)
	}
	printCandidates(cands)
	fmt.Fprintf(os.Stderr, "%d candidates written to %s\n", len(cands), p.ListPath())
	return nil
}

func printCandidates(cands []types.VulnerabilityCandidate) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "ID", "Score", "CVSS"})
	for i, c := range cands {
		score, version := "-", "-"
		if c.MetricVersion != "" {
			score = fmt.Sprintf("%.1f", c.BaseScore)
			version = string(c.MetricVersion)
		}
		t.AppendRow(table.Row{i + 1, c.ID, score, version})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})
	t.Render()
}
