// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/cve-harvest/internal/harvest"
)

var collectCmd = &cobra.Command{
	Use:   "collect ID",
	Short: "Collect OCR-verified web evidence for one CVE",
	Long: `Collect searches the web for pages about ID in a stealth headless browser,
screenshots each candidate page, and keeps the screenshots whose OCR text
contains ID as a whole word. Verified text is written to {data-dir}/ID.txt.
Nothing is done when ID.txt already exists.`,
	Args: cobra.ExactArgs(1),
	RunE: runStage(harvest.CheckpointEvidence, stageSet{collect: true}),
}

var recordCmd = &cobra.Command{
	Use:   "record ID",
	Short: "Fetch the NVD detail record for one CVE",
	Long: `Record fetches the NVD record for ID and writes the flattened JSON
(CVSS, CWE, affected CPEs, references, KEV status) to {data-dir}/ID.json.
Nothing is done when ID.json already exists.`,
	Args: cobra.ExactArgs(1),
	RunE: runStage(harvest.CheckpointRecord, stageSet{}),
}

var summarizeCmd = &cobra.Command{
	Use:   "summarize ID",
	Short: "Replace collected evidence with a generated summary",
	Long: `Summarize sends {data-dir}/ID.txt to the OpenAI-compatible summary API and
replaces the file with the returned plain-text summary. The API key comes from
summary.api_key or .secrets/openai-api-key. Each file is summarized once.`,
	Args: cobra.ExactArgs(1),
	RunE: runStage(harvest.CheckpointSummary, stageSet{}),
}

func init() {
	collectCmd.Flags().Bool("headless", true, "run the browser headless")
	collectCmd.Flags().Int("max-captures", 3, "verified captures to keep")
	collectCmd.Flags().Int("max-results", 20, "search results to consider")
	collectCmd.Flags().String("proxy", "", "browser proxy server")
	summarizeCmd.Flags().String("model", "", "summary model (default deepseek-chat)")

	rootCmd.AddCommand(collectCmd, recordCmd, summarizeCmd)
}

// runStage returns a RunE that runs a single checkpoint. Single-stage
// commands exit non-zero when the checkpoint fails.
func runStage(cp harvest.Checkpoint, stages stageSet) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		p, err := newPipeline(ctx, stages)
		if err != nil {
			return err
		}
		defer p.Close()

		status, err := p.RunCheckpoint(ctx, args[0], cp)
		fmt.Fprintf(os.Stdout, "%s %s: %s\n", args[0], cp, status)
		if err != nil {
			logger.Errorw("checkpoint failed", "id", args[0], "checkpoint", cp, "error", err)
			return err
		}
		return nil
	}
}
