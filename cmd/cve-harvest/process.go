// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/cve-harvest/internal/harvest"
)

var processCmd = &cobra.Command{
	Use:   "process ID...",
	Short: "Run every checkpoint for the given CVEs",
	Long: `Process runs the evidence, record, and summary checkpoints for each ID in
order. Checkpoints whose files already exist are skipped. An ID succeeds when
at least one checkpoint is satisfied.

Use --list to process the identifiers of a list file such as
{data-dir}/cve_lists/latest_cves.txt.`,
	RunE: runProcess,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch the latest critical CVEs and process all of them",
	Long: `Run is fetch followed by process over the resulting list. If the NVD query
fails the cached list is used.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	processCmd.Flags().String("list", "", "read identifiers from a newline-delimited file")
	for _, c := range []*cobra.Command{processCmd, runCmd} {
		c.Flags().Bool("headless", true, "run the browser headless")
		c.Flags().Int("max-captures", 3, "verified captures to keep per identifier")
	}
	runCmd.Flags().Int("days", 7, "publication window in days (max 120)")
	runCmd.Flags().Float64("min-score", 9.0, "minimum CVSS base score")

	rootCmd.AddCommand(processCmd, runCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	ids := args
	if listFile, _ := cmd.Flags().GetString("list"); listFile != "" {
		listed, err := harvest.ReadList(listFile)
		if err != nil {
			return err
		}
		ids = append(ids, listed...)
	}
	if len(ids) == 0 {
		return fmt.Errorf("provide one or more CVE identifiers or --list")
	}

	ctx := cmd.Context()
	p, err := newPipeline(ctx, stageSet{collect: true})
	if err != nil {
		return err
	}
	defer p.Close()

	start := time.Now()
	p.BeginRun(ctx, "process")
	batch, err := p.ProcessBatch(ctx, ids, os.Stdout)
	p.EndRun(ctx, batch.Succeeded, batch.Total)
	fmt.Fprintf(os.Stderr, "finished in %s\n", time.Since(start).Round(time.Second))
	if err != nil {
		return err
	}
	if failed := batch.Total - batch.Succeeded; failed > 0 {
		return fmt.Errorf("%d identifier(s) failed", failed)
	}
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p, err := newPipeline(ctx, stageSet{collect: true})
	if err != nil {
		return err
	}
	defer p.Close()

	start := time.Now()
	p.BeginRun(ctx, "run")
	batch, err := p.Run(ctx, os.Stdout)
	p.EndRun(ctx, batch.Succeeded, batch.Total)
	fmt.Fprintf(os.Stderr, "finished in %s\n", time.Since(start).Round(time.Second))
	return err
}
