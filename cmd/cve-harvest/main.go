// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the cve-harvest CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pdiddy/cve-harvest/internal/logging"
	"github.com/pdiddy/cve-harvest/internal/secrets"
	"github.com/pdiddy/cve-harvest/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	// cfg is the resolved pipeline configuration for the running command.
	cfg types.PipelineConfig

	// logger is the command's diagnostic logger (stderr).
	logger *zap.SugaredLogger
)

// rootCmd is the base command for the cve-harvest CLI.
var rootCmd = &cobra.Command{
	Use:   "cve-harvest",
	Short: "Harvest intelligence on newly published high-severity CVEs",
	Long: `cve-harvest queries the NVD for recently published critical records,
collects corroborating web pages with a headless browser, verifies them with
OCR, fetches structured registry records, and compresses the evidence into a
plain-text summary.

Every identifier has three checkpoints backed by files in the data
directory. Finished checkpoints are never repeated, so an interrupted run can
simply be started again.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("log-level")
		jsonLogs, _ := cmd.Flags().GetBool("log-json")
		l, err := logging.New(level, jsonLogs)
		if err != nil {
			return err
		}
		logger = l

		v := newViper()
		cfgFile, _ := cmd.Flags().GetString("config")
		bindFlags(v, cmd)
		used, err := readConfigFile(v, cfgFile)
		if err != nil {
			return err
		}
		if used != "" {
			logger.Infow("using config file", "path", used)
		}
		if cfg, err = loadConfig(v); err != nil {
			return err
		}

		secretsDir, _ := cmd.Flags().GetString("secrets-dir")
		s, err := secrets.Load(secretsDir, logger)
		if err != nil {
			return err
		}
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			logger.Debugw("loaded secrets", "keys", keys)
		}
		cfg.Registry.APIKey = secrets.Resolve(s, secrets.NVDAPIKey, cfg.Registry.APIKey)
		cfg.Summary.APIKey = secrets.Resolve(s, secrets.OpenAIAPIKey, cfg.Summary.APIKey)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default: ./cve-harvest.yaml or ~/.config/cve-harvest/cve-harvest.yaml)")
	pf.String("secrets-dir", secrets.DefaultDir, "directory of API key files")
	pf.String("data-dir", "", "artifact directory (default scraped_data)")
	pf.String("ledger", "", `run history database (default {data-dir}/ledger.db, "off" disables)`)
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.Bool("log-json", false, "log JSON lines instead of console output")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
