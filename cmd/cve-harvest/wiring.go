// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"net/http"

	"github.com/pdiddy/cve-harvest/internal/collect"
	"github.com/pdiddy/cve-harvest/internal/harvest"
	"github.com/pdiddy/cve-harvest/internal/ledger"
	"github.com/pdiddy/cve-harvest/internal/metrics"
	"github.com/pdiddy/cve-harvest/internal/ocr"
	"github.com/pdiddy/cve-harvest/internal/registry"
	"github.com/pdiddy/cve-harvest/internal/summarize"
	"github.com/pdiddy/cve-harvest/pkg/types"
)

// stageSet selects which collaborators a command builds. The browser and
// OCR engine are only started for commands that collect evidence.
type stageSet struct {
	collect bool
}

// unavailableCollector stands in for the collector when the OCR engine
// could not be set up, so the evidence checkpoint fails with the cause.
type unavailableCollector struct{ err error }

func (u unavailableCollector) DiscoverAndCapture(context.Context, string, int, int) ([]types.EvidenceArtifact, error) {
	return nil, u.err
}

func newRegistry() *registry.Engine {
	return registry.New(cfg.Registry, &http.Client{Timeout: cfg.Registry.Timeout}, logger)
}

// newCollector builds the browser collector with the OCR validator as its
// verifier.
func newCollector(ctx context.Context) harvest.Collector {
	engine, err := ocr.NewEngine(ctx, cfg.Validator, logger)
	if err != nil {
		logger.Errorw("OCR unavailable, evidence collection disabled", "error", err)
		return unavailableCollector{err: err}
	}
	logger.Infow("OCR engine ready", "engine", engine.Name())
	validator := ocr.NewValidator(engine, cfg.Validator, logger)
	return collect.New(collect.NewChromeLauncher(cfg.Collector, logger), validator, cfg.Collector, logger)
}

// pipeline is a Harvester plus the resources it holds open.
type pipeline struct {
	*harvest.Harvester
	metrics *metrics.Metrics
	ledger  *ledger.Store
}

// newPipeline wires the harvester for one command.
func newPipeline(ctx context.Context, stages stageSet) (*pipeline, error) {
	p := &pipeline{metrics: metrics.New()}
	deps := harvest.Deps{
		Registry:   newRegistry(),
		Summarizer: summarize.New(cfg.Summary, nil, logger),
		Metrics:    p.metrics,
	}
	if stages.collect {
		deps.Collector = newCollector(ctx)
	}
	if path := cfg.Harvest.LedgerFile(); path != "" {
		store, err := ledger.Open(path)
		if err != nil {
			return nil, err
		}
		p.ledger = store
		deps.Ledger = store
	}
	p.Harvester = harvest.New(deps, cfg, logger)
	return p, nil
}

// Close writes the metrics textfile and closes the ledger.
func (p *pipeline) Close() {
	if err := p.metrics.WriteTextfile(cfg.Harvest.DataDir); err != nil {
		logger.Warnw("metrics not written", "error", err)
	}
	if p.ledger != nil {
		if err := p.ledger.Close(); err != nil {
			logger.Warnw("closing ledger", "error", err)
		}
	}
}
