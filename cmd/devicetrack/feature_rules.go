//go:build !no_rules

package main

import (
	"log/slog"

	"devicetrack/internal/clock"
	"devicetrack/internal/events"
	"devicetrack/internal/rules"
	"devicetrack/internal/web"
)

type rulesStopper struct {
	engine *rules.Engine
}

func (r *rulesStopper) Stop() {
	if r.engine != nil {
		r.engine.Stop()
	}
}

func initRules(ingest rules.Ingester, bus *events.Bus, cfg *Config, logger *slog.Logger) (*rulesStopper, []web.ServerOption) {
	if !cfg.Rules.Enabled {
		return &rulesStopper{}, nil
	}
	mgr, err := rules.NewManager(cfg.Rules.Dir, logger)
	if err != nil {
		logger.Error("create rules manager", "err", err)
		return &rulesStopper{}, nil
	}

	engine := rules.NewEngine(ingest, bus, mgr, clock.System{}, logger)
	engine.Start()

	opts := []web.ServerOption{
		web.WithRules(engine, mgr),
	}
	return &rulesStopper{engine: engine}, opts
}
