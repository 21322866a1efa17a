//go:build no_rules

package main

import (
	"log/slog"

	"devicetrack/internal/events"
	"devicetrack/internal/management"
	"devicetrack/internal/web"
)

type rulesStopper struct{}

func (r *rulesStopper) Stop() {}

func initRules(_ management.DeviceManagement, _ *events.Bus, _ *Config, _ *slog.Logger) (*rulesStopper, []web.ServerOption) {
	return &rulesStopper{}, nil
}
