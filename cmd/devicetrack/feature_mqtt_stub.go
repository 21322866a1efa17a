//go:build no_mqtt

package main

import (
	"log/slog"

	"devicetrack/internal/events"
	"devicetrack/internal/management"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ management.DeviceManagement, _ *events.Bus, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
