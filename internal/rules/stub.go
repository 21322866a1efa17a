//go:build no_rules

package rules

import (
	"context"
	"log/slog"

	"devicetrack/internal/clock"
	"devicetrack/internal/events"
	"devicetrack/internal/model"
)

// ScriptMeta holds user-editable metadata for a script.
type ScriptMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// Script is a single rule script stored on disk.
type Script struct {
	ID       string     `json:"id"`
	Meta     ScriptMeta `json:"meta"`
	LuaCode  string     `json:"lua_code"`
	FilePath string     `json:"-"`
}

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// Ingester submits event batches.
type Ingester interface {
	IngestEventBatch(ctx context.Context, assignmentToken string, batch model.DeviceEventBatch) (model.DeviceEventBatchResponse, error)
}

// Manager is a no-op stub when rules are disabled.
type Manager struct{}

// NewManager returns a nil manager when rules are disabled.
func NewManager(_ string, _ *slog.Logger) (*Manager, error) { return nil, nil }

func (m *Manager) List() ([]*Script, error)        { return nil, nil }
func (m *Manager) Get(_ string) (*Script, error)   { return nil, nil }
func (m *Manager) Save(s *Script) (*Script, error) { return s, nil }
func (m *Manager) Delete(_ string) error           { return nil }

// Engine is a no-op stub when rules are disabled.
type Engine struct{}

// NewEngine returns a no-op engine when rules are disabled.
func NewEngine(_ Ingester, _ *events.Bus, _ *Manager, _ clock.Clock, _ *slog.Logger) *Engine {
	return &Engine{}
}

func (e *Engine) Start()                      {}
func (e *Engine) Stop()                       {}
func (e *Engine) Running(_ string) bool       { return false }
func (e *Engine) ReloadScript(_ string) error { return nil }
func (e *Engine) StopScript(_ string)         {}

func (e *Engine) RunScript(_ string) *RunResult {
	return &RunResult{OK: false, Error: "rules disabled"}
}

func (e *Engine) RunLuaCode(_ string) *RunResult {
	return &RunResult{OK: false, Error: "rules disabled"}
}
