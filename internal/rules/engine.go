//go:build !no_rules

// Package rules runs user Lua scripts against ingested telemetry. Scripts
// register handlers with rules.on and may raise system alerts with
// rules.alert, which are written back through the normal ingest path.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"devicetrack/internal/clock"
	"devicetrack/internal/events"
	"devicetrack/internal/model"
)

// Handler kinds accepted by rules.on.
const (
	KindMeasurement = "measurement"
	KindLocation    = "location"
	KindAlert       = "alert"
)

const runTimeout = 5 * time.Second

// Ingester submits event batches. management.DeviceManagement satisfies it.
type Ingester interface {
	IngestEventBatch(ctx context.Context, assignmentToken string, batch model.DeviceEventBatch) (model.DeviceEventBatchResponse, error)
}

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// luaHandler is a registered Lua callback.
type luaHandler struct {
	kind       string
	assignment string // only this assignment token (empty = any)
	name       string // measurement name or alert type (empty = any)
	fn         *lua.LFunction
}

// scriptVM is a running Lua VM for a single script.
type scriptVM struct {
	state    *lua.LState
	commands chan func(*lua.LState) // serializes Lua access
	handlers []luaHandler
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex // protects handlers

	// dryRun records rules.alert calls as logs instead of ingesting them.
	dryRun bool
	logs   []string
}

func (vm *scriptVM) record(line string) {
	vm.mu.Lock()
	vm.logs = append(vm.logs, line)
	vm.mu.Unlock()
}

// ruleEvent is one telemetry event as handlers see it.
type ruleEvent struct {
	kind       string
	assignment string
	names      []string
	data       map[string]any
}

// Engine manages Lua VMs and dispatches ingested telemetry to scripts.
type Engine struct {
	ingest  Ingester
	bus     *events.Bus
	manager *Manager
	clock   clock.Clock
	logger  *slog.Logger

	mu    sync.Mutex
	vms   map[string]*scriptVM // script ID -> running VM
	unsub func()
}

// NewEngine creates a rules engine.
func NewEngine(ingest Ingester, bus *events.Bus, mgr *Manager, clk clock.Clock, logger *slog.Logger) *Engine {
	return &Engine{
		ingest:  ingest,
		bus:     bus,
		manager: mgr,
		clock:   clk,
		logger:  logger.With("component", "rules"),
		vms:     make(map[string]*scriptVM),
	}
}

// Start subscribes to ingested batches and loads all enabled scripts.
func (e *Engine) Start() {
	e.unsub = e.bus.On(events.BatchIngested, e.dispatchBatch)

	scripts, err := e.manager.List()
	if err != nil {
		e.logger.Error("load scripts", "err", err)
		return
	}
	for _, s := range scripts {
		if !s.Meta.Enabled {
			continue
		}
		if err := e.startScript(s); err != nil {
			e.logger.Error("start script", "id", s.ID, "err", err)
		}
	}

	e.mu.Lock()
	n := len(e.vms)
	e.mu.Unlock()
	e.logger.Info("rules engine started", "scripts", n)
}

// Stop cancels all VMs and unsubscribes from the bus.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, vm := range e.vms {
		vm.cancel()
		delete(e.vms, id)
	}
	if e.unsub != nil {
		e.unsub()
		e.unsub = nil
	}
	e.logger.Info("rules engine stopped")
}

// Running reports whether the script has a live VM.
func (e *Engine) Running(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.vms[id]
	return ok
}

// ReloadScript stops the old VM, if any, and starts the script again when it
// is enabled.
func (e *Engine) ReloadScript(id string) error {
	e.stopScript(id)

	s, err := e.manager.Get(id)
	if err != nil {
		return fmt.Errorf("get script: %w", err)
	}
	if !s.Meta.Enabled {
		return nil
	}
	return e.startScript(s)
}

// StopScript stops a running script VM.
func (e *Engine) StopScript(id string) {
	e.stopScript(id)
}

// RunScript executes a stored script once in a throwaway VM.
func (e *Engine) RunScript(id string) *RunResult {
	start := time.Now()
	s, err := e.manager.Get(id)
	if err != nil {
		return &RunResult{OK: false, Error: err.Error(), Duration: time.Since(start).String()}
	}
	return e.RunLuaCode(s.LuaCode)
}

// RunLuaCode executes code in a throwaway VM, then calls every handler it
// registered once with a synthetic event. Alerts are logged, not ingested.
func (e *Engine) RunLuaCode(code string) *RunResult {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	L := newSandbox()
	defer L.Close()
	L.SetContext(ctx)

	vm := &scriptVM{
		state:    L,
		commands: make(chan func(*lua.LState), 1),
		ctx:      ctx,
		cancel:   cancel,
		dryRun:   true,
	}
	registerRulesModule(L, vm, e)

	result := func(err error) *RunResult {
		vm.mu.Lock()
		logs := append([]string(nil), vm.logs...)
		vm.mu.Unlock()
		r := &RunResult{OK: err == nil, Logs: logs, Duration: time.Since(start).String()}
		if err != nil {
			r.Error = err.Error()
			if strings.Contains(r.Error, "context deadline exceeded") {
				r.Error = "timeout (" + runTimeout.String() + ")"
			}
		}
		return r
	}

	if err := L.DoString(code); err != nil {
		e.logger.Warn("run script error", "err", err)
		return result(err)
	}

	vm.mu.Lock()
	handlers := append([]luaHandler(nil), vm.handlers...)
	vm.mu.Unlock()

	for _, h := range handlers {
		ev := syntheticEvent(h, e.clock.Now())
		if err := L.CallByParam(lua.P{Fn: h.fn, NRet: 0, Protect: true}, goToLua(L, ev.data)); err != nil {
			e.logger.Warn("run handler error", "kind", h.kind, "err", err)
			return result(err)
		}
	}
	return result(nil)
}

func (e *Engine) stopScript(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if vm, ok := e.vms[id]; ok {
		vm.cancel()
		delete(e.vms, id)
		e.logger.Info("script stopped", "id", id)
	}
}

func (e *Engine) startScript(s *Script) error {
	ctx, cancel := context.WithCancel(context.Background())

	L := newSandbox()
	vm := &scriptVM{
		state:    L,
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
	}
	registerRulesModule(L, vm, e)

	if err := L.DoString(s.LuaCode); err != nil {
		cancel()
		L.Close()
		return fmt.Errorf("execute script %s: %w", s.ID, err)
	}

	e.mu.Lock()
	if old, ok := e.vms[s.ID]; ok {
		old.cancel()
	}
	e.vms[s.ID] = vm
	e.mu.Unlock()

	go func() {
		defer L.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-vm.commands:
				fn(L)
			}
		}
	}()

	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name)
	return nil
}

// newSandbox creates a Lua state without file, process, or module access.
func newSandbox() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	for _, name := range []string{"os", "io", "loadfile", "dofile", "require", "load", "debug", "package"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

// dispatchBatch routes the events of an ingested batch to matching handlers.
func (e *Engine) dispatchBatch(ev events.Event) {
	batch, ok := ev.Data.(events.Batch)
	if !ok {
		return
	}
	evs := batchEvents(batch)
	if len(evs) == 0 {
		return
	}

	e.mu.Lock()
	vms := make([]*scriptVM, 0, len(e.vms))
	for _, vm := range e.vms {
		vms = append(vms, vm)
	}
	e.mu.Unlock()

	for _, vm := range vms {
		vm.mu.Lock()
		handlers := append([]luaHandler(nil), vm.handlers...)
		vm.mu.Unlock()

		for _, re := range evs {
			for _, h := range handlers {
				if !matchesHandler(h, re) {
					continue
				}
				fn, data := h.fn, re.data
				select {
				case <-vm.ctx.Done():
				case vm.commands <- func(L *lua.LState) { e.callHandler(L, fn, data) }:
				default:
					e.logger.Warn("script command channel full, dropping event", "kind", re.kind)
				}
			}
		}
	}
}

func matchesHandler(h luaHandler, re ruleEvent) bool {
	if h.kind != re.kind {
		return false
	}
	if h.assignment != "" && h.assignment != re.assignment {
		return false
	}
	if h.name == "" {
		return true
	}
	for _, n := range re.names {
		if n == h.name {
			return true
		}
	}
	return false
}

func (e *Engine) callHandler(L *lua.LState, fn *lua.LFunction, data map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("lua handler panic", "err", r)
		}
	}()

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, goToLua(L, data)); err != nil {
		e.logger.Error("lua handler error", "err", err)
	}
}

// batchEvents flattens a batch response into handler events. System alerts
// are left out so rules never react to alerts raised by rules.
func batchEvents(b events.Batch) []ruleEvent {
	resp := b.Response
	out := make([]ruleEvent, 0, len(resp.CreatedMeasurements)+len(resp.CreatedLocations)+len(resp.CreatedAlerts))
	for _, m := range resp.CreatedMeasurements {
		data := eventData(KindMeasurement, m.DeviceEvent)
		values := make(map[string]any, len(m.Measurements))
		names := make([]string, 0, len(m.Measurements))
		for k, v := range m.Measurements {
			values[k] = v
			names = append(names, k)
		}
		data["measurements"] = values
		out = append(out, ruleEvent{kind: KindMeasurement, assignment: m.DeviceAssignmentToken, names: names, data: data})
	}
	for _, l := range resp.CreatedLocations {
		data := eventData(KindLocation, l.DeviceEvent)
		data["latitude"] = l.Latitude
		data["longitude"] = l.Longitude
		if l.Elevation != nil {
			data["elevation"] = *l.Elevation
		}
		out = append(out, ruleEvent{kind: KindLocation, assignment: l.DeviceAssignmentToken, data: data})
	}
	for _, a := range resp.CreatedAlerts {
		if a.Source == model.SourceSystem {
			continue
		}
		data := eventData(KindAlert, a.DeviceEvent)
		data["alert_type"] = a.Type
		data["message"] = a.Message
		data["level"] = string(a.Level)
		data["source"] = string(a.Source)
		out = append(out, ruleEvent{kind: KindAlert, assignment: a.DeviceAssignmentToken, names: []string{a.Type}, data: data})
	}
	return out
}

func eventData(kind string, ev model.DeviceEvent) map[string]any {
	data := map[string]any{
		"type":       kind,
		"id":         ev.ID,
		"assignment": ev.DeviceAssignmentToken,
		"site":       ev.SiteToken,
		"event_date": ev.EventDate.UnixMilli(),
	}
	if ev.AssetName != nil {
		data["asset_name"] = *ev.AssetName
	}
	if len(ev.Metadata) > 0 {
		md := make(map[string]any, len(ev.Metadata))
		for k, v := range ev.Metadata {
			md[k] = v
		}
		data["metadata"] = md
	}
	return data
}

// syntheticEvent builds the event a test run passes to a handler.
func syntheticEvent(h luaHandler, now time.Time) ruleEvent {
	data := map[string]any{
		"type":       h.kind,
		"id":         "test",
		"assignment": h.assignment,
		"event_date": now.UnixMilli(),
	}
	switch h.kind {
	case KindMeasurement:
		values := map[string]any{}
		if h.name != "" {
			values[h.name] = 0.0
		}
		data["measurements"] = values
	case KindLocation:
		data["latitude"] = 0.0
		data["longitude"] = 0.0
	case KindAlert:
		data["alert_type"] = h.name
		data["level"] = string(model.LevelInfo)
		data["source"] = string(model.SourceDevice)
	}
	return ruleEvent{kind: h.kind, assignment: h.assignment, data: data}
}

// goToLua converts a Go value to a Lua value.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case map[string]any:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case []any:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, goToLua(L, vv))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}
