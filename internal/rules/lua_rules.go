//go:build !no_rules

package rules

import (
	"context"
	"time"

	lua "github.com/yuin/gopher-lua"

	"devicetrack/internal/model"
)

const maxHandlersPerScript = 100

// registerRulesModule registers the `rules` global table in a Lua state.
func registerRulesModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()

	mod.RawSetString("on", L.NewFunction(func(L *lua.LState) int {
		return rulesOn(L, vm)
	}))
	mod.RawSetString("alert", L.NewFunction(func(L *lua.LState) int {
		return rulesAlert(L, vm, e)
	}))
	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		return rulesLog(L, vm, e)
	}))
	mod.RawSetString("now", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(e.clock.Now().UnixMilli()))
		return 1
	}))
	mod.RawSetString("datetime", L.NewFunction(func(L *lua.LState) int {
		return rulesDatetime(L, e.clock.Now())
	}))
	mod.RawSetString("time_between", L.NewFunction(func(L *lua.LState) int {
		return rulesTimeBetween(L, e.clock.Now())
	}))

	L.SetGlobal("rules", mod)
}

// rules.on(kind, [filter], callback)
//
// filter may hold `assignment` (a token) and `name` (a measurement name or
// alert type).
func rulesOn(L *lua.LState, vm *scriptVM) int {
	kind := L.CheckString(1)
	switch kind {
	case KindMeasurement, KindLocation, KindAlert:
	default:
		L.ArgError(1, "unknown event kind: "+kind)
		return 0
	}

	h := luaHandler{kind: kind}
	if L.GetTop() >= 3 {
		filter := L.CheckTable(2)
		if v := filter.RawGetString("assignment"); v != lua.LNil {
			h.assignment = v.String()
		}
		if v := filter.RawGetString("name"); v != lua.LNil {
			h.name = v.String()
		}
		h.fn = L.CheckFunction(3)
	} else {
		h.fn = L.CheckFunction(2)
	}

	vm.mu.Lock()
	if len(vm.handlers) >= maxHandlersPerScript {
		vm.mu.Unlock()
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	vm.mu.Unlock()
	return 0
}

// rules.alert(assignment, type, message, [level]) -> ok, err
//
// Raises a System alert on the assignment. Level defaults to Warning.
func rulesAlert(L *lua.LState, vm *scriptVM, e *Engine) int {
	token := L.CheckString(1)
	alertType := L.CheckString(2)
	message := L.CheckString(3)
	level, err := model.ParseAlertLevel(L.OptString(4, string(model.LevelWarning)))
	if err != nil {
		L.ArgError(4, err.Error())
		return 0
	}

	if vm.dryRun {
		vm.record("[alert] " + token + " " + alertType + " " + string(level) + ": " + message)
		L.Push(lua.LTrue)
		return 1
	}

	batch := model.DeviceEventBatch{
		Alerts: []model.AlertCreateRequest{{
			EventDate: e.clock.Now(),
			Source:    model.SourceSystem,
			Type:      alertType,
			Message:   message,
			Level:     level,
		}},
	}
	ctx, cancel := context.WithTimeout(vm.ctx, runTimeout)
	defer cancel()
	if _, err := e.ingest.IngestEventBatch(ctx, token, batch); err != nil {
		e.logger.Warn("rule alert failed", "assignment", token, "type", alertType, "err", err)
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	e.logger.Info("rule alert raised", "assignment", token, "type", alertType, "level", level)
	L.Push(lua.LTrue)
	return 1
}

// rules.log(msg)
func rulesLog(L *lua.LState, vm *scriptVM, e *Engine) int {
	msg := L.CheckString(1)
	if vm.dryRun {
		vm.record(msg)
	}
	e.logger.Info("script log", "msg", msg)
	return 0
}

// rules.datetime(component) returns one component of the current UTC time.
func rulesDatetime(L *lua.LState, now time.Time) int {
	component := L.CheckString(1)
	switch component {
	case "hour":
		L.Push(lua.LNumber(now.Hour()))
	case "minute":
		L.Push(lua.LNumber(now.Minute()))
	case "second":
		L.Push(lua.LNumber(now.Second()))
	case "weekday":
		L.Push(lua.LNumber(now.Weekday()))
	case "day":
		L.Push(lua.LNumber(now.Day()))
	case "month":
		L.Push(lua.LNumber(now.Month()))
	case "year":
		L.Push(lua.LNumber(now.Year()))
	case "timestamp":
		L.Push(lua.LNumber(now.Unix()))
	default:
		L.ArgError(1, "unknown component: "+component)
		return 0
	}
	return 1
}

// rules.time_between(from_hour, to_hour) checks whether the current hour is
// in [from, to). The range may wrap past midnight.
func rulesTimeBetween(L *lua.LState, now time.Time) int {
	from := L.CheckInt(1)
	to := L.CheckInt(2)
	hour := now.Hour()

	var in bool
	if from <= to {
		in = hour >= from && hour < to
	} else {
		in = hour >= from || hour < to
	}
	L.Push(lua.LBool(in))
	return 1
}
