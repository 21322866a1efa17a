package web

import (
	"net/http"

	"devicetrack/internal/apperr"
	"devicetrack/internal/rules"
)

const inlineRuleID = "_inline"

type saveRuleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	LuaCode     string `json:"lua_code"`
	Enabled     bool   `json:"enabled"`
}

// rulesAvailable answers 503 when the server runs without a rules engine.
func (s *Server) rulesAvailable(w http.ResponseWriter) bool {
	if s.ruleMgr == nil || s.ruleEngine == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "rules not available"})
		return false
	}
	return true
}

func (s *Server) handleAPIListRules(w http.ResponseWriter, r *http.Request) {
	if s.ruleMgr == nil {
		s.writeJSON(w, http.StatusOK, []*rules.Script{})
		return
	}
	scripts, err := s.ruleMgr.List()
	s.respond(w, r, http.StatusOK, scripts, err)
}

func (s *Server) handleAPIGetRule(w http.ResponseWriter, r *http.Request) {
	if !s.rulesAvailable(w) {
		return
	}
	script, err := s.ruleMgr.Get(r.PathValue("id"))
	s.respond(w, r, http.StatusOK, script, err)
}

func (s *Server) handleAPICreateRule(w http.ResponseWriter, r *http.Request) {
	if !s.rulesAvailable(w) {
		return
	}
	var req saveRuleRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		s.writeError(w, r, apperr.Validation(apperr.InvalidRequest, "name is required"))
		return
	}

	saved, err := s.ruleMgr.Save(&rules.Script{
		Meta: rules.ScriptMeta{
			Name:        req.Name,
			Description: req.Description,
			Enabled:     req.Enabled,
		},
		LuaCode: req.LuaCode,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if saved.Meta.Enabled {
		if err := s.ruleEngine.ReloadScript(saved.ID); err != nil {
			s.logger.Error("reload script after create", "id", saved.ID, "err", err)
		}
	}
	s.writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleAPIUpdateRule(w http.ResponseWriter, r *http.Request) {
	if !s.rulesAvailable(w) {
		return
	}
	existing, err := s.ruleMgr.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req saveRuleRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	existing.Meta.Name = req.Name
	existing.Meta.Description = req.Description
	existing.Meta.Enabled = req.Enabled
	existing.LuaCode = req.LuaCode

	saved, err := s.ruleMgr.Save(existing)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.ruleEngine.ReloadScript(saved.ID); err != nil {
		s.logger.Error("reload script after update", "id", saved.ID, "err", err)
	}
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleAPIDeleteRule(w http.ResponseWriter, r *http.Request) {
	if !s.rulesAvailable(w) {
		return
	}
	id := r.PathValue("id")
	s.ruleEngine.StopScript(id)
	if err := s.ruleMgr.Delete(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAPIRunRule runs a stored script once, or the body's lua_code when
// the id is _inline. Alerts raised during the run are only logged.
func (s *Server) handleAPIRunRule(w http.ResponseWriter, r *http.Request) {
	if !s.rulesAvailable(w) {
		return
	}
	id := r.PathValue("id")
	if id == inlineRuleID {
		var req struct {
			LuaCode string `json:"lua_code"`
		}
		if !s.readJSON(w, r, &req) {
			return
		}
		s.writeJSON(w, http.StatusOK, s.ruleEngine.RunLuaCode(req.LuaCode))
		return
	}
	s.writeJSON(w, http.StatusOK, s.ruleEngine.RunScript(id))
}

func (s *Server) handleAPIToggleRule(w http.ResponseWriter, r *http.Request) {
	if !s.rulesAvailable(w) {
		return
	}
	script, err := s.ruleMgr.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	script.Meta.Enabled = !script.Meta.Enabled
	saved, err := s.ruleMgr.Save(script)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if saved.Meta.Enabled {
		if err := s.ruleEngine.ReloadScript(saved.ID); err != nil {
			s.logger.Error("reload script after toggle", "id", saved.ID, "err", err)
		}
	} else {
		s.ruleEngine.StopScript(saved.ID)
	}
	s.writeJSON(w, http.StatusOK, saved)
}
