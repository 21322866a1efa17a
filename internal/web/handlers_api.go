package web

import (
	"net/http"

	"devicetrack/internal/model"
)

// respond writes v with status, or the error when err is set.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, v any, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, status, v)
}

func (s *Server) handleAPICreateSite(w http.ResponseWriter, r *http.Request) {
	var req model.SiteCreateRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	site, err := s.mgmt.CreateSite(r.Context(), actor(r), req)
	s.respond(w, r, http.StatusCreated, site, err)
}

func (s *Server) handleAPIGetSite(w http.ResponseWriter, r *http.Request) {
	site, err := s.mgmt.GetSite(r.Context(), r.PathValue("token"))
	s.respond(w, r, http.StatusOK, site, err)
}

func (s *Server) handleAPIUpdateSite(w http.ResponseWriter, r *http.Request) {
	var req model.SiteCreateRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	site, err := s.mgmt.UpdateSite(r.Context(), actor(r), r.PathValue("token"), req)
	s.respond(w, r, http.StatusOK, site, err)
}

func (s *Server) handleAPIDeleteSite(w http.ResponseWriter, r *http.Request) {
	force, err := queryBool(r, "force")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	site, err := s.mgmt.DeleteSite(r.Context(), actor(r), r.PathValue("token"), force)
	s.respond(w, r, http.StatusOK, site, err)
}

func (s *Server) handleAPIListSites(w http.ResponseWriter, r *http.Request) {
	c, err := searchCriteria(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.mgmt.ListSites(r.Context(), c)
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *Server) handleAPICreateZone(w http.ResponseWriter, r *http.Request) {
	var req model.ZoneCreateRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	zone, err := s.mgmt.CreateZone(r.Context(), actor(r), r.PathValue("token"), req)
	s.respond(w, r, http.StatusCreated, zone, err)
}

func (s *Server) handleAPIGetZone(w http.ResponseWriter, r *http.Request) {
	zone, err := s.mgmt.GetZone(r.Context(), r.PathValue("token"))
	s.respond(w, r, http.StatusOK, zone, err)
}

func (s *Server) handleAPIUpdateZone(w http.ResponseWriter, r *http.Request) {
	var req model.ZoneCreateRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	zone, err := s.mgmt.UpdateZone(r.Context(), actor(r), r.PathValue("token"), req)
	s.respond(w, r, http.StatusOK, zone, err)
}

func (s *Server) handleAPIDeleteZone(w http.ResponseWriter, r *http.Request) {
	force, err := queryBool(r, "force")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	zone, err := s.mgmt.DeleteZone(r.Context(), actor(r), r.PathValue("token"), force)
	s.respond(w, r, http.StatusOK, zone, err)
}

func (s *Server) handleAPIListZones(w http.ResponseWriter, r *http.Request) {
	c, err := searchCriteria(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.mgmt.ListZones(r.Context(), r.PathValue("token"), c)
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *Server) handleAPICreateDevice(w http.ResponseWriter, r *http.Request) {
	var req model.DeviceCreateRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	dev, err := s.mgmt.CreateDevice(r.Context(), actor(r), req)
	s.respond(w, r, http.StatusCreated, dev, err)
}

func (s *Server) handleAPIGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.mgmt.GetDeviceByHardwareID(r.Context(), r.PathValue("hardwareId"))
	s.respond(w, r, http.StatusOK, dev, err)
}

func (s *Server) handleAPIUpdateDevice(w http.ResponseWriter, r *http.Request) {
	var req model.DeviceCreateRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	dev, err := s.mgmt.UpdateDevice(r.Context(), actor(r), r.PathValue("hardwareId"), req)
	s.respond(w, r, http.StatusOK, dev, err)
}

func (s *Server) handleAPIDeleteDevice(w http.ResponseWriter, r *http.Request) {
	force, err := queryBool(r, "force")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	dev, err := s.mgmt.DeleteDevice(r.Context(), actor(r), r.PathValue("hardwareId"), force)
	s.respond(w, r, http.StatusOK, dev, err)
}

// handleAPIListDevices lists devices; ?unassigned=true keeps only devices
// without a current assignment.
func (s *Server) handleAPIListDevices(w http.ResponseWriter, r *http.Request) {
	c, err := searchCriteria(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	unassigned, err := queryBool(r, "unassigned")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var res model.SearchResults[model.Device]
	if unassigned {
		res, err = s.mgmt.ListUnassignedDevices(r.Context(), c)
	} else {
		res, err = s.mgmt.ListDevices(r.Context(), c)
	}
	s.respond(w, r, http.StatusOK, res, err)
}

// handleAPICurrentAssignment answers 204 for an unassigned device.
func (s *Server) handleAPICurrentAssignment(w http.ResponseWriter, r *http.Request) {
	a, err := s.mgmt.GetCurrentDeviceAssignment(r.Context(), r.PathValue("hardwareId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if a == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleAPIAssignmentHistory(w http.ResponseWriter, r *http.Request) {
	c, err := searchCriteria(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.mgmt.GetDeviceAssignmentHistory(r.Context(), r.PathValue("hardwareId"), c)
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *Server) handleAPICreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req model.DeviceAssignmentCreateRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	a, err := s.mgmt.CreateDeviceAssignment(r.Context(), actor(r), req)
	s.respond(w, r, http.StatusCreated, a, err)
}

func (s *Server) handleAPIGetAssignment(w http.ResponseWriter, r *http.Request) {
	a, err := s.mgmt.GetDeviceAssignment(r.Context(), r.PathValue("token"))
	s.respond(w, r, http.StatusOK, a, err)
}

func (s *Server) handleAPIEndAssignment(w http.ResponseWriter, r *http.Request) {
	a, err := s.mgmt.EndDeviceAssignment(r.Context(), actor(r), r.PathValue("token"))
	s.respond(w, r, http.StatusOK, a, err)
}

func (s *Server) handleAPIDeleteAssignment(w http.ResponseWriter, r *http.Request) {
	force, err := queryBool(r, "force")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.mgmt.DeleteDeviceAssignment(r.Context(), actor(r), r.PathValue("token"), force)
	s.respond(w, r, http.StatusOK, a, err)
}

func (s *Server) handleAPIUpdateAssignmentMetadata(w http.ResponseWriter, r *http.Request) {
	var md model.Metadata
	if !s.readJSON(w, r, &md) {
		return
	}
	a, err := s.mgmt.UpdateDeviceAssignmentMetadata(r.Context(), actor(r), r.PathValue("token"), md)
	s.respond(w, r, http.StatusOK, a, err)
}

func (s *Server) handleAPIListAssignments(w http.ResponseWriter, r *http.Request) {
	c, err := searchCriteria(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.mgmt.ListDeviceAssignments(r.Context(), c)
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *Server) handleAPIListSiteAssignments(w http.ResponseWriter, r *http.Request) {
	c, err := searchCriteria(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.mgmt.ListDeviceAssignmentsForSite(r.Context(), r.PathValue("token"), c)
	s.respond(w, r, http.StatusOK, res, err)
}
