package web

import (
	"context"
	"net/http"
	"strings"
	"time"

	"devicetrack/internal/model"
)

const defaultNearestResults = 100

func (s *Server) handleAPIIngestBatch(w http.ResponseWriter, r *http.Request) {
	var batch model.DeviceEventBatch
	if !s.readJSON(w, r, &batch) {
		return
	}
	resp, err := s.mgmt.IngestEventBatch(r.Context(), r.PathValue("token"), batch)
	s.respond(w, r, http.StatusCreated, resp, err)
}

// listEvents serves one of the date-ranged event listings keyed by the
// path token.
func listEvents[T any](s *Server, w http.ResponseWriter, r *http.Request,
	list func(context.Context, string, model.DateRangeSearchCriteria) (model.SearchResults[T], error)) {

	c, err := dateRangeCriteria(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := list(r.Context(), r.PathValue("token"), c)
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *Server) handleAPIListMeasurements(w http.ResponseWriter, r *http.Request) {
	listEvents(s, w, r, s.mgmt.ListMeasurements)
}

func (s *Server) handleAPIListLocations(w http.ResponseWriter, r *http.Request) {
	listEvents(s, w, r, s.mgmt.ListLocations)
}

func (s *Server) handleAPIListAlerts(w http.ResponseWriter, r *http.Request) {
	listEvents(s, w, r, s.mgmt.ListAlerts)
}

func (s *Server) handleAPIListSiteMeasurements(w http.ResponseWriter, r *http.Request) {
	listEvents(s, w, r, s.mgmt.ListMeasurementsForSite)
}

func (s *Server) handleAPIListSiteLocations(w http.ResponseWriter, r *http.Request) {
	listEvents(s, w, r, s.mgmt.ListLocationsForSite)
}

func (s *Server) handleAPIListSiteAlerts(w http.ResponseWriter, r *http.Request) {
	listEvents(s, w, r, s.mgmt.ListAlertsForSite)
}

func (s *Server) handleAPIMeasurementSeries(w http.ResponseWriter, r *http.Request) {
	c, err := dateRangeCriteria(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.mgmt.ListMeasurementSeries(r.Context(), r.PathValue("token"), c)
	s.respond(w, r, http.StatusOK, res, err)
}

// handleAPIDeviceLocations serves ?assignments=t1,t2&start=&end=. Both
// bounds are required.
func (s *Server) handleAPIDeviceLocations(w http.ResponseWriter, r *http.Request) {
	var tokens []string
	for _, t := range strings.Split(r.URL.Query().Get("assignments"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			tokens = append(tokens, t)
		}
	}
	bounds := [2]string{"start", "end"}
	var dates [2]*time.Time
	for i, name := range bounds {
		t, err := queryTime(r, name)
		if err == nil && t == nil {
			err = badQuery(name, "")
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		dates[i] = t
	}
	res, err := s.mgmt.ListDeviceLocations(r.Context(), tokens, *dates[0], *dates[1])
	s.respond(w, r, http.StatusOK, res, err)
}

func (s *Server) handleAPIAssociateAlert(w http.ResponseWriter, r *http.Request) {
	res, err := s.mgmt.AssociateAlertWithLocation(r.Context(), r.PathValue("alertId"), r.PathValue("id"))
	s.respond(w, r, http.StatusOK, res, err)
}

// handleAPINearest serves ?lat=&lon=&maxDistanceMeters=&maxResults=. See
// geo.EarthRadius for how the distance becomes a search radius.
func (s *Server) handleAPINearest(w http.ResponseWriter, r *http.Request) {
	lat, err := queryFloat(r, "lat")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	lon, err := queryFloat(r, "lon")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	maxDistanceMeters, err := queryFloat(r, "maxDistanceMeters")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	maxResults, err := queryInt(r, "maxResults", defaultNearestResults)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.mgmt.NearestAssignments(r.Context(), lat, lon, maxDistanceMeters, maxResults)
	s.respond(w, r, http.StatusOK, res, err)
}
