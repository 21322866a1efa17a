// Package web exposes device management over REST and streams bus events to
// WebSocket clients.
package web

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"devicetrack/internal/events"
	"devicetrack/internal/management"
	"devicetrack/internal/rules"
)

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithRules sets the rules engine and script manager.
func WithRules(engine *rules.Engine, mgr *rules.Manager) ServerOption {
	return func(s *Server) {
		s.ruleEngine = engine
		s.ruleMgr = mgr
	}
}

// WithMetrics serves h on GET /metrics.
func WithMetrics(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithVersion sets the version string reported by /api/version.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// Server is the HTTP front end.
type Server struct {
	mgmt           management.DeviceManagement
	wsHub          *WSHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	ruleMgr        *rules.Manager
	ruleEngine     *rules.Engine
	metrics        http.Handler
	version        string
	wg             sync.WaitGroup
	unsubEvents    func()
}

// NewServer creates the server and starts its WebSocket hub. Every bus event
// is broadcast to connected clients.
func NewServer(mgmt management.DeviceManagement, bus *events.Bus, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		mgmt:   mgmt,
		logger: logger.With("component", "web"),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	if bus != nil {
		s.unsubEvents = bus.OnAll(func(event events.Event) {
			s.wsHub.Broadcast(event)
		})
	}

	s.routes()
	return s
}

// Stop detaches from the bus and shuts the hub down.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)

	// Sites and zones
	s.mux.HandleFunc("GET /api/sites", s.handleAPIListSites)
	s.mux.HandleFunc("POST /api/sites", s.handleAPICreateSite)
	s.mux.HandleFunc("GET /api/sites/{token}", s.handleAPIGetSite)
	s.mux.HandleFunc("PUT /api/sites/{token}", s.handleAPIUpdateSite)
	s.mux.HandleFunc("DELETE /api/sites/{token}", s.handleAPIDeleteSite)
	s.mux.HandleFunc("GET /api/sites/{token}/zones", s.handleAPIListZones)
	s.mux.HandleFunc("POST /api/sites/{token}/zones", s.handleAPICreateZone)
	s.mux.HandleFunc("GET /api/sites/{token}/assignments", s.handleAPIListSiteAssignments)
	s.mux.HandleFunc("GET /api/sites/{token}/measurements", s.handleAPIListSiteMeasurements)
	s.mux.HandleFunc("GET /api/sites/{token}/locations", s.handleAPIListSiteLocations)
	s.mux.HandleFunc("GET /api/sites/{token}/alerts", s.handleAPIListSiteAlerts)
	s.mux.HandleFunc("GET /api/zones/{token}", s.handleAPIGetZone)
	s.mux.HandleFunc("PUT /api/zones/{token}", s.handleAPIUpdateZone)
	s.mux.HandleFunc("DELETE /api/zones/{token}", s.handleAPIDeleteZone)

	// Devices
	s.mux.HandleFunc("GET /api/devices", s.handleAPIListDevices)
	s.mux.HandleFunc("POST /api/devices", s.handleAPICreateDevice)
	s.mux.HandleFunc("GET /api/devices/{hardwareId}", s.handleAPIGetDevice)
	s.mux.HandleFunc("PUT /api/devices/{hardwareId}", s.handleAPIUpdateDevice)
	s.mux.HandleFunc("DELETE /api/devices/{hardwareId}", s.handleAPIDeleteDevice)
	s.mux.HandleFunc("GET /api/devices/{hardwareId}/assignment", s.handleAPICurrentAssignment)
	s.mux.HandleFunc("GET /api/devices/{hardwareId}/assignments", s.handleAPIAssignmentHistory)

	// Assignments and telemetry
	s.mux.HandleFunc("GET /api/assignments", s.handleAPIListAssignments)
	s.mux.HandleFunc("POST /api/assignments", s.handleAPICreateAssignment)
	s.mux.HandleFunc("GET /api/assignments/nearest", s.handleAPINearest)
	s.mux.HandleFunc("GET /api/assignments/{token}", s.handleAPIGetAssignment)
	s.mux.HandleFunc("DELETE /api/assignments/{token}", s.handleAPIDeleteAssignment)
	s.mux.HandleFunc("POST /api/assignments/{token}/end", s.handleAPIEndAssignment)
	s.mux.HandleFunc("PUT /api/assignments/{token}/metadata", s.handleAPIUpdateAssignmentMetadata)
	s.mux.HandleFunc("POST /api/assignments/{token}/batch", s.handleAPIIngestBatch)
	s.mux.HandleFunc("GET /api/assignments/{token}/measurements", s.handleAPIListMeasurements)
	s.mux.HandleFunc("GET /api/assignments/{token}/locations", s.handleAPIListLocations)
	s.mux.HandleFunc("GET /api/assignments/{token}/alerts", s.handleAPIListAlerts)
	s.mux.HandleFunc("GET /api/assignments/{token}/measurements/series", s.handleAPIMeasurementSeries)
	s.mux.HandleFunc("GET /api/locations", s.handleAPIDeviceLocations)
	s.mux.HandleFunc("POST /api/locations/{id}/alerts/{alertId}", s.handleAPIAssociateAlert)

	// Rules
	s.mux.HandleFunc("GET /api/rules", s.handleAPIListRules)
	s.mux.HandleFunc("POST /api/rules", s.handleAPICreateRule)
	s.mux.HandleFunc("GET /api/rules/{id}", s.handleAPIGetRule)
	s.mux.HandleFunc("PUT /api/rules/{id}", s.handleAPIUpdateRule)
	s.mux.HandleFunc("DELETE /api/rules/{id}", s.handleAPIDeleteRule)
	s.mux.HandleFunc("POST /api/rules/{id}/toggle", s.handleAPIToggleRule)
	s.mux.HandleFunc("POST /api/rules/{id}/run", s.handleAPIRunRule)

	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}

	// WebSocket
	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP applies the origin check and API key before routing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS: check Origin on mutating requests to prevent CSRF.
	if len(s.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if r.Method == http.MethodOptions {
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, X-Actor")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	// Only /api/ is key-protected; browsers cannot set headers on a WS upgrade.
	if s.apiKey != "" && strings.HasPrefix(r.URL.Path, "/api/") {
		key := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}
