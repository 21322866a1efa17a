// Package metrics counts and times every DeviceManagement call.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"devicetrack/internal/apperr"
	"devicetrack/internal/management"
	"devicetrack/internal/model"
)

const namespace = "devicetrack"

// Outcome label for calls that returned no error.
const outcomeOK = "ok"

// Instrumented wraps a DeviceManagement and records a call counter and a
// latency histogram per operation, labelled by outcome (ok or error kind).
type Instrumented struct {
	next     management.DeviceManagement
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	ingested *prometheus.CounterVec
}

var _ management.DeviceManagement = (*Instrumented)(nil)

// New registers the collectors on reg and wraps next.
func New(next management.DeviceManagement, reg prometheus.Registerer) *Instrumented {
	f := promauto.With(reg)
	return &Instrumented{
		next: next,
		calls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "management",
				Name:      "calls_total",
				Help:      "Total number of device management calls by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "management",
				Name:      "call_duration_seconds",
				Help:      "Duration of device management calls in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op", "outcome"},
		),
		ingested: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "events_total",
				Help:      "Total number of persisted device events by type",
			},
			[]string{"type"},
		),
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	if err == nil {
		return outcomeOK
	}
	if k := apperr.KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}

func observe[T any](i *Instrumented, op string, fn func() (T, error)) (T, error) {
	start := time.Now()
	v, err := fn()
	o := outcome(err)
	i.calls.WithLabelValues(op, o).Inc()
	i.duration.WithLabelValues(op, o).Observe(time.Since(start).Seconds())
	return v, err
}

func (i *Instrumented) CreateSite(ctx context.Context, actor string, req model.SiteCreateRequest) (model.Site, error) {
	return observe(i, "create_site", func() (model.Site, error) { return i.next.CreateSite(ctx, actor, req) })
}

func (i *Instrumented) GetSite(ctx context.Context, token string) (model.Site, error) {
	return observe(i, "get_site", func() (model.Site, error) { return i.next.GetSite(ctx, token) })
}

func (i *Instrumented) UpdateSite(ctx context.Context, actor, token string, req model.SiteCreateRequest) (model.Site, error) {
	return observe(i, "update_site", func() (model.Site, error) { return i.next.UpdateSite(ctx, actor, token, req) })
}

func (i *Instrumented) DeleteSite(ctx context.Context, actor, token string, force bool) (model.Site, error) {
	return observe(i, "delete_site", func() (model.Site, error) { return i.next.DeleteSite(ctx, actor, token, force) })
}

func (i *Instrumented) ListSites(ctx context.Context, c model.SearchCriteria) (model.SearchResults[model.Site], error) {
	return observe(i, "list_sites", func() (model.SearchResults[model.Site], error) { return i.next.ListSites(ctx, c) })
}

func (i *Instrumented) CreateZone(ctx context.Context, actor, siteToken string, req model.ZoneCreateRequest) (model.Zone, error) {
	return observe(i, "create_zone", func() (model.Zone, error) { return i.next.CreateZone(ctx, actor, siteToken, req) })
}

func (i *Instrumented) GetZone(ctx context.Context, token string) (model.Zone, error) {
	return observe(i, "get_zone", func() (model.Zone, error) { return i.next.GetZone(ctx, token) })
}

func (i *Instrumented) UpdateZone(ctx context.Context, actor, token string, req model.ZoneCreateRequest) (model.Zone, error) {
	return observe(i, "update_zone", func() (model.Zone, error) { return i.next.UpdateZone(ctx, actor, token, req) })
}

func (i *Instrumented) DeleteZone(ctx context.Context, actor, token string, force bool) (model.Zone, error) {
	return observe(i, "delete_zone", func() (model.Zone, error) { return i.next.DeleteZone(ctx, actor, token, force) })
}

func (i *Instrumented) ListZones(ctx context.Context, siteToken string, c model.SearchCriteria) (model.SearchResults[model.Zone], error) {
	return observe(i, "list_zones", func() (model.SearchResults[model.Zone], error) { return i.next.ListZones(ctx, siteToken, c) })
}

func (i *Instrumented) CreateDevice(ctx context.Context, actor string, req model.DeviceCreateRequest) (model.Device, error) {
	return observe(i, "create_device", func() (model.Device, error) { return i.next.CreateDevice(ctx, actor, req) })
}

func (i *Instrumented) GetDeviceByHardwareID(ctx context.Context, hardwareID string) (model.Device, error) {
	return observe(i, "get_device", func() (model.Device, error) { return i.next.GetDeviceByHardwareID(ctx, hardwareID) })
}

func (i *Instrumented) UpdateDevice(ctx context.Context, actor, hardwareID string, req model.DeviceCreateRequest) (model.Device, error) {
	return observe(i, "update_device", func() (model.Device, error) { return i.next.UpdateDevice(ctx, actor, hardwareID, req) })
}

func (i *Instrumented) DeleteDevice(ctx context.Context, actor, hardwareID string, force bool) (model.Device, error) {
	return observe(i, "delete_device", func() (model.Device, error) { return i.next.DeleteDevice(ctx, actor, hardwareID, force) })
}

func (i *Instrumented) ListDevices(ctx context.Context, c model.SearchCriteria) (model.SearchResults[model.Device], error) {
	return observe(i, "list_devices", func() (model.SearchResults[model.Device], error) { return i.next.ListDevices(ctx, c) })
}

func (i *Instrumented) ListUnassignedDevices(ctx context.Context, c model.SearchCriteria) (model.SearchResults[model.Device], error) {
	return observe(i, "list_unassigned_devices", func() (model.SearchResults[model.Device], error) {
		return i.next.ListUnassignedDevices(ctx, c)
	})
}

func (i *Instrumented) GetCurrentDeviceAssignment(ctx context.Context, hardwareID string) (*model.DeviceAssignment, error) {
	return observe(i, "get_current_device_assignment", func() (*model.DeviceAssignment, error) {
		return i.next.GetCurrentDeviceAssignment(ctx, hardwareID)
	})
}

func (i *Instrumented) CreateDeviceAssignment(ctx context.Context, actor string, req model.DeviceAssignmentCreateRequest) (model.DeviceAssignment, error) {
	return observe(i, "create_device_assignment", func() (model.DeviceAssignment, error) {
		return i.next.CreateDeviceAssignment(ctx, actor, req)
	})
}

func (i *Instrumented) GetDeviceAssignment(ctx context.Context, token string) (model.DeviceAssignment, error) {
	return observe(i, "get_device_assignment", func() (model.DeviceAssignment, error) {
		return i.next.GetDeviceAssignment(ctx, token)
	})
}

func (i *Instrumented) EndDeviceAssignment(ctx context.Context, actor, token string) (model.DeviceAssignment, error) {
	return observe(i, "end_device_assignment", func() (model.DeviceAssignment, error) {
		return i.next.EndDeviceAssignment(ctx, actor, token)
	})
}

func (i *Instrumented) DeleteDeviceAssignment(ctx context.Context, actor, token string, force bool) (model.DeviceAssignment, error) {
	return observe(i, "delete_device_assignment", func() (model.DeviceAssignment, error) {
		return i.next.DeleteDeviceAssignment(ctx, actor, token, force)
	})
}

func (i *Instrumented) UpdateDeviceAssignmentMetadata(ctx context.Context, actor, token string, metadata model.Metadata) (model.DeviceAssignment, error) {
	return observe(i, "update_device_assignment_metadata", func() (model.DeviceAssignment, error) {
		return i.next.UpdateDeviceAssignmentMetadata(ctx, actor, token, metadata)
	})
}

func (i *Instrumented) ListDeviceAssignments(ctx context.Context, c model.SearchCriteria) (model.SearchResults[model.DeviceAssignment], error) {
	return observe(i, "list_device_assignments", func() (model.SearchResults[model.DeviceAssignment], error) {
		return i.next.ListDeviceAssignments(ctx, c)
	})
}

func (i *Instrumented) ListDeviceAssignmentsForSite(ctx context.Context, siteToken string, c model.SearchCriteria) (model.SearchResults[model.DeviceAssignment], error) {
	return observe(i, "list_device_assignments_for_site", func() (model.SearchResults[model.DeviceAssignment], error) {
		return i.next.ListDeviceAssignmentsForSite(ctx, siteToken, c)
	})
}

func (i *Instrumented) GetDeviceAssignmentHistory(ctx context.Context, hardwareID string, c model.SearchCriteria) (model.SearchResults[model.DeviceAssignment], error) {
	return observe(i, "get_device_assignment_history", func() (model.SearchResults[model.DeviceAssignment], error) {
		return i.next.GetDeviceAssignmentHistory(ctx, hardwareID, c)
	})
}

// IngestEventBatch also counts the persisted events by type.
func (i *Instrumented) IngestEventBatch(ctx context.Context, token string, batch model.DeviceEventBatch) (model.DeviceEventBatchResponse, error) {
	resp, err := observe(i, "ingest_event_batch", func() (model.DeviceEventBatchResponse, error) {
		return i.next.IngestEventBatch(ctx, token, batch)
	})
	if err == nil {
		i.ingested.WithLabelValues("measurements").Add(float64(len(resp.CreatedMeasurements)))
		i.ingested.WithLabelValues("location").Add(float64(len(resp.CreatedLocations)))
		i.ingested.WithLabelValues("alert").Add(float64(len(resp.CreatedAlerts)))
	}
	return resp, err
}

func (i *Instrumented) ListMeasurements(ctx context.Context, token string, c model.DateRangeSearchCriteria) (model.SearchResults[model.DeviceMeasurements], error) {
	return observe(i, "list_measurements", func() (model.SearchResults[model.DeviceMeasurements], error) {
		return i.next.ListMeasurements(ctx, token, c)
	})
}

func (i *Instrumented) ListLocations(ctx context.Context, token string, c model.DateRangeSearchCriteria) (model.SearchResults[model.DeviceLocation], error) {
	return observe(i, "list_locations", func() (model.SearchResults[model.DeviceLocation], error) {
		return i.next.ListLocations(ctx, token, c)
	})
}

func (i *Instrumented) ListAlerts(ctx context.Context, token string, c model.DateRangeSearchCriteria) (model.SearchResults[model.DeviceAlert], error) {
	return observe(i, "list_alerts", func() (model.SearchResults[model.DeviceAlert], error) {
		return i.next.ListAlerts(ctx, token, c)
	})
}

func (i *Instrumented) ListMeasurementsForSite(ctx context.Context, siteToken string, c model.DateRangeSearchCriteria) (model.SearchResults[model.DeviceMeasurements], error) {
	return observe(i, "list_measurements_for_site", func() (model.SearchResults[model.DeviceMeasurements], error) {
		return i.next.ListMeasurementsForSite(ctx, siteToken, c)
	})
}

func (i *Instrumented) ListLocationsForSite(ctx context.Context, siteToken string, c model.DateRangeSearchCriteria) (model.SearchResults[model.DeviceLocation], error) {
	return observe(i, "list_locations_for_site", func() (model.SearchResults[model.DeviceLocation], error) {
		return i.next.ListLocationsForSite(ctx, siteToken, c)
	})
}

func (i *Instrumented) ListAlertsForSite(ctx context.Context, siteToken string, c model.DateRangeSearchCriteria) (model.SearchResults[model.DeviceAlert], error) {
	return observe(i, "list_alerts_for_site", func() (model.SearchResults[model.DeviceAlert], error) {
		return i.next.ListAlertsForSite(ctx, siteToken, c)
	})
}

func (i *Instrumented) ListMeasurementSeries(ctx context.Context, assignmentToken string, c model.DateRangeSearchCriteria) ([]model.MeasurementSeries, error) {
	return observe(i, "list_measurement_series", func() ([]model.MeasurementSeries, error) {
		return i.next.ListMeasurementSeries(ctx, assignmentToken, c)
	})
}

func (i *Instrumented) ListDeviceLocations(ctx context.Context, assignmentTokens []string, start, end time.Time) ([]model.DeviceLocation, error) {
	return observe(i, "list_device_locations", func() ([]model.DeviceLocation, error) {
		return i.next.ListDeviceLocations(ctx, assignmentTokens, start, end)
	})
}

func (i *Instrumented) AssociateAlertWithLocation(ctx context.Context, alertID, locationID string) (model.DeviceLocation, error) {
	return observe(i, "associate_alert_with_location", func() (model.DeviceLocation, error) {
		return i.next.AssociateAlertWithLocation(ctx, alertID, locationID)
	})
}

func (i *Instrumented) NearestAssignments(ctx context.Context, lat, lon, maxDistanceMeters float64, maxResults int) ([]model.DeviceAssignment, error) {
	return observe(i, "nearest_assignments", func() ([]model.DeviceAssignment, error) {
		return i.next.NearestAssignments(ctx, lat, lon, maxDistanceMeters, maxResults)
	})
}
