// Package management is the entity lifecycle layer: CRUD and referential
// integrity for sites, zones, devices, and assignments, plus the event and
// geo queries exposed to transports through DeviceManagement.
package management

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"devicetrack/internal/apperr"
	"devicetrack/internal/asset"
	"devicetrack/internal/clock"
	"devicetrack/internal/events"
	"devicetrack/internal/ingest"
	"devicetrack/internal/model"
	"devicetrack/internal/store"
)

// DeviceManagement is the API transports call. Every mutating call takes the
// acting identity explicitly; it is stamped into createdBy/updatedBy.
type DeviceManagement interface {
	CreateSite(ctx context.Context, actor string, req model.SiteCreateRequest) (model.Site, error)
	GetSite(ctx context.Context, token string) (model.Site, error)
	UpdateSite(ctx context.Context, actor, token string, req model.SiteCreateRequest) (model.Site, error)
	DeleteSite(ctx context.Context, actor, token string, force bool) (model.Site, error)
	ListSites(ctx context.Context, criteria model.SearchCriteria) (model.SearchResults[model.Site], error)

	CreateZone(ctx context.Context, actor, siteToken string, req model.ZoneCreateRequest) (model.Zone, error)
	GetZone(ctx context.Context, token string) (model.Zone, error)
	UpdateZone(ctx context.Context, actor, token string, req model.ZoneCreateRequest) (model.Zone, error)
	DeleteZone(ctx context.Context, actor, token string, force bool) (model.Zone, error)
	ListZones(ctx context.Context, siteToken string, criteria model.SearchCriteria) (model.SearchResults[model.Zone], error)

	CreateDevice(ctx context.Context, actor string, req model.DeviceCreateRequest) (model.Device, error)
	GetDeviceByHardwareID(ctx context.Context, hardwareID string) (model.Device, error)
	UpdateDevice(ctx context.Context, actor, hardwareID string, req model.DeviceCreateRequest) (model.Device, error)
	DeleteDevice(ctx context.Context, actor, hardwareID string, force bool) (model.Device, error)
	ListDevices(ctx context.Context, criteria model.SearchCriteria) (model.SearchResults[model.Device], error)
	ListUnassignedDevices(ctx context.Context, criteria model.SearchCriteria) (model.SearchResults[model.Device], error)
	GetCurrentDeviceAssignment(ctx context.Context, hardwareID string) (*model.DeviceAssignment, error)

	CreateDeviceAssignment(ctx context.Context, actor string, req model.DeviceAssignmentCreateRequest) (model.DeviceAssignment, error)
	GetDeviceAssignment(ctx context.Context, token string) (model.DeviceAssignment, error)
	EndDeviceAssignment(ctx context.Context, actor, token string) (model.DeviceAssignment, error)
	DeleteDeviceAssignment(ctx context.Context, actor, token string, force bool) (model.DeviceAssignment, error)
	UpdateDeviceAssignmentMetadata(ctx context.Context, actor, token string, metadata model.Metadata) (model.DeviceAssignment, error)
	ListDeviceAssignments(ctx context.Context, criteria model.SearchCriteria) (model.SearchResults[model.DeviceAssignment], error)
	ListDeviceAssignmentsForSite(ctx context.Context, siteToken string, criteria model.SearchCriteria) (model.SearchResults[model.DeviceAssignment], error)
	GetDeviceAssignmentHistory(ctx context.Context, hardwareID string, criteria model.SearchCriteria) (model.SearchResults[model.DeviceAssignment], error)

	IngestEventBatch(ctx context.Context, assignmentToken string, batch model.DeviceEventBatch) (model.DeviceEventBatchResponse, error)
	ListMeasurements(ctx context.Context, assignmentToken string, criteria model.DateRangeSearchCriteria) (model.SearchResults[model.DeviceMeasurements], error)
	ListLocations(ctx context.Context, assignmentToken string, criteria model.DateRangeSearchCriteria) (model.SearchResults[model.DeviceLocation], error)
	ListAlerts(ctx context.Context, assignmentToken string, criteria model.DateRangeSearchCriteria) (model.SearchResults[model.DeviceAlert], error)
	ListMeasurementsForSite(ctx context.Context, siteToken string, criteria model.DateRangeSearchCriteria) (model.SearchResults[model.DeviceMeasurements], error)
	ListLocationsForSite(ctx context.Context, siteToken string, criteria model.DateRangeSearchCriteria) (model.SearchResults[model.DeviceLocation], error)
	ListAlertsForSite(ctx context.Context, siteToken string, criteria model.DateRangeSearchCriteria) (model.SearchResults[model.DeviceAlert], error)
	ListMeasurementSeries(ctx context.Context, assignmentToken string, criteria model.DateRangeSearchCriteria) ([]model.MeasurementSeries, error)
	ListDeviceLocations(ctx context.Context, assignmentTokens []string, start, end time.Time) ([]model.DeviceLocation, error)
	AssociateAlertWithLocation(ctx context.Context, alertID, locationID string) (model.DeviceLocation, error)
	NearestAssignments(ctx context.Context, lat, lon, maxDistanceMeters float64, maxResults int) ([]model.DeviceAssignment, error)
}

// Manager implements DeviceManagement over a document store.
type Manager struct {
	store  store.Store
	agg    *ingest.Aggregator
	clock  clock.Clock
	bus    *events.Bus
	logger *slog.Logger
}

var _ DeviceManagement = (*Manager)(nil)

// New creates a manager. assets and bus may be nil.
func New(st store.Store, assets asset.Resolver, clk clock.Clock, bus *events.Bus, logger *slog.Logger) *Manager {
	return &Manager{
		store:  st,
		agg:    ingest.NewAggregator(st, assets, clk),
		clock:  clk,
		bus:    bus,
		logger: logger.With("component", "management"),
	}
}

func newToken() string {
	return uuid.NewString()
}

// load fetches a document and maps a missing key to a not-found error with
// the given code.
func load[T any](ops store.Ops, coll, key string, code apperr.Code,
	decode func(store.Document) (T, error)) (T, error) {

	var zero T
	doc, err := ops.Get(coll, key)
	if errors.Is(err, store.ErrNotFound) {
		return zero, apperr.NotFound(code, "%s %q not found", singular(coll), key)
	}
	if err != nil {
		return zero, err
	}
	return decode(doc)
}

// search runs a paged query and decodes every result. Unless criteria asks
// for deleted records, a deleted == false term is added.
func search[T any](ops store.Ops, coll string, filter store.Filter, srt store.Sort,
	criteria model.SearchCriteria, decode func(store.Document) (T, error)) (model.SearchResults[T], error) {

	if !criteria.IncludeDeleted {
		filter = append(filter, store.NotDeleted())
	}
	docs, total, err := ops.Search(coll, filter, srt, criteria.Page, criteria.PageSize)
	if err != nil {
		return model.SearchResults[T]{}, err
	}
	out := model.SearchResults[T]{Results: make([]T, 0, len(docs)), NumResults: total}
	for _, doc := range docs {
		v, err := decode(doc)
		if err != nil {
			return model.SearchResults[T]{}, fmt.Errorf("decode %s %s: %w", coll, doc.Key(), err)
		}
		out.Results = append(out.Results, v)
	}
	return out, nil
}

func singular(coll string) string {
	switch coll {
	case store.CollSites:
		return "site"
	case store.CollZones:
		return "zone"
	case store.CollDevices:
		return "device"
	case store.CollAssignments:
		return "device assignment"
	case store.CollLocations:
		return "location"
	case store.CollAlerts:
		return "alert"
	}
	return coll
}

func (m *Manager) emit(eventType string, data any) {
	m.bus.Emit(events.Event{Type: eventType, Data: data})
}
