package management

import (
	"context"
	"slices"
	"sort"
	"time"

	"devicetrack/internal/apperr"
	"devicetrack/internal/events"
	"devicetrack/internal/geo"
	"devicetrack/internal/mapper"
	"devicetrack/internal/model"
	"devicetrack/internal/store"
)

// IngestEventBatch persists a batch of events for an assignment and returns
// the events with the recomputed state.
func (m *Manager) IngestEventBatch(ctx context.Context, assignmentToken string, batch model.DeviceEventBatch) (model.DeviceEventBatchResponse, error) {
	resp, err := m.agg.IngestBatch(ctx, assignmentToken, batch)
	if err != nil {
		return resp, err
	}
	m.logger.Debug("batch ingested", "assignment", assignmentToken,
		"measurements", len(resp.CreatedMeasurements),
		"locations", len(resp.CreatedLocations),
		"alerts", len(resp.CreatedAlerts))
	m.emit(events.BatchIngested, events.Batch{AssignmentToken: assignmentToken, Response: resp})
	m.emit(events.StateUpdated, events.State{
		AssignmentToken: assignmentToken,
		Active:          m.isActive(assignmentToken),
		State:           resp.State,
	})
	return resp, nil
}

// isActive reports whether the assignment is Active and not deleted. It is
// read after the batch commits; Released is terminal, so a later read can
// only be more accurate.
func (m *Manager) isActive(token string) bool {
	a, err := load(m.store, store.CollAssignments, token, apperr.InvalidDeviceAssignmentToken, mapper.AssignmentFromDocument)
	if err != nil {
		m.logger.Debug("assignment status after ingest", "assignment", token, "err", err)
		return false
	}
	return a.Status == model.StatusActive && !a.Deleted
}

// eventQuery filters one event collection by owner and event date, newest
// first.
func eventQuery[T any](ops store.Ops, coll, ownerField, owner string, criteria model.DateRangeSearchCriteria,
	decode func(store.Document) (T, error)) (model.SearchResults[T], error) {

	filter := store.Filter{store.Eq(ownerField, owner)}
	filter = append(filter, store.DateRange(mapper.FieldEventDate, criteria.StartDate, criteria.EndDate)...)
	// Events are never soft-deleted.
	criteria.IncludeDeleted = true
	return search(ops, coll, filter, store.Sort{Field: mapper.FieldEventDate, Desc: true},
		criteria.SearchCriteria, decode)
}

func (m *Manager) ListMeasurements(_ context.Context, assignmentToken string, criteria model.DateRangeSearchCriteria) (model.SearchResults[model.DeviceMeasurements], error) {
	return eventQuery(m.store, store.CollMeasurements, mapper.FieldDeviceAssignmentToken, assignmentToken,
		criteria, mapper.MeasurementsFromDocument)
}

func (m *Manager) ListLocations(_ context.Context, assignmentToken string, criteria model.DateRangeSearchCriteria) (model.SearchResults[model.DeviceLocation], error) {
	return eventQuery(m.store, store.CollLocations, mapper.FieldDeviceAssignmentToken, assignmentToken,
		criteria, mapper.LocationFromDocument)
}

func (m *Manager) ListAlerts(_ context.Context, assignmentToken string, criteria model.DateRangeSearchCriteria) (model.SearchResults[model.DeviceAlert], error) {
	return eventQuery(m.store, store.CollAlerts, mapper.FieldDeviceAssignmentToken, assignmentToken,
		criteria, mapper.AlertFromDocument)
}

func (m *Manager) ListMeasurementsForSite(_ context.Context, siteToken string, criteria model.DateRangeSearchCriteria) (model.SearchResults[model.DeviceMeasurements], error) {
	return eventQuery(m.store, store.CollMeasurements, mapper.FieldSiteToken, siteToken,
		criteria, mapper.MeasurementsFromDocument)
}

func (m *Manager) ListLocationsForSite(_ context.Context, siteToken string, criteria model.DateRangeSearchCriteria) (model.SearchResults[model.DeviceLocation], error) {
	return eventQuery(m.store, store.CollLocations, mapper.FieldSiteToken, siteToken,
		criteria, mapper.LocationFromDocument)
}

func (m *Manager) ListAlertsForSite(_ context.Context, siteToken string, criteria model.DateRangeSearchCriteria) (model.SearchResults[model.DeviceAlert], error) {
	return eventQuery(m.store, store.CollAlerts, mapper.FieldSiteToken, siteToken,
		criteria, mapper.AlertFromDocument)
}

// ListDeviceLocations lists the locations of several assignments recorded
// between start and end inclusive, newest first.
func (m *Manager) ListDeviceLocations(_ context.Context, assignmentTokens []string, start, end time.Time) ([]model.DeviceLocation, error) {
	if end.Before(start) {
		return nil, apperr.Validation(apperr.InvalidRequest, "end date %s is before start date %s",
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	if len(assignmentTokens) == 0 {
		return []model.DeviceLocation{}, nil
	}
	tokens := make([]any, 0, len(assignmentTokens))
	for _, t := range assignmentTokens {
		tokens = append(tokens, t)
	}
	filter := store.Filter{store.In(mapper.FieldDeviceAssignmentToken, tokens...)}
	filter = append(filter, store.DateRange(mapper.FieldEventDate, &start, &end)...)
	res, err := search(m.store, store.CollLocations, filter, store.Sort{Field: mapper.FieldEventDate, Desc: true},
		model.SearchCriteria{IncludeDeleted: true}, mapper.LocationFromDocument)
	if err != nil {
		return nil, err
	}
	return res.Results, nil
}

// AssociateAlertWithLocation records alertID on the location event. Adding
// an alert that is already referenced is a no-op.
func (m *Manager) AssociateAlertWithLocation(_ context.Context, alertID, locationID string) (model.DeviceLocation, error) {
	var l model.DeviceLocation
	err := m.store.Batch(func(tx store.Ops) error {
		var err error
		l, err = load(tx, store.CollLocations, locationID, apperr.InvalidEventID, mapper.LocationFromDocument)
		if err != nil {
			return err
		}
		if _, err := load(tx, store.CollAlerts, alertID, apperr.InvalidEventID, mapper.AlertFromDocument); err != nil {
			return err
		}
		if slices.Contains(l.AlertIDs, alertID) {
			return nil
		}
		l.AlertIDs = append(l.AlertIDs, alertID)
		return tx.Update(store.CollLocations, locationID, mapper.LocationToDocument(l))
	})
	if err != nil {
		return model.DeviceLocation{}, err
	}
	m.logger.Debug("alert associated with location", "alert", alertID, "location", locationID)
	return l, nil
}

// ListMeasurementSeries groups an assignment's measurements into one time
// series per measurement name.
func (m *Manager) ListMeasurementSeries(ctx context.Context, assignmentToken string, criteria model.DateRangeSearchCriteria) ([]model.MeasurementSeries, error) {
	res, err := m.ListMeasurements(ctx, assignmentToken, criteria)
	if err != nil {
		return nil, err
	}
	return BuildMeasurementSeries(res.Results), nil
}

// BuildMeasurementSeries splits measurement events into per-name series.
// Entries are ordered by event date; series are ordered by name.
func BuildMeasurementSeries(matches []model.DeviceMeasurements) []model.MeasurementSeries {
	byName := make(map[string]*model.MeasurementSeries)
	for _, mx := range matches {
		for name, v := range mx.Measurements {
			s, ok := byName[name]
			if !ok {
				s = &model.MeasurementSeries{MeasurementID: name}
				byName[name] = s
			}
			s.Entries = append(s.Entries, model.SeriesEntry{Value: v, MeasurementDate: mx.EventDate})
		}
	}
	out := make([]model.MeasurementSeries, 0, len(byName))
	for _, s := range byName {
		sort.SliceStable(s.Entries, func(i, j int) bool {
			return s.Entries[i].MeasurementDate.Before(s.Entries[j].MeasurementDate)
		})
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MeasurementID < out[j].MeasurementID })
	return out
}

// NearestAssignments lists assignments whose last location lies inside the
// search radius derived from maxDistanceMeters (see geo.EarthRadius),
// closest first.
func (m *Manager) NearestAssignments(_ context.Context, lat, lon, maxDistanceMeters float64, maxResults int) ([]model.DeviceAssignment, error) {
	return geo.Nearest(m.store, lat, lon, maxDistanceMeters, maxResults)
}
