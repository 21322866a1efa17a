// Package ingest persists event batches for an assignment and maintains the
// assignment's latest-state snapshot.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"devicetrack/internal/apperr"
	"devicetrack/internal/asset"
	"devicetrack/internal/clock"
	"devicetrack/internal/mapper"
	"devicetrack/internal/model"
	"devicetrack/internal/store"
)

// Aggregator ingests event batches.
type Aggregator struct {
	store  store.Store
	assets asset.Resolver
	clock  clock.Clock
}

// NewAggregator creates an aggregator. assets may be nil, in which case
// events carry no asset name.
func NewAggregator(st store.Store, assets asset.Resolver, clk clock.Clock) *Aggregator {
	return &Aggregator{store: st, assets: assets, clock: clk}
}

// IngestBatch persists every event in batch against the assignment and
// recomputes its state. Event inserts and the state write share one store
// transaction: either all of them commit or none do.
func (a *Aggregator) IngestBatch(ctx context.Context, token string, batch model.DeviceEventBatch) (model.DeviceEventBatchResponse, error) {
	var resp model.DeviceEventBatchResponse
	if err := validateBatch(batch); err != nil {
		return resp, err
	}

	assignment, err := loadAssignment(a.store, token)
	if err != nil {
		return resp, err
	}
	assetName, err := a.resolveAssetName(ctx, assignment)
	if err != nil {
		return resp, err
	}
	if err := ctx.Err(); err != nil {
		return resp, err
	}

	now := a.clock.Now()
	err = a.store.Batch(func(tx store.Ops) error {
		resp = model.DeviceEventBatchResponse{}

		// Re-read inside the transaction so the merge sees the committed state.
		assignment, err := loadAssignment(tx, token)
		if err != nil {
			return err
		}
		base := model.DeviceEvent{
			SiteToken:             assignment.SiteToken,
			DeviceAssignmentToken: assignment.Token,
			AssetName:             assetName,
			ReceivedDate:          now,
		}

		for _, req := range batch.Measurements {
			m := model.DeviceMeasurements{
				DeviceEvent:  event(base, req.EventDate, req.Metadata),
				Measurements: make(map[string]float64, len(req.Measurements)),
			}
			for k, v := range req.Measurements {
				m.Measurements[k] = v
			}
			if m.ID, err = tx.Insert(store.CollMeasurements, mapper.MeasurementsToDocument(m)); err != nil {
				return fmt.Errorf("insert measurements: %w", err)
			}
			resp.CreatedMeasurements = append(resp.CreatedMeasurements, m)
		}

		for _, req := range batch.Locations {
			l := model.DeviceLocation{
				DeviceEvent: event(base, req.EventDate, req.Metadata),
				Latitude:    req.Latitude,
				Longitude:   req.Longitude,
				Elevation:   req.Elevation,
			}
			if l.ID, err = tx.Insert(store.CollLocations, mapper.LocationToDocument(l)); err != nil {
				return fmt.Errorf("insert location: %w", err)
			}
			resp.CreatedLocations = append(resp.CreatedLocations, l)
		}

		for _, req := range batch.Alerts {
			al := model.DeviceAlert{
				DeviceEvent: event(base, req.EventDate, req.Metadata),
				Source:      req.Source,
				Type:        req.Type,
				Message:     req.Message,
				Level:       req.Level,
			}
			if al.Source == "" {
				al.Source = model.SourceDevice
			}
			if al.Level == "" {
				al.Level = model.LevelInfo
			}
			if al.ID, err = tx.Insert(store.CollAlerts, mapper.AlertToDocument(al)); err != nil {
				return fmt.Errorf("insert alert: %w", err)
			}
			resp.CreatedAlerts = append(resp.CreatedAlerts, al)
		}

		assignment.State = MergeState(assignment.State,
			resp.CreatedMeasurements, resp.CreatedLocations, resp.CreatedAlerts)
		if err := tx.Update(store.CollAssignments, token, mapper.AssignmentToDocument(assignment)); err != nil {
			return fmt.Errorf("update assignment state: %w", err)
		}
		resp.State = assignment.State
		return nil
	})
	if err != nil {
		return model.DeviceEventBatchResponse{}, err
	}
	return resp, nil
}

// event stamps a new event from the assignment's shared fields. A zero
// event date means the reading was taken on receipt.
func event(base model.DeviceEvent, eventDate time.Time, meta model.Metadata) model.DeviceEvent {
	e := base
	e.EventDate = eventDate.UTC().Truncate(time.Millisecond)
	if eventDate.IsZero() {
		e.EventDate = base.ReceivedDate
	}
	e.Metadata = meta.Clone()
	return e
}

func loadAssignment(ops store.Ops, token string) (model.DeviceAssignment, error) {
	doc, err := ops.Get(store.CollAssignments, token)
	if errors.Is(err, store.ErrNotFound) {
		return model.DeviceAssignment{}, apperr.NotFound(apperr.InvalidDeviceAssignmentToken,
			"device assignment %q not found", token)
	}
	if err != nil {
		return model.DeviceAssignment{}, err
	}
	return mapper.AssignmentFromDocument(doc)
}

func (a *Aggregator) resolveAssetName(ctx context.Context, da model.DeviceAssignment) (*string, error) {
	if a.assets == nil || da.AssetID == "" {
		return nil, nil
	}
	name, ok, err := a.assets.ResolveDisplayName(ctx, da.AssetType, da.AssetID)
	if err != nil {
		return nil, fmt.Errorf("resolve asset %s/%s: %w", da.AssetType, da.AssetID, err)
	}
	if !ok {
		return nil, nil
	}
	return &name, nil
}

func validateBatch(batch model.DeviceEventBatch) error {
	for i, m := range batch.Measurements {
		for name, v := range m.Measurements {
			if !finite(v) {
				return apperr.Validation(apperr.InvalidRequest,
					"measurements %d: %q has non-finite value %g", i, name, v)
			}
		}
	}
	for i, l := range batch.Locations {
		if !finite(l.Latitude) || !finite(l.Longitude) || (l.Elevation != nil && !finite(*l.Elevation)) {
			return apperr.Validation(apperr.InvalidRequest, "location %d: non-finite coordinate", i)
		}
		if l.Latitude < -90 || l.Latitude > 90 || l.Longitude < -180 || l.Longitude > 180 {
			return apperr.Validation(apperr.InvalidRequest,
				"location %d: coordinates (%g, %g) out of range", i, l.Latitude, l.Longitude)
		}
	}
	for i, al := range batch.Alerts {
		if al.Type == "" {
			return apperr.Validation(apperr.InvalidRequest, "alert %d: type is required", i)
		}
		if al.Level != "" {
			if _, err := model.ParseAlertLevel(string(al.Level)); err != nil {
				return apperr.Validation(apperr.InvalidRequest, "alert %d: %v", i, err)
			}
		}
		if al.Source != "" {
			if _, err := model.ParseAlertSource(string(al.Source)); err != nil {
				return apperr.Validation(apperr.InvalidRequest, "alert %d: %v", i, err)
			}
		}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
