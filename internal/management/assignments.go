package management

import (
	"context"
	"errors"
	"time"

	"devicetrack/internal/apperr"
	"devicetrack/internal/events"
	"devicetrack/internal/mapper"
	"devicetrack/internal/model"
	"devicetrack/internal/store"
)

// CreateDeviceAssignment binds a device to an asset at a site. The device
// must exist and be unassigned; on success it points back at the new
// assignment. The checks and both writes run in one transaction.
func (m *Manager) CreateDeviceAssignment(_ context.Context, actor string, req model.DeviceAssignmentCreateRequest) (model.DeviceAssignment, error) {
	assetType := req.AssetType
	if assetType == "" {
		assetType = model.AssetHardware
	}
	if _, err := model.ParseAssetType(string(assetType)); err != nil {
		return model.DeviceAssignment{}, apperr.Validation(apperr.InvalidRequest, "%v", err)
	}

	now := m.clock.Now()
	a := model.DeviceAssignment{
		Token:            newToken(),
		SiteToken:        req.SiteToken,
		DeviceHardwareID: req.DeviceHardwareID,
		AssetType:        assetType,
		AssetID:          req.AssetID,
		Status:           model.StatusActive,
		ActiveDate:       now,
		State: model.AssignmentState{
			LatestMeasurements: map[string]model.LatestMeasurement{},
			LatestAlerts:       map[string]model.LatestAlert{},
		},
	}
	a.Stamp(actor, now)
	a.Metadata = req.Metadata.Clone()

	err := m.store.Batch(func(tx store.Ops) error {
		if _, err := load(tx, store.CollSites, req.SiteToken, apperr.InvalidSiteToken, mapper.SiteFromDocument); err != nil {
			return err
		}
		dev, err := load(tx, store.CollDevices, req.DeviceHardwareID, apperr.InvalidHardwareID, mapper.DeviceFromDocument)
		if err != nil {
			return err
		}
		if dev.AssignmentToken != "" {
			return apperr.Conflict(apperr.DeviceAlreadyAssigned,
				"device %q is already assigned to %q", dev.HardwareID, dev.AssignmentToken)
		}
		if _, err := tx.Insert(store.CollAssignments, mapper.AssignmentToDocument(a)); err != nil {
			return err
		}
		dev.AssignmentToken = a.Token
		return tx.Update(store.CollDevices, dev.HardwareID, mapper.DeviceToDocument(dev))
	})
	if err != nil {
		return model.DeviceAssignment{}, err
	}
	m.logger.Info("assignment created", "token", a.Token, "device", a.DeviceHardwareID,
		"site", a.SiteToken, "asset", a.AssetID, "actor", actor)
	m.emit(events.AssignmentCreated, a)
	return a, nil
}

func (m *Manager) GetDeviceAssignment(_ context.Context, token string) (model.DeviceAssignment, error) {
	return load(m.store, store.CollAssignments, token, apperr.InvalidDeviceAssignmentToken, mapper.AssignmentFromDocument)
}

// EndDeviceAssignment releases an active assignment and frees its device.
// Releasing twice is an InvalidAssignmentState conflict.
func (m *Manager) EndDeviceAssignment(_ context.Context, actor, token string) (model.DeviceAssignment, error) {
	var a model.DeviceAssignment
	err := m.store.Batch(func(tx store.Ops) error {
		var err error
		a, err = load(tx, store.CollAssignments, token, apperr.InvalidDeviceAssignmentToken, mapper.AssignmentFromDocument)
		if err != nil {
			return err
		}
		if a.Status != model.StatusActive {
			return apperr.Conflict(apperr.InvalidAssignmentState,
				"device assignment %q is %s", token, a.Status)
		}
		now := m.clock.Now()
		a.Status = model.StatusReleased
		a.ReleasedDate = &now
		a.Touch(actor, now)
		if err := tx.Update(store.CollAssignments, token, mapper.AssignmentToDocument(a)); err != nil {
			return err
		}
		return m.releaseDevice(tx, a, actor, now)
	})
	if err != nil {
		return model.DeviceAssignment{}, err
	}
	m.logger.Info("assignment released", "token", token, "device", a.DeviceHardwareID, "actor", actor)
	m.emit(events.AssignmentReleased, a)
	return a, nil
}

// DeleteDeviceAssignment soft-deletes an assignment, or removes it when force
// is set. Either way the device no longer points at it.
func (m *Manager) DeleteDeviceAssignment(_ context.Context, actor, token string, force bool) (model.DeviceAssignment, error) {
	var a model.DeviceAssignment
	err := m.store.Batch(func(tx store.Ops) error {
		var err error
		a, err = load(tx, store.CollAssignments, token, apperr.InvalidDeviceAssignmentToken, mapper.AssignmentFromDocument)
		if err != nil {
			return err
		}
		if err := deleteDoc(tx, store.CollAssignments, mapper.AssignmentToDocument(a), force, &a.Deleted); err != nil {
			return err
		}
		return m.releaseDevice(tx, a, actor, m.clock.Now())
	})
	if err != nil {
		return model.DeviceAssignment{}, err
	}
	m.logger.Info("assignment deleted", "token", token, "force", force, "actor", actor)
	m.emit(events.AssignmentDeleted, events.Deleted{Token: token, Force: force})
	return a, nil
}

// releaseDevice clears the device's back-reference if it still points at a.
// A device removed in the meantime is tolerated.
func (m *Manager) releaseDevice(tx store.Ops, a model.DeviceAssignment, actor string, now time.Time) error {
	dev, err := load(tx, store.CollDevices, a.DeviceHardwareID, apperr.InvalidHardwareID, mapper.DeviceFromDocument)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if dev.AssignmentToken != a.Token {
		return nil
	}
	dev.AssignmentToken = ""
	dev.Touch(actor, now)
	return tx.Update(store.CollDevices, dev.HardwareID, mapper.DeviceToDocument(dev))
}

// UpdateDeviceAssignmentMetadata replaces the assignment's metadata.
func (m *Manager) UpdateDeviceAssignmentMetadata(_ context.Context, actor, token string, metadata model.Metadata) (model.DeviceAssignment, error) {
	var a model.DeviceAssignment
	err := m.store.Batch(func(tx store.Ops) error {
		var err error
		a, err = load(tx, store.CollAssignments, token, apperr.InvalidDeviceAssignmentToken, mapper.AssignmentFromDocument)
		if err != nil {
			return err
		}
		a.Metadata = metadata.Clone()
		a.Touch(actor, m.clock.Now())
		return tx.Update(store.CollAssignments, token, mapper.AssignmentToDocument(a))
	})
	if err != nil {
		return model.DeviceAssignment{}, err
	}
	m.emit(events.AssignmentUpdated, a)
	return a, nil
}

func (m *Manager) ListDeviceAssignments(_ context.Context, criteria model.SearchCriteria) (model.SearchResults[model.DeviceAssignment], error) {
	return search(m.store, store.CollAssignments, nil,
		store.Sort{Field: mapper.FieldActiveDate, Desc: true},
		criteria, mapper.AssignmentFromDocument)
}

func (m *Manager) ListDeviceAssignmentsForSite(_ context.Context, siteToken string, criteria model.SearchCriteria) (model.SearchResults[model.DeviceAssignment], error) {
	return search(m.store, store.CollAssignments,
		store.Filter{store.Eq(mapper.FieldSiteToken, siteToken)},
		store.Sort{Field: mapper.FieldActiveDate, Desc: true},
		criteria, mapper.AssignmentFromDocument)
}

// GetDeviceAssignmentHistory lists every assignment a device has had, most
// recently activated first.
func (m *Manager) GetDeviceAssignmentHistory(_ context.Context, hardwareID string, criteria model.SearchCriteria) (model.SearchResults[model.DeviceAssignment], error) {
	return search(m.store, store.CollAssignments,
		store.Filter{store.Eq(mapper.FieldDeviceHardwareID, hardwareID)},
		store.Sort{Field: mapper.FieldActiveDate, Desc: true},
		criteria, mapper.AssignmentFromDocument)
}
