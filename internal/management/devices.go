package management

import (
	"context"
	"errors"

	"devicetrack/internal/apperr"
	"devicetrack/internal/events"
	"devicetrack/internal/mapper"
	"devicetrack/internal/model"
	"devicetrack/internal/store"
)

func (m *Manager) CreateDevice(_ context.Context, actor string, req model.DeviceCreateRequest) (model.Device, error) {
	if req.HardwareID == "" {
		return model.Device{}, apperr.Validation(apperr.InvalidRequest, "hardware id is required")
	}
	dev := model.Device{
		HardwareID: req.HardwareID,
		AssetID:    req.AssetID,
		Comments:   req.Comments,
	}
	dev.Stamp(actor, m.clock.Now())
	dev.Metadata = req.Metadata.Clone()

	_, err := m.store.Insert(store.CollDevices, mapper.DeviceToDocument(dev))
	if errors.Is(err, apperr.ErrConflict) {
		return model.Device{}, apperr.Conflict(apperr.DuplicateHardwareID,
			"device with hardware id %q already exists", req.HardwareID)
	}
	if err != nil {
		return model.Device{}, err
	}
	m.logger.Info("device created", "hardware_id", dev.HardwareID, "actor", actor)
	m.emit(events.DeviceCreated, dev)
	return dev, nil
}

func (m *Manager) GetDeviceByHardwareID(_ context.Context, hardwareID string) (model.Device, error) {
	return load(m.store, store.CollDevices, hardwareID, apperr.InvalidHardwareID, mapper.DeviceFromDocument)
}

// UpdateDevice copies the non-empty fields of req onto the device. The
// hardware id cannot change; metadata, when given, replaces the old map.
func (m *Manager) UpdateDevice(_ context.Context, actor, hardwareID string, req model.DeviceCreateRequest) (model.Device, error) {
	if req.HardwareID != "" && req.HardwareID != hardwareID {
		return model.Device{}, apperr.Validation(apperr.HardwareIDCanNotBeChanged,
			"hardware id %q can not be changed to %q", hardwareID, req.HardwareID)
	}
	var dev model.Device
	err := m.store.Batch(func(tx store.Ops) error {
		var err error
		dev, err = load(tx, store.CollDevices, hardwareID, apperr.InvalidHardwareID, mapper.DeviceFromDocument)
		if err != nil {
			return err
		}
		if req.AssetID != "" {
			dev.AssetID = req.AssetID
		}
		if req.Comments != "" {
			dev.Comments = req.Comments
		}
		if req.Metadata != nil {
			dev.Metadata = req.Metadata.Clone()
		}
		dev.Touch(actor, m.clock.Now())
		return tx.Update(store.CollDevices, hardwareID, mapper.DeviceToDocument(dev))
	})
	if err != nil {
		return model.Device{}, err
	}
	m.emit(events.DeviceUpdated, dev)
	return dev, nil
}

// DeleteDevice soft-deletes a device, or removes it when force is set. Its
// assignments stay addressable by token.
func (m *Manager) DeleteDevice(_ context.Context, actor, hardwareID string, force bool) (model.Device, error) {
	var dev model.Device
	err := m.store.Batch(func(tx store.Ops) error {
		var err error
		dev, err = load(tx, store.CollDevices, hardwareID, apperr.InvalidHardwareID, mapper.DeviceFromDocument)
		if err != nil {
			return err
		}
		return deleteDoc(tx, store.CollDevices, mapper.DeviceToDocument(dev), force, &dev.Deleted)
	})
	if err != nil {
		return model.Device{}, err
	}
	m.logger.Info("device deleted", "hardware_id", hardwareID, "force", force, "actor", actor)
	m.emit(events.DeviceDeleted, events.Deleted{Token: hardwareID, Force: force})
	return dev, nil
}

func (m *Manager) ListDevices(_ context.Context, criteria model.SearchCriteria) (model.SearchResults[model.Device], error) {
	return search(m.store, store.CollDevices, nil,
		store.Sort{Field: mapper.FieldCreatedDate, Desc: true},
		criteria, mapper.DeviceFromDocument)
}

// ListUnassignedDevices lists devices with no current assignment.
func (m *Manager) ListUnassignedDevices(_ context.Context, criteria model.SearchCriteria) (model.SearchResults[model.Device], error) {
	return search(m.store, store.CollDevices,
		store.Filter{store.Exists(mapper.FieldAssignmentToken, false)},
		store.Sort{Field: mapper.FieldCreatedDate, Desc: true},
		criteria, mapper.DeviceFromDocument)
}

// GetCurrentDeviceAssignment returns the device's active assignment, or nil
// when the device is unassigned.
func (m *Manager) GetCurrentDeviceAssignment(ctx context.Context, hardwareID string) (*model.DeviceAssignment, error) {
	dev, err := m.GetDeviceByHardwareID(ctx, hardwareID)
	if err != nil {
		return nil, err
	}
	if dev.AssignmentToken == "" {
		return nil, nil
	}
	a, err := m.GetDeviceAssignment(ctx, dev.AssignmentToken)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
