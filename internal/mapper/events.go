package mapper

import (
	"fmt"
	"sort"

	"devicetrack/internal/model"
	"devicetrack/internal/store"
)

// Event document fields.
const (
	FieldMeasurements       = "measurements"
	FieldSource             = "source"
	FieldType               = "type"
	FieldMessage            = "message"
	FieldLevel              = "level"
	FieldAcknowledged       = "acknowledged"
	FieldEventID            = "eventId"
	FieldAlertIDs           = "alertIds"
	FieldLastLocation       = "lastLocation"
	FieldLatestMeasurements = "latestMeasurements"
	FieldLatestAlerts       = "latestAlerts"
)

func putEvent(e model.DeviceEvent) store.Document {
	doc := store.Document{
		FieldSchemaVersion:         SchemaVersion,
		FieldSiteToken:             e.SiteToken,
		FieldDeviceAssignmentToken: e.DeviceAssignmentToken,
		FieldEventDate:             millis(e.EventDate),
		FieldReceivedDate:          millis(e.ReceivedDate),
		FieldMetadata:              putMetadata(e.Metadata),
	}
	if e.ID != "" {
		doc[store.FieldID] = e.ID
	}
	if e.AssetName != nil {
		doc[FieldAssetName] = *e.AssetName
	} else {
		doc[FieldAssetName] = nil
	}
	return doc
}

func (r *reader) event() model.DeviceEvent {
	return model.DeviceEvent{
		ID:                    r.str(store.FieldID),
		SiteToken:             r.str(FieldSiteToken),
		DeviceAssignmentToken: r.str(FieldDeviceAssignmentToken),
		AssetName:             r.strPtr(FieldAssetName),
		EventDate:             r.time(FieldEventDate),
		ReceivedDate:          r.time(FieldReceivedDate),
		Metadata:              r.metadata(FieldMetadata),
	}
}

// MeasurementsToDocument encodes a measurements event. Readings are stored
// as a {name, value} list sorted by name.
func MeasurementsToDocument(m model.DeviceMeasurements) store.Document {
	doc := putEvent(m.DeviceEvent)
	names := make([]string, 0, len(m.Measurements))
	for k := range m.Measurements {
		names = append(names, k)
	}
	sort.Strings(names)
	list := make([]any, 0, len(names))
	for _, k := range names {
		list = append(list, map[string]any{FieldName: k, FieldValue: m.Measurements[k]})
	}
	doc[FieldMeasurements] = list
	return doc
}

// MeasurementsFromDocument decodes a measurements event.
func MeasurementsFromDocument(doc store.Document) (model.DeviceMeasurements, error) {
	r := newReader("measurements", doc)
	m := model.DeviceMeasurements{
		DeviceEvent:  r.event(),
		Measurements: map[string]float64{},
	}
	for i, item := range r.list(FieldMeasurements) {
		entry, ok := asMap(item)
		if !ok {
			r.fail(fmt.Sprintf("%s[%d]", FieldMeasurements, i), item)
			continue
		}
		c := r.child(FieldMeasurements, entry)
		m.Measurements[c.str(FieldName)] = c.float(FieldValue)
		r.absorb(c)
	}
	return m, r.done()
}

// LocationToDocument encodes a location event. Coordinates are nested under
// latLong so they can be queried as a point.
func LocationToDocument(l model.DeviceLocation) store.Document {
	doc := putEvent(l.DeviceEvent)
	doc[FieldLatLong] = map[string]any{
		FieldLatitude:  l.Latitude,
		FieldLongitude: l.Longitude,
	}
	doc[FieldElevation] = floatPtrOrNil(l.Elevation)
	if len(l.AlertIDs) > 0 {
		ids := make([]any, 0, len(l.AlertIDs))
		for _, id := range l.AlertIDs {
			ids = append(ids, id)
		}
		doc[FieldAlertIDs] = ids
	}
	return doc
}

// LocationFromDocument decodes a location event.
func LocationFromDocument(doc store.Document) (model.DeviceLocation, error) {
	r := newReader("location", doc)
	l := model.DeviceLocation{
		DeviceEvent: r.event(),
		Elevation:   r.floatPtr(FieldElevation),
	}
	if ll := r.sub(FieldLatLong); ll != nil {
		c := r.child(FieldLatLong, ll)
		l.Latitude = c.float(FieldLatitude)
		l.Longitude = c.float(FieldLongitude)
		r.absorb(c)
	}
	for i, item := range r.list(FieldAlertIDs) {
		id, ok := item.(string)
		if !ok {
			r.fail(fmt.Sprintf("%s[%d]", FieldAlertIDs, i), item)
			continue
		}
		l.AlertIDs = append(l.AlertIDs, id)
	}
	return l, r.done()
}

// AlertToDocument encodes an alert event.
func AlertToDocument(a model.DeviceAlert) store.Document {
	doc := putEvent(a.DeviceEvent)
	doc[FieldSource] = string(a.Source)
	doc[FieldType] = a.Type
	doc[FieldMessage] = a.Message
	doc[FieldLevel] = string(a.Level)
	doc[FieldAcknowledged] = a.Acknowledged
	return doc
}

// AlertFromDocument decodes an alert event.
func AlertFromDocument(doc store.Document) (model.DeviceAlert, error) {
	r := newReader("alert", doc)
	a := model.DeviceAlert{
		DeviceEvent:  r.event(),
		Type:         r.str(FieldType),
		Message:      r.str(FieldMessage),
		Acknowledged: r.boolean(FieldAcknowledged),
	}
	a.Source, a.Level = r.alertEnums()
	return a, r.done()
}

func (r *reader) alertEnums() (model.AlertSource, model.AlertLevel) {
	var (
		source model.AlertSource
		level  model.AlertLevel
		err    error
	)
	if v := r.str(FieldSource); v != "" {
		if source, err = model.ParseAlertSource(v); err != nil {
			r.invalid(FieldSource, err)
		}
	}
	if v := r.str(FieldLevel); v != "" {
		if level, err = model.ParseAlertLevel(v); err != nil {
			r.invalid(FieldLevel, err)
		}
	}
	return source, level
}

// StateToDocument encodes an assignment state snapshot. Latest entries are
// stored as lists sorted by their key.
func StateToDocument(s model.AssignmentState) map[string]any {
	doc := map[string]any{FieldLastLocation: nil}
	if s.LastLocation != nil {
		doc[FieldLastLocation] = map[string]any(LocationToDocument(*s.LastLocation))
	}

	names := make([]string, 0, len(s.LatestMeasurements))
	for k := range s.LatestMeasurements {
		names = append(names, k)
	}
	sort.Strings(names)
	measurements := make([]any, 0, len(names))
	for _, k := range names {
		m := s.LatestMeasurements[k]
		measurements = append(measurements, map[string]any{
			FieldName:      m.Name,
			FieldValue:     m.Value,
			FieldEventDate: millis(m.EventDate),
			FieldEventID:   m.EventID,
		})
	}
	doc[FieldLatestMeasurements] = measurements

	types := make([]string, 0, len(s.LatestAlerts))
	for k := range s.LatestAlerts {
		types = append(types, k)
	}
	sort.Strings(types)
	alerts := make([]any, 0, len(types))
	for _, k := range types {
		a := s.LatestAlerts[k]
		alerts = append(alerts, map[string]any{
			FieldType:      a.Type,
			FieldMessage:   a.Message,
			FieldLevel:     string(a.Level),
			FieldSource:    string(a.Source),
			FieldEventDate: millis(a.EventDate),
			FieldEventID:   a.EventID,
		})
	}
	doc[FieldLatestAlerts] = alerts
	return doc
}

// StateFromDocument decodes an assignment state snapshot. A nil document is
// an empty state.
func StateFromDocument(doc map[string]any) (model.AssignmentState, error) {
	s := model.AssignmentState{
		LatestMeasurements: map[string]model.LatestMeasurement{},
		LatestAlerts:       map[string]model.LatestAlert{},
	}
	if doc == nil {
		return s, nil
	}
	r := newReader("state", doc)

	if ll := r.sub(FieldLastLocation); ll != nil {
		loc, err := LocationFromDocument(ll)
		if err != nil {
			return s, err
		}
		s.LastLocation = &loc
	}

	for i, item := range r.list(FieldLatestMeasurements) {
		entry, ok := asMap(item)
		if !ok {
			r.fail(fmt.Sprintf("%s[%d]", FieldLatestMeasurements, i), item)
			continue
		}
		c := r.child(FieldLatestMeasurements, entry)
		m := model.LatestMeasurement{
			Name:      c.str(FieldName),
			Value:     c.float(FieldValue),
			EventDate: c.time(FieldEventDate),
			EventID:   c.str(FieldEventID),
		}
		r.absorb(c)
		s.LatestMeasurements[m.Name] = m
	}

	for i, item := range r.list(FieldLatestAlerts) {
		entry, ok := asMap(item)
		if !ok {
			r.fail(fmt.Sprintf("%s[%d]", FieldLatestAlerts, i), item)
			continue
		}
		c := r.child(FieldLatestAlerts, entry)
		a := model.LatestAlert{
			Type:      c.str(FieldType),
			Message:   c.str(FieldMessage),
			EventDate: c.time(FieldEventDate),
			EventID:   c.str(FieldEventID),
		}
		a.Source, a.Level = c.alertEnums()
		r.absorb(c)
		s.LatestAlerts[a.Type] = a
	}
	return s, r.done()
}
