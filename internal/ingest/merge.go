package ingest

import "devicetrack/internal/model"

// MergeState folds a batch of persisted events into an existing state.
//
// The last location is the batch's latest location (first one wins on equal
// dates) if it is strictly later than the existing one. Measurements and
// alerts are keyed by name and type; an entry is replaced only when the
// incoming event date is strictly after the stored one, so batch order
// never lets an older reading overwrite a newer one.
//
// existing is not modified.
func MergeState(existing model.AssignmentState, measurements []model.DeviceMeasurements,
	locations []model.DeviceLocation, alerts []model.DeviceAlert) model.AssignmentState {

	out := model.AssignmentState{
		LastLocation:       existing.LastLocation,
		LatestMeasurements: make(map[string]model.LatestMeasurement, len(existing.LatestMeasurements)),
		LatestAlerts:       make(map[string]model.LatestAlert, len(existing.LatestAlerts)),
	}

	var candidate *model.DeviceLocation
	for i := range locations {
		if candidate == nil || locations[i].EventDate.After(candidate.EventDate) {
			candidate = &locations[i]
		}
	}
	if candidate != nil && (out.LastLocation == nil || candidate.EventDate.After(out.LastLocation.EventDate)) {
		loc := *candidate
		out.LastLocation = &loc
	}

	for k, v := range existing.LatestMeasurements {
		out.LatestMeasurements[k] = v
	}
	for _, m := range measurements {
		for name, value := range m.Measurements {
			cur, ok := out.LatestMeasurements[name]
			if ok && !cur.EventDate.Before(m.EventDate) {
				continue
			}
			out.LatestMeasurements[name] = model.LatestMeasurement{
				Name:      name,
				Value:     value,
				EventDate: m.EventDate,
				EventID:   m.ID,
			}
		}
	}

	for k, v := range existing.LatestAlerts {
		out.LatestAlerts[k] = v
	}
	for _, a := range alerts {
		cur, ok := out.LatestAlerts[a.Type]
		if ok && !cur.EventDate.Before(a.EventDate) {
			continue
		}
		out.LatestAlerts[a.Type] = model.LatestAlert{
			Type:      a.Type,
			Message:   a.Message,
			Level:     a.Level,
			Source:    a.Source,
			EventDate: a.EventDate,
			EventID:   a.ID,
		}
	}

	return out
}
