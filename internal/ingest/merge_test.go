package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devicetrack/internal/model"
)

var (
	tBase = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	t0    = tBase
	t1    = tBase.Add(time.Minute)
	t2    = tBase.Add(2 * time.Minute)
)

func measurement(id string, at time.Time, values map[string]float64) model.DeviceMeasurements {
	return model.DeviceMeasurements{
		DeviceEvent:  model.DeviceEvent{ID: id, EventDate: at},
		Measurements: values,
	}
}

func location(id string, at time.Time, lat, lon float64) model.DeviceLocation {
	return model.DeviceLocation{DeviceEvent: model.DeviceEvent{ID: id, EventDate: at}, Latitude: lat, Longitude: lon}
}

func alert(id string, at time.Time, typ, msg string) model.DeviceAlert {
	return model.DeviceAlert{DeviceEvent: model.DeviceEvent{ID: id, EventDate: at}, Type: typ, Message: msg,
		Level: model.LevelWarning, Source: model.SourceDevice}
}

func emptyState() model.AssignmentState {
	return model.AssignmentState{
		LatestMeasurements: map[string]model.LatestMeasurement{},
		LatestAlerts:       map[string]model.LatestAlert{},
	}
}

func TestMergeLatestWins(t *testing.T) {
	existing := emptyState()
	existing.LatestMeasurements["temp"] = model.LatestMeasurement{Name: "temp", Value: 10, EventDate: t1, EventID: "old"}

	got := MergeState(existing, []model.DeviceMeasurements{
		measurement("m0", t0, map[string]float64{"temp": 20}),
		measurement("m2", t2, map[string]float64{"temp": 30}),
	}, nil, nil)

	assert.Equal(t, model.LatestMeasurement{Name: "temp", Value: 30, EventDate: t2, EventID: "m2"}, got.LatestMeasurements["temp"])

	// Reversed batch order gives the same answer.
	got = MergeState(existing, []model.DeviceMeasurements{
		measurement("m2", t2, map[string]float64{"temp": 30}),
		measurement("m0", t0, map[string]float64{"temp": 20}),
	}, nil, nil)
	assert.Equal(t, 30.0, got.LatestMeasurements["temp"].Value)
}

func TestMergeOlderNeverOverwrites(t *testing.T) {
	existing := emptyState()
	existing.LatestMeasurements["temp"] = model.LatestMeasurement{Name: "temp", Value: 10, EventDate: t1, EventID: "old"}

	got := MergeState(existing, []model.DeviceMeasurements{
		measurement("m0", t0, map[string]float64{"temp": 20, "rpm": 900}),
		measurement("m1", t1, map[string]float64{"temp": 99}),
	}, nil, nil)

	assert.Equal(t, 10.0, got.LatestMeasurements["temp"].Value, "equal date must not replace")
	assert.Equal(t, 900.0, got.LatestMeasurements["rpm"].Value, "new name is added")
	assert.Len(t, got.LatestMeasurements, 2)
}

func TestMergeDoesNotMutateExisting(t *testing.T) {
	existing := emptyState()
	existing.LatestMeasurements["temp"] = model.LatestMeasurement{Name: "temp", Value: 10, EventDate: t0}

	MergeState(existing, []model.DeviceMeasurements{measurement("m", t2, map[string]float64{"temp": 50})}, nil, nil)

	assert.Equal(t, 10.0, existing.LatestMeasurements["temp"].Value)
}

func TestMergeLocationTieBreak(t *testing.T) {
	got := MergeState(emptyState(), nil, []model.DeviceLocation{
		location("first", t1, 1, 1),
		location("second", t1, 2, 2),
		location("earlier", t0, 3, 3),
	}, nil)

	require.NotNil(t, got.LastLocation)
	assert.Equal(t, "first", got.LastLocation.ID)
}

func TestMergeLocationAgainstExisting(t *testing.T) {
	existing := emptyState()
	cur := location("cur", t1, 5, 5)
	existing.LastLocation = &cur

	got := MergeState(existing, nil, []model.DeviceLocation{location("same", t1, 9, 9)}, nil)
	assert.Equal(t, "cur", got.LastLocation.ID, "equal date keeps existing")

	got = MergeState(existing, nil, []model.DeviceLocation{location("older", t0, 9, 9)}, nil)
	assert.Equal(t, "cur", got.LastLocation.ID)

	got = MergeState(existing, nil, []model.DeviceLocation{location("newer", t2, 9, 9)}, nil)
	assert.Equal(t, "newer", got.LastLocation.ID)

	got = MergeState(existing, nil, nil, nil)
	assert.Equal(t, "cur", got.LastLocation.ID, "no locations leaves last location")
}

func TestMergeAlertsByType(t *testing.T) {
	existing := emptyState()
	existing.LatestAlerts["door"] = model.LatestAlert{Type: "door", Message: "closed", EventDate: t1}

	got := MergeState(existing, nil, nil, []model.DeviceAlert{
		alert("a0", t0, "door", "stale"),
		alert("a2", t2, "door", "opened"),
		alert("a1", t1, "battery", "low"),
	})

	assert.Equal(t, "opened", got.LatestAlerts["door"].Message)
	assert.Equal(t, "a2", got.LatestAlerts["door"].EventID)
	assert.Equal(t, "low", got.LatestAlerts["battery"].Message)
	assert.Equal(t, model.LevelWarning, got.LatestAlerts["battery"].Level)
}
