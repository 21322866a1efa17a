package model

import "time"

// DeviceEvent holds the fields shared by every telemetry event.
// EventDate is when the device took the reading; ReceivedDate is when the
// system persisted it.
type DeviceEvent struct {
	ID                    string    `json:"id"`
	SiteToken             string    `json:"site_token"`
	DeviceAssignmentToken string    `json:"device_assignment_token"`
	AssetName             *string   `json:"asset_name"`
	EventDate             time.Time `json:"event_date"`
	ReceivedDate          time.Time `json:"received_date"`
	Metadata              Metadata  `json:"metadata"`
}

// DeviceMeasurements is a set of named numeric readings taken together.
type DeviceMeasurements struct {
	DeviceEvent
	Measurements map[string]float64 `json:"measurements"`
}

// DeviceLocation is a position report. AlertIDs references alerts raised
// at this position; it is the only part of an event that changes after
// ingestion.
type DeviceLocation struct {
	DeviceEvent
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Elevation *float64 `json:"elevation,omitempty"`
	AlertIDs  []string `json:"alert_ids,omitempty"`
}

// DeviceAlert is an alert raised by a device or by the system.
type DeviceAlert struct {
	DeviceEvent
	Source       AlertSource `json:"source"`
	Type         string      `json:"type"`
	Message      string      `json:"message"`
	Level        AlertLevel  `json:"level"`
	Acknowledged bool        `json:"acknowledged"`
}

// LatestMeasurement is the most recent value seen for one measurement name.
type LatestMeasurement struct {
	Name      string    `json:"name"`
	Value     float64   `json:"value"`
	EventDate time.Time `json:"event_date"`
	EventID   string    `json:"event_id"`
}

// SeriesEntry is one point of a measurement series.
type SeriesEntry struct {
	Value           float64   `json:"value"`
	MeasurementDate time.Time `json:"measurement_date"`
}

// MeasurementSeries is every value recorded for one measurement name,
// oldest first.
type MeasurementSeries struct {
	MeasurementID string        `json:"measurement_id"`
	Entries       []SeriesEntry `json:"entries"`
}

// LatestAlert is the most recent alert seen for one alert type.
type LatestAlert struct {
	Type      string      `json:"type"`
	Message   string      `json:"message"`
	Level     AlertLevel  `json:"level"`
	Source    AlertSource `json:"source"`
	EventDate time.Time   `json:"event_date"`
	EventID   string      `json:"event_id"`
}

// AssignmentState is the denormalized latest-known view of an assignment.
// It is only ever produced by the aggregator.
type AssignmentState struct {
	LastLocation       *DeviceLocation              `json:"last_location,omitempty"`
	LatestMeasurements map[string]LatestMeasurement `json:"latest_measurements"`
	LatestAlerts       map[string]LatestAlert       `json:"latest_alerts"`
}
