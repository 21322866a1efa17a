package model

import "time"

// SiteCreateRequest carries the mutable fields of a site.
type SiteCreateRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	ImageURL    string   `json:"image_url"`
	MapType     string   `json:"map_type"`
	Metadata    Metadata `json:"metadata"`
	MapMetadata Metadata `json:"map_metadata"`
}

// ZoneCreateRequest carries the mutable fields of a zone.
type ZoneCreateRequest struct {
	Name        string     `json:"name"`
	BorderColor string     `json:"border_color"`
	FillColor   string     `json:"fill_color"`
	Opacity     float64    `json:"opacity"`
	Coordinates []Location `json:"coordinates"`
	Metadata    Metadata   `json:"metadata"`
}

// DeviceCreateRequest carries the fields of a device. On update, empty
// fields are left untouched and HardwareID must match the existing device.
type DeviceCreateRequest struct {
	HardwareID string   `json:"hardware_id"`
	AssetID    string   `json:"asset_id"`
	Comments   string   `json:"comments"`
	Metadata   Metadata `json:"metadata"`
}

// DeviceAssignmentCreateRequest binds a device to an asset at a site.
type DeviceAssignmentCreateRequest struct {
	SiteToken        string    `json:"site_token"`
	DeviceHardwareID string    `json:"device_hardware_id"`
	AssetType        AssetType `json:"asset_type"`
	AssetID          string    `json:"asset_id"`
	Metadata         Metadata  `json:"metadata"`
}

// MeasurementsCreateRequest is one measurement event in a batch.
type MeasurementsCreateRequest struct {
	EventDate    time.Time          `json:"event_date"`
	Measurements map[string]float64 `json:"measurements"`
	Metadata     Metadata           `json:"metadata"`
}

// LocationCreateRequest is one location event in a batch.
type LocationCreateRequest struct {
	EventDate time.Time `json:"event_date"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Elevation *float64  `json:"elevation,omitempty"`
	Metadata  Metadata  `json:"metadata"`
}

// AlertCreateRequest is one alert event in a batch. An empty Source means
// the alert came from the device.
type AlertCreateRequest struct {
	EventDate time.Time   `json:"event_date"`
	Source    AlertSource `json:"source,omitempty"`
	Type      string      `json:"type"`
	Message   string      `json:"message"`
	Level     AlertLevel  `json:"level"`
	Metadata  Metadata    `json:"metadata"`
}

// DeviceEventBatch groups the events submitted for one assignment.
type DeviceEventBatch struct {
	Measurements []MeasurementsCreateRequest `json:"measurements"`
	Locations    []LocationCreateRequest     `json:"locations"`
	Alerts       []AlertCreateRequest        `json:"alerts"`
}

// Len returns the number of requests in the batch.
func (b DeviceEventBatch) Len() int {
	return len(b.Measurements) + len(b.Locations) + len(b.Alerts)
}

// DeviceEventBatchResponse lists the persisted events and the state the
// batch produced.
type DeviceEventBatchResponse struct {
	CreatedMeasurements []DeviceMeasurements `json:"created_measurements"`
	CreatedLocations    []DeviceLocation     `json:"created_locations"`
	CreatedAlerts       []DeviceAlert        `json:"created_alerts"`
	State               AssignmentState      `json:"state"`
}

// SearchCriteria pages through a listing. Page is 1-based; PageSize <= 0
// returns every match.
type SearchCriteria struct {
	Page           int  `json:"page"`
	PageSize       int  `json:"page_size"`
	IncludeDeleted bool `json:"include_deleted"`
}

// DateRangeSearchCriteria restricts an event listing to an inclusive
// event-date window. Nil bounds are open.
type DateRangeSearchCriteria struct {
	SearchCriteria
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

// SearchResults is one page of matches plus the total match count.
type SearchResults[T any] struct {
	Results    []T `json:"results"`
	NumResults int `json:"num_results"`
}
