// Package model holds the domain records of the tracking backend: sites,
// zones, devices, assignments, the per-assignment state snapshot, and the
// telemetry events devices emit.
package model

import "time"

// Metadata is an open-ended set of string key/value pairs.
type Metadata map[string]string

// Clone returns an independent copy. A nil receiver yields an empty map.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Entity carries the fields common to every persisted record.
type Entity struct {
	CreatedDate time.Time  `json:"created_date"`
	CreatedBy   string     `json:"created_by"`
	UpdatedDate *time.Time `json:"updated_date,omitempty"`
	UpdatedBy   string     `json:"updated_by,omitempty"`
	Deleted     bool       `json:"deleted"`
	Metadata    Metadata   `json:"metadata"`
}

// Stamp initializes creation metadata.
func (e *Entity) Stamp(actor string, now time.Time) {
	e.CreatedDate = now
	e.CreatedBy = actor
	e.Deleted = false
	if e.Metadata == nil {
		e.Metadata = Metadata{}
	}
}

// Touch records an update by actor.
func (e *Entity) Touch(actor string, now time.Time) {
	e.UpdatedDate = &now
	e.UpdatedBy = actor
}

// Location is a coordinate with optional elevation.
type Location struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Elevation *float64 `json:"elevation,omitempty"`
}

// Site is a physical area devices are deployed in.
type Site struct {
	Entity
	Token       string   `json:"token"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	ImageURL    string   `json:"image_url"`
	MapType     string   `json:"map_type"`
	MapMetadata Metadata `json:"map_metadata"`
}

// Zone is a named polygon within a site. Coordinates form an open path.
type Zone struct {
	Entity
	Token       string     `json:"token"`
	SiteToken   string     `json:"site_token"`
	Name        string     `json:"name"`
	BorderColor string     `json:"border_color"`
	FillColor   string     `json:"fill_color"`
	Opacity     float64    `json:"opacity"`
	Coordinates []Location `json:"coordinates"`
}

// Device is a piece of tracking hardware. AssignmentToken is empty while
// the device is unassigned.
type Device struct {
	Entity
	HardwareID      string `json:"hardware_id"`
	AssetID         string `json:"asset_id"`
	Comments        string `json:"comments"`
	AssignmentToken string `json:"assignment_token,omitempty"`
}

// DeviceAssignment binds a device to an asset at a site.
type DeviceAssignment struct {
	Entity
	Token            string           `json:"token"`
	SiteToken        string           `json:"site_token"`
	DeviceHardwareID string           `json:"device_hardware_id"`
	AssetType        AssetType        `json:"asset_type"`
	AssetID          string           `json:"asset_id"`
	Status           AssignmentStatus `json:"status"`
	ActiveDate       time.Time        `json:"active_date"`
	ReleasedDate     *time.Time       `json:"released_date,omitempty"`
	State            AssignmentState  `json:"state"`
}
