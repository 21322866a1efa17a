//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"sort"
	"strings"

	"devicetrack/internal/model"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/sensor/devicetrack_<token>/temperature/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name                   string   `json:"name"`
	UniqueID               string   `json:"unique_id"`
	StateTopic             string   `json:"state_topic,omitempty"`
	AvailabilityTopic      string   `json:"availability_topic"`
	ValueTemplate          string   `json:"value_template,omitempty"`
	JSONAttributesTopic    string   `json:"json_attributes_topic,omitempty"`
	JSONAttributesTemplate string   `json:"json_attributes_template,omitempty"`
	SourceType             string   `json:"source_type,omitempty"`
	UnitOfMeasurement      string   `json:"unit_of_measurement,omitempty"`
	DeviceClass            string   `json:"device_class,omitempty"`
	StateClass             string   `json:"state_class,omitempty"`
	Device                 haDevice `json:"device"`
}

// trackerAttributes maps the retained state document onto the attributes
// a GPS device_tracker expects.
const trackerAttributes = `{% if value_json.last_location is defined %}` +
	`{{ {"latitude": value_json.last_location.latitude, "longitude": value_json.last_location.longitude} | tojson }}` +
	`{% else %}{}{% endif %}`

// measurementClass is the HA presentation of a well-known measurement name.
type measurementClass struct {
	deviceClass string
	unit        string
}

var knownMeasurements = map[string]measurementClass{
	"temperature": {"temperature", "°C"},
	"humidity":    {"humidity", "%"},
	"pressure":    {"pressure", "hPa"},
	"illuminance": {"illuminance", "lx"},
	"battery":     {"battery", "%"},
	"voltage":     {"voltage", "V"},
	"speed":       {"speed", "km/h"},
	"heart_rate":  {"", "bpm"},
	"rssi":        {"signal_strength", "dBm"},
}

// assignmentDisplayName returns a display name for the assignment.
func assignmentDisplayName(a model.DeviceAssignment) string {
	if a.AssetID != "" {
		return a.AssetID + " (" + a.DeviceHardwareID + ")"
	}
	if a.DeviceHardwareID != "" {
		return a.DeviceHardwareID
	}
	return a.Token
}

// nodeIdentifier returns the unique identifier for the HA device registry.
func nodeIdentifier(token string) string {
	return "devicetrack_" + token
}

// objectID turns a measurement name into a topic-safe object id.
func objectID(name string) string {
	name = strings.ToLower(name)
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, name)
}

func stateTopic(prefix, token string) string {
	return prefix + "/assignments/" + token + "/state"
}

func haDeviceFor(token, displayName string, assetType model.AssetType) haDevice {
	return haDevice{
		Identifiers:  []string{nodeIdentifier(token)},
		Manufacturer: "devicetrack",
		Model:        string(assetType),
		Name:         displayName,
	}
}

// buildTracker announces the assignment as a GPS device_tracker fed by its
// retained state document.
func buildTracker(prefix, token string, dev haDevice) discoveryMsg {
	nodeID := nodeIdentifier(token)
	payload := haDiscovery{
		Name:                   dev.Name,
		UniqueID:               nodeID + "_location",
		AvailabilityTopic:      prefix + "/bridge/state",
		JSONAttributesTopic:    stateTopic(prefix, token),
		JSONAttributesTemplate: trackerAttributes,
		SourceType:             "gps",
		Device:                 dev,
	}
	return discoveryMsg{
		Topic:   fmt.Sprintf("homeassistant/device_tracker/%s/location/config", nodeID),
		Payload: mustJSON(payload),
	}
}

// buildMeasurementSensor announces one latest-measurement value as a sensor.
func buildMeasurementSensor(prefix, token string, dev haDevice, name string) discoveryMsg {
	nodeID := nodeIdentifier(token)
	obj := objectID(name)
	class := knownMeasurements[strings.ToLower(name)]
	payload := haDiscovery{
		Name:              dev.Name + " " + name,
		UniqueID:          nodeID + "_" + obj,
		StateTopic:        stateTopic(prefix, token),
		AvailabilityTopic: prefix + "/bridge/state",
		ValueTemplate:     fmt.Sprintf("{{ value_json.latest_measurements[%q].value }}", name),
		UnitOfMeasurement: class.unit,
		DeviceClass:       class.deviceClass,
		StateClass:        "measurement",
		Device:            dev,
	}
	return discoveryMsg{
		Topic:   fmt.Sprintf("homeassistant/sensor/%s/%s/config", nodeID, obj),
		Payload: mustJSON(payload),
	}
}

// buildRemoveDiscovery clears the tracker and every announced sensor.
func buildRemoveDiscovery(token string, names []string) []discoveryMsg {
	nodeID := nodeIdentifier(token)
	msgs := []discoveryMsg{{
		Topic: fmt.Sprintf("homeassistant/device_tracker/%s/location/config", nodeID),
	}}
	for _, name := range names {
		msgs = append(msgs, discoveryMsg{
			Topic:   fmt.Sprintf("homeassistant/sensor/%s/%s/config", nodeID, objectID(name)),
			Payload: nil, // empty retained = delete
		})
	}
	return msgs
}

// newMeasurementNames returns the names in state not yet in known, sorted.
func newMeasurementNames(known map[string]bool, state model.AssignmentState) []string {
	var names []string
	for name := range state.LatestMeasurements {
		if !known[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
