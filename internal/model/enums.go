package model

import "fmt"

// AssignmentStatus is the lifecycle state of an assignment.
type AssignmentStatus string

const (
	StatusActive   AssignmentStatus = "Active"
	StatusReleased AssignmentStatus = "Released"
)

// ParseAssignmentStatus parses a stored status name.
func ParseAssignmentStatus(s string) (AssignmentStatus, error) {
	switch AssignmentStatus(s) {
	case StatusActive, StatusReleased:
		return AssignmentStatus(s), nil
	}
	return "", fmt.Errorf("unknown assignment status %q", s)
}

// AssetType identifies which asset catalog an asset id refers to.
type AssetType string

const (
	AssetHardware AssetType = "Hardware"
	AssetPerson   AssetType = "Person"
)

// ParseAssetType parses a stored asset type name.
func ParseAssetType(s string) (AssetType, error) {
	switch AssetType(s) {
	case AssetHardware, AssetPerson:
		return AssetType(s), nil
	}
	return "", fmt.Errorf("unknown asset type %q", s)
}

// AlertSource tells whether an alert came from a device or was raised by
// the system itself.
type AlertSource string

const (
	SourceDevice AlertSource = "Device"
	SourceSystem AlertSource = "System"
)

// ParseAlertSource parses a stored alert source name.
func ParseAlertSource(s string) (AlertSource, error) {
	switch AlertSource(s) {
	case SourceDevice, SourceSystem:
		return AlertSource(s), nil
	}
	return "", fmt.Errorf("unknown alert source %q", s)
}

// AlertLevel is the severity of an alert.
type AlertLevel string

const (
	LevelInfo     AlertLevel = "Info"
	LevelWarning  AlertLevel = "Warning"
	LevelError    AlertLevel = "Error"
	LevelCritical AlertLevel = "Critical"
)

// ParseAlertLevel parses a stored alert level name.
func ParseAlertLevel(s string) (AlertLevel, error) {
	switch AlertLevel(s) {
	case LevelInfo, LevelWarning, LevelError, LevelCritical:
		return AlertLevel(s), nil
	}
	return "", fmt.Errorf("unknown alert level %q", s)
}
