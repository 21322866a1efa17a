// Package geo answers the spatial questions asked of zones and assignments.
package geo

import (
	"math"
	"sort"

	"devicetrack/internal/apperr"
	"devicetrack/internal/mapper"
	"devicetrack/internal/model"
	"devicetrack/internal/store"
)

// EarthRadius divides a query distance in meters into the angular radius
// used for nearest-assignment searches. The constant is not the Earth's
// radius in meters; it is kept unchanged for compatibility with existing
// clients, so distances behave exactly as they always have.
const EarthRadius = 3963192

// PolygonFor returns a closed ring: the coordinates followed by the first
// coordinate again. The input slice is not modified.
func PolygonFor(coords []model.Location) ([]model.Location, error) {
	if len(coords) == 0 {
		return nil, apperr.Validation(apperr.InvalidRequest, "polygon needs at least one coordinate")
	}
	ring := make([]model.Location, len(coords), len(coords)+1)
	copy(ring, coords)
	return append(ring, coords[0]), nil
}

// Match is an assignment with its angular distance from the query point.
type Match struct {
	Assignment model.DeviceAssignment
	Radians    float64
}

// Nearest returns the non-deleted assignments whose last known location is
// within maxDistanceMeters/EarthRadius radians of (lat, lon), closest first.
// maxResults <= 0 returns every match.
func Nearest(ops store.Ops, lat, lon, maxDistanceMeters float64, maxResults int) ([]model.DeviceAssignment, error) {
	matches, err := NearestMatches(ops, lat, lon, maxDistanceMeters, maxResults)
	if err != nil {
		return nil, err
	}
	out := make([]model.DeviceAssignment, len(matches))
	for i, m := range matches {
		out[i] = m.Assignment
	}
	return out, nil
}

// NearestMatches is Nearest with distances.
func NearestMatches(ops store.Ops, lat, lon, maxDistanceMeters float64, maxResults int) ([]Match, error) {
	docs, _, err := ops.Search(store.CollAssignments,
		store.Filter{store.NotDeleted(), store.Exists(mapper.FieldLastLatLong, true)}, store.Sort{}, 1, 0)
	if err != nil {
		return nil, err
	}

	limit := maxDistanceMeters / EarthRadius
	var matches []Match
	for _, doc := range docs {
		a, err := mapper.AssignmentFromDocument(doc)
		if err != nil {
			return nil, err
		}
		loc := a.State.LastLocation
		if loc == nil {
			continue
		}
		d := CentralAngle(lat, lon, loc.Latitude, loc.Longitude)
		if d <= limit {
			matches = append(matches, Match{Assignment: a, Radians: d})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Radians < matches[j].Radians
	})
	if maxResults > 0 && len(matches) > maxResults {
		matches = matches[:maxResults]
	}
	return matches, nil
}

// CentralAngle is the haversine angle in radians between two points given
// in degrees.
func CentralAngle(lat1, lon1, lat2, lon2 float64) float64 {
	phi1, phi2 := rad(lat1), rad(lat2)
	dPhi := phi2 - phi1
	dLambda := rad(lon2 - lon1)
	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) + math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * math.Asin(math.Min(1, math.Sqrt(h)))
}

func rad(deg float64) float64 {
	return deg * math.Pi / 180
}
