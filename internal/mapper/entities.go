package mapper

import (
	"fmt"

	"devicetrack/internal/model"
	"devicetrack/internal/store"
)

// Site document fields.
const (
	FieldDescription = "description"
	FieldImageURL    = "imageUrl"
	FieldMapType     = "mapType"
	FieldMapMetadata = "mapMetadata"
)

// Zone document fields.
const (
	FieldBorderColor = "borderColor"
	FieldFillColor   = "fillColor"
	FieldOpacity     = "opacity"
	FieldCoordinates = "coordinates"
)

// Device and assignment document fields.
const (
	FieldAssetID   = "assetId"
	FieldAssetType = "assetType"
	FieldComments  = "comments"
)

// SiteToDocument encodes a site keyed by its token.
func SiteToDocument(s model.Site) store.Document {
	doc := store.Document{store.FieldID: s.Token}
	putEntity(doc, s.Entity)
	doc[FieldToken] = s.Token
	doc[FieldName] = s.Name
	doc[FieldDescription] = s.Description
	doc[FieldImageURL] = s.ImageURL
	doc[FieldMapType] = s.MapType
	doc[FieldMapMetadata] = putMetadata(s.MapMetadata)
	return doc
}

// SiteFromDocument decodes a site document.
func SiteFromDocument(doc store.Document) (model.Site, error) {
	r := newReader("site", doc)
	s := model.Site{
		Entity:      r.entity(),
		Token:       r.str(FieldToken),
		Name:        r.str(FieldName),
		Description: r.str(FieldDescription),
		ImageURL:    r.str(FieldImageURL),
		MapType:     r.str(FieldMapType),
		MapMetadata: r.metadata(FieldMapMetadata),
	}
	return s, r.done()
}

// ZoneToDocument encodes a zone keyed by its token. Coordinates are stored
// as given, without closing the ring.
func ZoneToDocument(z model.Zone) store.Document {
	doc := store.Document{store.FieldID: z.Token}
	putEntity(doc, z.Entity)
	doc[FieldToken] = z.Token
	doc[FieldSiteToken] = z.SiteToken
	doc[FieldName] = z.Name
	doc[FieldBorderColor] = z.BorderColor
	doc[FieldFillColor] = z.FillColor
	doc[FieldOpacity] = z.Opacity
	coords := make([]any, 0, len(z.Coordinates))
	for _, c := range z.Coordinates {
		coords = append(coords, putLocation(c))
	}
	doc[FieldCoordinates] = coords
	return doc
}

// ZoneFromDocument decodes a zone document.
func ZoneFromDocument(doc store.Document) (model.Zone, error) {
	r := newReader("zone", doc)
	z := model.Zone{
		Entity:      r.entity(),
		Token:       r.str(FieldToken),
		SiteToken:   r.str(FieldSiteToken),
		Name:        r.str(FieldName),
		BorderColor: r.str(FieldBorderColor),
		FillColor:   r.str(FieldFillColor),
		Opacity:     r.float(FieldOpacity),
	}
	for i, item := range r.list(FieldCoordinates) {
		m, ok := asMap(item)
		if !ok {
			r.fail(fmt.Sprintf("%s[%d]", FieldCoordinates, i), item)
			continue
		}
		c := r.child(FieldCoordinates, m)
		z.Coordinates = append(z.Coordinates, c.location())
		r.absorb(c)
	}
	return z, r.done()
}

func putLocation(l model.Location) map[string]any {
	return map[string]any{
		FieldLatitude:  l.Latitude,
		FieldLongitude: l.Longitude,
		FieldElevation: floatPtrOrNil(l.Elevation),
	}
}

func (r *reader) location() model.Location {
	return model.Location{
		Latitude:  r.float(FieldLatitude),
		Longitude: r.float(FieldLongitude),
		Elevation: r.floatPtr(FieldElevation),
	}
}

// DeviceToDocument encodes a device keyed by its hardware id. An empty
// assignment token is stored as null.
func DeviceToDocument(d model.Device) store.Document {
	doc := store.Document{store.FieldID: d.HardwareID}
	putEntity(doc, d.Entity)
	doc[FieldHardwareID] = d.HardwareID
	doc[FieldAssetID] = d.AssetID
	doc[FieldComments] = d.Comments
	doc[FieldAssignmentToken] = stringOrNil(d.AssignmentToken)
	return doc
}

// DeviceFromDocument decodes a device document.
func DeviceFromDocument(doc store.Document) (model.Device, error) {
	r := newReader("device", doc)
	d := model.Device{
		Entity:          r.entity(),
		HardwareID:      r.str(FieldHardwareID),
		AssetID:         r.str(FieldAssetID),
		Comments:        r.str(FieldComments),
		AssignmentToken: r.str(FieldAssignmentToken),
	}
	return d, r.done()
}

// AssignmentToDocument encodes an assignment keyed by its token, with the
// state snapshot embedded.
func AssignmentToDocument(a model.DeviceAssignment) store.Document {
	doc := store.Document{store.FieldID: a.Token}
	putEntity(doc, a.Entity)
	doc[FieldToken] = a.Token
	doc[FieldSiteToken] = a.SiteToken
	doc[FieldDeviceHardwareID] = a.DeviceHardwareID
	doc[FieldAssetType] = string(a.AssetType)
	doc[FieldAssetID] = a.AssetID
	doc[FieldStatus] = string(a.Status)
	doc[FieldActiveDate] = millis(a.ActiveDate)
	doc[FieldReleasedDate] = millisPtr(a.ReleasedDate)
	doc[FieldState] = StateToDocument(a.State)
	return doc
}

// AssignmentFromDocument decodes an assignment document.
func AssignmentFromDocument(doc store.Document) (model.DeviceAssignment, error) {
	r := newReader("assignment", doc)
	a := model.DeviceAssignment{
		Entity:           r.entity(),
		Token:            r.str(FieldToken),
		SiteToken:        r.str(FieldSiteToken),
		DeviceHardwareID: r.str(FieldDeviceHardwareID),
		AssetID:          r.str(FieldAssetID),
		ActiveDate:       r.time(FieldActiveDate),
		ReleasedDate:     r.timePtr(FieldReleasedDate),
	}
	if v := r.str(FieldAssetType); v != "" {
		t, err := model.ParseAssetType(v)
		if err != nil {
			r.invalid(FieldAssetType, err)
		}
		a.AssetType = t
	}
	if v := r.str(FieldStatus); v != "" {
		s, err := model.ParseAssignmentStatus(v)
		if err != nil {
			r.invalid(FieldStatus, err)
		}
		a.Status = s
	}
	state, err := StateFromDocument(r.sub(FieldState))
	if err != nil && r.err == nil {
		r.err = err
	}
	a.State = state
	return a, r.done()
}
