package management

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devicetrack/internal/apperr"
	"devicetrack/internal/clock"
	"devicetrack/internal/events"
	"devicetrack/internal/geo"
	"devicetrack/internal/model"
	"devicetrack/internal/store"
)

var start = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type assets map[string]string

func (a assets) ResolveDisplayName(_ context.Context, _ model.AssetType, id string) (string, bool, error) {
	name, ok := a[id]
	return name, ok, nil
}

type fixture struct {
	m      *Manager
	st     *store.BoltStore
	clk    *clock.Manual
	seen   []string
	states []events.State
	ctx    context.Context
	actor  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "mgmt.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	f := &fixture{st: st, clk: clock.NewManual(start), ctx: context.Background(), actor: "admin"}
	bus := events.NewBus(logger)
	bus.OnAll(func(e events.Event) {
		f.seen = append(f.seen, e.Type)
		if st, ok := e.Data.(events.State); ok {
			f.states = append(f.states, st)
		}
	})
	f.m = New(st, assets{"A1": "Forklift"}, f.clk, bus, logger)
	return f
}

func (f *fixture) site(t *testing.T) model.Site {
	t.Helper()
	s, err := f.m.CreateSite(f.ctx, f.actor, model.SiteCreateRequest{Name: "S1"})
	require.NoError(t, err)
	return s
}

func (f *fixture) device(t *testing.T, hw string) model.Device {
	t.Helper()
	d, err := f.m.CreateDevice(f.ctx, f.actor, model.DeviceCreateRequest{HardwareID: hw})
	require.NoError(t, err)
	return d
}

func TestEndToEnd(t *testing.T) {
	f := newFixture(t)
	s1 := f.site(t)
	d1 := f.device(t, "HW-1")
	assert.Empty(t, d1.AssignmentToken)

	a, err := f.m.CreateDeviceAssignment(f.ctx, f.actor, model.DeviceAssignmentCreateRequest{
		SiteToken: s1.Token, DeviceHardwareID: "HW-1", AssetType: model.AssetHardware, AssetID: "A1",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, a.Status)
	assert.Equal(t, start, a.ActiveDate)

	dev, err := f.m.GetDeviceByHardwareID(f.ctx, "HW-1")
	require.NoError(t, err)
	assert.Equal(t, a.Token, dev.AssignmentToken)

	t1 := start.Add(time.Minute)
	f.clk.Set(t1.Add(time.Second))
	resp, err := f.m.IngestEventBatch(f.ctx, a.Token, model.DeviceEventBatch{
		Measurements: []model.MeasurementsCreateRequest{{EventDate: t1, Measurements: map[string]float64{"temp": 72}}},
		Locations:    []model.LocationCreateRequest{{EventDate: t1, Latitude: 10, Longitude: 20}},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.CreatedMeasurements[0].AssetName)
	assert.Equal(t, "Forklift", *resp.CreatedMeasurements[0].AssetName)

	stored, err := f.m.GetDeviceAssignment(f.ctx, a.Token)
	require.NoError(t, err)
	require.NotNil(t, stored.State.LastLocation)
	assert.Equal(t, 10.0, stored.State.LastLocation.Latitude)
	assert.Equal(t, 20.0, stored.State.LastLocation.Longitude)
	assert.Equal(t, t1, stored.State.LastLocation.EventDate)
	assert.Equal(t, 72.0, stored.State.LatestMeasurements["temp"].Value)
	assert.Equal(t, t1, stored.State.LatestMeasurements["temp"].EventDate)

	ended, err := f.m.EndDeviceAssignment(f.ctx, "ops", a.Token)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReleased, ended.Status)
	require.NotNil(t, ended.ReleasedDate)
	assert.Equal(t, "ops", ended.UpdatedBy)

	dev, err = f.m.GetDeviceByHardwareID(f.ctx, "HW-1")
	require.NoError(t, err)
	assert.Empty(t, dev.AssignmentToken)

	assert.Contains(t, f.seen, events.AssignmentCreated)
	assert.Contains(t, f.seen, events.BatchIngested)
	assert.Contains(t, f.seen, events.StateUpdated)
	assert.Contains(t, f.seen, events.AssignmentReleased)
}

func TestCreateAssignmentChecks(t *testing.T) {
	f := newFixture(t)
	s := f.site(t)
	f.device(t, "HW-1")

	_, err := f.m.CreateDeviceAssignment(f.ctx, f.actor, model.DeviceAssignmentCreateRequest{SiteToken: "nope", DeviceHardwareID: "HW-1"})
	assert.Equal(t, apperr.InvalidSiteToken, apperr.CodeOf(err))
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = f.m.CreateDeviceAssignment(f.ctx, f.actor, model.DeviceAssignmentCreateRequest{SiteToken: s.Token, DeviceHardwareID: "HW-X"})
	assert.Equal(t, apperr.InvalidHardwareID, apperr.CodeOf(err))

	_, err = f.m.CreateDeviceAssignment(f.ctx, f.actor, model.DeviceAssignmentCreateRequest{SiteToken: s.Token, DeviceHardwareID: "HW-1", AssetType: "Vehicle"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestAssignmentUniqueness(t *testing.T) {
	f := newFixture(t)
	s := f.site(t)
	f.device(t, "HW-1")
	req := model.DeviceAssignmentCreateRequest{SiteToken: s.Token, DeviceHardwareID: "HW-1", AssetID: "A1"}

	first, err := f.m.CreateDeviceAssignment(f.ctx, f.actor, req)
	require.NoError(t, err)

	_, err = f.m.CreateDeviceAssignment(f.ctx, f.actor, req)
	assert.True(t, errors.Is(err, apperr.ErrConflict))
	assert.Equal(t, apperr.DeviceAlreadyAssigned, apperr.CodeOf(err))

	_, err = f.m.EndDeviceAssignment(f.ctx, f.actor, first.Token)
	require.NoError(t, err)
	second, err := f.m.CreateDeviceAssignment(f.ctx, f.actor, req)
	require.NoError(t, err)

	// Deleting also frees the device.
	_, err = f.m.DeleteDeviceAssignment(f.ctx, f.actor, second.Token, false)
	require.NoError(t, err)
	_, err = f.m.CreateDeviceAssignment(f.ctx, f.actor, req)
	require.NoError(t, err)

	hist, err := f.m.GetDeviceAssignmentHistory(f.ctx, "HW-1", model.SearchCriteria{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Equal(t, 3, hist.NumResults)
}

func TestEndAssignmentTwice(t *testing.T) {
	f := newFixture(t)
	s := f.site(t)
	f.device(t, "HW-1")
	a, err := f.m.CreateDeviceAssignment(f.ctx, f.actor, model.DeviceAssignmentCreateRequest{SiteToken: s.Token, DeviceHardwareID: "HW-1"})
	require.NoError(t, err)

	_, err = f.m.EndDeviceAssignment(f.ctx, f.actor, a.Token)
	require.NoError(t, err)
	_, err = f.m.EndDeviceAssignment(f.ctx, f.actor, a.Token)
	assert.True(t, errors.Is(err, apperr.ErrConflict))
	assert.Equal(t, apperr.InvalidAssignmentState, apperr.CodeOf(err))

	_, err = f.m.EndDeviceAssignment(f.ctx, f.actor, "missing")
	assert.Equal(t, apperr.InvalidDeviceAssignmentToken, apperr.CodeOf(err))
}

func TestEndAssignmentOrphanDevice(t *testing.T) {
	f := newFixture(t)
	s := f.site(t)
	f.device(t, "HW-1")
	a, err := f.m.CreateDeviceAssignment(f.ctx, f.actor, model.DeviceAssignmentCreateRequest{SiteToken: s.Token, DeviceHardwareID: "HW-1"})
	require.NoError(t, err)

	_, err = f.m.DeleteDevice(f.ctx, f.actor, "HW-1", true)
	require.NoError(t, err)

	ended, err := f.m.EndDeviceAssignment(f.ctx, f.actor, a.Token)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReleased, ended.Status)
}

func TestSoftDeleteIdempotent(t *testing.T) {
	f := newFixture(t)
	s := f.site(t)

	f.clk.Advance(time.Hour)
	first, err := f.m.DeleteSite(f.ctx, f.actor, s.Token, false)
	require.NoError(t, err)
	assert.True(t, first.Deleted)

	f.clk.Advance(time.Hour)
	second, err := f.m.DeleteSite(f.ctx, "someone-else", s.Token, false)
	require.NoError(t, err)
	assert.True(t, second.Deleted)
	assert.Equal(t, first.CreatedDate, second.CreatedDate)
	assert.Equal(t, first.CreatedBy, second.CreatedBy)
	assert.Equal(t, first.UpdatedDate, second.UpdatedDate)
	assert.Equal(t, first.UpdatedBy, second.UpdatedBy)

	// Still addressable by key, hidden from default listings.
	got, err := f.m.GetSite(f.ctx, s.Token)
	require.NoError(t, err)
	assert.True(t, got.Deleted)

	list, err := f.m.ListSites(f.ctx, model.SearchCriteria{})
	require.NoError(t, err)
	assert.Zero(t, list.NumResults)
	list, err = f.m.ListSites(f.ctx, model.SearchCriteria{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Equal(t, 1, list.NumResults)

	_, err = f.m.DeleteSite(f.ctx, f.actor, s.Token, true)
	require.NoError(t, err)
	_, err = f.m.GetSite(f.ctx, s.Token)
	assert.Equal(t, apperr.InvalidSiteToken, apperr.CodeOf(err))
}

func TestUpdateSiteReplacesMetadata(t *testing.T) {
	f := newFixture(t)
	s, err := f.m.CreateSite(f.ctx, f.actor, model.SiteCreateRequest{
		Name: "old", Metadata: model.Metadata{"a": "1", "b": "2"},
	})
	require.NoError(t, err)

	f.clk.Advance(time.Minute)
	up, err := f.m.UpdateSite(f.ctx, "ops", s.Token, model.SiteCreateRequest{
		Name: "new", Metadata: model.Metadata{"c": "3"},
	})
	require.NoError(t, err)
	assert.Equal(t, "new", up.Name)
	assert.Equal(t, model.Metadata{"c": "3"}, up.Metadata)
	assert.Equal(t, "ops", up.UpdatedBy)
	require.NotNil(t, up.UpdatedDate)
	assert.Equal(t, start.Add(time.Minute), *up.UpdatedDate)
	assert.Equal(t, start, up.CreatedDate)

	got, err := f.m.GetSite(f.ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, up, got)

	_, err = f.m.UpdateSite(f.ctx, f.actor, "missing", model.SiteCreateRequest{})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestZones(t *testing.T) {
	f := newFixture(t)
	s := f.site(t)
	coords := []model.Location{{Latitude: 0, Longitude: 0}, {Latitude: 0, Longitude: 1}, {Latitude: 1, Longitude: 1}}

	_, err := f.m.CreateZone(f.ctx, f.actor, "nope", model.ZoneCreateRequest{Coordinates: coords})
	assert.Equal(t, apperr.InvalidSiteToken, apperr.CodeOf(err))
	_, err = f.m.CreateZone(f.ctx, f.actor, s.Token, model.ZoneCreateRequest{})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	z, err := f.m.CreateZone(f.ctx, f.actor, s.Token, model.ZoneCreateRequest{Name: "dock", Opacity: 0.5, Coordinates: coords})
	require.NoError(t, err)
	got, err := f.m.GetZone(f.ctx, z.Token)
	require.NoError(t, err)
	assert.Len(t, got.Coordinates, 3, "stored open")

	ring, err := geo.PolygonFor(got.Coordinates)
	require.NoError(t, err)
	assert.Len(t, ring, 4)

	up, err := f.m.UpdateZone(f.ctx, f.actor, z.Token, model.ZoneCreateRequest{Name: "dock", Coordinates: coords[:1]})
	require.NoError(t, err)
	assert.Len(t, up.Coordinates, 1)

	list, err := f.m.ListZones(f.ctx, s.Token, model.SearchCriteria{})
	require.NoError(t, err)
	assert.Equal(t, 1, list.NumResults)

	_, err = f.m.DeleteZone(f.ctx, f.actor, z.Token, false)
	require.NoError(t, err)
	list, err = f.m.ListZones(f.ctx, s.Token, model.SearchCriteria{})
	require.NoError(t, err)
	assert.Zero(t, list.NumResults)
}

func TestDevices(t *testing.T) {
	f := newFixture(t)
	f.device(t, "HW-1")

	_, err := f.m.CreateDevice(f.ctx, f.actor, model.DeviceCreateRequest{HardwareID: "HW-1"})
	assert.Equal(t, apperr.DuplicateHardwareID, apperr.CodeOf(err))
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	_, err = f.m.CreateDevice(f.ctx, f.actor, model.DeviceCreateRequest{})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	up, err := f.m.UpdateDevice(f.ctx, f.actor, "HW-1", model.DeviceCreateRequest{Comments: "spare", Metadata: model.Metadata{"x": "y"}})
	require.NoError(t, err)
	assert.Equal(t, "spare", up.Comments)
	assert.Equal(t, model.Metadata{"x": "y"}, up.Metadata)

	up, err = f.m.UpdateDevice(f.ctx, f.actor, "HW-1", model.DeviceCreateRequest{AssetID: "A1"})
	require.NoError(t, err)
	assert.Equal(t, "spare", up.Comments, "empty field left untouched")
	assert.Equal(t, model.Metadata{"x": "y"}, up.Metadata, "nil metadata left untouched")

	_, err = f.m.UpdateDevice(f.ctx, f.actor, "HW-1", model.DeviceCreateRequest{HardwareID: "HW-2"})
	assert.Equal(t, apperr.HardwareIDCanNotBeChanged, apperr.CodeOf(err))

	cur, err := f.m.GetCurrentDeviceAssignment(f.ctx, "HW-1")
	require.NoError(t, err)
	assert.Nil(t, cur)
}

func TestListUnassignedDevices(t *testing.T) {
	f := newFixture(t)
	s := f.site(t)
	f.device(t, "HW-1")
	f.device(t, "HW-2")
	a, err := f.m.CreateDeviceAssignment(f.ctx, f.actor, model.DeviceAssignmentCreateRequest{SiteToken: s.Token, DeviceHardwareID: "HW-1"})
	require.NoError(t, err)

	free, err := f.m.ListUnassignedDevices(f.ctx, model.SearchCriteria{})
	require.NoError(t, err)
	require.Equal(t, 1, free.NumResults)
	assert.Equal(t, "HW-2", free.Results[0].HardwareID)

	cur, err := f.m.GetCurrentDeviceAssignment(f.ctx, "HW-1")
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, a.Token, cur.Token)

	forSite, err := f.m.ListDeviceAssignmentsForSite(f.ctx, s.Token, model.SearchCriteria{})
	require.NoError(t, err)
	assert.Equal(t, 1, forSite.NumResults)
}

func TestListDevicesPaging(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 25; i++ {
		f.clk.Advance(time.Second)
		f.device(t, fmt.Sprintf("HW-%02d", i))
	}

	page, err := f.m.ListDevices(f.ctx, model.SearchCriteria{Page: 2, PageSize: 10})
	require.NoError(t, err)
	assert.Len(t, page.Results, 10)
	assert.Equal(t, 25, page.NumResults)
	// Newest first: page 2 starts at the 11th newest device.
	assert.Equal(t, "HW-14", page.Results[0].HardwareID)
}

func TestEventListings(t *testing.T) {
	f := newFixture(t)
	s := f.site(t)
	f.device(t, "HW-1")
	a, err := f.m.CreateDeviceAssignment(f.ctx, f.actor, model.DeviceAssignmentCreateRequest{SiteToken: s.Token, DeviceHardwareID: "HW-1"})
	require.NoError(t, err)

	var batch model.DeviceEventBatch
	for i := 0; i < 5; i++ {
		at := start.Add(time.Duration(i) * time.Minute)
		batch.Measurements = append(batch.Measurements, model.MeasurementsCreateRequest{EventDate: at, Measurements: map[string]float64{"v": float64(i)}})
		batch.Alerts = append(batch.Alerts, model.AlertCreateRequest{EventDate: at, Type: "tick"})
	}
	batch.Locations = []model.LocationCreateRequest{{EventDate: start, Latitude: 1, Longitude: 1}}
	_, err = f.m.IngestEventBatch(f.ctx, a.Token, batch)
	require.NoError(t, err)

	all, err := f.m.ListMeasurements(f.ctx, a.Token, model.DateRangeSearchCriteria{})
	require.NoError(t, err)
	require.Equal(t, 5, all.NumResults)
	assert.Equal(t, 4.0, all.Results[0].Measurements["v"], "newest first")

	from, to := start.Add(time.Minute), start.Add(3*time.Minute)
	ranged, err := f.m.ListMeasurements(f.ctx, a.Token, model.DateRangeSearchCriteria{StartDate: &from, EndDate: &to})
	require.NoError(t, err)
	assert.Equal(t, 3, ranged.NumResults, "inclusive bounds")

	alerts, err := f.m.ListAlertsForSite(f.ctx, s.Token, model.DateRangeSearchCriteria{SearchCriteria: model.SearchCriteria{Page: 1, PageSize: 2}})
	require.NoError(t, err)
	assert.Len(t, alerts.Results, 2)
	assert.Equal(t, 5, alerts.NumResults)

	locs, err := f.m.ListLocations(f.ctx, a.Token, model.DateRangeSearchCriteria{})
	require.NoError(t, err)
	assert.Equal(t, 1, locs.NumResults)

	other, err := f.m.ListLocationsForSite(f.ctx, "other-site", model.DateRangeSearchCriteria{})
	require.NoError(t, err)
	assert.Zero(t, other.NumResults)

	ms, err := f.m.ListMeasurementsForSite(f.ctx, s.Token, model.DateRangeSearchCriteria{})
	require.NoError(t, err)
	assert.Equal(t, 5, ms.NumResults)

	al, err := f.m.ListAlerts(f.ctx, a.Token, model.DateRangeSearchCriteria{})
	require.NoError(t, err)
	assert.Equal(t, 5, al.NumResults)
}

func TestNearestAssignments(t *testing.T) {
	f := newFixture(t)
	s := f.site(t)
	tokens := map[string]string{}
	for i, hw := range []string{"HW-near", "HW-far"} {
		f.device(t, hw)
		a, err := f.m.CreateDeviceAssignment(f.ctx, f.actor, model.DeviceAssignmentCreateRequest{SiteToken: s.Token, DeviceHardwareID: hw})
		require.NoError(t, err)
		tokens[hw] = a.Token
		_, err = f.m.IngestEventBatch(f.ctx, a.Token, model.DeviceEventBatch{
			Locations: []model.LocationCreateRequest{{EventDate: start, Latitude: float64(i) * 30, Longitude: 0}},
		})
		require.NoError(t, err)
	}

	oneDegree := geo.EarthRadius * math.Pi / 180
	near, err := f.m.NearestAssignments(f.ctx, 0.5, 0, oneDegree, 10)
	require.NoError(t, err)
	require.Len(t, near, 1)
	assert.Equal(t, tokens["HW-near"], near[0].Token)
}

func TestUpdateAssignmentMetadata(t *testing.T) {
	f := newFixture(t)
	s := f.site(t)
	f.device(t, "HW-1")
	a, err := f.m.CreateDeviceAssignment(f.ctx, f.actor, model.DeviceAssignmentCreateRequest{
		SiteToken: s.Token, DeviceHardwareID: "HW-1", Metadata: model.Metadata{"old": "1"},
	})
	require.NoError(t, err)

	up, err := f.m.UpdateDeviceAssignmentMetadata(f.ctx, "ops", a.Token, model.Metadata{"new": "2"})
	require.NoError(t, err)
	assert.Equal(t, model.Metadata{"new": "2"}, up.Metadata)
	assert.Equal(t, "ops", up.UpdatedBy)

	all, err := f.m.ListDeviceAssignments(f.ctx, model.SearchCriteria{})
	require.NoError(t, err)
	require.Equal(t, 1, all.NumResults)
	assert.Equal(t, up.Metadata, all.Results[0].Metadata)
}

func TestStateUpdatedReportsActivity(t *testing.T) {
	f := newFixture(t)
	s := f.site(t)
	f.device(t, "HW-1")
	a, err := f.m.CreateDeviceAssignment(f.ctx, f.actor, model.DeviceAssignmentCreateRequest{SiteToken: s.Token, DeviceHardwareID: "HW-1"})
	require.NoError(t, err)

	batch := model.DeviceEventBatch{
		Measurements: []model.MeasurementsCreateRequest{{EventDate: start, Measurements: map[string]float64{"v": 1}}},
	}
	_, err = f.m.IngestEventBatch(f.ctx, a.Token, batch)
	require.NoError(t, err)
	require.Len(t, f.states, 1)
	assert.True(t, f.states[0].Active)

	_, err = f.m.EndDeviceAssignment(f.ctx, f.actor, a.Token)
	require.NoError(t, err)
	_, err = f.m.IngestEventBatch(f.ctx, a.Token, batch)
	require.NoError(t, err, "released assignments still accept events")
	require.Len(t, f.states, 2)
	assert.False(t, f.states[1].Active)
	assert.Equal(t, a.Token, f.states[1].AssignmentToken)
}

func TestMeasurementSeries(t *testing.T) {
	f := newFixture(t)
	s := f.site(t)
	f.device(t, "HW-1")
	a, err := f.m.CreateDeviceAssignment(f.ctx, f.actor, model.DeviceAssignmentCreateRequest{SiteToken: s.Token, DeviceHardwareID: "HW-1"})
	require.NoError(t, err)

	// Submitted out of order; series come back oldest first.
	_, err = f.m.IngestEventBatch(f.ctx, a.Token, model.DeviceEventBatch{
		Measurements: []model.MeasurementsCreateRequest{
			{EventDate: start.Add(2 * time.Minute), Measurements: map[string]float64{"temp": 3, "hum": 30}},
			{EventDate: start, Measurements: map[string]float64{"temp": 1}},
			{EventDate: start.Add(time.Minute), Measurements: map[string]float64{"temp": 2, "hum": 20}},
		},
	})
	require.NoError(t, err)

	series, err := f.m.ListMeasurementSeries(f.ctx, a.Token, model.DateRangeSearchCriteria{})
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, "hum", series[0].MeasurementID)
	assert.Equal(t, "temp", series[1].MeasurementID)

	var temps []float64
	for i, e := range series[1].Entries {
		temps = append(temps, e.Value)
		assert.True(t, e.MeasurementDate.Equal(start.Add(time.Duration(i)*time.Minute)))
	}
	assert.Equal(t, []float64{1, 2, 3}, temps)
	assert.Len(t, series[0].Entries, 2)

	empty, err := f.m.ListMeasurementSeries(f.ctx, "unknown", model.DateRangeSearchCriteria{})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestListDeviceLocations(t *testing.T) {
	f := newFixture(t)
	s := f.site(t)
	var tokens []string
	for i, hw := range []string{"HW-1", "HW-2", "HW-3"} {
		f.device(t, hw)
		a, err := f.m.CreateDeviceAssignment(f.ctx, f.actor, model.DeviceAssignmentCreateRequest{SiteToken: s.Token, DeviceHardwareID: hw})
		require.NoError(t, err)
		tokens = append(tokens, a.Token)
		_, err = f.m.IngestEventBatch(f.ctx, a.Token, model.DeviceEventBatch{
			Locations: []model.LocationCreateRequest{
				{EventDate: start.Add(time.Duration(i) * time.Minute), Latitude: float64(i), Longitude: 0},
				{EventDate: start.Add(time.Hour), Latitude: float64(i), Longitude: 1},
			},
		})
		require.NoError(t, err)
	}

	locs, err := f.m.ListDeviceLocations(f.ctx, tokens[:2], start, start.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, locs, 2, "third assignment and out-of-window events excluded")
	assert.Equal(t, tokens[1], locs[0].DeviceAssignmentToken, "newest first")
	assert.Equal(t, tokens[0], locs[1].DeviceAssignmentToken)

	none, err := f.m.ListDeviceLocations(f.ctx, nil, start, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.m.ListDeviceLocations(f.ctx, tokens, start.Add(time.Hour), start)
	assert.Equal(t, apperr.InvalidRequest, apperr.CodeOf(err))
}

func TestAssociateAlertWithLocation(t *testing.T) {
	f := newFixture(t)
	s := f.site(t)
	f.device(t, "HW-1")
	a, err := f.m.CreateDeviceAssignment(f.ctx, f.actor, model.DeviceAssignmentCreateRequest{SiteToken: s.Token, DeviceHardwareID: "HW-1"})
	require.NoError(t, err)
	resp, err := f.m.IngestEventBatch(f.ctx, a.Token, model.DeviceEventBatch{
		Locations: []model.LocationCreateRequest{{EventDate: start, Latitude: 10, Longitude: 20}},
		Alerts:    []model.AlertCreateRequest{{EventDate: start, Type: "geofence"}},
	})
	require.NoError(t, err)
	locID, alertID := resp.CreatedLocations[0].ID, resp.CreatedAlerts[0].ID

	l, err := f.m.AssociateAlertWithLocation(f.ctx, alertID, locID)
	require.NoError(t, err)
	assert.Equal(t, []string{alertID}, l.AlertIDs)

	l, err = f.m.AssociateAlertWithLocation(f.ctx, alertID, locID)
	require.NoError(t, err)
	assert.Equal(t, []string{alertID}, l.AlertIDs, "no duplicate reference")

	stored, err := f.m.ListLocations(f.ctx, a.Token, model.DateRangeSearchCriteria{})
	require.NoError(t, err)
	require.Len(t, stored.Results, 1)
	assert.Equal(t, []string{alertID}, stored.Results[0].AlertIDs)
	assert.Equal(t, 10.0, stored.Results[0].Latitude)

	_, err = f.m.AssociateAlertWithLocation(f.ctx, "missing", locID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, apperr.InvalidEventID, apperr.CodeOf(err))

	_, err = f.m.AssociateAlertWithLocation(f.ctx, alertID, "missing")
	assert.Equal(t, apperr.InvalidEventID, apperr.CodeOf(err))
}
