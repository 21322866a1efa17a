package management

import (
	"context"

	"devicetrack/internal/apperr"
	"devicetrack/internal/events"
	"devicetrack/internal/mapper"
	"devicetrack/internal/model"
	"devicetrack/internal/store"
)

func (m *Manager) CreateSite(_ context.Context, actor string, req model.SiteCreateRequest) (model.Site, error) {
	site := model.Site{Token: newToken()}
	site.Stamp(actor, m.clock.Now())
	applySite(&site, req)

	if _, err := m.store.Insert(store.CollSites, mapper.SiteToDocument(site)); err != nil {
		return model.Site{}, err
	}
	m.logger.Info("site created", "token", site.Token, "name", site.Name, "actor", actor)
	m.emit(events.SiteCreated, site)
	return site, nil
}

func (m *Manager) GetSite(_ context.Context, token string) (model.Site, error) {
	return load(m.store, store.CollSites, token, apperr.InvalidSiteToken, mapper.SiteFromDocument)
}

// UpdateSite replaces every mutable field. Metadata is replaced, not merged.
func (m *Manager) UpdateSite(_ context.Context, actor, token string, req model.SiteCreateRequest) (model.Site, error) {
	var site model.Site
	err := m.store.Batch(func(tx store.Ops) error {
		var err error
		site, err = load(tx, store.CollSites, token, apperr.InvalidSiteToken, mapper.SiteFromDocument)
		if err != nil {
			return err
		}
		applySite(&site, req)
		site.Touch(actor, m.clock.Now())
		return tx.Update(store.CollSites, token, mapper.SiteToDocument(site))
	})
	if err != nil {
		return model.Site{}, err
	}
	m.emit(events.SiteUpdated, site)
	return site, nil
}

// DeleteSite soft-deletes a site, or removes it when force is set. Zones and
// assignments of the site are left in place.
func (m *Manager) DeleteSite(_ context.Context, actor, token string, force bool) (model.Site, error) {
	var site model.Site
	err := m.store.Batch(func(tx store.Ops) error {
		var err error
		site, err = load(tx, store.CollSites, token, apperr.InvalidSiteToken, mapper.SiteFromDocument)
		if err != nil {
			return err
		}
		return deleteDoc(tx, store.CollSites, mapper.SiteToDocument(site), force, &site.Deleted)
	})
	if err != nil {
		return model.Site{}, err
	}
	m.logger.Info("site deleted", "token", token, "force", force, "actor", actor)
	m.emit(events.SiteDeleted, events.Deleted{Token: token, Force: force})
	return site, nil
}

func (m *Manager) ListSites(_ context.Context, criteria model.SearchCriteria) (model.SearchResults[model.Site], error) {
	return search(m.store, store.CollSites, nil, store.Sort{Field: mapper.FieldName},
		criteria, mapper.SiteFromDocument)
}

func applySite(site *model.Site, req model.SiteCreateRequest) {
	site.Name = req.Name
	site.Description = req.Description
	site.ImageURL = req.ImageURL
	site.MapType = req.MapType
	site.Metadata = req.Metadata.Clone()
	site.MapMetadata = req.MapMetadata.Clone()
}

// deleteDoc removes doc, or flags it deleted. The soft path only touches
// the deleted flag so repeating it leaves the stamps alone.
func deleteDoc(tx store.Ops, coll string, doc store.Document, force bool, deleted *bool) error {
	if force {
		return tx.Delete(coll, doc)
	}
	store.SetDeleted(doc, true)
	*deleted = true
	return tx.Update(coll, doc.Key(), doc)
}

func (m *Manager) CreateZone(_ context.Context, actor, siteToken string, req model.ZoneCreateRequest) (model.Zone, error) {
	if err := validateZone(req); err != nil {
		return model.Zone{}, err
	}
	zone := model.Zone{Token: newToken(), SiteToken: siteToken}
	zone.Stamp(actor, m.clock.Now())
	applyZone(&zone, req)

	err := m.store.Batch(func(tx store.Ops) error {
		if _, err := load(tx, store.CollSites, siteToken, apperr.InvalidSiteToken, mapper.SiteFromDocument); err != nil {
			return err
		}
		_, err := tx.Insert(store.CollZones, mapper.ZoneToDocument(zone))
		return err
	})
	if err != nil {
		return model.Zone{}, err
	}
	m.logger.Info("zone created", "token", zone.Token, "site", siteToken, "actor", actor)
	m.emit(events.ZoneCreated, zone)
	return zone, nil
}

func (m *Manager) GetZone(_ context.Context, token string) (model.Zone, error) {
	return load(m.store, store.CollZones, token, apperr.InvalidZoneToken, mapper.ZoneFromDocument)
}

// UpdateZone replaces every mutable field, including the whole coordinate list.
func (m *Manager) UpdateZone(_ context.Context, actor, token string, req model.ZoneCreateRequest) (model.Zone, error) {
	if err := validateZone(req); err != nil {
		return model.Zone{}, err
	}
	var zone model.Zone
	err := m.store.Batch(func(tx store.Ops) error {
		var err error
		zone, err = load(tx, store.CollZones, token, apperr.InvalidZoneToken, mapper.ZoneFromDocument)
		if err != nil {
			return err
		}
		applyZone(&zone, req)
		zone.Touch(actor, m.clock.Now())
		return tx.Update(store.CollZones, token, mapper.ZoneToDocument(zone))
	})
	if err != nil {
		return model.Zone{}, err
	}
	m.emit(events.ZoneUpdated, zone)
	return zone, nil
}

func (m *Manager) DeleteZone(_ context.Context, actor, token string, force bool) (model.Zone, error) {
	var zone model.Zone
	err := m.store.Batch(func(tx store.Ops) error {
		var err error
		zone, err = load(tx, store.CollZones, token, apperr.InvalidZoneToken, mapper.ZoneFromDocument)
		if err != nil {
			return err
		}
		return deleteDoc(tx, store.CollZones, mapper.ZoneToDocument(zone), force, &zone.Deleted)
	})
	if err != nil {
		return model.Zone{}, err
	}
	m.logger.Info("zone deleted", "token", token, "force", force, "actor", actor)
	m.emit(events.ZoneDeleted, events.Deleted{Token: token, Force: force})
	return zone, nil
}

func (m *Manager) ListZones(_ context.Context, siteToken string, criteria model.SearchCriteria) (model.SearchResults[model.Zone], error) {
	return search(m.store, store.CollZones,
		store.Filter{store.Eq(mapper.FieldSiteToken, siteToken)},
		store.Sort{Field: mapper.FieldCreatedDate, Desc: true},
		criteria, mapper.ZoneFromDocument)
}

func validateZone(req model.ZoneCreateRequest) error {
	if len(req.Coordinates) == 0 {
		return apperr.Validation(apperr.InvalidRequest, "zone needs at least one coordinate")
	}
	if req.Opacity < 0 || req.Opacity > 1 {
		return apperr.Validation(apperr.InvalidRequest, "zone opacity %g outside [0, 1]", req.Opacity)
	}
	return nil
}

func applyZone(zone *model.Zone, req model.ZoneCreateRequest) {
	zone.Name = req.Name
	zone.BorderColor = req.BorderColor
	zone.FillColor = req.FillColor
	zone.Opacity = req.Opacity
	zone.Coordinates = append([]model.Location(nil), req.Coordinates...)
	zone.Metadata = req.Metadata.Clone()
}
