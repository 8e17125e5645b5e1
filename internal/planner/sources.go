package planner

import (
	"github.com/awaistahir/solar-run/internal/engine"
	"github.com/awaistahir/solar-run/internal/store"
)

// StoreSite reads the site and appliances from the database
type StoreSite struct {
	Store *store.Store
}

func (s StoreSite) Site() (engine.Location, engine.PanelSpec, error) {
	site, err := s.Store.GetSite()
	if err != nil {
		return engine.Location{}, engine.PanelSpec{}, err
	}
	return site.Location, site.Panel, nil
}

func (s StoreSite) Appliances() ([]engine.Appliance, error) {
	records, err := s.Store.ListAppliances()
	if err != nil {
		return nil, err
	}
	out := make([]engine.Appliance, 0, len(records))
	for _, r := range records {
		out = append(out, r.Appliance)
	}
	return out, nil
}
