package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/instrumentkit/instrument-core/internal/instrument"
)

// driverSummary describes one registered driver.
type driverSummary struct {
	Name   string `json:"name"`
	Broken bool   `json:"broken,omitempty"`
	Error  string `json:"error,omitempty"`
}

// instrumentSummary describes one live instrument connection.
type instrumentSummary struct {
	Name           string `json:"name"`
	Connected      bool   `json:"connected"`
	CachingAllowed bool   `json:"caching_allowed"`
}

// nodeSummary describes the property tree of an instrument node.
type nodeSummary struct {
	Properties []string               `json:"properties"`
	Subsystems map[string]nodeSummary `json:"subsystems,omitempty"`
	Groups     map[string]groupSummary `json:"groups,omitempty"`
}

// groupSummary describes a channel group and its instantiated channels.
type groupSummary struct {
	Properties []string `json:"properties"`
	IDs        []string `json:"ids"`
}

// handleListDrivers returns the registered driver names, including any
// drivers that failed to load.
func (s *Server) handleListDrivers(w http.ResponseWriter, _ *http.Request) {
	loadErrs := s.registry.LoadingErrors()

	drivers := make([]driverSummary, 0)
	for _, name := range s.registry.ListDrivers() {
		drivers = append(drivers, driverSummary{Name: name})
	}
	for name, err := range loadErrs {
		drivers = append(drivers, driverSummary{Name: name, Broken: true, Error: err.Error()})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"drivers": drivers,
		"count":   len(drivers),
	})
}

// handleListInstruments returns every live instrument connection.
func (s *Server) handleListInstruments(w http.ResponseWriter, _ *http.Request) {
	instances := s.registry.Instances()

	out := make([]instrumentSummary, 0, len(instances))
	for _, d := range instances {
		out = append(out, instrumentSummary{
			Name:           d.Name(),
			Connected:      d.Connected(),
			CachingAllowed: d.CachingAllowed(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"instruments": out,
		"count":       len(out),
	})
}

// handleGetInstrument returns the property tree of one instrument.
func (s *Server) handleGetInstrument(w http.ResponseWriter, r *http.Request) {
	d, ok := s.instrumentFromRequest(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"name":            d.Name(),
		"connected":       d.Connected(),
		"caching_allowed": d.CachingAllowed(),
		"tree":            summarise(&d.Base),
	})
}

// handleOpenInstrument opens the instrument connection.
func (s *Server) handleOpenInstrument(w http.ResponseWriter, r *http.Request) {
	d, ok := s.instrumentFromRequest(w, r)
	if !ok {
		return
	}

	if err := d.Open(r.Context()); err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connected": d.Connected()})
}

// handleCloseInstrument closes the instrument connection.
func (s *Server) handleCloseInstrument(w http.ResponseWriter, r *http.Request) {
	d, ok := s.instrumentFromRequest(w, r)
	if !ok {
		return
	}

	if err := d.Close(r.Context()); err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connected": d.Connected()})
}

// instrumentFromRequest resolves the {name} URL parameter to a live
// driver, writing the error response itself on failure.
func (s *Server) instrumentFromRequest(w http.ResponseWriter, r *http.Request) (*instrument.Driver, bool) {
	name := chi.URLParam(r, "name")
	if name == "" {
		writeBadRequest(w, "instrument name is required")
		return nil, false
	}

	d, ok := s.registry.Instance(name)
	if !ok {
		writeNotFound(w, "no such instrument: "+name)
		return nil, false
	}
	return d, true
}

// summarise walks an instrument node into its JSON description.
func summarise(b *instrument.Base) nodeSummary {
	node := nodeSummary{Properties: b.PropertyNames()}

	subs := b.SubsystemNames()
	if len(subs) > 0 {
		node.Subsystems = make(map[string]nodeSummary, len(subs))
		for _, name := range subs {
			if sub, ok := b.Subsystem(name); ok {
				node.Subsystems[name] = summarise(&sub.Base)
			}
		}
	}

	groups := b.GroupNames()
	if len(groups) > 0 {
		node.Groups = make(map[string]groupSummary, len(groups))
		for _, name := range groups {
			if g, ok := b.Group(name); ok {
				node.Groups[name] = groupSummary{
					Properties: g.PropertyNames(),
					IDs:        g.IDs(),
				}
			}
		}
	}

	return node
}
