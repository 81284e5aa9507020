// Package registry tracks which sources are live: the mapping from display
// name and external identity to endpoint id and the signaling connection that
// owns it. It is the single source of truth for endpoint liveness; every
// mutation is announced to subscribed observers.
package registry

import (
	"errors"
	"sort"
	"sync"
)

// Handle identifies the signaling connection that owns a registration.
type Handle string

// Endpoint is one live source registration.
type Endpoint struct {
	EndpointID  string
	DisplayName string
	ExternalID  string
	Handle      Handle
	Visible     bool
}

var (
	// ErrNameTaken is returned when another connection already holds the
	// display name / external id.
	ErrNameTaken = errors.New("name already registered by another connection")

	// ErrEndpointTaken is returned when another connection already holds the endpoint id.
	ErrEndpointTaken = errors.New("endpoint id already in use by another connection")

	// ErrNotFound is returned when no live registration matches.
	ErrNotFound = errors.New("endpoint not registered")

	// ErrInvalid is returned for registrations missing an endpoint id or display name.
	ErrInvalid = errors.New("endpoint id and display name are required")
)

// Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint // endpointID -> registration
	observers []Observer
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		endpoints: make(map[string]*Endpoint),
	}
}

// Subscribe adds an observer for every future notification.
func (r *Registry) Subscribe(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// Register records a source for handle h.
//
// A different connection holding the same external id, or the same
// (display name, external id) pair, yields ErrNameTaken; one holding the same
// endpoint id yields ErrEndpointTaken. Name conflicts are checked first, so a
// request clashing on both reports ErrNameTaken. When h itself re-registers,
// its earlier registrations under another endpoint id or name are retired
// first.
func (r *Registry) Register(endpointID, displayName, externalID string, h Handle) error {
	if endpointID == "" || displayName == "" {
		return ErrInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.endpoints {
		if e.Handle == h {
			continue
		}
		if externalID != "" && e.ExternalID == externalID {
			return ErrNameTaken
		}
		if e.DisplayName == displayName && e.ExternalID == externalID {
			return ErrNameTaken
		}
	}
	if e, ok := r.endpoints[endpointID]; ok && e.Handle != h {
		return ErrEndpointTaken
	}

	kind := SourceJoined
	visible := true
	for _, id := range r.sortedIDsLocked() {
		e := r.endpoints[id]
		if e.Handle != h {
			continue
		}
		if id == endpointID && e.DisplayName == displayName {
			kind = SourceUpdated
			visible = e.Visible
			continue
		}
		delete(r.endpoints, id)
		r.notifyLocked(SourceLeft, *e)
	}

	ep := &Endpoint{
		EndpointID:  endpointID,
		DisplayName: displayName,
		ExternalID:  externalID,
		Handle:      h,
		Visible:     visible,
	}
	r.endpoints[endpointID] = ep
	r.notifyLocked(kind, *ep)
	return nil
}

// Unregister removes the registration for endpointID.
func (r *Registry) Unregister(endpointID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.endpoints[endpointID]
	if !ok {
		return ErrNotFound
	}
	delete(r.endpoints, endpointID)
	r.notifyLocked(SourceLeft, *e)
	return nil
}

// Lookup returns the connection handle owning endpointID.
func (r *Registry) Lookup(endpointID string) (Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.endpoints[endpointID]
	if !ok {
		return "", ErrNotFound
	}
	return e.Handle, nil
}

// Get returns a copy of the registration for endpointID.
func (r *Registry) Get(endpointID string) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.endpoints[endpointID]
	if !ok {
		return Endpoint{}, false
	}
	return *e, true
}

// ResolveExternal returns the live registration correlated with externalID.
func (r *Registry) ResolveExternal(externalID string) (Endpoint, bool) {
	if externalID == "" {
		return Endpoint{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.endpoints {
		if e.ExternalID == externalID {
			return *e, true
		}
	}
	return Endpoint{}, false
}

// SetVisibility updates the visibility preference of the registration whose
// endpoint id, or failing that external id, equals identifier.
func (r *Registry) SetVisibility(identifier string, visible bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.endpoints[identifier]
	if !ok {
		for _, cand := range r.endpoints {
			if identifier != "" && cand.ExternalID == identifier {
				e, ok = cand, true
				break
			}
		}
	}
	if !ok {
		return ErrNotFound
	}

	e.Visible = visible
	r.notifyLocked(PreferenceChanged, *e)
	return nil
}

// OnConnectionLost drops every registration owned by h.
func (r *Registry) OnConnectionLost(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.sortedIDsLocked() {
		e := r.endpoints[id]
		if e.Handle != h {
			continue
		}
		delete(r.endpoints, id)
		r.notifyLocked(SourceLeft, *e)
	}
}

// Correlate links externalID to a registration that has no external id yet
// and whose display name equals name. Display names are not unique across
// external identities, so this is a best-effort join: the first unlinked
// match by endpoint id wins. It reports whether a registration was updated.
func (r *Registry) Correlate(externalID, name string) bool {
	if externalID == "" || name == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.endpoints {
		if e.ExternalID == externalID {
			return false
		}
	}

	for _, id := range r.sortedIDsLocked() {
		e := r.endpoints[id]
		if e.DisplayName == name && e.ExternalID == "" {
			e.ExternalID = externalID
			r.notifyLocked(SourceUpdated, *e)
			return true
		}
	}
	return false
}

// IsRegistered reports whether a live registration holds externalID, or
// display name when no registration carries that external id.
func (r *Registry) IsRegistered(externalID, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.endpoints {
		if externalID != "" && e.ExternalID == externalID {
			return true
		}
		if name != "" && e.DisplayName == name {
			return true
		}
	}
	return false
}

// Snapshot returns all live registrations ordered by display name, then endpoint id.
func (r *Registry) Snapshot() []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Endpoint, 0, len(r.endpoints))
	for _, e := range r.endpoints {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].EndpointID < out[j].EndpointID
	})
	return out
}

// Count returns the number of live registrations.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endpoints)
}

// sortedIDsLocked keeps multi-entry mutations deterministic. Caller holds r.mu.
func (r *Registry) sortedIDsLocked() []string {
	ids := make([]string, 0, len(r.endpoints))
	for id := range r.endpoints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// notifyLocked fans out under r.mu so observers see mutations in order.
func (r *Registry) notifyLocked(kind Kind, e Endpoint) {
	n := Notification{Kind: kind, Endpoint: e}
	for _, o := range r.observers {
		o.Notify(n)
	}
}
