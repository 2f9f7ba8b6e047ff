package portal

import "github.com/dstrand/portal/internal/queue"

// Factory constructs portal bindings wired to fresh queue pairs obtained
// from a queue.Registry, activates their handlers, and registers the result
// in a Store (spec.md §4.9).
type Factory struct {
	store    *Store
	registry *queue.Registry
}

// NewFactory creates a Factory backed by store and registry.
func NewFactory(store *Store, registry *queue.Registry) *Factory {
	return &Factory{store: store, registry: registry}
}

// CreateHost builds a new host binding for a session identified by
// localPeerID, wires it to a fresh queue pair keyed by localPeerID, starts
// its handler loop, and installs it in the store.
func (f *Factory) CreateHost(localPeerID, username string) (*HostBinding, queue.Pair) {
	h := NewHostBinding(localPeerID, username)
	pair := f.registry.Acquire(localPeerID)
	activation := Activate(pair, HostFilter(localPeerID), h)
	f.store.setHost(h, activation)
	return h, pair
}

// CreateGuest builds a new guest binding for joining the portal hosted at
// portalHostPeerID, wires it to a fresh queue pair keyed by
// portalHostPeerID, starts its handler loop, and installs it in the store.
func (f *Factory) CreateGuest(portalHostPeerID, localPeerID, username string) (*GuestBinding, queue.Pair) {
	g := NewGuestBinding(portalHostPeerID, localPeerID, username)
	pair := f.registry.Acquire(portalHostPeerID)
	activation := Activate(pair, GuestFilter(portalHostPeerID, localPeerID), g)
	f.store.setGuest(portalHostPeerID, g, activation)
	return g, pair
}

// CloseHost deactivates the host binding's handlers, releases its queue
// pair, and removes it from the store.
func (f *Factory) CloseHost(localPeerID string) {
	f.store.CloseHost()
	f.registry.Release(localPeerID)
}

// CloseGuest deactivates the guest binding's handlers, releases its queue
// pair, and removes it from the store.
func (f *Factory) CloseGuest(portalHostPeerID string) {
	f.store.CloseGuest(portalHostPeerID)
	f.registry.Release(portalHostPeerID)
}
