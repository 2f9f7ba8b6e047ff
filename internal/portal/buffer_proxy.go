package portal

import (
	"sync"

	"github.com/dstrand/portal/internal/buffer"
	"github.com/dstrand/portal/internal/crdt"
)

// bufferProxy pairs one text-buffer adapter with the CRDT replicating it,
// keyed by proxy ID (spec.md §3 "bufferProxiesById"/"crdtsById").
type bufferProxy struct {
	ID      string
	Adapter *buffer.Adapter
	CRDT    *crdt.CRDT
}

// proxyRegistry is the mutex-guarded bufferProxiesById/crdtsById map shared
// by host and guest bindings.
type proxyRegistry struct {
	mu      sync.Mutex
	proxies map[string]*bufferProxy
}

func newProxyRegistry() *proxyRegistry {
	return &proxyRegistry{proxies: make(map[string]*bufferProxy)}
}

func (r *proxyRegistry) get(id string) (*bufferProxy, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.proxies[id]
	return p, ok
}

func (r *proxyRegistry) put(p *bufferProxy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proxies[p.ID] = p
}

// getOrCreate returns the existing proxy for id, or creates one with a fresh
// CRDT seeded at siteID if none exists yet (spec.md §4.6 "On first reference
// to an unknown textBufferProxyId, create a local buffer and CRDT on
// demand").
func (r *proxyRegistry) getOrCreate(id string, siteID int, buf buffer.ExternalTextBuffer, onEdit func(buffer.Message)) *bufferProxy {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.proxies[id]; ok {
		return p
	}
	p := &bufferProxy{
		ID:   id,
		CRDT: crdt.New(siteID),
	}
	if buf != nil {
		p.Adapter = buffer.NewAdapter(id, buf, onEdit)
	}
	r.proxies[id] = p
	return p
}

// attachBuffer wires buf to id's proxy, creating the proxy first if
// necessary. If the proxy already existed without a buffer — e.g. a guest's
// remote snapshot arrived before the caller registered its external buffer
// — the buffer is seeded with the CRDT's current text before the adapter
// starts watching it, so the external buffer ends up consistent with what
// the CRDT already holds (spec.md §4.6).
func (r *proxyRegistry) attachBuffer(id string, siteID int, buf buffer.ExternalTextBuffer, onEdit func(buffer.Message)) *bufferProxy {
	r.mu.Lock()
	p, ok := r.proxies[id]
	if !ok {
		p = &bufferProxy{ID: id, CRDT: crdt.New(siteID)}
		r.proxies[id] = p
	}
	r.mu.Unlock()

	if p.Adapter != nil || buf == nil {
		return p
	}
	if text := p.CRDT.Text(); text != "" {
		if err := buf.InsertAt(crdt.Position{}, text); err != nil {
			return p
		}
	}
	p.Adapter = buffer.NewAdapter(id, buf, onEdit)
	return p
}

// advancePosition steps pos forward by one rune of inserted text, the same
// line/col bookkeeping cmd/portal/buffer.go's advance uses: a newline moves
// to the start of the next line, anything else advances the column. Used to
// place successive runes of a multi-rune insert message, so a rune following
// an embedded '\n' lands at the start of the new line instead of being
// appended past the newline on the original line.
func advancePosition(pos crdt.Position, r rune) crdt.Position {
	if r == '\n' {
		return crdt.Position{LineIndex: pos.LineIndex + 1, CharIndex: 0}
	}
	return crdt.Position{LineIndex: pos.LineIndex, CharIndex: pos.CharIndex + 1}
}

func (r *proxyRegistry) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.proxies))
	for id := range r.proxies {
		out = append(out, id)
	}
	return out
}
