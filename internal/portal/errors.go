// Package portal implements the host and guest portal bindings (spec.md
// §4.5-§4.7, C5/C6/C7) and the store/factory that manage them (§4.9, C9): the
// per-session state machines that sit between a text-buffer adapter and the
// connection layer, translating local edits into envelopes and remote
// envelopes into CRDT operations.
package portal

import "errors"

// Sentinel errors for the "Model" error kind (spec.md §7): reference to a
// non-existent buffer proxy or CRDT, duplicate site ID assignment.
var (
	ErrUnknownBufferProxy = errors.New("portal: unknown buffer proxy")
	ErrUnknownCRDT        = errors.New("portal: unknown crdt")
	ErrDuplicateSiteID    = errors.New("portal: duplicate site id")
	ErrNoHostBinding      = errors.New("portal: no active host binding")
	ErrGuestAlreadyExists = errors.New("portal: guest binding already exists for this host")
	ErrInvalidState       = errors.New("portal: operation invalid in current state")
)
