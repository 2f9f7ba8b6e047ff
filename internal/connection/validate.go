package connection

import "github.com/dstrand/portal/internal/envelope"

// validateSessionMessage checks the constraints spec.md §4.8 places on
// SESSION_OFFER/SESSION_ANSWER envelopes before they reach the per-peer
// signalling state machine. Failures raise a typed error and are dropped;
// no state transitions occur.
func validateSessionMessage(env envelope.Envelope, localPeerID string) error {
	hdr := env.Header()
	if hdr.SenderPeerID == localPeerID {
		return ErrSenderIsSelf
	}
	if hdr.TargetPeerID != localPeerID {
		return ErrTargetNotSelf
	}
	if env.Body().SessionDescription == "" {
		return ErrEmptySessionDesc
	}
	return nil
}

// validateICECandidate checks the constraint spec.md §4.8 places on
// NEW_ICE_CANDIDATE envelopes.
func validateICECandidate(env envelope.Envelope) error {
	if env.Body().ICECandidate == "" {
		return ErrEmptyICECandidate
	}
	return nil
}
