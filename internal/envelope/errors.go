package envelope

import (
	"errors"
	"fmt"
)

// Sentinel errors for envelope-level failures (spec.md §7 "Protocol" kind).
var (
	ErrUnknownType      = errors.New("envelope: unknown type")
	ErrMissingField     = errors.New("envelope: missing required field")
	ErrTargetMismatch   = errors.New("envelope: target mismatch")
)

func wrapInvalidJSON(err error) error {
	return fmt.Errorf("envelope: invalid json: %w", err)
}
