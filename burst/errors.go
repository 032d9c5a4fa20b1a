package burst

import "errors"

var (
	// ErrInvalidConfiguration is returned by New when the gate cannot be
	// constructed from the supplied Config.
	ErrInvalidConfiguration = errors.New("invalid burst gate configuration")
)
