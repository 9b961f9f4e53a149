package stripe

import (
	"errors"
	"fmt"
)

// ErrConfiguration is matched by every *ConfigurationError via errors.Is.
var ErrConfiguration = errors.New("stripe: invalid lock table configuration")

// ConfigurationError reports a rejected table size.
//
// It is only ever returned from New; a constructed table cannot become
// misconfigured later.
//
// Thread Safety: Immutable after creation, safe for concurrent use.
type ConfigurationError struct {
	Size   int    // Requested table size
	Reason string // Why it was rejected
}

// Error implements the error interface.
//
// Format: stripe: invalid lock table size <n>: <reason>
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("stripe: invalid lock table size %d: %s", e.Size, e.Reason)
}

// Is reports whether target is ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}
