// Error values for site configuration, response production, and the call protocol
// Configuration errors carry the site name and wrap one of the sentinels below
package mockcall

import (
	"context"
	"errors"
	"fmt"
)

// Configuration errors, reported once per site at resolution time.
var (
	ErrNoResponses          = errors.New("response list is empty")
	ErrConflictingStrategy  = errors.New("more than one response strategy configured")
	ErrResponsesAndProvider = errors.New("responses and provider are mutually exclusive")
	ErrProviderNotFound     = errors.New("provider is not registered")
	ErrProviderInstantiate  = errors.New("provider cannot be instantiated")
	ErrProviderMethod       = errors.New("provider has no unique matching method")
	ErrNegativeDeviation    = errors.New("deviation must not be negative")
	ErrNegativeMean         = errors.New("mean delay must not be negative")
	ErrDelayRange           = errors.New("mean plus deviation exceeds the maximum delay")
	ErrUnknownBodyFactory   = errors.New("body factory is not registered")
	ErrUnknownParamType     = errors.New("unknown parameter type")
)

// Runtime errors, delivered through a call's failure path.
var (
	ErrProduce   = errors.New("producing mocked response")
	ErrConvert   = errors.New("converting mocked response")
	ErrPanic     = errors.New("panic while dispatching call")
	ErrNotMocked = errors.New("site is not mocked and has no pass-through")
	ErrClosed    = errors.New("executor is closed")

	// ErrCanceled matches context.Canceled under errors.Is.
	ErrCanceled = fmt.Errorf("call canceled: %w", context.Canceled)

	// ErrAlreadyExecuted reports a second Execute or Enqueue on the same handle.
	ErrAlreadyExecuted = errors.New("call already executed")
)

// ConfigError is a configuration problem on a single site.
type ConfigError struct {
	Site string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("site %q: %v", e.Site, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func configErr(site string, err error) error {
	return &ConfigError{Site: site, Err: err}
}

// IsConfigError reports whether err was caused by invalid site configuration.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
