package integrations

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("integration not found")
	ErrDisabled             = errors.New("integration is disabled")
	ErrUnconfigured         = errors.New("integration is not configured")
	ErrReauthRequired       = errors.New("integration requires re-authentication")
	ErrUnsupportedOperation = errors.New("operation not supported by integration")
	ErrValidation           = errors.New("validation failed")
)

// ProviderError is a non-2xx or malformed response from a remote API.
type ProviderError struct {
	Provider   string
	StatusCode int
	Endpoint   string
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s API error: %s (status %d, endpoint: %s)", e.Provider, e.Message, e.StatusCode, e.Endpoint)
	}
	return fmt.Sprintf("%s API error: %s (endpoint: %s)", e.Provider, e.Message, e.Endpoint)
}

// IsProviderError reports whether err wraps a ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// repeatedCursor is returned when a provider hands back the cursor it was
// just given, which would otherwise page forever.
func repeatedCursor(provider, endpoint, cursor string) error {
	return &ProviderError{
		Provider: provider,
		Endpoint: endpoint,
		Message:  fmt.Sprintf("pagination cursor %q repeated", cursor),
	}
}

func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func policyError(sentinel error, id string) error {
	return fmt.Errorf("%w: %s", sentinel, id)
}
