package providers

import (
	"errors"
	"fmt"
)

// ErrConfigurationMissing is returned when a tenant has no usable config for a provider.
var ErrConfigurationMissing = errors.New("providers: configuration missing")

// ConfigurationError names the provider and reason behind ErrConfigurationMissing.
type ConfigurationError struct {
	Provider Provider
	Reason   string
}

func (e *ConfigurationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s configuration missing", e.Provider)
	}
	return fmt.Sprintf("%s configuration missing: %s", e.Provider, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfigurationMissing }

// Missing builds a configuration error for provider.
func Missing(provider Provider, reason string) error {
	return &ConfigurationError{Provider: provider, Reason: reason}
}

// RejectedError is a provider-side rejection carried verbatim to the caller.
type RejectedError struct {
	Provider   Provider
	Code       string
	Message    string
	HTTPStatus int
}

func (e *RejectedError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("%s rejected: %s (%s)", e.Provider, e.Message, e.Code)
	case e.Message != "":
		return fmt.Sprintf("%s rejected: %s", e.Provider, e.Message)
	case e.Code != "":
		return fmt.Sprintf("%s rejected: code %s", e.Provider, e.Code)
	default:
		return fmt.Sprintf("%s rejected: http %d", e.Provider, e.HTTPStatus)
	}
}

// TransientError wraps connection failures and timeouts.
type TransientError struct {
	Provider Provider
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s unreachable: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a transient network error.
func Transient(provider Provider, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Provider: provider, Err: err}
}

// IsTransient reports whether err is a network level failure.
func IsTransient(err error) bool {
	var target *TransientError
	return errors.As(err, &target)
}

// AsRejected extracts a provider rejection from err.
func AsRejected(err error) (*RejectedError, bool) {
	var target *RejectedError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Kind classifies err for logs, metrics and failure reasons.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrConfigurationMissing):
		return "configuration_missing"
	case IsTransient(err):
		return "transient_network"
	}
	if _, ok := AsRejected(err); ok {
		return "provider_rejected"
	}
	return "error"
}

// ClassifyTransport wraps an error returned by an http client or dialer.
// Anything that failed before a provider answered is transient.
func ClassifyTransport(provider Provider, err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) {
		return err
	}
	return Transient(provider, err)
}
