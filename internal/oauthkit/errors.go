package oauthkit

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderDenied indicates the provider answered the callback with an error parameter.
	ErrProviderDenied = errors.New("oauth.provider_denied")
	// ErrTokenExchangeFailed indicates the token endpoint rejected the grant or returned an unusable body.
	ErrTokenExchangeFailed = errors.New("oauth.token_exchange_failed")
	// ErrUnauthenticated indicates the session holds no usable credential material.
	ErrUnauthenticated = errors.New("oauth.unauthenticated")
	// ErrMalformedCallback indicates the callback carried neither a code nor an error.
	ErrMalformedCallback = errors.New("oauth.malformed_callback")
	// ErrUpstreamAPI indicates the resource API call failed.
	ErrUpstreamAPI = errors.New("oauth.upstream_api_error")
	// ErrSessionNotFound indicates no session is stored under the identifier.
	ErrSessionNotFound = errors.New("session_store.not_found")
	// ErrEmptySessionID indicates an operation was attempted without a session identifier.
	ErrEmptySessionID = errors.New("session_store.empty_session_id")
)

// ProviderDeniedError carries the raw error string returned by the provider.
type ProviderDeniedError struct {
	Reason string
}

func (deniedErr *ProviderDeniedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrProviderDenied.Error(), deniedErr.Reason)
}

// Is reports whether target is ErrProviderDenied.
func (deniedErr *ProviderDeniedError) Is(target error) bool {
	return target == ErrProviderDenied
}

// UpstreamAPIError carries the resource API status and body verbatim.
type UpstreamAPIError struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

func (upstreamErr *UpstreamAPIError) Error() string {
	return fmt.Sprintf("%s: status %d", ErrUpstreamAPI.Error(), upstreamErr.StatusCode)
}

// Is reports whether target is ErrUpstreamAPI.
func (upstreamErr *UpstreamAPIError) Is(target error) bool {
	return target == ErrUpstreamAPI
}
