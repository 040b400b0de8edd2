// Package proxyerr defines the error taxonomy shared across the proxy core.
// Handlers map these sentinels onto HTTP status codes; everything else is
// treated as an internal error.
package proxyerr

import "errors"

var (
	// ErrInvalidToken marks a token that does not decode to an absolute
	// http(s) URL. Maps to 400.
	ErrInvalidToken = errors.New("invalid proxy token")

	// ErrUpstreamUnreachable marks a connect or timeout failure that
	// survived retry exhaustion. Maps to 502 and is retryable.
	ErrUpstreamUnreachable = errors.New("upstream unreachable")

	// ErrCircularRedirect marks a redirect chain that revisits a URL.
	ErrCircularRedirect = errors.New("circular redirect")

	// ErrTooManyRedirects marks a redirect chain past the configured limit.
	ErrTooManyRedirects = errors.New("too many redirects")

	// ErrMalformedUpstream marks a response body that could not be decoded
	// (bad content-encoding). Treated as an upstream failure.
	ErrMalformedUpstream = errors.New("malformed upstream response")
)

// Retryable reports whether the error is worth presenting to the user with
// a retry affordance.
func Retryable(err error) bool {
	return errors.Is(err, ErrUpstreamUnreachable) || errors.Is(err, ErrMalformedUpstream)
}

// UpstreamFailure reports whether the error belongs to the upstream family
// (anything that should surface as a bad-gateway response).
func UpstreamFailure(err error) bool {
	return errors.Is(err, ErrUpstreamUnreachable) ||
		errors.Is(err, ErrCircularRedirect) ||
		errors.Is(err, ErrTooManyRedirects) ||
		errors.Is(err, ErrMalformedUpstream)
}
