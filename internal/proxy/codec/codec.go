// Package codec provides the reversible mapping between absolute URLs and
// the path-safe tokens the proxy routes on.
//
// Tokens are base64url (unpadded) encodings of the full URL string, so they
// survive path segments, query strings, and websocket upgrade paths without
// escaping. Decode validates that the result is a well-formed absolute
// http(s) URL; anything else is rejected as an invalid token.
package codec

import (
	"encoding/base64"
	"fmt"
	"net/url"

	"github.com/lensproxy/lens/internal/proxy/proxyerr"
)

// Codec encodes target URLs into path-safe tokens and back.
type Codec struct {
	watchPath string
	wsPath    string
}

// New creates a codec that emits proxy paths rooted at the given routes.
func New(watchPath, wsPath string) *Codec {
	return &Codec{watchPath: watchPath, wsPath: wsPath}
}

// Default returns a codec using the standard /watch and /ws routes.
func Default() *Codec {
	return New("/watch", "/ws")
}

// Encode converts an absolute URL into an opaque path-safe token.
// Encoding is deterministic: the same URL always yields the same token.
func (c *Codec) Encode(rawURL string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(rawURL))
}

// Decode converts a token back into the absolute URL it was encoded from.
// Returns ErrInvalidToken if the token is not valid base64url or the decoded
// value is not an absolute http(s) URL.
func (c *Codec) Decode(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: empty token", proxyerr.ErrInvalidToken)
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		// Tolerate padded tokens from clients that use standard base64url.
		raw, err = base64.URLEncoding.DecodeString(token)
		if err != nil {
			return "", fmt.Errorf("%w: %v", proxyerr.ErrInvalidToken, err)
		}
	}

	decoded := string(raw)
	u, err := url.Parse(decoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", proxyerr.ErrInvalidToken, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: not an absolute http(s) URL: %q", proxyerr.ErrInvalidToken, decoded)
	}

	return decoded, nil
}

// ProxyPath returns the first-party path that resolves to the given URL.
func (c *Codec) ProxyPath(rawURL string) string {
	return c.watchPath + "?url=" + c.Encode(rawURL)
}

// WSPath returns the first-party websocket path that tunnels to the given URL.
func (c *Codec) WSPath(rawURL string) string {
	return c.wsPath + "?target=" + c.Encode(rawURL)
}
