// Package rewrite transforms upstream content so every embedded resource
// reference routes back through the proxy.
//
// HTML is rewritten on a parsed tree (goquery); CSS and standalone scripts
// are rewritten textually, a documented best-effort heuristic rather than a
// security boundary. The client runtime shim injected into HTML documents
// patches fetch/XHR/WebSocket in the browser so dynamic requests are
// rewritten before they leave the page.
package rewrite

import (
	"mime"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

// Codec is the token codec the rewriters emit proxy paths with.
type Codec interface {
	Encode(rawURL string) string
	ProxyPath(rawURL string) string
	WSPath(rawURL string) string
}

// Context carries the immutable inputs of one transformation pass.
type Context struct {
	Base  *url.URL
	Codec Codec
}

// Rewriter dispatches content to the HTML, CSS, and script rewriters by
// declared content type. Other types pass through unmodified.
type Rewriter struct {
	codec     Codec
	sanitize  bool
	sanitizer *bluemonday.Policy
	logger    *zap.Logger
}

// Option configures a Rewriter.
type Option func(*Rewriter)

// WithSanitize enables the no-script sanitize mode: upstream markup is run
// through a bluemonday policy before rewriting, stripping scripts and inline
// event handlers. The runtime shim is injected afterwards and survives.
func WithSanitize() Option {
	return func(r *Rewriter) { r.sanitize = true }
}

// WithLogger sets the rewriter's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Rewriter) { r.logger = logger }
}

// New creates a content rewriter around the given codec.
func New(c Codec, opts ...Option) *Rewriter {
	r := &Rewriter{
		codec:  c,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.sanitize {
		r.sanitizer = sanitizePolicy()
	}
	return r
}

// Rewrite transforms body according to its declared content type, resolving
// references against baseURL. The returned content type reflects any sniffed
// correction when the upstream declared none.
func (r *Rewriter) Rewrite(body []byte, contentType, baseURL string) ([]byte, string, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		// Without a usable base nothing can be resolved; pass through.
		return body, contentType, nil
	}

	ctx := Context{Base: base, Codec: r.codec}

	media := mediaType(contentType)
	if media == "" {
		media = mimetype.Detect(body).String()
		if i := strings.Index(media, ";"); i >= 0 {
			media = media[:i]
		}
		contentType = media
	}

	switch {
	case media == "text/html" || media == "application/xhtml+xml":
		out, err := r.RewriteHTML(body, ctx)
		if err != nil {
			// Unparseable markup passes through rather than failing the
			// request.
			r.logger.Warn("html rewrite failed, passing through",
				zap.String("base", baseURL), zap.Error(err))
			return body, contentType, nil
		}
		return out, "text/html; charset=utf-8", nil
	case media == "text/css":
		return []byte(RewriteCSS(string(body), ctx)), contentType, nil
	case media == "application/javascript" || media == "text/javascript" ||
		media == "application/x-javascript":
		return []byte(r.RewriteScript(string(body), ctx)), contentType, nil
	default:
		return body, contentType, nil
	}
}

func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	media, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	return media
}

// sanitizePolicy is a UGC policy widened to keep the attributes the HTML
// rewriter targets, so sanitized documents still rewrite cleanly.
func sanitizePolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("srcset", "poster").Globally()
	p.AllowElements("form", "input", "button", "video", "audio", "source")
	p.AllowAttrs("action", "method").OnElements("form")
	return p
}

// skipScheme reports whether a reference is excluded from rewriting: inline
// data, script pseudo-URLs, same-document fragments, and non-HTTP schemes.
func skipScheme(ref string) bool {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") {
		return true
	}
	lower := strings.ToLower(ref)
	for _, prefix := range []string{"data:", "javascript:", "vbscript:", "mailto:", "tel:", "blob:", "about:"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// resolveRef resolves a reference against the pass's base URL. Returns ""
// for references that are excluded or malformed; the caller leaves those
// occurrences untouched.
func resolveRef(ref string, ctx Context) string {
	if skipScheme(ref) {
		return ""
	}
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ""
	}
	resolved := ctx.Base.ResolveReference(parsed)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}
