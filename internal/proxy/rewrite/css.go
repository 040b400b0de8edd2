package rewrite

import (
	"regexp"
	"strings"
)

// Pattern-level CSS rewriting. A full CSS parser is out of scope; these
// expressions cover the url() and @import forms real stylesheets use and
// are documented as a best-effort heuristic only.
var (
	cssURLPattern    = regexp.MustCompile(`url\(\s*(['"]?)([^'")\s]+)(['"]?)\s*\)`)
	cssImportPattern = regexp.MustCompile(`@import\s+(['"])([^'"]+)(['"])`)
)

// RewriteCSS rewrites every url(...) and string-form @import target that is
// not a data: URI to its proxy path, resolved against the pass's base URL.
// Malformed targets are left in place.
func RewriteCSS(css string, ctx Context) string {
	out := cssURLPattern.ReplaceAllStringFunc(css, func(match string) string {
		groups := cssURLPattern.FindStringSubmatch(match)
		target := groups[2]
		resolved := resolveRef(target, ctx)
		if resolved == "" {
			return match
		}
		return "url(" + groups[1] + ctx.Codec.ProxyPath(resolved) + groups[3] + ")"
	})

	out = cssImportPattern.ReplaceAllStringFunc(out, func(match string) string {
		groups := cssImportPattern.FindStringSubmatch(match)
		target := groups[2]
		// url(...) imports were already handled above.
		if strings.HasPrefix(strings.TrimSpace(strings.ToLower(target)), "url(") {
			return match
		}
		resolved := resolveRef(target, ctx)
		if resolved == "" {
			return match
		}
		return "@import " + groups[1] + ctx.Codec.ProxyPath(resolved) + groups[3]
	})

	return out
}
