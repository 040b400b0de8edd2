package rewrite

import (
	"regexp"
	"strings"
)

// RewriteScript applies the shim-first strategy to a standalone script
// resource: the runtime shim is prepended so fetch/XHR/WebSocket are patched
// before the original source executes, and the original source is emitted
// unmodified after it. The shim installs itself at most once per page, so
// repeated prefixing is harmless.
func (r *Rewriter) RewriteScript(script string, ctx Context) string {
	shim, err := r.ShimScript(ctx)
	if err != nil {
		// Fall back to serving the script untouched; a missing shim only
		// costs interception, not correctness of the script itself.
		return script
	}
	return shim + "\n" + script
}

// Textual global-identifier substitution, the accepted fallback for
// environments where a shim cannot run before the script. Heuristic only:
// it rewrites bare window.location / document.location reads into the
// proxy-aware holder the shim maintains, and leaves everything else alone.
var globalLocationPattern = regexp.MustCompile(`\b(window|document)\.location\b`)

// SubstituteGlobals rewrites global location references so scripts that read
// them observe the original origin instead of the proxy's. Best-effort: a
// script that defeats the pattern simply keeps its original behavior.
func SubstituteGlobals(script string, ctx Context) string {
	if !strings.Contains(script, ".location") {
		return script
	}
	return globalLocationPattern.ReplaceAllString(script, "(window.__lensLocation||$1.location)")
}
