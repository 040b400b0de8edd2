package rewrite

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRewriteCSSURLFunctions(t *testing.T) {
	ctx := testContext(t, "https://example.com/styles/main.css")

	cases := []struct {
		name, in, resolved string
	}{
		{"unquoted", `body { background: url(bg.png); }`, "https://example.com/styles/bg.png"},
		{"single quoted", `body { background: url('/images/bg.png'); }`, "https://example.com/images/bg.png"},
		{"double quoted", `@font-face { src: url("font.woff2"); }`, "https://example.com/styles/font.woff2"},
		{"absolute", `div { background: url(https://cdn.example.org/x.png); }`, "https://cdn.example.org/x.png"},
		{"whitespace", `div { background: url( 'pad.png' ); }`, "https://example.com/styles/pad.png"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := RewriteCSS(tc.in, ctx)
			assert.Contains(t, out, ctx.Codec.ProxyPath(tc.resolved))
		})
	}
}

func TestRewriteCSSDataURIUntouched(t *testing.T) {
	ctx := testContext(t, "https://example.com/")
	in := `div { background: url(data:image/png;base64,iVBORw0KGgo=); }`
	assert.Equal(t, in, RewriteCSS(in, ctx))
}

func TestRewriteCSSImport(t *testing.T) {
	ctx := testContext(t, "https://example.com/styles/main.css")

	out := RewriteCSS(`@import "reset.css";
@import 'theme/dark.css';`, ctx)

	assert.Contains(t, out, ctx.Codec.ProxyPath("https://example.com/styles/reset.css"))
	assert.Contains(t, out, ctx.Codec.ProxyPath("https://example.com/styles/theme/dark.css"))
	assert.NotContains(t, out, `"reset.css"`)
}

func TestRewriteCSSMultipleOccurrences(t *testing.T) {
	ctx := testContext(t, "https://example.com/")

	out := RewriteCSS(`a { background: url(one.png); } b { background: url(two.png); }`, ctx)

	assert.Equal(t, 2, strings.Count(out, "/watch?url="))
	assert.NotContains(t, out, "url(one.png)")
	assert.NotContains(t, out, "url(two.png)")
}
