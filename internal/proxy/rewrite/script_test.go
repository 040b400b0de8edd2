package rewrite

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRewriteScriptPrependsShim(t *testing.T) {
	ctx := testContext(t, "https://example.com/app.js")
	r := New(ctx.Codec)

	out := r.RewriteScript(`console.log("app");`, ctx)

	require.True(t, strings.HasSuffix(out, `console.log("app");`), "original source must follow the shim")
	assert.Contains(t, out, "window.__lensShim")
	assert.True(t, strings.Index(out, "__lensShim") < strings.Index(out, "console.log"),
		"shim must run before the original source")
}

func TestSubstituteGlobals(t *testing.T) {
	ctx := testContext(t, "https://example.com/")

	cases := []struct {
		name, in, want string
	}{
		{
			"window location read",
			`var here = window.location.href;`,
			`var here = (window.__lensLocation||window.location).href;`,
		},
		{
			"document location read",
			`go(document.location);`,
			`go((window.__lensLocation||document.location));`,
		},
		{
			"no location reference",
			`var x = 1 + 2;`,
			`var x = 1 + 2;`,
		},
		{
			"unrelated property",
			`obj.locations.push(x);`,
			`obj.locations.push(x);`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SubstituteGlobals(tc.in, ctx))
		})
	}
}

func TestShimScriptEmbedsRoutes(t *testing.T) {
	ctx := testContext(t, "https://example.com/page")
	r := New(ctx.Codec)

	shim, err := r.ShimScript(ctx)
	require.NoError(t, err)

	assert.Contains(t, shim, `var BASE = "https://example.com/page";`)
	assert.Contains(t, shim, `var WATCH = "/watch";`)
	assert.Contains(t, shim, `var WS = "/ws";`)
	// ws targets are encoded under http(s) schemes for the token codec.
	assert.Contains(t, shim, `replace(/^wss:/, "https:")`)
}

func TestShimScriptEscapesBase(t *testing.T) {
	ctx := testContext(t, `https://example.com/q?x="y"`)
	r := New(ctx.Codec)

	shim, err := r.ShimScript(ctx)
	require.NoError(t, err)

	assert.Contains(t, shim, `\"y\"`)
	assert.NotContains(t, shim, "</script>")
}
