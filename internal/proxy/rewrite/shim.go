package rewrite

import (
	"bytes"
	"text/template"
)

// The client runtime shim is a generated artifact: it is templated from the
// codec's route prefixes and the pass's base URL rather than assembled ad
// hoc, so the browser-side token alphabet always matches the Go codec.
//
// Responsibilities:
//   - rewrite anchor navigation through the proxy before it happens;
//   - wrap fetch and XMLHttpRequest.open so URL arguments are resolved
//     against the true base and encoded before dispatch;
//   - wrap the WebSocket constructor so page sockets target the proxy's
//     own origin and are bridged server-side.
//
// Every wrapper falls back to the unmodified call on any failure: a page
// must never break because the shim could not resolve a URL.
var shimTemplate = template.Must(template.New("shim").Parse(`(function(){
"use strict";
if (window.__lensShim) { return; }
window.__lensShim = true;
var BASE = {{.Base}};
var WATCH = {{.WatchPath}};
var WS = {{.WSPath}};

try { window.__lensLocation = new URL(BASE); } catch (e) {}

function enc(str) {
  var bytes = unescape(encodeURIComponent(str));
  return btoa(bytes).replace(/\+/g, "-").replace(/\//g, "_").replace(/=+$/, "");
}

function absolute(u) {
  return new URL(String(u), BASE).href;
}

function proxied(u) {
  var abs = absolute(u);
  if (!/^https?:/.test(abs)) { return null; }
  return WATCH + "?url=" + enc(abs);
}

var origFetch = window.fetch;
if (origFetch) {
  window.fetch = function(input, init) {
    try {
      if (typeof input === "string" || input instanceof URL) {
        var p = proxied(input);
        if (p) { return origFetch.call(this, p, init); }
      } else if (input && input.url) {
        var pr = proxied(input.url);
        if (pr) { return origFetch.call(this, new Request(pr, input), init); }
      }
    } catch (e) {}
    return origFetch.call(this, input, init);
  };
}

var origOpen = XMLHttpRequest.prototype.open;
XMLHttpRequest.prototype.open = function(method, url) {
  try {
    var p = proxied(url);
    if (p) {
      var args = Array.prototype.slice.call(arguments, 2);
      return origOpen.apply(this, [method, p].concat(args));
    }
  } catch (e) {}
  return origOpen.apply(this, arguments);
};

var OrigWebSocket = window.WebSocket;
if (OrigWebSocket) {
  var Wrapped = function(url, protocols) {
    try {
      var abs = new URL(String(url), BASE);
      if (abs.protocol === "ws:" || abs.protocol === "wss:") {
        var scheme = window.location.protocol === "https:" ? "wss:" : "ws:";
        // Tokens carry http(s) schemes; the server maps them back to ws(s).
        var asHTTP = abs.href.replace(/^wss:/, "https:").replace(/^ws:/, "http:");
        var bridged = scheme + "//" + window.location.host + WS + "?target=" + enc(asHTTP);
        return protocols !== undefined
          ? new OrigWebSocket(bridged, protocols)
          : new OrigWebSocket(bridged);
      }
    } catch (e) {}
    return protocols !== undefined
      ? new OrigWebSocket(url, protocols)
      : new OrigWebSocket(url);
  };
  Wrapped.prototype = OrigWebSocket.prototype;
  Wrapped.CONNECTING = OrigWebSocket.CONNECTING;
  Wrapped.OPEN = OrigWebSocket.OPEN;
  Wrapped.CLOSING = OrigWebSocket.CLOSING;
  Wrapped.CLOSED = OrigWebSocket.CLOSED;
  window.WebSocket = Wrapped;
}

document.addEventListener("click", function(ev) {
  var node = ev.target;
  while (node && node.nodeName !== "A") { node = node.parentNode; }
  if (!node || !node.getAttribute) { return; }
  var href = node.getAttribute("href");
  if (!href || href.charAt(0) === "#") { return; }
  if (/^(javascript|mailto|tel|data):/i.test(href)) { return; }
  if (href.indexOf(WATCH + "?url=") === 0) { return; }
  try {
    var p = proxied(href);
    if (p) {
      ev.preventDefault();
      window.location.href = p;
    }
  } catch (e) {}
}, true);
})();`))

type shimParams struct {
	Base      string
	WatchPath string
	WSPath    string
}

// ShimScript renders the client runtime shim for one transformation pass.
func (r *Rewriter) ShimScript(ctx Context) (string, error) {
	params := shimParams{
		Base:      jsString(ctx.Base.String()),
		WatchPath: jsString(watchRoute(ctx.Codec)),
		WSPath:    jsString(wsRoute(ctx.Codec)),
	}
	var buf bytes.Buffer
	if err := shimTemplate.Execute(&buf, params); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// watchRoute and wsRoute recover the codec's route prefixes from the paths
// it emits, keeping the shim and the server routes in lockstep.
func watchRoute(c Codec) string {
	return routePrefix(c.ProxyPath("https://example.com"), "?url=")
}

func wsRoute(c Codec) string {
	return routePrefix(c.WSPath("https://example.com"), "?target=")
}

func routePrefix(path, sep string) string {
	if i := bytes.Index([]byte(path), []byte(sep)); i >= 0 {
		return path[:i]
	}
	return path
}

// jsString renders a Go string as a quoted JS string literal.
func jsString(s string) string {
	var buf bytes.Buffer
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '<':
			// Avoid literal </script> sequences inside inline scripts.
			buf.WriteString("\\u003c")
		default:
			buf.WriteRune(r)
		}
	}
	buf.WriteByte('"')
	return buf.String()
}
