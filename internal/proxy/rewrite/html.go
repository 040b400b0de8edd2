package rewrite

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/saintfish/chardet"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
)

// urlAttrs are the attributes whose values are resource references.
var urlAttrs = []string{"src", "href", "action", "data", "poster"}

// RewriteHTML parses the document, rewrites every resource reference to a
// proxy path, forces the base element to the original URL, and injects the
// client runtime shim as the first child of head. A malformed reference
// never aborts the pass; the occurrence is left as-is.
func (r *Rewriter) RewriteHTML(body []byte, ctx Context) ([]byte, error) {
	if r.sanitize {
		body = r.sanitizer.SanitizeBytes(body)
	}

	doc, err := loadDocument(body)
	if err != nil {
		return nil, err
	}

	for _, attr := range urlAttrs {
		r.rewriteAttr(doc, attr, ctx)
	}
	r.rewriteSrcset(doc, ctx)
	r.rewriteInlineStyles(doc, ctx)

	// Inline script bodies are left untouched: the shim is the document's
	// first script, so fetch, XHR, and WebSocket are already wrapped before
	// any of them runs.

	// The base element always points at the original absolute URL so
	// whatever the rewriters miss still resolves against the real origin.
	forceBase(doc, ctx.Base.String())

	r.injectShim(doc, ctx)

	out, err := doc.Html()
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

// loadDocument parses HTML into a goquery document, detecting and converting
// non-UTF-8 charsets first.
func loadDocument(body []byte) (*goquery.Document, error) {
	detector := chardet.NewTextDetector()
	cs := "utf-8"
	if result, err := detector.DetectBest(body); err == nil && result != nil {
		cs = strings.ToLower(result.Charset)
	}

	reader, err := charset.NewReaderLabel(cs, bytes.NewReader(body))
	if err != nil {
		return goquery.NewDocumentFromReader(bytes.NewReader(body))
	}
	return goquery.NewDocumentFromReader(reader)
}

func (r *Rewriter) rewriteAttr(doc *goquery.Document, attr string, ctx Context) {
	doc.Find("[" + attr + "]").Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "base" {
			return
		}
		val, _ := s.Attr(attr)
		resolved := resolveRef(val, ctx)
		if resolved == "" {
			return
		}
		s.SetAttr(attr, ctx.Codec.ProxyPath(resolved))
	})
}

// rewriteSrcset rewrites each srcset candidate individually, preserving its
// width or density descriptor.
func (r *Rewriter) rewriteSrcset(doc *goquery.Document, ctx Context) {
	doc.Find("[srcset]").Each(func(_ int, s *goquery.Selection) {
		val, _ := s.Attr(attrSrcset)
		rewritten := RewriteSrcset(val, ctx)
		if rewritten != val {
			s.SetAttr(attrSrcset, rewritten)
		}
	})
}

const attrSrcset = "srcset"

// RewriteSrcset rewrites a srcset attribute value candidate by candidate.
func RewriteSrcset(value string, ctx Context) string {
	candidates := strings.Split(value, ",")
	out := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		fields := strings.Fields(strings.TrimSpace(candidate))
		if len(fields) == 0 {
			continue
		}
		resolved := resolveRef(fields[0], ctx)
		if resolved != "" {
			fields[0] = ctx.Codec.ProxyPath(resolved)
		}
		out = append(out, strings.Join(fields, " "))
	}
	return strings.Join(out, ", ")
}

func (r *Rewriter) rewriteInlineStyles(doc *goquery.Document, ctx Context) {
	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		css := s.Text()
		rewritten := RewriteCSS(css, ctx)
		if rewritten != css {
			s.SetText(rewritten)
		}
	})
	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		style, _ := s.Attr("style")
		rewritten := RewriteCSS(style, ctx)
		if rewritten != style {
			s.SetAttr("style", rewritten)
		}
	})
}

// forceBase points the document's base element at the original URL,
// overriding any upstream value and inserting one when absent.
func forceBase(doc *goquery.Document, baseURL string) {
	existing := doc.Find("base")
	if existing.Length() > 0 {
		existing.SetAttr("href", baseURL)
		return
	}
	doc.Find("head").PrependHtml(`<base href="` + baseURL + `">`)
}

func (r *Rewriter) injectShim(doc *goquery.Document, ctx Context) {
	shim, err := r.ShimScript(ctx)
	if err != nil {
		r.logger.Warn("shim generation failed, document served without runtime shim",
			zap.String("base", ctx.Base.String()), zap.Error(err))
		return
	}
	doc.Find("head").PrependHtml("<script>" + shim + "</script>")
}
