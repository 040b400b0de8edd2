package fetch

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

type decoded struct {
	data     []byte
	consumed bool
	// remaining holds the encodings still applied to data when an unknown
	// token stopped the walk early. Empty when everything was undone.
	remaining string
}

// decode undoes the transfer encodings listed in a Content-Encoding header.
// Encodings are applied by upstreams left to right, so they are undone right
// to left. Unknown encodings stop the walk and pass the remaining bytes
// through untouched, reporting the still-applied list so the caller can
// rewrite the header for the client.
func decode(body []byte, contentEncoding string) (decoded, error) {
	if contentEncoding == "" || len(body) == 0 {
		return decoded{data: body}, nil
	}

	encodings := splitEncodings(contentEncoding)
	data := body
	consumed := false

	for i := len(encodings) - 1; i >= 0; i-- {
		enc := encodings[i]
		switch enc {
		case "identity", "":
			continue
		case "gzip", "x-gzip":
			out, err := gunzip(data)
			if err != nil {
				return decoded{}, fmt.Errorf("gzip: %w", err)
			}
			data = out
		case "deflate":
			out, err := inflate(data)
			if err != nil {
				return decoded{}, fmt.Errorf("deflate: %w", err)
			}
			data = out
		case "br":
			out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
			if err != nil {
				return decoded{}, fmt.Errorf("brotli: %w", err)
			}
			data = out
		default:
			// Unknown encoding: pass through whatever remains, still wrapped
			// in the encodings up to and including this one.
			return decoded{
				data:      data,
				consumed:  consumed,
				remaining: strings.Join(encodings[:i+1], ", "),
			}, nil
		}
		consumed = true
	}

	return decoded{data: data, consumed: consumed}, nil
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// inflate handles both raw-deflate and zlib-wrapped streams; servers ship
// either under the "deflate" token.
func inflate(data []byte) ([]byte, error) {
	if zr, err := zlib.NewReader(bytes.NewReader(data)); err == nil {
		defer zr.Close()
		return io.ReadAll(zr)
	}
	fr := flate.NewReader(bytes.NewReader(data))
	defer fr.Close()
	return io.ReadAll(fr)
}

func splitEncodings(header string) []string {
	parts := strings.Split(header, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.ToLower(strings.TrimSpace(p)))
	}
	return out
}
