// compression.go - gzip for text responses.
//
// The decision is made when the status line is written, so handlers that
// set Content-Type late or answer 204/304 are left alone.
package server

import (
	"compress/gzip"
	"net/http"
	"strings"
)

type compressionResponseWriter struct {
	http.ResponseWriter
	gz      *gzip.Writer
	decided bool
}

func (crw *compressionResponseWriter) WriteHeader(code int) {
	if !crw.decided {
		crw.decide(code)
	}
	crw.ResponseWriter.WriteHeader(code)
}

func (crw *compressionResponseWriter) Write(b []byte) (int, error) {
	if !crw.decided {
		if crw.Header().Get("Content-Type") == "" {
			crw.Header().Set("Content-Type", http.DetectContentType(b))
		}
		crw.WriteHeader(http.StatusOK)
	}
	if crw.gz != nil {
		return crw.gz.Write(b)
	}
	return crw.ResponseWriter.Write(b)
}

func (crw *compressionResponseWriter) Unwrap() http.ResponseWriter {
	return crw.ResponseWriter
}

func (crw *compressionResponseWriter) decide(code int) {
	crw.decided = true
	h := crw.Header()

	switch {
	case code < 200, code == http.StatusNoContent, code == http.StatusPartialContent, code == http.StatusNotModified:
		return
	case h.Get("Content-Encoding") != "":
		return
	case !compressibleType(h.Get("Content-Type")):
		return
	}

	h.Set("Content-Encoding", "gzip")
	h.Add("Vary", "Accept-Encoding")
	h.Del("Content-Length")
	crw.gz = gzip.NewWriter(crw.ResponseWriter)
}

func (crw *compressionResponseWriter) close() {
	if crw.gz != nil {
		_ = crw.gz.Close()
	}
}

// compressionMiddleware gzips compressible responses for clients that accept it.
func compressionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead || !acceptsGzip(r) {
			next.ServeHTTP(w, r)
			return
		}

		crw := &compressionResponseWriter{ResponseWriter: w}
		defer crw.close()
		next.ServeHTTP(crw, r)
	})
}

func acceptsGzip(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		enc, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return strings.ReplaceAll(params, " ", "") != "q=0"
		}
	}
	return false
}

func compressibleType(ct string) bool {
	mt, _, _ := strings.Cut(ct, ";")
	mt = strings.TrimSpace(strings.ToLower(mt))
	switch {
	case strings.HasPrefix(mt, "text/"):
		return true
	case mt == "application/json", mt == "application/javascript", mt == "image/svg+xml":
		return true
	}
	return false
}
