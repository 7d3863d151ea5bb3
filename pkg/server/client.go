package server

import (
	"crypto/sha256"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
)

// clientAsset is the client bundle, read on first request.
type clientAsset struct {
	once sync.Once
	body []byte
	etag string
	err  error
}

func (a *clientAsset) load(path string) ([]byte, string, error) {
	a.once.Do(func() {
		a.body, a.err = os.ReadFile(path)
		if a.err != nil {
			return
		}
		sum := sha256.Sum256(a.body)
		a.etag = fmt.Sprintf("%q", fmt.Sprintf("%x", sum[:]))
	})
	return a.body, a.etag, a.err
}

func (s *Server) serveClient(w http.ResponseWriter, r *http.Request) {
	body, etag, err := s.client.load(s.config.ClientAsset)
	if err != nil {
		s.logger.Error("client bundle unavailable", "path", s.config.ClientAsset, "error", err)
		http.Error(w, "Client not available", http.StatusInternalServerError)
		return
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "public, max-age=0, must-revalidate")

	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(body)
	}
}

func etagMatches(header, etag string) bool {
	if header == "" || etag == "" {
		return false
	}
	for _, part := range strings.Split(header, ",") {
		candidate := strings.TrimSpace(part)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}
