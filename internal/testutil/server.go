// Package testutil provides an in-process HTTP server that publishes a
// manifest and the files it references.
package testutil

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/schaermu/modsync/internal/manifest"
)

// ManifestPath is the path the manifest is served from.
const ManifestPath = "/manifest.json"

// ModServer serves a manifest and file bodies, recording every request.
type ModServer struct {
	*httptest.Server

	mu             sync.Mutex
	files          map[string][]byte
	hits           map[string]int
	manifest       []byte
	manifestStatus int
	userAgents     []string
}

// NewModServer starts a server that is closed when the test ends.
func NewModServer(t testing.TB) *ModServer {
	t.Helper()

	s := &ModServer{
		files:          make(map[string][]byte),
		hits:           make(map[string]int),
		manifest:       []byte(`{"modpack":{"mods":[]}}`),
		manifestStatus: http.StatusOK,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

func (s *ModServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	s.userAgents = append(s.userAgents, r.Header.Get("User-Agent"))

	if r.URL.Path == ManifestPath {
		body, status := s.manifest, s.manifestStatus
		s.mu.Unlock()
		if status != http.StatusOK {
			http.Error(w, http.StatusText(status), status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
		return
	}

	body, ok := s.files[r.URL.Path]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/java-archive")
	_, _ = w.Write(body)
}

// BaseURL returns the server root with a trailing slash.
func (s *ModServer) BaseURL() string {
	return s.URL + "/"
}

// ManifestURL returns the URL of the published manifest.
func (s *ModServer) ManifestURL() string {
	return s.URL + ManifestPath
}

// AddFile publishes body at path.
func (s *ModServer) AddFile(path string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files["/"+strings.TrimPrefix(path, "/")] = body
}

// SetManifest publishes a manifest listing entries.
func (s *ModServer) SetManifest(entries ...manifest.Entry) {
	if entries == nil {
		entries = []manifest.Entry{}
	}
	doc := map[string]any{"modpack": map[string]any{"mods": entries}}
	body, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	s.SetManifestRaw(body, http.StatusOK)
}

// SetManifestRaw publishes body with the given status for the manifest.
func (s *ModServer) SetManifestRaw(body []byte, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifest = body
	s.manifestStatus = status
}

// Hits returns how many requests were made for path.
func (s *ModServer) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits["/"+strings.TrimPrefix(path, "/")]
}

// FileHits returns how many requests were made for anything but the manifest.
func (s *ModServer) FileHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for path, n := range s.hits {
		if path != ManifestPath {
			total += n
		}
	}
	return total
}

// UserAgents returns the User-Agent header of every request so far.
func (s *ModServer) UserAgents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.userAgents...)
}

// ResetHits clears the request counters.
func (s *ModServer) ResetHits() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits = make(map[string]int)
	s.userAgents = nil
}

// SHA256 returns the hex digest of b.
func SHA256(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
