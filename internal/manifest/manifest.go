// Package manifest fetches and parses the remote document describing the
// desired file set.
package manifest

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/schaermu/modsync/internal/transfer"
)

// Entry is a single file described by the manifest.
type Entry struct {
	// Name is the filename relative to the target directory. It is the key
	// used to match local files against the manifest.
	Name string `json:"name"`
	// SHA256 is the expected hex-encoded content digest.
	SHA256 string `json:"sha256"`
	// URL is an explicit absolute source location. Takes precedence over File.
	URL string `json:"url,omitempty"`
	// File is a source path relative to the base URL.
	File string `json:"file,omitempty"`
}

// ResolveURL returns the location to download the entry from: the explicit
// URL if set, else File joined to baseURL, else Name joined to
// baseURL/modsPath.
func (e Entry) ResolveURL(baseURL, modsPath string) string {
	switch {
	case e.URL != "":
		return e.URL
	case e.File != "":
		return joinURL(baseURL, e.File)
	default:
		return joinURL(joinURL(baseURL, modsPath), e.Name)
	}
}

// Manifest is the ordered list of entries from one remote document.
type Manifest struct {
	Entries []Entry
}

// Names returns the set of entry names. Each name is present as written and
// in its cleaned form, so "a/../b.jar" also claims "b.jar".
func (m *Manifest) Names() map[string]struct{} {
	names := make(map[string]struct{}, len(m.Entries))
	for _, e := range m.Entries {
		names[e.Name] = struct{}{}
		names[filepath.Clean(filepath.FromSlash(e.Name))] = struct{}{}
	}
	return names
}

// CheckName reports why the entry's name cannot be written inside the target
// directory, or nil when it can.
func (e Entry) CheckName() error {
	if !filepath.IsLocal(filepath.FromSlash(e.Name)) {
		return fmt.Errorf("%w: %q", ErrUnsafeName, e.Name)
	}
	return nil
}

// WellFormedDigest reports whether SHA256 is a 64 character hex string. A
// malformed digest can never match a file, so such entries end up as hash
// mismatches rather than being rejected up front.
func (e Entry) WellFormedDigest() bool {
	b, err := hex.DecodeString(e.SHA256)
	return err == nil && len(b) == 32
}

// document mirrors the wire shape { "modpack": { "mods": [...] } }. Pointers
// distinguish absent keys from empty values.
type document struct {
	Modpack *struct {
		Mods *[]Entry `json:"mods"`
	} `json:"modpack"`
}

// Parse decodes a manifest document. Only structural problems are fatal: bad
// JSON, a missing "modpack" or "mods" key, or an entry without "name" or
// "sha256". Those yield a *ParseError and no partial manifest. Entry values
// are checked later, per entry.
func Parse(data []byte) (*Manifest, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{Reason: "invalid JSON", Err: err}
	}
	if doc.Modpack == nil {
		return nil, &ParseError{Reason: `missing "modpack" key`}
	}
	if doc.Modpack.Mods == nil {
		return nil, &ParseError{Reason: `missing "modpack.mods" key`}
	}

	entries := *doc.Modpack.Mods
	for i, e := range entries {
		if e.Name == "" {
			return nil, &ParseError{Reason: fmt.Sprintf(`mods[%d]: "name" is required`, i)}
		}
		if e.SHA256 == "" {
			return nil, &ParseError{Reason: fmt.Sprintf(`mods[%d]: %s: "sha256" is required`, i, e.Name)}
		}
		entries[i].SHA256 = strings.ToLower(strings.TrimSpace(e.SHA256))
	}

	return &Manifest{Entries: entries}, nil
}

// Fetcher retrieves manifests over HTTP.
type Fetcher struct {
	getter transfer.Getter
}

// NewFetcher creates a Fetcher that issues requests through getter.
func NewFetcher(getter transfer.Getter) *Fetcher {
	return &Fetcher{getter: getter}
}

// Fetch downloads and parses the manifest at url. Transport failures and
// non-2xx responses are reported as *FetchError, malformed documents as
// *ParseError.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Manifest, error) {
	resp, err := f.getter.Get(ctx, url)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("failed to read body: %w", err)}
	}

	return Parse(body)
}

func joinURL(base, path string) string {
	if base == "" {
		return path
	}
	if path == "" {
		return base
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}
