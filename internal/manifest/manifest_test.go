package manifest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/modsync/internal/transfer"
)

const abcHash = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"

func TestResolveURL(t *testing.T) {
	const base = "https://example.com/pack/"

	tests := []struct {
		name  string
		entry Entry
		want  string
	}{
		{
			name:  "explicit url",
			entry: Entry{Name: "a.jar", SHA256: "X", URL: "https://cdn/a.jar"},
			want:  "https://cdn/a.jar",
		},
		{
			name:  "file relative to base",
			entry: Entry{Name: "a.jar", SHA256: "X", File: "custom/a.jar"},
			want:  "https://example.com/pack/custom/a.jar",
		},
		{
			name:  "fallback to mods path",
			entry: Entry{Name: "a.jar", SHA256: "X"},
			want:  "https://example.com/pack/mods/a.jar",
		},
		{
			name:  "url wins over file",
			entry: Entry{Name: "a.jar", SHA256: "X", URL: "https://cdn/a.jar", File: "custom/a.jar"},
			want:  "https://cdn/a.jar",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.entry.ResolveURL(base, "mods/"))
		})
	}
}

func TestJoinURL(t *testing.T) {
	assert.Equal(t, "https://h/a/b", joinURL("https://h/a", "b"))
	assert.Equal(t, "https://h/a/b", joinURL("https://h/a/", "/b"))
	assert.Equal(t, "b", joinURL("", "b"))
	assert.Equal(t, "https://h/a", joinURL("https://h/a", ""))
}

func TestParse(t *testing.T) {
	doc := `{"modpack": {"mods": [
		{"name": "a.jar", "sha256": "` + abcHash + `"},
		{"name": "b.jar", "sha256": "` + strings.ToUpper(abcHash) + `", "file": "extra/b.jar"},
		{"name": "c.jar", "sha256": "` + abcHash + `", "url": "https://cdn/c.jar"}
	]}}`

	m, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, m.Entries, 3)

	assert.Equal(t, "a.jar", m.Entries[0].Name)
	assert.Equal(t, abcHash, m.Entries[1].SHA256, "digest should be normalized to lowercase")
	assert.Equal(t, "extra/b.jar", m.Entries[1].File)
	assert.Equal(t, "https://cdn/c.jar", m.Entries[2].URL)

	assert.Equal(t, map[string]struct{}{"a.jar": {}, "b.jar": {}, "c.jar": {}}, m.Names())
}

func TestParse_EmptyModList(t *testing.T) {
	m, err := Parse([]byte(`{"modpack": {"mods": []}}`))
	require.NoError(t, err)
	assert.Empty(t, m.Entries)
}

func TestParse_DuplicateNames(t *testing.T) {
	doc := `{"modpack": {"mods": [
		{"name": "a.jar", "sha256": "` + abcHash + `"},
		{"name": "a.jar", "sha256": "` + abcHash + `", "file": "other/a.jar"}
	]}}`

	m, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Len(t, m.Entries, 2, "duplicates are kept in order")
	assert.Len(t, m.Names(), 1)
}

func TestParse_KeepsEntriesWithBadValues(t *testing.T) {
	doc := `{"modpack": {"mods": [
		{"name": "good.jar", "sha256": "` + abcHash + `"},
		{"name": "bad.jar", "sha256": "DEADBEEF"},
		{"name": "../evil.jar", "sha256": "` + abcHash + `"}
	]}}`

	m, err := Parse([]byte(doc))
	require.NoError(t, err, "value problems are reported per entry, not by Parse")
	require.Len(t, m.Entries, 3)
	assert.Equal(t, "deadbeef", m.Entries[1].SHA256)
	assert.Contains(t, m.Names(), "../evil.jar")
}

func TestEntry_CheckName(t *testing.T) {
	tests := []struct {
		name    string
		entry   string
		wantErr bool
	}{
		{name: "plain", entry: "a.jar"},
		{name: "nested", entry: "config/a.toml"},
		{name: "dot segments inside", entry: "x/../a.jar"},
		{name: "escaping", entry: "../evil.jar", wantErr: true},
		{name: "absolute", entry: "/etc/passwd", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Entry{Name: tt.entry}.CheckName()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsafeName)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEntry_WellFormedDigest(t *testing.T) {
	assert.True(t, Entry{SHA256: abcHash}.WellFormedDigest())
	assert.False(t, Entry{SHA256: "deadbeef"}.WellFormedDigest())
	assert.False(t, Entry{SHA256: strings.Repeat("z", 64)}.WellFormedDigest())
}

func TestManifest_NamesIncludesCleanedForm(t *testing.T) {
	m := &Manifest{Entries: []Entry{{Name: "x/../b.jar"}}}
	names := m.Names()
	assert.Contains(t, names, "x/../b.jar")
	assert.Contains(t, names, "b.jar")
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "not json", doc: `<html>404</html>`},
		{name: "missing modpack", doc: `{"mods": []}`},
		{name: "missing mods", doc: `{"modpack": {}}`},
		{name: "null mods", doc: `{"modpack": {"mods": null}}`},
		{name: "missing name", doc: `{"modpack": {"mods": [{"sha256": "` + abcHash + `"}]}}`},
		{name: "missing sha256", doc: `{"modpack": {"mods": [{"name": "a.jar"}]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Parse([]byte(tt.doc))
			assert.Nil(t, m)

			var parseErr *ParseError
			assert.True(t, errors.As(err, &parseErr), "expected *ParseError, got %T: %v", err, err)
		})
	}
}

func TestFetch(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"modpack": {"mods": [{"name": "a.jar", "sha256": "` + abcHash + `"}]}}`))
	}))
	defer srv.Close()

	f := NewFetcher(transfer.NewClient(afero.NewMemMapFs()))
	m, err := f.Fetch(context.Background(), srv.URL+"/manifest.json")
	require.NoError(t, err)
	require.Len(t, m.Entries, 1)
	assert.Equal(t, transfer.DefaultUserAgent, gotUA)
}

func TestFetch_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f := NewFetcher(transfer.NewClient(afero.NewMemMapFs()))
	_, err := f.Fetch(context.Background(), srv.URL+"/manifest.json")
	require.Error(t, err)

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))

	var statusErr *transfer.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestFetch_InvalidBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"modpack":`))
	}))
	defer srv.Close()

	f := NewFetcher(transfer.NewClient(afero.NewMemMapFs()))
	_, err := f.Fetch(context.Background(), srv.URL)

	var parseErr *ParseError
	assert.True(t, errors.As(err, &parseErr), "expected *ParseError, got %v", err)
}
