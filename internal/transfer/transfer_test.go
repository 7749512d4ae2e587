package transfer

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
)

func TestDownload_WritesBody(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("jar contents"))
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	c := NewClient(fs)

	n, err := c.Download(context.Background(), srv.URL+"/mods/a.jar", "/game/mods/a.jar")
	require.NoError(t, err)
	assert.Equal(t, int64(len("jar contents")), n)
	assert.Equal(t, DefaultUserAgent, gotUA)

	data, err := afero.ReadFile(fs, "/game/mods/a.jar")
	require.NoError(t, err)
	assert.Equal(t, "jar contents", string(data))
}

func TestDownload_OverwritesExisting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("new"))
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/mods/a.jar", []byte("a much longer old body"), 0644))

	_, err := NewClient(fs).Download(context.Background(), srv.URL, "/mods/a.jar")
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, "/mods/a.jar")
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestDownload_LargeBodyStreams(t *testing.T) {
	body := strings.Repeat("x", 5*bufferSize+123)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	n, err := NewClient(fs).Download(context.Background(), srv.URL, "/mods/big.jar")
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), n)
}

func TestDownload_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	_, err := NewClient(fs).Download(context.Background(), srv.URL+"/gone.jar", "/mods/gone.jar")
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)

	exists, err := afero.Exists(fs, "/mods/gone.jar")
	require.NoError(t, err)
	assert.False(t, exists, "no file should be created when the server rejects the request")
}

func TestDownload_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(afero.NewMemMapFs()).Download(context.Background(), url, "/mods/a.jar")
	assert.Error(t, err)
}

func TestGet_CustomUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	c := NewClient(afero.NewMemMapFs(), WithUserAgent("custom/1.0"))
	resp, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, "custom/1.0", gotUA)
	assert.Equal(t, "custom/1.0", c.UserAgent())
}

func TestGet_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(afero.NewMemMapFs()).Get(ctx, srv.URL)
	assert.True(t, errors.Is(err, context.Canceled), "expected context.Canceled, got %v", err)
}
