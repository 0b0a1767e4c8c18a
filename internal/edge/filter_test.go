package edge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/dunamismax/imgopt/internal/signature"
	"github.com/dunamismax/imgopt/internal/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "edge-secret"
	testToken  = "origin-token"
)

type seenRequest struct {
	method string
	path   string
	token  string
}

func newOrigin(t *testing.T) (*httptest.Server, *[]seenRequest) {
	t.Helper()
	var seen []seenRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, seenRequest{method: r.Method, path: r.URL.Path, token: r.Header.Get("X-Security-Token")})
		w.Header().Set("Content-Type", "image/webp")
		_, _ = io.WriteString(w, "from-origin")
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

type memoryStored map[string]storage.Object

func (m memoryStored) Fetch(_ context.Context, key string) (storage.Object, error) {
	obj, ok := m[key]
	if !ok {
		return storage.Object{}, fmt.Errorf("get object %s: %w", key, storage.ErrNotFound)
	}
	return obj, nil
}

func newFilter(t *testing.T, origin string, stored Stored) *Filter {
	t.Helper()
	u, err := url.Parse(origin)
	require.NoError(t, err)
	f, err := NewFilter(zerolog.Nop(), u, Config{
		SigningSecret: testSecret,
		SecurityToken: testToken,
		Stored:        stored,
	})
	require.NoError(t, err)
	return f
}

func TestFilterForwardsVerifiedPaths(t *testing.T) {
	origin, seen := newOrigin(t)
	f := newFilter(t, origin.URL, nil)

	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, signature.Sign("/image/abc/300x200", testSecret), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "from-origin", rec.Body.String())
	require.Len(t, *seen, 1)
	assert.Equal(t, "/image/abc/300x200", (*seen)[0].path)
	assert.Equal(t, testToken, (*seen)[0].token)
}

func TestFilterRejectsBadSignatures(t *testing.T) {
	origin, seen := newOrigin(t)
	f := newFilter(t, origin.URL, nil)

	paths := []string{
		"/image/abc/300x200",
		"/image/abc/300x200/sig=",
		"/image/abc/300x200/sig=" + signature.Compute("/image/abc/400x200", testSecret),
		signature.Sign("/image/abc/300x200", "other-secret"),
	}
	for _, path := range paths {
		rec := httptest.NewRecorder()
		f.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Equal(t, "invalid or missing signature", rec.Header().Get("X-Error"), path)
	}
	assert.Empty(t, *seen)
}

func TestFilterPassesOtherMethodsThrough(t *testing.T) {
	origin, seen := newOrigin(t)
	f := newFilter(t, origin.URL, nil)

	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/prerender", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, *seen, 1)
	assert.Equal(t, http.MethodPost, (*seen)[0].method)
	assert.Equal(t, "/v1/prerender", (*seen)[0].path)
}

func TestFilterServesStoredRenditions(t *testing.T) {
	origin, seen := newOrigin(t)
	stored := memoryStored{
		"image/abc/jpeg": {Data: []byte("stored"), ContentType: "image/jpeg", CacheControl: "public, max-age=60"},
	}
	f := newFilter(t, origin.URL, stored)

	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, signature.Sign("/image/abc/jpeg", testSecret), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stored", rec.Body.String())
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=60", rec.Header().Get("Cache-Control"))

	rec = httptest.NewRecorder()
	f.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, signature.Sign("/image/abc/jpeg", testSecret), nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Empty(t, *seen)

	rec = httptest.NewRecorder()
	f.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, signature.Sign("/image/abc/webp", testSecret), nil))
	assert.Equal(t, "from-origin", rec.Body.String())
	assert.Len(t, *seen, 1)
}

func TestFilterForwardsSignatureWhenOriginVerifies(t *testing.T) {
	origin, seen := newOrigin(t)
	u, err := url.Parse(origin.URL)
	require.NoError(t, err)
	f, err := NewFilter(zerolog.Nop(), u, Config{
		SigningSecret: testSecret,
		SecurityToken: testToken,
		ForwardSigned: true,
	})
	require.NoError(t, err)

	signed := signature.Sign("/image/abc/300x200", testSecret)
	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, signed, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, *seen, 1)
	assert.Equal(t, signed, (*seen)[0].path)

	stripped, err := signature.Verify((*seen)[0].path, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "/image/abc/300x200", stripped)
}

func TestNewFilterValidates(t *testing.T) {
	u, _ := url.Parse("http://origin")
	_, err := NewFilter(zerolog.Nop(), u, Config{SecurityToken: testToken})
	assert.Error(t, err)
	_, err = NewFilter(zerolog.Nop(), u, Config{SigningSecret: testSecret})
	assert.Error(t, err)
	_, err = NewFilter(zerolog.Nop(), &url.URL{Path: "/relative"}, Config{SigningSecret: testSecret, SecurityToken: testToken})
	assert.Error(t, err)
}
