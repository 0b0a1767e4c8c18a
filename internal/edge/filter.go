// Package edge sits in front of the image API. It checks path signatures,
// serves renditions that are already in the processed bucket, and forwards
// everything else to the origin with the security token attached.
package edge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"github.com/dunamismax/imgopt/internal/signature"
	"github.com/dunamismax/imgopt/internal/storage"
	"github.com/rs/zerolog"
)

const errorHeader = "X-Error"

// Stored looks up renditions persisted by earlier requests.
type Stored interface {
	Fetch(ctx context.Context, key string) (storage.Object, error)
}

type Config struct {
	SigningSecret string
	SecurityToken string
	TokenHeader   string
	// Stored is optional. When nil every request goes to the origin.
	Stored Stored
	// ForwardSigned keeps the signature on forwarded paths, for origins that
	// verify signatures themselves.
	ForwardSigned bool
}

type Filter struct {
	logger zerolog.Logger
	cfg    Config
	proxy  *httputil.ReverseProxy
}

func NewFilter(logger zerolog.Logger, origin *url.URL, cfg Config) (*Filter, error) {
	if origin == nil || origin.Scheme == "" || origin.Host == "" {
		return nil, errors.New("origin url must be absolute")
	}
	if cfg.SigningSecret == "" {
		return nil, errors.New("signing secret is required")
	}
	if cfg.SecurityToken == "" {
		return nil, errors.New("security token is required")
	}
	if cfg.TokenHeader == "" {
		cfg.TokenHeader = "X-Security-Token"
	}

	f := &Filter{logger: logger, cfg: cfg}
	f.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(origin)
			pr.SetXForwarded()
			pr.Out.Header.Set(cfg.TokenHeader, cfg.SecurityToken)
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			f.logger.Error().Err(err).Str("path", r.URL.Path).Msg("origin request failed")
			w.WriteHeader(http.StatusBadGateway)
		},
	}
	return f, nil
}

func (f *Filter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		f.proxy.ServeHTTP(w, r)
		return
	}

	stripped, err := signature.Verify(r.URL.Path, f.cfg.SigningSecret)
	if err != nil {
		f.logger.Debug().Str("path", r.URL.Path).Msg("rejected unsigned path")
		w.Header().Set(errorHeader, "invalid or missing signature")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if f.serveStored(w, r, stripped) {
		return
	}

	if f.cfg.ForwardSigned {
		f.proxy.ServeHTTP(w, r)
		return
	}

	out := r.Clone(r.Context())
	out.URL.Path = stripped
	out.URL.RawPath = ""
	out.RequestURI = ""
	f.proxy.ServeHTTP(w, out)
}

func (f *Filter) serveStored(w http.ResponseWriter, r *http.Request, path string) bool {
	if f.cfg.Stored == nil {
		return false
	}

	obj, err := f.cfg.Stored.Fetch(r.Context(), strings.TrimPrefix(path, "/"))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			f.logger.Warn().Err(err).Str("path", path).Msg("processed lookup failed, falling back to origin")
		}
		return false
	}

	h := w.Header()
	if obj.ContentType != "" {
		h.Set("Content-Type", obj.ContentType)
	}
	if obj.CacheControl != "" {
		h.Set("Cache-Control", obj.CacheControl)
	}
	h.Set("Content-Length", strconv.Itoa(len(obj.Data)))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = w.Write(obj.Data)
	}
	return true
}
