package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synapsr/proxywarp/internal/cache"
	"github.com/synapsr/proxywarp/internal/config"
	"github.com/synapsr/proxywarp/internal/directory"
	"github.com/synapsr/proxywarp/internal/proxy"
	"github.com/synapsr/proxywarp/internal/rewrite"
)

func testGatewayConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			Port:       3000,
			BaseDomain: "proxywarp.com",
			UserAgent:  "proxywarp-test-agent",
			Debug:      true,
		},
		Directory: config.DirectoryConfig{
			DBFile:            filepath.Join(t.TempDir(), "tokens.json"),
			TokenLength:       6,
			DefaultProtocol:   "https",
			CleanupIntervalMS: 24 * 60 * 60 * 1000,
			TokenExpirationMS: 30 * 24 * 60 * 60 * 1000,
		},
		Timeouts: config.TimeoutConfig{
			ProxyRequestMS: 2_000,
			RequestMS:      3_000,
			AdminProbeMS:   1_000,
		},
		Cache: config.CacheConfig{TTLMS: 30_000},
	}
}

func newTestGateway(t *testing.T) (*Gateway, *directory.Directory) {
	t.Helper()
	cfg := testGatewayConfig(t)

	dir := directory.New(cfg.Directory, nil)
	t.Cleanup(dir.Close)
	resolver := cache.New(cfg.Cache.TTL())
	t.Cleanup(resolver.Close)
	p := proxy.New(cfg, nil, rewrite.New(cfg.Server.BaseDomain))

	management := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "management surface")
	})

	return New(cfg, nil, dir, resolver, p, management), dir
}

func registerUpstream(t *testing.T, dir *directory.Directory, srv *httptest.Server) string {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return dir.TokenForDomain(u.Host, "http")
}

func TestManagementDispatch(t *testing.T) {
	g, _ := newTestGateway(t)

	for _, host := range []string{"proxywarp.com", "proxywarp.com:3000", "unrelated.example.org", ""} {
		r := httptest.NewRequest(http.MethodGet, "http://placeholder/", nil)
		r.Host = host
		w := httptest.NewRecorder()
		g.ServeHTTP(w, r)

		assert.Equal(t, "management surface", w.Body.String(), "host %q routes to management", host)
	}
}

func TestSubdomainDispatchProxiesUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "hello from upstream")
	}))
	defer srv.Close()

	g, dir := newTestGateway(t)
	token := registerUpstream(t, dir, srv)

	r := httptest.NewRequest(http.MethodGet, "http://placeholder/page", nil)
	r.Host = token + ".proxywarp.com"
	w := httptest.NewRecorder()
	g.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello from upstream", w.Body.String())
	assert.Equal(t, "ALLOWALL", w.Result().Header.Get("X-Frame-Options"))
}

func TestSubdomainWithPortDispatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	g, dir := newTestGateway(t)
	token := registerUpstream(t, dir, srv)

	r := httptest.NewRequest(http.MethodGet, "http://placeholder/", nil)
	r.Host = token + ".proxywarp.com:3000"
	w := httptest.NewRecorder()
	g.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestUnknownTokenReturns400(t *testing.T) {
	g, _ := newTestGateway(t)

	r := httptest.NewRequest(http.MethodGet, "http://placeholder/", nil)
	r.Host = "nosuch.proxywarp.com"
	w := httptest.NewRecorder()
	g.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Unknown subdomain")
}

func TestRefererRecoveryServesSubResource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/style.css" {
			w.Header().Set("Content-Type", "text/css")
			io.WriteString(w, "body{}")
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	g, dir := newTestGateway(t)
	token := registerUpstream(t, dir, srv)

	r := httptest.NewRequest(http.MethodGet, "http://placeholder/style.css", nil)
	r.Host = "unknown.proxywarp.com"
	r.Header.Set("Referer", "https://"+token+".proxywarp.com/page")
	w := httptest.NewRecorder()
	g.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "body{}", w.Body.String(), "sub-resource is served from the referrer's upstream")
}

func TestRefererRecoveryIgnoresForeignReferer(t *testing.T) {
	g, _ := newTestGateway(t)

	r := httptest.NewRequest(http.MethodGet, "http://placeholder/style.css", nil)
	r.Host = "unknown.proxywarp.com"
	r.Header.Set("Referer", "https://somewhere.else.example/page")
	w := httptest.NewRecorder()
	g.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResolverCacheServesRepeatLookups(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	g, dir := newTestGateway(t)
	token := registerUpstream(t, dir, srv)

	for i := 0; i < 3; i++ {
		r := httptest.NewRequest(http.MethodGet, "http://placeholder/", nil)
		r.Host = token + ".proxywarp.com"
		w := httptest.NewRecorder()
		g.ServeHTTP(w, r)
		require.Equal(t, http.StatusOK, w.Code)
	}
	assert.Equal(t, 3, hits)
	assert.Equal(t, 1, g.resolver.Len(), "repeat lookups reuse one cache entry")
}

func TestWatchdogBoundsSlowUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	g, dir := newTestGateway(t)
	g.cfg.Timeouts.RequestMS = 100
	token := registerUpstream(t, dir, srv)

	r := httptest.NewRequest(http.MethodGet, "http://placeholder/", nil)
	r.Host = token + ".proxywarp.com"

	start := time.Now()
	w := httptest.NewRecorder()
	g.ServeHTTP(w, r)

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Less(t, time.Since(start), 2*time.Second)
}
