// Package handlers_test provides behavior tests for the API handlers package.
package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synapsr/proxywarp/internal/api/handlers"
	"github.com/synapsr/proxywarp/internal/api/models"
	"github.com/synapsr/proxywarp/internal/config"
	"github.com/synapsr/proxywarp/internal/directory"
	"github.com/synapsr/proxywarp/internal/rewrite"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func createTestHandler(t *testing.T) (*handlers.Handler, *directory.Directory) {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{
			Port:       3000,
			BaseDomain: "proxywarp.com",
			Debug:      true,
			UserAgent:  "proxywarp-test-agent",
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

	dir := directory.New(cfg.Directory, nil)
	t.Cleanup(dir.Close)

	return handlers.New(cfg, nil, dir, rewrite.New(cfg.Server.BaseDomain)), dir
}

func performRequest(r http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth_ReturnsOK(t *testing.T) {
	h, _ := createTestHandler(t)
	router := gin.New()
	router.GET("/healthz", h.Health)

	w := performRequest(router, "GET", "/healthz")

	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.StatusResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
}

func TestConvert_AllocatesToken(t *testing.T) {
	h, _ := createTestHandler(t)
	router := gin.New()
	router.GET("/convert", h.Convert)

	w := performRequest(router, "GET", "/convert?url=https%3A%2F%2Fexample.com%2Ffoo%3Fbar%3D1")

	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.ConvertResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/foo?bar=1", resp.Original)
	assert.Equal(t, "example.com", resp.Domain)
	require.NotEmpty(t, resp.Token)
	assert.Equal(t, "https://"+resp.Token+".proxywarp.com/foo?bar=1", resp.Proxy)
}

func TestConvert_IsIdempotent(t *testing.T) {
	h, _ := createTestHandler(t)
	router := gin.New()
	router.GET("/convert", h.Convert)

	w1 := performRequest(router, "GET", "/convert?url=https%3A%2F%2Fexample.com%2Ffoo")
	w2 := performRequest(router, "GET", "/convert?url=https%3A%2F%2Fexample.com%2Fbar")

	var r1, r2 models.ConvertResponse
	require.NoError(t, json.Unmarshal(w1.Body.Bytes(), &r1))
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &r2))
	assert.Equal(t, r1.Token, r2.Token, "same domain maps to the same token")
}

func TestConvert_DefaultsToHTTPS(t *testing.T) {
	h, _ := createTestHandler(t)
	router := gin.New()
	router.GET("/convert", h.Convert)

	w := performRequest(router, "GET", "/convert?url=example.com")

	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.ConvertResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "example.com", resp.Domain)
}

func TestConvert_StripsWWW(t *testing.T) {
	h, _ := createTestHandler(t)
	router := gin.New()
	router.GET("/convert", h.Convert)

	w := performRequest(router, "GET", "/convert?url=https%3A%2F%2Fwww.example.com%2F")

	var resp models.ConvertResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "example.com", resp.Domain)
}

func TestConvert_RejectsBadInput(t *testing.T) {
	h, _ := createTestHandler(t)
	router := gin.New()
	router.GET("/convert", h.Convert)

	for _, path := range []string{
		"/convert",
		"/convert?url=ftp%3A%2F%2Fexample.com",
		"/convert?url=%20",
		"/convert?url=not%20a%20url",
	} {
		w := performRequest(router, "GET", path)
		assert.Equal(t, http.StatusBadRequest, w.Code, "path %s", path)

		var resp models.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Error)
	}
}

func TestConvertRedirect_BouncesToProxy(t *testing.T) {
	h, dir := createTestHandler(t)
	router := gin.New()
	router.GET("/", h.ConvertRedirect)

	w := performRequest(router, "GET", "/?url=https%3A%2F%2Fexample.com%2Fpage")

	assert.Equal(t, http.StatusFound, w.Code)
	token := dir.TokenForDomain("example.com", "https")
	assert.Equal(t, "https://"+token+".proxywarp.com/page", w.Result().Header.Get("Location"))
}

func TestConvertRedirect_RendersErrorPage(t *testing.T) {
	h, _ := createTestHandler(t)
	router := gin.New()
	router.GET("/", h.ConvertRedirect)

	w := performRequest(router, "GET", "/?url=ftp%3A%2F%2Fnope")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid URL")
	assert.Contains(t, w.Result().Header.Get("Content-Type"), "text/html")
}

func TestTestToken_ReturnsTarget(t *testing.T) {
	h, dir := createTestHandler(t)
	token := dir.TokenForDomain("example.com", "https")

	router := gin.New()
	router.GET("/test-token/:token", h.TestToken)

	w := performRequest(router, "GET", "/test-token/"+token)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.TestTokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, token, resp.Token)
	assert.Equal(t, "example.com", resp.TargetInfo.Domain)
	assert.Equal(t, "https", resp.TargetInfo.Protocol)
	assert.Equal(t, "https://"+token+".proxywarp.com/", resp.ProxyURL)
}

func TestTestToken_NotFound(t *testing.T) {
	h, _ := createTestHandler(t)
	router := gin.New()
	router.GET("/test-token/:token", h.TestToken)

	w := performRequest(router, "GET", "/test-token/zzzzzz")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReloadTokens(t *testing.T) {
	h, dir := createTestHandler(t)
	dir.TokenForDomain("example.com", "")

	router := gin.New()
	router.GET("/admin/reload-tokens", h.ReloadTokens)

	w := performRequest(router, "GET", "/admin/reload-tokens")

	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.ReloadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Entries)
}

func TestAddTestToken(t *testing.T) {
	h, _ := createTestHandler(t)
	router := gin.New()
	router.GET("/admin/add-test-token", h.AddTestToken)

	w := performRequest(router, "GET", "/admin/add-test-token?domain=example.com")

	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.AddTokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "example.com", resp.Domain)
	require.NotEmpty(t, resp.Token)
	assert.Equal(t, "https://"+resp.Token+".proxywarp.com/", resp.Proxy)
}

func TestAddTestToken_RejectsBadDomain(t *testing.T) {
	h, _ := createTestHandler(t)
	router := gin.New()
	router.GET("/admin/add-test-token", h.AddTestToken)

	w := performRequest(router, "GET", "/admin/add-test-token?domain=not_a_domain")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTestConnection_RejectsBadDomain(t *testing.T) {
	h, _ := createTestHandler(t)
	router := gin.New()
	router.GET("/admin/test-connection", h.TestConnection)

	w := performRequest(router, "GET", "/admin/test-connection")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = performRequest(router, "GET", "/admin/test-connection?domain=nodots")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDiagnostic_ReportsDirectoryState(t *testing.T) {
	h, dir := createTestHandler(t)
	dir.TokenForDomain("example.com", "")

	router := gin.New()
	router.GET("/admin/diagnostic", h.Diagnostic)

	w := performRequest(router, "GET", "/admin/diagnostic")

	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.DiagnosticResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "proxywarp.com", resp.BaseDomain)
	assert.Equal(t, 1, resp.Directory.Entries)
	assert.GreaterOrEqual(t, resp.Directory.BackupSize, 1)
	assert.Positive(t, resp.GoRoutines)
	assert.Positive(t, resp.CPU.NumCPU)
}
