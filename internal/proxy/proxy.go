// Package proxy forwards requests for a resolved token to its upstream
// origin and applies the embedding header policy on the way back. HTML
// responses are diverted through the rewriter; everything else streams
// through untouched.
package proxy

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"github.com/synapsr/proxywarp/internal/config"
	"github.com/synapsr/proxywarp/internal/directory"
	"github.com/synapsr/proxywarp/internal/metrics"
	"github.com/synapsr/proxywarp/internal/rewrite"
)

// strippedResponseHeaders are removed from every upstream response so the
// page can be embedded in an iframe on another origin.
var strippedResponseHeaders = []string{
	"X-Frame-Options",
	"Content-Security-Policy",
	"Content-Security-Policy-Report-Only",
	"Feature-Policy",
	"Permissions-Policy",
}

// Proxy is the upstream forwarding pipeline.
type Proxy struct {
	cfg       *config.Config
	logger    *slog.Logger
	rewriter  *rewrite.Rewriter
	transport http.RoundTripper
}

// New creates a proxy using cfg's timeouts and the given rewriter.
func New(cfg *config.Config, logger *slog.Logger, rewriter *rewrite.Rewriter) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{
		cfg:       cfg,
		logger:    logger,
		rewriter:  rewriter,
		transport: newTransport(cfg.Timeouts),
	}
}

// Serve forwards one request to the target origin and writes the response.
// The caller has already resolved the token and armed the request watchdog on
// the request context.
func (p *Proxy) Serve(w http.ResponseWriter, r *http.Request, token string, target directory.Entry) {
	if target.Domain == "" {
		p.logger.Error("proxy target has no domain", "token", token)
		WriteErrorPage(w, http.StatusInternalServerError, "Gateway error",
			"The proxy target could not be constructed.", "empty target domain for token "+token, p.cfg.Server.Debug)
		return
	}

	requestID := uuid.NewString()[:8]
	start := time.Now()
	targetURL := &url.URL{Scheme: target.Protocol, Host: target.Domain}

	rp := &httputil.ReverseProxy{
		Transport: p.transport,
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(targetURL)
			pr.Out.Host = target.Domain
			pr.Out.Header.Set("User-Agent", p.cfg.Server.UserAgent)
			pr.Out.Header.Set("Referer", target.Origin()+"/")
			pr.Out.Header.Del("X-Forwarded-Host")
			pr.Out.Header.Del("X-Forwarded-Proto")
			pr.Out.Header.Del("X-Forwarded-For")
			// The rewriter needs plaintext HTML, so never advertise
			// compression support upstream.
			pr.Out.Header.Del("Accept-Encoding")
		},
		ModifyResponse: func(resp *http.Response) error {
			for _, name := range strippedResponseHeaders {
				resp.Header.Del(name)
			}
			applyEmbedHeaders(resp.Header)
			metrics.ObserveProxyRequest(resp.StatusCode, time.Since(start))

			contentType := resp.Header.Get("Content-Type")
			if strings.HasPrefix(strings.ToLower(contentType), "text/html") {
				return p.rewriteHTML(resp, token, target.Domain)
			}
			return nil
		},
		ErrorHandler: func(rw http.ResponseWriter, req *http.Request, err error) {
			elapsed := time.Since(start)
			metrics.ObserveProxyRequest(0, elapsed)
			sentry.CaptureException(err)

			if req.Context().Err() != nil {
				p.logger.Warn("proxy request watchdog fired",
					"request_id", requestID, "token", token, "domain", target.Domain,
					"elapsed_ms", elapsed.Milliseconds())
				WriteErrorPage(rw, http.StatusGatewayTimeout, "Gateway timeout",
					"The upstream site did not respond in time.", err.Error(), p.cfg.Server.Debug)
				return
			}

			p.logger.Error("upstream request failed",
				"request_id", requestID, "token", token, "domain", target.Domain,
				"path", req.URL.Path, "err", err)
			WriteErrorPage(rw, http.StatusBadGateway, "Bad gateway",
				"The upstream site could not be reached.", err.Error(), p.cfg.Server.Debug)
		},
	}

	p.logger.Debug("proxying request",
		"request_id", requestID, "token", token, "domain", target.Domain,
		"method", r.Method, "path", r.URL.Path)
	rp.ServeHTTP(w, r)
}

// rewriteHTML buffers the upstream body, runs it through the rewriter, and
// swaps the response body for the transformed document with a corrected
// Content-Length.
func (p *Proxy) rewriteHTML(resp *http.Response, token, domain string) error {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return err
	}

	out := []byte(p.rewriter.Rewrite(string(body), token, domain))
	resp.Body = io.NopCloser(bytes.NewReader(out))
	resp.ContentLength = int64(len(out))
	resp.Header.Set("Content-Length", strconv.Itoa(len(out)))
	resp.Header.Del("Content-Encoding")
	metrics.HTMLRewritten()
	return nil
}

// applyEmbedHeaders sets the permissive CORS and framing headers every
// proxied response carries.
func applyEmbedHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept, Authorization")
	h.Set("Access-Control-Allow-Credentials", "true")
	// Legacy embedders look for an explicit allow value.
	h.Set("X-Frame-Options", "ALLOWALL")
}
