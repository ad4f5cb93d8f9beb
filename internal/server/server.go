// Package server dispatches incoming requests between the management surface
// and the reverse-proxy path based on the Host header.
package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/synapsr/proxywarp/internal/cache"
	"github.com/synapsr/proxywarp/internal/config"
	"github.com/synapsr/proxywarp/internal/directory"
	"github.com/synapsr/proxywarp/internal/metrics"
	"github.com/synapsr/proxywarp/internal/proxy"
)

// Gateway is the root HTTP handler. Requests whose Host is a child of the
// base domain are resolved to an upstream origin and proxied; everything else
// goes to the management handler.
type Gateway struct {
	cfg        *config.Config
	logger     *slog.Logger
	directory  *directory.Directory
	resolver   *cache.Resolver
	proxy      *proxy.Proxy
	management http.Handler
}

// New wires the gateway together.
func New(
	cfg *config.Config,
	logger *slog.Logger,
	dir *directory.Directory,
	resolver *cache.Resolver,
	p *proxy.Proxy,
	management http.Handler,
) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		cfg:        cfg,
		logger:     logger,
		directory:  dir,
		resolver:   resolver,
		proxy:      p,
		management: management,
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, ok := g.tokenFromHost(r.Host)
	if !ok {
		g.management.ServeHTTP(w, r)
		return
	}

	// Hard per-request watchdog: if the response has not started when it
	// fires, the proxy error handler emits 504.
	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.Timeouts.Request())
	defer cancel()
	r = r.WithContext(ctx)

	target, ok := g.resolve(token, r)
	if !ok {
		g.logger.Warn("unknown proxy token", "token", token, "path", r.URL.Path)
		metrics.ResolveOutcome("miss")
		proxy.WriteErrorPage(w, http.StatusBadRequest, "Unknown subdomain",
			"This proxy subdomain is not registered. Convert a URL on the home page first.",
			"token "+token+" not found", g.cfg.Server.Debug)
		return
	}

	g.proxy.Serve(w, r, token, target)
}

// tokenFromHost extracts the left-most label chain when host is a child of
// the base domain. Management traffic (empty host, the bare base domain, or
// any foreign host) returns false.
func (g *Gateway) tokenFromHost(host string) (string, bool) {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(host)

	base := g.cfg.Server.BaseDomain
	if host == "" || host == base || !strings.HasSuffix(host, "."+base) {
		return "", false
	}
	token := strings.TrimSuffix(host, "."+base)
	if token == "" {
		return "", false
	}
	return token, true
}

// resolve finds the upstream origin for a token: resolver cache first, then
// the directory, then Referer recovery, then one forced reload. Successful
// resolutions are memoised in the resolver cache.
func (g *Gateway) resolve(token string, r *http.Request) (directory.Entry, bool) {
	if target, ok := g.resolver.Get(token); ok {
		metrics.ResolveOutcome("cache")
		return target, true
	}

	if target, ok := g.directory.DomainInfoFromToken(token); ok {
		metrics.ResolveOutcome("directory")
		g.resolver.Put(token, target)
		return target, true
	}

	if target, ok := g.recoverFromReferer(r); ok {
		// Sub-resources under an unknown token adopt the referrer's
		// upstream for this request (and the cache TTL).
		metrics.ResolveOutcome("referer")
		g.resolver.Put(token, target)
		return target, true
	}

	g.directory.ForceReload()
	if target, ok := g.directory.DomainInfoFromToken(token); ok {
		metrics.ResolveOutcome("reload")
		g.resolver.Put(token, target)
		return target, true
	}

	return directory.Entry{}, false
}

// recoverFromReferer resolves a request through the Referer header's
// subdomain token, so sub-resource requests keep working when their own
// subdomain label is unknown.
func (g *Gateway) recoverFromReferer(r *http.Request) (directory.Entry, bool) {
	referer := r.Header.Get("Referer")
	if referer == "" {
		return directory.Entry{}, false
	}
	u, err := url.Parse(referer)
	if err != nil {
		return directory.Entry{}, false
	}

	host := strings.ToLower(u.Hostname())
	suffix := "." + g.cfg.Server.BaseDomain
	if !strings.HasSuffix(host, suffix) {
		return directory.Entry{}, false
	}
	refToken := strings.TrimSuffix(host, suffix)
	if refToken == "" {
		return directory.Entry{}, false
	}

	target, ok := g.directory.DomainInfoFromToken(refToken)
	if ok {
		g.logger.Debug("token recovered via referer", "referer_token", refToken)
	}
	return target, ok
}
