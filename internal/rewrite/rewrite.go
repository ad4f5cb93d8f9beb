// Package rewrite transforms upstream HTML so that intra-origin navigation
// stays on the proxied subdomain. The transformations are best-effort textual
// rewrites driven by regular expressions; malformed HTML never aborts a
// response. Running the rewriter on its own output is a no-op: proxied URLs
// contain the base domain and are skipped by every rule.
package rewrite

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	// Absolute-path href/src values. The leading whitespace is part of the
	// match and is preserved in the replacement.
	absPathPattern = regexp.MustCompile(`(?i)\s(href|src)=["']/([^"']*)["']`)

	formActionPattern = regexp.MustCompile(`(?i)<form([^>]*)action=["']([^"']*)["']`)
	baseTagPattern    = regexp.MustCompile(`(?i)<base[\s>]`)
	headOpenPattern   = regexp.MustCompile(`(?i)<head[^>]*>`)
	bodyClosePattern  = regexp.MustCompile(`(?i)</body>`)
)

// Rewriter rewrites HTML bodies for one base domain.
type Rewriter struct {
	baseDomain string
}

// New creates a rewriter producing URLs under baseDomain.
func New(baseDomain string) *Rewriter {
	return &Rewriter{baseDomain: strings.ToLower(baseDomain)}
}

// BaseDomain returns the configured base domain.
func (r *Rewriter) BaseDomain() string {
	return r.baseDomain
}

// ProxyURL yields the proxied form of a path under the given token, with a
// leading slash guaranteed when a path is supplied.
func (r *Rewriter) ProxyURL(token, pathAndQuery string) string {
	base := "https://" + token + "." + r.baseDomain
	if pathAndQuery == "" {
		return base
	}
	switch pathAndQuery[0] {
	case '/', '?', '#':
	default:
		pathAndQuery = "/" + pathAndQuery
	}
	return base + pathAndQuery
}

// Rewrite applies all transformations in order: same-origin absolute URLs,
// absolute paths, form actions, base-tag injection, and the client
// interceptor script.
func (r *Rewriter) Rewrite(html, token, domain string) string {
	domain = strings.ToLower(domain)

	html = r.rewriteAbsoluteURLs(html, token, domain)
	html = r.rewriteAbsolutePaths(html, token)
	html = r.rewriteFormActions(html, token, domain)
	html = r.injectBaseTag(html, token)
	html = r.injectScript(html, token, domain)
	return html
}

// rewriteAbsoluteURLs maps href/src values pointing at the upstream origin
// (with optional scheme and www prefix) onto the proxied subdomain.
func (r *Rewriter) rewriteAbsoluteURLs(html, token, domain string) string {
	re := regexp.MustCompile(`(?i)(href|src)=["'](?:https?:)?//(?:www\.)?` + regexp.QuoteMeta(domain) + `([^"']*)["']`)
	return re.ReplaceAllStringFunc(html, func(m string) string {
		sub := re.FindStringSubmatch(m)
		return sub[1] + `="` + r.ProxyURL(token, sub[2]) + `"`
	})
}

func (r *Rewriter) rewriteAbsolutePaths(html, token string) string {
	return absPathPattern.ReplaceAllStringFunc(html, func(m string) string {
		sub := absPathPattern.FindStringSubmatch(m)
		return m[:1] + sub[1] + `="` + r.ProxyURL(token, "/"+sub[2]) + `"`
	})
}

// rewriteFormActions rewrites form targets that point at the upstream origin
// or at an absolute path. Actions already referencing the base domain and
// relative actions are kept (the injected base tag resolves the latter).
func (r *Rewriter) rewriteFormActions(html, token, domain string) string {
	return formActionPattern.ReplaceAllStringFunc(html, func(m string) string {
		sub := formActionPattern.FindStringSubmatch(m)
		pre, action := sub[1], sub[2]

		if strings.Contains(action, r.baseDomain) {
			return m
		}
		if strings.HasPrefix(action, "http") {
			u, err := url.Parse(action)
			if err != nil {
				return m
			}
			host := strings.ToLower(u.Hostname())
			if host != domain && host != "www."+domain {
				return m
			}
			return "<form" + pre + `action="` + r.ProxyURL(token, u.RequestURI()) + `"`
		}
		if strings.HasPrefix(action, "/") {
			return "<form" + pre + `action="` + r.ProxyURL(token, action) + `"`
		}
		return m
	})
}

// injectBaseTag inserts a <base> right after the first <head> opening tag so
// relative references resolve under the proxied origin. Documents that carry
// their own base tag are left alone.
func (r *Rewriter) injectBaseTag(html, token string) string {
	if baseTagPattern.MatchString(html) {
		return html
	}
	loc := headOpenPattern.FindStringIndex(html)
	if loc == nil {
		return html
	}
	tag := "\n" + `<base href="` + r.ProxyURL(token, "/") + `">` + "\n"
	return html[:loc[1]] + tag + html[loc[1]:]
}

// injectScript places the client interceptor immediately before </body>, or
// appends it when the document has no closing body tag.
func (r *Rewriter) injectScript(html, token, domain string) string {
	if strings.Contains(html, scriptMarker) {
		return html
	}
	script := r.InterceptorScript(token, domain)
	if loc := bodyClosePattern.FindStringIndex(html); loc != nil {
		return html[:loc[0]] + script + "\n" + html[loc[0]:]
	}
	return html + script
}
