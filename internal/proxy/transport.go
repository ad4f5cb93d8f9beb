package proxy

import (
	"io"
	"net"
	"net/http"
	"time"

	"github.com/synapsr/proxywarp/internal/config"
)

// maxRedirects bounds how many upstream redirects are chased per request.
const maxRedirects = 5

// newTransport builds the upstream transport. The proxy-request budget is
// applied to dialing, response headers, and idle connections; compression is
// disabled because the rewriter needs plaintext HTML.
func newTransport(timeouts config.TimeoutConfig) http.RoundTripper {
	base := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   timeouts.ProxyRequest(),
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       timeouts.ProxyRequest(),
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeouts.ProxyRequest(),
		DisableCompression:    true,
	}
	return &redirectTransport{base: base, max: maxRedirects}
}

// redirectTransport chases upstream redirects at the transport level.
// httputil.ReverseProxy never follows redirects itself; without this the
// client would be bounced to the upstream's real origin and escape the
// proxied subdomain. Only GET and HEAD are replayed — their requests have no
// body to re-send.
type redirectTransport struct {
	base http.RoundTripper
	max  int
}

func (t *redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return resp, nil
	}

	for redirects := 0; redirects < t.max; redirects++ {
		location := redirectLocation(resp)
		if location == "" {
			return resp, nil
		}
		next, perr := req.URL.Parse(location)
		if perr != nil {
			return resp, nil
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		nreq := req.Clone(req.Context())
		nreq.URL = next
		nreq.Host = next.Host
		req = nreq

		resp, err = t.base.RoundTrip(nreq)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func redirectLocation(resp *http.Response) string {
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return resp.Header.Get("Location")
	}
	return ""
}
