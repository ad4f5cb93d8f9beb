package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/synapsr/proxywarp/internal/api/models"
	"github.com/synapsr/proxywarp/internal/proxy"
)

// Convert allocates (or reuses) a token for the given ?url= and returns the
// proxied form as JSON.
func (h *Handler) Convert(c *gin.Context) {
	raw := c.Query("url")
	if raw == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "missing url parameter"})
		return
	}

	domain, protocol, pathAndQuery, err := parseTargetURL(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid url: " + raw})
		return
	}

	token := h.directory.TokenForDomain(domain, protocol)
	c.JSON(http.StatusOK, models.ConvertResponse{
		Original: raw,
		Domain:   domain,
		Token:    token,
		Proxy:    h.rewriter.ProxyURL(token, pathAndQuery),
	})
}

// ConvertRedirect handles the ?url= shortcut on the home page: allocate a
// token and bounce the browser straight onto the proxied subdomain.
func (h *Handler) ConvertRedirect(c *gin.Context) {
	raw := c.Query("url")

	domain, protocol, pathAndQuery, err := parseTargetURL(raw)
	if err != nil {
		proxy.WriteErrorPage(c.Writer, http.StatusBadRequest, "Invalid URL",
			"The url parameter could not be parsed into a website address.", raw, h.cfg.Server.Debug)
		c.Abort()
		return
	}

	token := h.directory.TokenForDomain(domain, protocol)
	c.Redirect(http.StatusFound, h.rewriter.ProxyURL(token, pathAndQuery))
}

// TestToken resolves a token back to its upstream origin.
func (h *Handler) TestToken(c *gin.Context) {
	token := c.Param("token")

	entry, ok := h.directory.DomainInfoFromToken(token)
	if !ok {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "token not found"})
		return
	}

	c.JSON(http.StatusOK, models.TestTokenResponse{
		Token: token,
		TargetInfo: models.TargetInfo{
			Domain:    entry.Domain,
			Protocol:  entry.Protocol,
			Timestamp: entry.Timestamp,
		},
		ProxyURL: h.rewriter.ProxyURL(token, "/"),
	})
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, models.StatusResponse{Status: "ok"})
}
