// Package handlers implements the management API endpoint handlers: URL
// conversion, token inspection, health, and the debug-only admin surface.
package handlers

import (
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/synapsr/proxywarp/internal/config"
	"github.com/synapsr/proxywarp/internal/directory"
	"github.com/synapsr/proxywarp/internal/rewrite"
)

// Handler contains dependencies for API handlers.
type Handler struct {
	cfg       *config.Config
	logger    *slog.Logger
	directory *directory.Directory
	rewriter  *rewrite.Rewriter
	startTime time.Time
}

// New creates a Handler over the given directory and rewriter.
func New(cfg *config.Config, logger *slog.Logger, dir *directory.Directory, rw *rewrite.Rewriter) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cfg:       cfg,
		logger:    logger,
		directory: dir,
		rewriter:  rw,
		startTime: time.Now(),
	}
}

var errInvalidURL = errors.New("invalid url")

// parseTargetURL splits a user-supplied URL into its upstream origin and
// path. Scheme-less input defaults to https; a leading www. is folded into
// the canonical domain.
func parseTargetURL(raw string) (domain, protocol, pathAndQuery string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", "", errInvalidURL
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", "", "", errInvalidURL
	}
	protocol = strings.ToLower(u.Scheme)
	if protocol != "http" && protocol != "https" {
		return "", "", "", errInvalidURL
	}

	domain = strings.ToLower(u.Hostname())
	domain = strings.TrimPrefix(domain, "www.")
	if !directory.ValidDomain(domain) {
		return "", "", "", errInvalidURL
	}

	pathAndQuery = u.RequestURI()
	return domain, protocol, pathAndQuery, nil
}
