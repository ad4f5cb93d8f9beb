package proxy

import (
	"fmt"
	"html"
	"net/http"
)

// errorPageHTML is the shared gateway error page. Placeholders: status code,
// title, message, optional preformatted detail block.
const errorPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>%d &middot; %s</title>
<style>
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body {
    font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
    min-height: 100vh;
    display: flex;
    align-items: center;
    justify-content: center;
    background: #fafafa;
    color: #111;
  }
  .container {
    text-align: center;
    max-width: 520px;
    padding: 2rem;
  }
  h1 {
    font-size: 1.5rem;
    font-weight: 600;
    margin-bottom: 0.75rem;
  }
  p {
    font-size: 1rem;
    color: #666;
    line-height: 1.6;
  }
  pre {
    margin-top: 1rem;
    padding: 0.75rem;
    text-align: left;
    font-size: 0.8rem;
    background: #f0f0f0;
    border-radius: 4px;
    overflow-x: auto;
  }
</style>
</head>
<body>
<div class="container">
  <h1>%s</h1>
  <p>%s</p>
%s</div>
</body>
</html>`

// WriteErrorPage renders the gateway error page. The detail block is only
// shown when debug is set. Exported for the router and management handlers,
// which share the same page.
func WriteErrorPage(w http.ResponseWriter, status int, title, message, detail string, debug bool) {
	block := ""
	if debug && detail != "" {
		block = "  <pre>" + html.EscapeString(detail) + "</pre>\n"
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, errorPageHTML,
		status, html.EscapeString(title),
		html.EscapeString(title), html.EscapeString(message), block)
}
