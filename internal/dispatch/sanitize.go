package dispatch

import (
	"regexp"
)

// Outbound html is stripped of active content before it ever reaches the
// transport, scripts, iframes, inline event handlers and javascript urls.
var (
	scriptRe  = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	iframeRe  = regexp.MustCompile(`(?is)<iframe\b[^>]*>.*?</iframe\s*>|<iframe\b[^>]*/?>`)
	handlerRe = regexp.MustCompile(`(?i)\s+on[a-z]+\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)
	jsHrefRe  = regexp.MustCompile(`(?i)(href|src)\s*=\s*("javascript:[^"]*"|'javascript:[^']*')`)
)

func SanitizeHTML(html string) string {
	html = scriptRe.ReplaceAllString(html, "")
	html = iframeRe.ReplaceAllString(html, "")
	html = handlerRe.ReplaceAllString(html, "")
	html = jsHrefRe.ReplaceAllString(html, `$1="#"`)
	return html
}
