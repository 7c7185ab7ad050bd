package crawler

import (
	"mime"
	"net/http"
)

// IsHTMLContentType reports whether h declares an HTML media type. A missing
// Content-Type is treated as HTML and left to the body sniffer.
func IsHTMLContentType(h http.Header) bool {
	ct := h.Get("Content-Type")
	if ct == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
