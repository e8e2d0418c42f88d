package testutil

import (
	"net/http"

	"ampel/pkg/requestcontext"
)

// WithUserAgent sets the User-Agent header and the client metadata the
// metadata middleware would derive from it.
func WithUserAgent(req *http.Request, userAgent string) *http.Request {
	req.Header.Set("User-Agent", userAgent)
	return req.WithContext(requestcontext.WithClientMetadata(req.Context(), "192.0.2.1", userAgent))
}
