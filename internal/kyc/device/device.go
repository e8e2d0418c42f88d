// Package device classifies the browser that opened the verification flow.
package device

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mssola/useragent"
)

// Class is the routing branch chosen for a user agent.
type Class string

const (
	Mobile  Class = "mobile"
	Desktop Class = "desktop"
	Unknown Class = "unknown"
)

var (
	// Tablets go to the QR flow: in-browser camera capture is unreliable there.
	tabletPattern = regexp.MustCompile(`(?i)\bipad\b`)

	androidPattern = regexp.MustCompile(`(?i)\bandroid\b`)
	mobileToken    = regexp.MustCompile(`\bMobile\b`)

	phonePattern   = regexp.MustCompile(`(?i)iphone|ipod|windows phone|blackberry|\bbb10\b`)
	desktopPattern = regexp.MustCompile(`(?i)windows nt|\bwindows\b|macintosh|mac os x|\blinux\b|\bx11\b|\bcros\b`)
)

// Classify maps a User-Agent header onto mobile, desktop or unknown.
// Order matters: iPad strings also carry "Mac OS X" and Android strings
// carry "Linux".
func Classify(userAgent string) Class {
	ua := strings.TrimSpace(userAgent)
	if ua == "" {
		return Unknown
	}
	switch {
	case tabletPattern.MatchString(ua):
		return Desktop
	case androidPattern.MatchString(ua):
		if mobileToken.MatchString(ua) {
			return Mobile
		}
		return Desktop
	case phonePattern.MatchString(ua):
		return Mobile
	case desktopPattern.MatchString(ua):
		return Desktop
	}
	return Unknown
}

// DisplayName renders a short "Browser on OS" label for logs and the
// unsupported-device page.
func DisplayName(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return "Unknown Device"
	}
	ua := useragent.New(userAgent)
	browser, _ := ua.Browser()
	platform := ua.OS()
	if platform == "" {
		platform = ua.Platform()
	}
	if browser == "" {
		browser = "Unknown Browser"
	}
	if platform == "" {
		platform = "Unknown OS"
	}
	return strings.TrimSpace(fmt.Sprintf("%s on %s", browser, platform))
}

// IsBot reports crawlers and link unfurlers, which must never create sessions.
func IsBot(userAgent string) bool {
	if userAgent == "" {
		return false
	}
	return useragent.New(userAgent).Bot()
}
