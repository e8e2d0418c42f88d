// Package token generates session tokens embedded in mobile-start URLs.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// tokenBytes gives 256 bits of entropy; tokens are bearer capabilities.
const tokenBytes = 32

// Generate returns a URL-safe random token.
func Generate() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
