package device

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
)

const (
	uaIPhone        = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	uaIPad          = "Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	uaAndroidPhone  = "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"
	uaAndroidTablet = "Mozilla/5.0 (Linux; Android 13; SM-X700) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	uaMac           = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	uaWindows       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	uaLinux         = "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"
	uaChromeOS      = "Mozilla/5.0 (X11; CrOS x86_64 14541.0.0) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	uaWindowsPhone  = "Mozilla/5.0 (Windows Phone 10.0; Android 6.0.1; Microsoft; Lumia 950) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/52.0.2743.116 Mobile Safari/537.36 Edge/15.15063"
	uaBlackBerry    = "Mozilla/5.0 (BlackBerry; U; BlackBerry 9900; en) AppleWebKit/534.11+ (KHTML, like Gecko) Version/7.1.0.346 Mobile Safari/534.11+"
	uaIPod          = "Mozilla/5.0 (iPod touch; CPU iPhone OS 12_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/12.1.2 Mobile/15E148 Safari/604.1"
	uaGooglebot     = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
)

// DeviceSuite covers the mobile/desktop routing decision for the start flow.
type DeviceSuite struct {
	suite.Suite
}

func TestDeviceSuite(t *testing.T) {
	suite.Run(t, new(DeviceSuite))
}

func (s *DeviceSuite) TestClassify() {
	s.Run("phones are mobile", func() {
		for _, ua := range []string{uaIPhone, uaAndroidPhone, uaWindowsPhone, uaBlackBerry, uaIPod} {
			s.Equal(Mobile, Classify(ua), ua)
		}
	})

	s.Run("desktops and tablets are desktop", func() {
		for _, ua := range []string{uaIPad, uaAndroidTablet, uaMac, uaWindows, uaLinux, uaChromeOS} {
			s.Equal(Desktop, Classify(ua), ua)
		}
	})

	s.Run("missing or unrecognized user agent is unknown", func() {
		s.Equal(Unknown, Classify(""))
		s.Equal(Unknown, Classify("   "))
		s.Equal(Unknown, Classify("curl/8.4.0"))
	})
}

func (s *DeviceSuite) TestIPadIsNeverMobile() {
	variants := []string{
		uaIPad,
		strings.ToLower(uaIPad),
		"Mozilla/5.0 (iPad; CPU iPhone OS 16_0 like Mac OS X) Mobile",
		"iPad Android Mobile",
	}
	for _, ua := range variants {
		s.Equal(Desktop, Classify(ua), ua)
	}
}

func (s *DeviceSuite) TestIPhoneIsAlwaysMobile() {
	variants := []string{
		uaIPhone,
		"iPhone",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 15_0 like Mac OS X)",
		"something iPhone Windows NT",
	}
	for _, ua := range variants {
		s.Equal(Mobile, Classify(ua), ua)
	}
}

func (s *DeviceSuite) TestDisplayName() {
	s.Run("empty user agent returns unknown device", func() {
		s.Equal("Unknown Device", DisplayName(""))
	})

	s.Run("chrome on desktop includes browser and OS", func() {
		name := DisplayName(uaMac)
		s.Contains(name, "Chrome")
		s.Contains(name, " on ")
		s.Equal(name, strings.TrimSpace(name))
	})

	s.Run("firefox on linux", func() {
		name := DisplayName(uaLinux)
		s.Contains(name, "Firefox")
		s.Contains(name, "Linux")
	})
}

func (s *DeviceSuite) TestIsBot() {
	s.True(IsBot(uaGooglebot))
	s.False(IsBot(uaIPhone))
	s.False(IsBot(""))
}
