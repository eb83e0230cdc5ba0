package browser

import (
	"errors"
	"strings"
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"github.com/roelfdiedericks/wabridge/internal/cookies"
	"github.com/roelfdiedericks/wabridge/internal/fingerprint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityScriptCarriesFingerprint(t *testing.T) {
	fp := fingerprint.Descriptor{
		Width: 1440, Height: 900,
		BrowserVersion:      "125.0.0.0",
		Platform:            fingerprint.PlatformMacOS,
		HardwareConcurrency: 8,
		DeviceMemory:        16,
		UserAgent:           fingerprint.UserAgent(fingerprint.PlatformMacOS, "125.0.0.0"),
		Locale:              fingerprint.Locale,
		Timezone:            fingerprint.Timezone,
	}

	js := IdentityScript(fp)
	assert.Contains(t, js, `"hardwareConcurrency":8`)
	assert.Contains(t, js, `"deviceMemory":16`)
	assert.Contains(t, js, `"platform":"MacIntel"`)
	assert.Contains(t, js, `"languages":["en-US","en"]`)
	assert.Contains(t, js, "'webdriver'")
	assert.Contains(t, js, "window.chrome")
	assert.False(t, strings.Contains(js, "%!"), "format verbs leaked into the script")
}

func TestUserAgentMetadataMatchesPlatform(t *testing.T) {
	fp := fingerprint.Descriptor{BrowserVersion: "131.0.0.0", Platform: fingerprint.PlatformWindows}
	md := userAgentMetadata(fp)
	assert.Equal(t, "Windows", md.Platform)
	require.NotEmpty(t, md.Brands)
	assert.Equal(t, "131", md.Brands[0].Version)
}

func TestCookieParams(t *testing.T) {
	creds := cookies.ForDomains(cookies.Parse("c_user=123; xs=abc"), []string{".facebook.com"})
	params := cookieParams(creds)
	require.Len(t, params, 2)
	assert.Equal(t, "c_user", params[0].Name)
	assert.Equal(t, ".facebook.com", params[0].Domain)
	assert.Equal(t, "/", params[0].Path)
	assert.True(t, params[0].Secure)
	assert.Equal(t, proto.NetworkCookieSameSiteNone, params[0].SameSite)
}

func TestInstallCookiesSkipsFailedDomains(t *testing.T) {
	entries := cookies.Parse("c_user=1; xs=2")
	domains := []string{".facebook.com", "business.facebook.com"}

	var seen int
	applied := installCookies("s1", entries, domains, func(creds []cookies.Credential) error {
		seen++
		require.Len(t, creds, 2)
		if creds[0].Domain == ".facebook.com" {
			return errors.New("rejected")
		}
		return nil
	})
	assert.Equal(t, 2, seen)
	assert.Equal(t, 1, applied)

	applied = installCookies("s1", entries, domains, func([]cookies.Credential) error {
		return errors.New("target closed")
	})
	assert.Zero(t, applied)
}
