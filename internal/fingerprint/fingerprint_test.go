package fingerprint

import (
	"encoding/json"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateIsConsistent(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 500; i++ {
		d := GenerateWith(r)
		require.NoError(t, d.Validate(), "descriptor %d: %+v", i, d)
		assert.Contains(t, d.UserAgent, d.Platform.UAToken())
		assert.Contains(t, d.UserAgent, "Chrome/"+d.BrowserVersion)
		assert.Equal(t, Locale, d.Locale)
		assert.Equal(t, Timezone, d.Timezone)
	}
}

func TestGenerateCoversCatalogs(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 7))
	platforms := map[Platform]bool{}
	memory := map[int]bool{}
	for i := 0; i < 1000; i++ {
		d := GenerateWith(r)
		platforms[d.Platform] = true
		memory[d.DeviceMemory] = true
	}
	assert.Len(t, platforms, len(Platforms))
	assert.Len(t, memory, len(DeviceMemory))
}

func TestUserAgentPlatformTokens(t *testing.T) {
	tests := []struct {
		platform Platform
		token    string
		nav      string
	}{
		{PlatformWindows, "Windows NT 10.0", "Win32"},
		{PlatformMacOS, "Macintosh", "MacIntel"},
		{PlatformLinux, "X11; Linux", "Linux x86_64"},
	}
	for _, tt := range tests {
		t.Run(string(tt.platform), func(t *testing.T) {
			ua := UserAgent(tt.platform, "131.0.0.0")
			assert.True(t, strings.Contains(ua, tt.token), ua)
			assert.Equal(t, tt.nav, tt.platform.NavigatorPlatform())
		})
	}
}

func TestValidateRejectsMismatchedUserAgent(t *testing.T) {
	d := GenerateWith(rand.New(rand.NewPCG(3, 4)))
	other := PlatformLinux
	if d.Platform == PlatformLinux {
		other = PlatformWindows
	}
	d.UserAgent = UserAgent(other, d.BrowserVersion)
	assert.Error(t, d.Validate())
}

func TestConsistentIgnoresCatalogs(t *testing.T) {
	d := GenerateWith(rand.New(rand.NewPCG(5, 6)))
	d.BrowserVersion = "119.0.0.0"
	d.HardwareConcurrency = 3
	d.UserAgent = UserAgent(d.Platform, d.BrowserVersion)
	assert.Error(t, d.Validate())
	assert.NoError(t, d.Consistent())

	d.UserAgent = UserAgent(d.Platform, "131.0.0.0")
	assert.Error(t, d.Consistent())

	d = GenerateWith(rand.New(rand.NewPCG(5, 6)))
	d.Platform = "BeOS"
	assert.Error(t, d.Consistent())
}

func TestDescriptorSurvivesJSON(t *testing.T) {
	d := Generate()
	data, err := json.Marshal(d)
	require.NoError(t, err)

	var back Descriptor
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, d, back)
	assert.Contains(t, string(data), `"hardwareConcurrency"`)
}

func TestMajorVersion(t *testing.T) {
	d := Descriptor{BrowserVersion: "128.0.0.0"}
	assert.Equal(t, "128", d.MajorVersion())
}
