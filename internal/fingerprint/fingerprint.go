// Package fingerprint generates the synthetic browser identity presented by a session.
//
// A Descriptor is drawn once per session from fixed catalogs and is immutable afterwards.
// Recreated sessions reuse the persisted descriptor verbatim; nothing here is ever
// regenerated for an existing session.
package fingerprint

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
)

// Locale and Timezone are deliberately not randomized so text matching against the
// remote UI stays deterministic.
const (
	Locale   = "en-US"
	Timezone = "America/New_York"
)

// Platform is the operating system family the session claims to run on.
type Platform string

const (
	PlatformWindows Platform = "Windows"
	PlatformMacOS   Platform = "macOS"
	PlatformLinux   Platform = "Linux"
)

// Resolution is a screen/viewport size.
type Resolution struct {
	Width  int
	Height int
}

// Catalogs. Every generated descriptor draws exactly one value from each.
var (
	Resolutions = []Resolution{
		{1920, 1080},
		{1366, 768},
		{1536, 864},
		{1440, 900},
		{1280, 720},
		{1600, 900},
		{2560, 1440},
		{1680, 1050},
	}

	BrowserVersions = []string{
		"120.0.0.0", "121.0.0.0", "122.0.0.0", "123.0.0.0",
		"124.0.0.0", "125.0.0.0", "126.0.0.0", "127.0.0.0",
		"128.0.0.0", "129.0.0.0", "130.0.0.0", "131.0.0.0",
	}

	Platforms = []Platform{PlatformWindows, PlatformMacOS, PlatformLinux}

	HardwareConcurrency = []int{2, 4, 8, 16}

	DeviceMemory = []int{4, 8, 16}
)

// Descriptor is a self-consistent browser identity. The JSON layout is part of the
// journal schema and must stay stable.
type Descriptor struct {
	Width               int      `json:"width"`
	Height              int      `json:"height"`
	BrowserVersion      string   `json:"browserVersion"`
	Platform            Platform `json:"platform"`
	HardwareConcurrency int      `json:"hardwareConcurrency"`
	DeviceMemory        int      `json:"deviceMemory"`
	UserAgent           string   `json:"userAgent"`
	Locale              string   `json:"locale"`
	Timezone            string   `json:"timezone"`
}

// Generate draws a new descriptor from the package-level random source. Never fails.
func Generate() Descriptor {
	return generate(rand.IntN)
}

// GenerateWith draws a new descriptor from r.
func GenerateWith(r *rand.Rand) Descriptor {
	return generate(r.IntN)
}

func generate(intn func(int) int) Descriptor {
	res := Resolutions[intn(len(Resolutions))]
	version := BrowserVersions[intn(len(BrowserVersions))]
	platform := Platforms[intn(len(Platforms))]

	return Descriptor{
		Width:               res.Width,
		Height:              res.Height,
		BrowserVersion:      version,
		Platform:            platform,
		HardwareConcurrency: HardwareConcurrency[intn(len(HardwareConcurrency))],
		DeviceMemory:        DeviceMemory[intn(len(DeviceMemory))],
		UserAgent:           UserAgent(platform, version),
		Locale:              Locale,
		Timezone:            Timezone,
	}
}

// UserAgent derives the Chrome user-agent string for a platform and version.
func UserAgent(p Platform, version string) string {
	return fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36",
		p.UAToken(), version)
}

// UAToken is the platform token embedded in the user-agent string.
func (p Platform) UAToken() string {
	switch p {
	case PlatformWindows:
		return "Windows NT 10.0; Win64; x64"
	case PlatformMacOS:
		return "Macintosh; Intel Mac OS X 10_15_7"
	case PlatformLinux:
		return "X11; Linux x86_64"
	default:
		return ""
	}
}

// NavigatorPlatform is the value reported by navigator.platform.
func (p Platform) NavigatorPlatform() string {
	switch p {
	case PlatformWindows:
		return "Win32"
	case PlatformMacOS:
		return "MacIntel"
	case PlatformLinux:
		return "Linux x86_64"
	default:
		return ""
	}
}

// ClientHintsPlatform is the value reported by the Sec-CH-UA-Platform hint.
func (p Platform) ClientHintsPlatform() string {
	return string(p)
}

// MajorVersion returns the leading component of the browser version.
func (d Descriptor) MajorVersion() string {
	major, _, _ := strings.Cut(d.BrowserVersion, ".")
	return major
}

// Consistent checks only what a recreated session needs: a usable viewport and
// a user agent matching platform and version. Catalog membership is not checked,
// so descriptors persisted by older releases stay usable after the catalogs change.
func (d Descriptor) Consistent() error {
	if d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("fingerprint: invalid resolution %dx%d", d.Width, d.Height)
	}
	if d.BrowserVersion == "" {
		return fmt.Errorf("fingerprint: missing browser version")
	}
	if d.Platform.UAToken() == "" {
		return fmt.Errorf("fingerprint: unknown platform %q", d.Platform)
	}
	if d.UserAgent != UserAgent(d.Platform, d.BrowserVersion) {
		return fmt.Errorf("fingerprint: user agent does not match platform %s", d.Platform)
	}
	return nil
}

// Validate checks that every field comes from its catalog and that the user agent
// is consistent with the platform and version.
func (d Descriptor) Validate() error {
	if !slices.Contains(Resolutions, Resolution{d.Width, d.Height}) {
		return fmt.Errorf("fingerprint: resolution %dx%d not in catalog", d.Width, d.Height)
	}
	if !slices.Contains(BrowserVersions, d.BrowserVersion) {
		return fmt.Errorf("fingerprint: browser version %q not in catalog", d.BrowserVersion)
	}
	if !slices.Contains(Platforms, d.Platform) {
		return fmt.Errorf("fingerprint: platform %q not in catalog", d.Platform)
	}
	if !slices.Contains(HardwareConcurrency, d.HardwareConcurrency) {
		return fmt.Errorf("fingerprint: hardware concurrency %d not in catalog", d.HardwareConcurrency)
	}
	if !slices.Contains(DeviceMemory, d.DeviceMemory) {
		return fmt.Errorf("fingerprint: device memory %d not in catalog", d.DeviceMemory)
	}
	if d.UserAgent != UserAgent(d.Platform, d.BrowserVersion) {
		return fmt.Errorf("fingerprint: user agent does not match platform %s", d.Platform)
	}
	if d.Locale != Locale || d.Timezone != Timezone {
		return fmt.Errorf("fingerprint: unexpected locale/timezone %s/%s", d.Locale, d.Timezone)
	}
	return nil
}
