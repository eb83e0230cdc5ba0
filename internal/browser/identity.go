package browser

import (
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/roelfdiedericks/wabridge/internal/fingerprint"
)

// acceptLanguage matches fingerprint.Locale.
const acceptLanguage = "en-US,en;q=0.9"

// identityScript runs before any page script and replaces the navigator surface the
// automation runtime would otherwise expose. The placeholder is a JSON object.
const identityScript = `(() => {
	const fp = %s;
	const define = (obj, name, value) => {
		try { Object.defineProperty(obj, name, {get: () => value, configurable: true}); } catch (e) {}
	};
	define(Navigator.prototype, 'hardwareConcurrency', fp.hardwareConcurrency);
	define(Navigator.prototype, 'deviceMemory', fp.deviceMemory);
	define(Navigator.prototype, 'platform', fp.platform);
	define(Navigator.prototype, 'webdriver', undefined);
	define(Navigator.prototype, 'languages', Object.freeze(fp.languages.slice()));
	define(Navigator.prototype, 'language', fp.languages[0]);

	const pluginNames = ['PDF Viewer', 'Chrome PDF Viewer', 'Chromium PDF Viewer', 'Microsoft Edge PDF Viewer', 'WebKit built-in PDF'];
	const plugins = pluginNames.map(name => ({name, filename: 'internal-pdf-viewer', description: 'Portable Document Format', length: 1}));
	plugins.item = i => plugins[i] || null;
	plugins.namedItem = n => plugins.find(p => p.name === n) || null;
	plugins.refresh = () => {};
	define(Navigator.prototype, 'plugins', plugins);

	if (!window.chrome) {
		window.chrome = {};
	}
	if (!window.chrome.runtime) {
		window.chrome.runtime = {};
	}
	if (!window.chrome.app) {
		window.chrome.app = {isInstalled: false, InstallState: {}, RunningState: {}};
	}
	if (!window.chrome.csi) {
		window.chrome.csi = () => ({startE: Date.now(), onloadT: Date.now(), pageT: performance.now(), tran: 15});
	}
	if (!window.chrome.loadTimes) {
		window.chrome.loadTimes = () => ({requestTime: Date.now() / 1000, connectionInfo: 'h2', wasFetchedViaSpdy: true, navigationType: 'Other'});
	}
})();`

type identityOverrides struct {
	HardwareConcurrency int      `json:"hardwareConcurrency"`
	DeviceMemory        int      `json:"deviceMemory"`
	Platform            string   `json:"platform"`
	Languages           []string `json:"languages"`
}

// IdentityScript renders the before-navigation instrumentation for fp.
func IdentityScript(fp fingerprint.Descriptor) string {
	data, _ := json.Marshal(identityOverrides{
		HardwareConcurrency: fp.HardwareConcurrency,
		DeviceMemory:        fp.DeviceMemory,
		Platform:            fp.Platform.NavigatorPlatform(),
		Languages:           []string{fp.Locale, "en"},
	})
	return fmt.Sprintf(identityScript, data)
}

// userAgentMetadata builds the client-hints view of fp so Sec-CH-UA headers agree
// with the user-agent string.
func userAgentMetadata(fp fingerprint.Descriptor) *proto.EmulationUserAgentMetadata {
	major := fp.MajorVersion()
	return &proto.EmulationUserAgentMetadata{
		Brands: []*proto.EmulationUserAgentBrandVersion{
			{Brand: "Chromium", Version: major},
			{Brand: "Google Chrome", Version: major},
			{Brand: "Not_A Brand", Version: "24"},
		},
		FullVersionList: []*proto.EmulationUserAgentBrandVersion{
			{Brand: "Chromium", Version: fp.BrowserVersion},
			{Brand: "Google Chrome", Version: fp.BrowserVersion},
			{Brand: "Not_A Brand", Version: "24.0.0.0"},
		},
		Platform:     fp.Platform.ClientHintsPlatform(),
		Architecture: "x86",
		Bitness:      "64",
		Mobile:       false,
	}
}

// applyIdentity installs fp on a page: viewport, user agent, locale, timezone and
// the navigator overrides for every document loaded afterwards.
func applyIdentity(page *rod.Page, fp fingerprint.Descriptor) error {
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             fp.Width,
		Height:            fp.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		return fmt.Errorf("viewport: %w", err)
	}

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:         fp.UserAgent,
		AcceptLanguage:    acceptLanguage,
		Platform:          fp.Platform.NavigatorPlatform(),
		UserAgentMetadata: userAgentMetadata(fp),
	}); err != nil {
		return fmt.Errorf("user agent: %w", err)
	}

	if err := (proto.EmulationSetLocaleOverride{Locale: fp.Locale}).Call(page); err != nil {
		return fmt.Errorf("locale: %w", err)
	}
	if err := (proto.EmulationSetTimezoneOverride{TimezoneID: fp.Timezone}).Call(page); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}

	if _, err := page.EvalOnNewDocument(IdentityScript(fp)); err != nil {
		return fmt.Errorf("identity script: %w", err)
	}
	return nil
}
