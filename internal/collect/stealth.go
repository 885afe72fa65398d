// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package collect

import (
	"fmt"
	"strings"
)

// stealthScript runs before any page script on every new document. It
// hides the automation markers common bot checks look at and makes the
// screen geometry match the emulated viewport.
const stealthScript = `
(function() {
    Object.defineProperty(navigator, 'webdriver', {
        get: () => undefined,
        configurable: true
    });

    if (!window.chrome) {
        window.chrome = { runtime: {}, loadTimes: function() {}, csi: function() {}, app: {} };
    }

    if (navigator.permissions && navigator.permissions.query) {
        const originalQuery = navigator.permissions.query.bind(navigator.permissions);
        navigator.permissions.query = (parameters) => (
            parameters.name === 'notifications' ?
                Promise.resolve({ state: Notification.permission }) :
                originalQuery(parameters)
        );
    }

    Object.defineProperty(navigator, 'plugins', {
        get: () => [
            { name: 'Chrome PDF Plugin', filename: 'internal-pdf-viewer' },
            { name: 'Chrome PDF Viewer', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai' },
            { name: 'Native Client', filename: 'internal-nacl-plugin' }
        ],
        configurable: true
    });

    Object.defineProperty(navigator, 'languages', {
        get: () => ['en-US', 'en'],
        configurable: true
    });

    Object.defineProperty(navigator, 'appVersion', {
        get: () => %[1]q,
        configurable: true
    });

    try {
        Object.defineProperty(window, 'outerWidth', { get: () => %[2]d });
        Object.defineProperty(window, 'outerHeight', { get: () => %[3]d });
        Object.defineProperty(screen, 'width', { get: () => %[2]d });
        Object.defineProperty(screen, 'height', { get: () => %[3]d });
        Object.defineProperty(screen, 'colorDepth', { get: () => 24 });
        Object.defineProperty(screen, 'pixelDepth', { get: () => 24 });
    } catch (e) {}

    delete window.cdc_adoQpoasnfa76pfcZLmcfl_Array;
    delete window.cdc_adoQpoasnfa76pfcZLmcfl_Promise;
    delete window.cdc_adoQpoasnfa76pfcZLmcfl_Symbol;
})();
`

// buildStealthScript fills in the user agent derived appVersion and the
// viewport geometry.
func buildStealthScript(userAgent string, width, height int) string {
	appVersion := strings.TrimPrefix(userAgent, "Mozilla/")
	return fmt.Sprintf(stealthScript, appVersion, width, height)
}

// extraHeaders are sent with every request the session makes.
var extraHeaders = map[string]any{
	"Accept-Language":           "en-US,en;q=0.9",
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
	"DNT":                       "1",
	"Upgrade-Insecure-Requests": "1",
}

// challengeMarkers are lower-case fragments of bot challenge pages.
var challengeMarkers = []string{
	"captcha",
	"unusual traffic",
	"verify you are human",
	"are you a robot",
	"cf-challenge",
	"checking your browser",
	"access denied",
}

// challengeBodyLimit bounds the body length checked for markers. Challenge
// interstitials are short; long articles may discuss captchas legitimately.
const challengeBodyLimit = 1500

// looksLikeChallenge reports whether a page title, or the body of a short
// page, matches a known bot challenge.
func looksLikeChallenge(title, body string) bool {
	if containsAny(strings.ToLower(title), challengeMarkers) {
		return true
	}
	body = strings.TrimSpace(body)
	return len(body) < challengeBodyLimit && containsAny(strings.ToLower(body), challengeMarkers)
}

func containsAny(s string, subs []string) bool {
	for _, m := range subs {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
