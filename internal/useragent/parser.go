// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

// Package useragent derives coarse device, OS and browser labels from a
// User-Agent header using multi-pattern matching.
package useragent

// Unknown is returned for a dimension no rule matched.
const Unknown = "unknown"

// Device labels.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"
)

// Info is the parsed result.
type Info struct {
	Device  string
	OS      string
	Browser string
}

// Rule order matters: earlier rules win when several match, so specific
// tokens come before the generic ones they contain.
var (
	deviceRules = []rule{
		{pattern: "googlebot", label: DeviceBot},
		{pattern: "bingbot", label: DeviceBot},
		{pattern: "bot", label: DeviceBot},
		{pattern: "spider", label: DeviceBot},
		{pattern: "crawler", label: DeviceBot},
		{pattern: "headless", label: DeviceBot},
		{pattern: "curl/", label: DeviceBot},
		{pattern: "wget/", label: DeviceBot},
		{pattern: "python-requests", label: DeviceBot},
		{pattern: "go-http-client", label: DeviceBot},
		{pattern: "ipad", label: DeviceTablet},
		{pattern: "tablet", label: DeviceTablet},
		{pattern: "kindle", label: DeviceTablet},
		{pattern: "iphone", label: DeviceMobile},
		{pattern: "ipod", label: DeviceMobile},
		{pattern: "mobile", label: DeviceMobile},
		{pattern: "android", label: DeviceTablet}, // Android without "Mobile" is a tablet
		{pattern: "windows nt", label: DeviceDesktop},
		{pattern: "macintosh", label: DeviceDesktop},
		{pattern: "x11", label: DeviceDesktop},
		{pattern: "cros ", label: DeviceDesktop},
	}

	osRules = []rule{
		{pattern: "iphone", label: "iOS"},
		{pattern: "ipad", label: "iOS"},
		{pattern: "ipod", label: "iOS"},
		{pattern: "android", label: "Android"},
		{pattern: "cros ", label: "ChromeOS"},
		{pattern: "windows phone", label: "Windows Phone"},
		{pattern: "windows", label: "Windows"},
		{pattern: "mac os x", label: "macOS"},
		{pattern: "macintosh", label: "macOS"},
		{pattern: "ubuntu", label: "Linux"},
		{pattern: "fedora", label: "Linux"},
		{pattern: "linux", label: "Linux"},
		{pattern: "freebsd", label: "FreeBSD"},
	}

	browserRules = []rule{
		{pattern: "edg/", label: "Edge"},
		{pattern: "edga/", label: "Edge"},
		{pattern: "edgios/", label: "Edge"},
		{pattern: "opr/", label: "Opera"},
		{pattern: "opera", label: "Opera"},
		{pattern: "samsungbrowser/", label: "Samsung Internet"},
		{pattern: "yabrowser/", label: "Yandex"},
		{pattern: "vivaldi/", label: "Vivaldi"},
		{pattern: "firefox/", label: "Firefox"},
		{pattern: "fxios/", label: "Firefox"},
		{pattern: "crios/", label: "Chrome"},
		{pattern: "chromium/", label: "Chromium"},
		{pattern: "chrome/", label: "Chrome"},
		{pattern: "version/", label: "Safari"}, // Safari reports Version/x before Safari/y
		{pattern: "safari/", label: "Safari"},
		{pattern: "msie ", label: "Internet Explorer"},
		{pattern: "trident/", label: "Internet Explorer"},
		{pattern: "curl/", label: "curl"},
	}
)

// Parser classifies User-Agent strings. It is safe for concurrent use.
type Parser struct {
	device  *matcher
	os      *matcher
	browser *matcher
}

// NewParser builds the matchers.
func NewParser() *Parser {
	return &Parser{
		device:  newMatcher(deviceRules),
		os:      newMatcher(osRules),
		browser: newMatcher(browserRules),
	}
}

// Parse classifies ua. Empty input yields Unknown for every field.
func (p *Parser) Parse(ua string) Info {
	return Info{
		Device:  labelOr(p.device, ua),
		OS:      labelOr(p.os, ua),
		Browser: labelOr(p.browser, ua),
	}
}

func labelOr(m *matcher, ua string) string {
	if label, ok := m.best(ua); ok {
		return label
	}
	return Unknown
}
