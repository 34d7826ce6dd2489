// Package envinfo produces a best-effort description of the host runtime
// from the raw strings a browser-like environment exposes. Parsing is
// heuristic substring matching; anything unrecognised comes back as
// "Unknown" (families) or "" (version). Parse never fails.
package envinfo

import "strings"

// Fingerprint describes the capturing environment. It is embedded verbatim
// in every error report, so the json tags are part of the wire format.
type Fingerprint struct {
	UserAgent  string `json:"userAgent"`
	Language   string `json:"language"`
	Platform   string `json:"platform"`
	ScreenSize string `json:"screenSize"`
	Browser    string `json:"browser"`
	Version    string `json:"version"`
	OS         string `json:"os"`
	Device     string `json:"device"`
}

const unknown = "Unknown"

// Parse builds a Fingerprint from the raw environment strings.
// ua is the user-agent string; lang, plat and screen are passed through
// untouched.
func Parse(ua, lang, plat, screen string) Fingerprint {
	browser, version := parseBrowser(ua)
	return Fingerprint{
		UserAgent:  ua,
		Language:   lang,
		Platform:   plat,
		ScreenSize: screen,
		Browser:    browser,
		Version:    version,
		OS:         parseOS(ua),
		Device:     parseDevice(ua),
	}
}

// parseBrowser identifies the browser family and its major version.
// Order matters: every Chromium derivative also claims to be Chrome and
// Safari, and Chrome claims to be Safari, so the most specific tokens are
// checked first.
func parseBrowser(ua string) (family, version string) {
	switch {
	case strings.Contains(ua, "Edg/"):
		return "Edge", versionAfter(ua, "Edg/")
	case strings.Contains(ua, "OPR/"):
		return "Opera", versionAfter(ua, "OPR/")
	case strings.Contains(ua, "Firefox/"):
		return "Firefox", versionAfter(ua, "Firefox/")
	case strings.Contains(ua, "Chrome/"):
		return "Chrome", versionAfter(ua, "Chrome/")
	case strings.Contains(ua, "Safari/") && strings.Contains(ua, "Version/"):
		return "Safari", versionAfter(ua, "Version/")
	default:
		return unknown, ""
	}
}

// versionAfter extracts the dotted version number following a marker token,
// truncated at the first character that is neither a digit nor a dot.
func versionAfter(ua, marker string) string {
	i := strings.Index(ua, marker)
	if i < 0 {
		return ""
	}
	rest := ua[i+len(marker):]
	end := strings.IndexFunc(rest, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	if end < 0 {
		return rest
	}
	return rest[:end]
}

func parseOS(ua string) string {
	switch {
	// Android UAs also contain "Linux", so Android wins.
	case strings.Contains(ua, "Android"):
		return "Android"
	case strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPad"), strings.Contains(ua, "iPod"):
		return "iOS"
	case strings.Contains(ua, "Windows"):
		return "Windows"
	case strings.Contains(ua, "Mac OS X"), strings.Contains(ua, "Macintosh"):
		return "macOS"
	case strings.Contains(ua, "CrOS"):
		return "ChromeOS"
	case strings.Contains(ua, "Linux"):
		return "Linux"
	default:
		return unknown
	}
}

func parseDevice(ua string) string {
	switch {
	// Android tablets omit "Mobile" from the UA; iPads never carry it.
	case strings.Contains(ua, "iPad"),
		strings.Contains(ua, "Android") && !strings.Contains(ua, "Mobile"),
		strings.Contains(ua, "Tablet"):
		return "Tablet"
	case strings.Contains(ua, "Mobi"), strings.Contains(ua, "iPhone"):
		return "Mobile"
	default:
		return "Desktop"
	}
}
