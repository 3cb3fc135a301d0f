// Package device derives the client environment snapshot attached to every tracked activity.
package device

import (
	"fmt"
	"runtime"
	"strings"
)

// Browser names reported in Info.Browser.
const (
	BrowserEdge    = "Edge"
	BrowserOpera   = "Opera"
	BrowserChrome  = "Chrome"
	BrowserSafari  = "Safari"
	BrowserFirefox = "Firefox"
	BrowserUnknown = "Unknown"
)

// Environment reports the host values a snapshot is built from. Implementations are read on
// every Snapshot call, so values may change between activities.
type Environment interface {
	UserAgent() string
	Platform() string
	ScreenSize() (width, height int)
}

// Info is the flat device record serialised with each activity.
type Info struct {
	UserAgent    string `json:"userAgent"`
	Platform     string `json:"platform"`
	IsMobile     bool   `json:"isMobile"`
	ScreenWidth  int    `json:"screenWidth"`
	ScreenHeight int    `json:"screenHeight"`
	Browser      string `json:"browser"`
}

// Snapshot builds an Info from the current environment values.
func Snapshot(env Environment) Info {
	if env == nil {
		return Info{Browser: BrowserUnknown}
	}
	ua := env.UserAgent()
	width, height := env.ScreenSize()
	return Info{
		UserAgent:    ua,
		Platform:     env.Platform(),
		IsMobile:     IsMobile(ua),
		ScreenWidth:  width,
		ScreenHeight: height,
		Browser:      ClassifyBrowser(ua),
	}
}

// browserMarkers is checked in order. Chromium Edge and Opera carry "Chrome" and Chrome
// carries "Safari", so the more specific tokens come first.
var browserMarkers = []struct {
	token   string
	browser string
}{
	{"Edg", BrowserEdge},
	{"OPR", BrowserOpera},
	{"Opera", BrowserOpera},
	{"Chrome", BrowserChrome},
	{"CriOS", BrowserChrome},
	{"Safari", BrowserSafari},
	{"Firefox", BrowserFirefox},
	{"FxiOS", BrowserFirefox},
}

// ClassifyBrowser maps a user-agent string to a browser family.
func ClassifyBrowser(ua string) string {
	for _, marker := range browserMarkers {
		if strings.Contains(ua, marker.token) {
			return marker.browser
		}
	}
	return BrowserUnknown
}

var mobileMarkers = []string{"Mobi", "Android", "iPhone", "iPad"}

// IsMobile reports whether the user agent identifies a phone or tablet.
func IsMobile(ua string) bool {
	for _, marker := range mobileMarkers {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}

// Static is an Environment with fixed values, used by non-browser hosts.
type Static struct {
	Agent  string
	OS     string
	Width  int
	Height int
}

func (s Static) UserAgent() string { return s.Agent }

func (s Static) Platform() string { return s.OS }

func (s Static) ScreenSize() (int, int) { return s.Width, s.Height }

// Host describes the running Go process as a client environment.
func Host(product, version string) Static {
	return Static{
		Agent: fmt.Sprintf("%s/%s (%s; %s) Go/%s", product, version, runtime.GOOS, runtime.GOARCH, strings.TrimPrefix(runtime.Version(), "go")),
		OS:    runtime.GOOS,
	}
}
