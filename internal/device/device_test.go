package device

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	uaChrome  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
	uaEdge    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36 Edg/126.0.2592.87"
	uaSafari  = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15"
	uaIPhone  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Mobile/15E148 Safari/604.1"
	uaFirefox = "Mozilla/5.0 (X11; Linux x86_64; rv:127.0) Gecko/20100101 Firefox/127.0"
	uaOpera   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36 OPR/111.0.0.0"
	uaAndroid = "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Mobile Safari/537.36"
)

func TestClassifyBrowser(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want string
	}{
		{"chrome", uaChrome, BrowserChrome},
		{"edge is not chrome", uaEdge, BrowserEdge},
		{"opera is not chrome", uaOpera, BrowserOpera},
		{"safari", uaSafari, BrowserSafari},
		{"chrome is not safari", uaAndroid, BrowserChrome},
		{"firefox", uaFirefox, BrowserFirefox},
		{"empty", "", BrowserUnknown},
		{"curl", "curl/8.5.0", BrowserUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ClassifyBrowser(tt.ua))
		})
	}
}

func TestIsMobile(t *testing.T) {
	require.True(t, IsMobile(uaIPhone))
	require.True(t, IsMobile(uaAndroid))
	require.False(t, IsMobile(uaChrome))
	require.False(t, IsMobile(""))
}

func TestSnapshotReadsEnvironmentEachCall(t *testing.T) {
	env := &mutableEnv{ua: uaChrome, width: 1920, height: 1080}

	first := Snapshot(env)
	require.Equal(t, Info{
		UserAgent:    uaChrome,
		Platform:     "Win32",
		ScreenWidth:  1920,
		ScreenHeight: 1080,
		Browser:      BrowserChrome,
	}, first)

	env.ua = uaIPhone
	env.width, env.height = 390, 844

	second := Snapshot(env)
	require.Equal(t, BrowserSafari, second.Browser)
	require.True(t, second.IsMobile)
	require.Equal(t, 390, second.ScreenWidth)
	require.Equal(t, 1920, first.ScreenWidth, "earlier snapshots are not affected")
}

func TestSnapshotNilEnvironment(t *testing.T) {
	require.Equal(t, BrowserUnknown, Snapshot(nil).Browser)
}

func TestHost(t *testing.T) {
	host := Host("tracker-agent", "1.2.3")
	require.True(t, strings.HasPrefix(host.UserAgent(), "tracker-agent/1.2.3 ("))
	require.Equal(t, runtime.GOOS, host.Platform())
	require.Equal(t, BrowserUnknown, Snapshot(host).Browser)
}

type mutableEnv struct {
	ua            string
	width, height int
}

func (m *mutableEnv) UserAgent() string      { return m.ua }
func (m *mutableEnv) Platform() string       { return "Win32" }
func (m *mutableEnv) ScreenSize() (int, int) { return m.width, m.height }
