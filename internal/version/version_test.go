package version

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/arkpilot/internal/config"
	"github.com/xkilldash9x/arkpilot/internal/device"
)

const qooPage = `<!doctype html>
<html><head>
<script type="application/ld+json">{"@type":"BreadcrumbList"}</script>
<script type="application/ld+json">{"@type":"SoftwareApplication","softwareVersion":"25.1.2"}</script>
<script type="application/ld+json">{"softwareVersion":"0.0.1"}</script>
</head><body></body></html>`

type fakeSources struct {
	server        *httptest.Server
	officialHits  atomic.Int32
	lastUserAgent atomic.Value
}

func newFakeSources(t *testing.T) *fakeSources {
	t.Helper()
	f := &fakeSources{}
	mux := http.NewServeMux()
	mux.HandleFunc("/downloads/android_lastest", func(w http.ResponseWriter, r *http.Request) {
		f.officialHits.Add(1)
		f.lastUserAgent.Store(r.UserAgent())
		w.Header().Set("Location", "https://ak.hycdn.cn/announce/Android/arknights-hg-2501.apk")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/game/detail/content", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":0,"data":{"android_version":"2.5.01"}}`)
	})
	mux.HandleFunc("/game/detail/gameinfo", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":0,"data":{"android_download_link":"https://pkg.biligame.com/arknights_2.5.01.apk"}}`)
	})
	mux.HandleFunc("/app/7117", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, qooPage)
	})
	mux.HandleFunc("/app/9404", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><script type="application/ld+json">{"name":"Arknights"}</script></html>`)
	})
	mux.HandleFunc("/app/9419", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "blocked", http.StatusForbidden)
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeSources) endpoints() Endpoints {
	return Endpoints{
		OfficialLatest: f.server.URL + "/downloads/android_lastest",
		BiliContent:    f.server.URL + "/game/detail/content?game_base_id=101772",
		BiliGameInfo:   f.server.URL + "/game/detail/gameinfo?game_base_id=101772",
		QooApp:         f.server.URL + "/app/%d",
	}
}

func newTestChecker(t *testing.T, f *fakeSources) *Checker {
	t.Helper()
	cfg := config.NewDefaultConfig().Version
	cfg.RateLimit = 1000
	c, err := NewChecker(cfg, zaptest.NewLogger(t), WithEndpoints(f.endpoints()))
	require.NoError(t, err)
	return c
}

func TestNewChecker(t *testing.T) {
	_, err := NewChecker(config.VersionConfig{RateLimit: 1}, nil)
	assert.Error(t, err)
	_, err = NewChecker(config.VersionConfig{}, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "rate limit")
}

func TestLatest(t *testing.T) {
	f := newFakeSources(t)
	c := newTestChecker(t, f)
	ctx := context.Background()

	t.Run("official reads the redirect and caches it", func(t *testing.T) {
		v, err := c.Latest(ctx, device.Official)
		require.NoError(t, err)
		assert.Equal(t, "2501", v)

		v, err = c.Latest(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, "2501", v)
		assert.EqualValues(t, 1, f.officialHits.Load())
		assert.True(t, strings.HasPrefix(f.lastUserAgent.Load().(string), "Mozilla/5.0"))
	})

	t.Run("bilibili", func(t *testing.T) {
		v, err := c.Latest(ctx, device.Bilibili)
		require.NoError(t, err)
		assert.Equal(t, "2.5.01", v)
	})

	t.Run("qooapp takes the first softwareVersion", func(t *testing.T) {
		v, err := c.Latest(ctx, device.YoStarJP)
		require.NoError(t, err)
		assert.Equal(t, "25.1.2", v)
	})

	t.Run("qooapp page without a version", func(t *testing.T) {
		_, err := c.Latest(ctx, device.YoStarEN)
		assert.ErrorContains(t, err, "failed to get the newest version of YoStarEN")
	})

	t.Run("http errors surface", func(t *testing.T) {
		_, err := c.Latest(ctx, device.YoStarKR)
		assert.ErrorContains(t, err, "status 403")
	})

	t.Run("unknown variant", func(t *testing.T) {
		_, err := c.Latest(ctx, device.ClientType("Nowhere"))
		assert.ErrorIs(t, err, ErrUnsupported)
	})
}

func TestLatestAPK(t *testing.T) {
	f := newFakeSources(t)
	c := newTestChecker(t, f)
	ctx := context.Background()

	link, err := c.LatestAPK(ctx, device.Official)
	require.NoError(t, err)
	assert.Equal(t, "https://ak.hycdn.cn/announce/Android/arknights-hg-2501.apk", link)

	link, err = c.LatestAPK(ctx, device.Bilibili)
	require.NoError(t, err)
	assert.Equal(t, "https://pkg.biligame.com/arknights_2.5.01.apk", link)

	_, err = c.LatestAPK(ctx, device.Txwy)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestRateLimitHonoursContext(t *testing.T) {
	f := newFakeSources(t)
	cfg := config.NewDefaultConfig().Version
	cfg.RateLimit = 0.001
	c, err := NewChecker(cfg, zaptest.NewLogger(t), WithEndpoints(f.endpoints()))
	require.NoError(t, err)

	_, err = c.Latest(context.Background(), device.Bilibili)
	require.NoError(t, err, "the first request uses the burst")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Latest(ctx, device.Bilibili)
	assert.Error(t, err)
}

func TestOfficialVersion(t *testing.T) {
	assert.Equal(t, "2501", officialVersion("https://x/y/arknights-hg-2501.apk"))
	assert.Equal(t, "arknights", officialVersion("https://x/arknights.apk"))
}

func TestUpToDate(t *testing.T) {
	assert.True(t, UpToDate("2.5.01", "2501"))
	assert.True(t, UpToDate("2.5.01", "2.5.01"))
	assert.False(t, UpToDate("2.4.61", "2501"))
	assert.False(t, UpToDate("", ""))
}
