// Package version looks up the newest published game version of every
// client variant.
package version

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/arkpilot/internal/config"
	"github.com/xkilldash9x/arkpilot/internal/device"
	"github.com/xkilldash9x/arkpilot/internal/network"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUnsupported is returned for variants without a known source.
var ErrUnsupported = errors.New("unsupported client type")

// Endpoints are the remote sources queried. QooApp is a format string
// taking the app id.
type Endpoints struct {
	OfficialLatest string
	BiliContent    string
	BiliGameInfo   string
	QooApp         string
}

// DefaultEndpoints are the public sources.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		OfficialLatest: "https://ak.hypergryph.com/downloads/android_lastest",
		BiliContent:    "https://line1-h5-pc-api.biligame.com/game/detail/content?game_base_id=101772",
		BiliGameInfo:   "https://line1-h5-pc-api.biligame.com/game/detail/gameinfo?game_base_id=101772",
		QooApp:         "https://apps.qqaoop.com/app/%d",
	}
}

var qooAppIDs = map[device.ClientType]int{
	device.YoStarJP: 7117,
	device.YoStarEN: 9404,
	device.YoStarKR: 9419,
	device.Txwy:     23510,
}

// Checker queries the remote sources. Requests share one rate limiter.
type Checker struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	endpoints Endpoints
	logger    *zap.Logger

	mu           sync.Mutex
	officialLink string
}

// Option customizes a Checker.
type Option func(*Checker)

// WithEndpoints overrides the remote sources.
func WithEndpoints(e Endpoints) Option {
	return func(c *Checker) { c.endpoints = e }
}

// NewChecker builds a checker from the version settings.
func NewChecker(cfg config.VersionConfig, logger *zap.Logger, opts ...Option) (*Checker, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.RateLimit <= 0 {
		return nil, errors.New("rate limit must be positive")
	}

	httpCfg := network.NewDefaultClientConfig()
	if cfg.RequestTimeout > 0 {
		httpCfg.RequestTimeout = cfg.RequestTimeout
	}
	httpCfg.Logger = logger

	c := &Checker{
		client:    network.NewClient(httpCfg).Client,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		userAgent: cfg.UserAgent,
		endpoints: DefaultEndpoints(),
		logger:    logger.Named("version"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Latest returns the newest published version of client c. An unknown
// variant is treated as the official one.
func (c *Checker) Latest(ctx context.Context, ct device.ClientType) (string, error) {
	switch ct {
	case "", device.Official:
		link, err := c.officialAPK(ctx)
		if err != nil {
			return "", err
		}
		return officialVersion(link), nil
	case device.Bilibili:
		var body biliResponse
		if err := c.getJSON(ctx, c.endpoints.BiliContent, &body); err != nil {
			return "", err
		}
		if body.Data.AndroidVersion == "" {
			return "", errors.New("bilibili response has no android_version")
		}
		return body.Data.AndroidVersion, nil
	}

	id, ok := qooAppIDs[ct]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, ct)
	}
	page, err := c.get(ctx, fmt.Sprintf(c.endpoints.QooApp, id))
	if err != nil {
		return "", err
	}
	defer page.Body.Close()
	v, err := softwareVersion(page.Body)
	if err != nil {
		return "", fmt.Errorf("failed to get the newest version of %s: %w", ct, err)
	}
	return v, nil
}

// LatestAPK returns the download link of the newest package.
func (c *Checker) LatestAPK(ctx context.Context, ct device.ClientType) (string, error) {
	switch ct {
	case "", device.Official:
		return c.officialAPK(ctx)
	case device.Bilibili:
		var body biliResponse
		if err := c.getJSON(ctx, c.endpoints.BiliGameInfo, &body); err != nil {
			return "", err
		}
		if body.Data.AndroidDownloadLink == "" {
			return "", errors.New("bilibili response has no android_download_link")
		}
		return body.Data.AndroidDownloadLink, nil
	}
	return "", fmt.Errorf("%w: %s has no direct download", ErrUnsupported, ct)
}

// officialAPK reads the redirect target of the latest-download link. The
// link is cached for the checker's lifetime.
func (c *Checker) officialAPK(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.officialLink != "" {
		return c.officialLink, nil
	}

	resp, err := c.get(ctx, c.endpoints.OfficialLatest)
	if err != nil {
		return "", err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	link := resp.Header.Get("Location")
	if link == "" {
		return "", fmt.Errorf("official download returned %d without Location", resp.StatusCode)
	}
	c.officialLink = link
	c.logger.Debug("Resolved official package link", zap.String("link", link))
	return link, nil
}

// officialVersion turns ".../arknights-hg-2501.apk" into "2501".
func officialVersion(link string) string {
	name := strings.TrimSuffix(path.Base(link), ".apk")
	if i := strings.LastIndex(name, "-"); i >= 0 {
		return name[i+1:]
	}
	return name
}

type biliResponse struct {
	Data struct {
		AndroidVersion      string `json:"android_version"`
		AndroidDownloadLink string `json:"android_download_link"`
	} `json:"data"`
}

func (c *Checker) get(ctx context.Context, url string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", url, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		resp.Body.Close()
		return nil, fmt.Errorf("request %s: status %d", url, resp.StatusCode)
	}
	return resp, nil
}

func (c *Checker) getJSON(ctx context.Context, url string, v any) error {
	resp, err := c.get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// softwareVersion returns the first softwareVersion found in the page's
// application/ld+json blocks.
func softwareVersion(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}

	var blocks []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "script" && attr(n, "type") == "application/ld+json" {
			var sb strings.Builder
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.TextNode {
					sb.WriteString(c.Data)
				}
			}
			blocks = append(blocks, sb.String())
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	for _, block := range blocks {
		var obj struct {
			SoftwareVersion string `json:"softwareVersion"`
		}
		if err := json.Unmarshal([]byte(block), &obj); err != nil {
			continue
		}
		if obj.SoftwareVersion != "" {
			return obj.SoftwareVersion, nil
		}
	}
	return "", errors.New("no softwareVersion in ld+json blocks")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// UpToDate compares an installed versionName such as "2.5.01" with a
// published version such as "2501" or "2.5.01".
func UpToDate(installed, latest string) bool {
	norm := func(s string) string { return strings.ReplaceAll(strings.TrimSpace(s), ".", "") }
	return installed != "" && norm(installed) == norm(latest)
}
