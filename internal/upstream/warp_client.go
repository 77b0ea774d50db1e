package upstream

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/url"
	"time"

	"warp2api-go/internal/config"
	"warp2api-go/internal/constants"
)

// Client posts opaque protobuf payloads to the Warp AI endpoint. The
// transport pools connections; per-call deadlines come from the caller's
// context, not a client-wide timeout, so SSE responses can outlive slow
// requests.
type Client struct {
	cfg *config.Config
	cli *http.Client
}

func durationOrDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}

func NewClient(cfg *config.Config) *Client {
	tr := &http.Transport{
		Proxy: getProxyFunc(cfg.Warp.ProxyURL),
		DialContext: (&net.Dialer{
			Timeout:   constants.DefaultDialTimeout,
			KeepAlive: constants.DefaultKeepAlive,
		}).DialContext,
		TLSHandshakeTimeout: constants.DefaultTLSHandshakeTimeout,
		MaxIdleConns:        constants.DefaultMaxIdleConns,
		MaxIdleConnsPerHost: constants.DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:     constants.DefaultIdleConnTimeout,
	}
	return &Client{cfg: cfg, cli: &http.Client{Transport: tr, Timeout: 0}}
}

// getProxyFunc prefers the configured proxy and falls back to the
// environment proxy settings.
func getProxyFunc(proxyURL string) func(*http.Request) (*url.URL, error) {
	if proxyURL != "" {
		if parsedURL, err := url.Parse(proxyURL); err == nil {
			return http.ProxyURL(parsedURL)
		}
	}
	return http.ProxyFromEnvironment
}

// Send posts the payload with the Warp client identity headers.
//
// IMPORTANT: Caller MUST close resp.Body if resp is non-nil and err is nil.
func (c *Client) Send(ctx context.Context, payload []byte, accessToken string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Warp.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("accept", "text/event-stream")
	req.Header.Set("content-type", "application/x-protobuf")
	req.Header.Set("x-warp-client-version", c.cfg.Warp.ClientVersion)
	req.Header.Set("x-warp-os-category", c.cfg.Warp.OSCategory)
	req.Header.Set("x-warp-os-name", c.cfg.Warp.OSName)
	req.Header.Set("x-warp-os-version", c.cfg.Warp.OSVersion)
	req.Header.Set("authorization", "Bearer "+accessToken)

	if hdr := HeaderOverrides(ctx); hdr != nil {
		for key, values := range hdr {
			req.Header.Del(key)
			for _, v := range values {
				req.Header.Add(key, v)
			}
		}
	}

	return c.cli.Do(req)
}
