package binance

import (
	"strings"
	"time"
)

type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration

	ProxyEnabled bool
	RESTProxyURL string
	WSProxyURL   string
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = "https://fapi.binance.com"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	out.RESTProxyURL = strings.TrimSpace(out.RESTProxyURL)
	out.WSProxyURL = strings.TrimSpace(out.WSProxyURL)
	return out
}

// restProxy returns the proxy URL REST calls should use, or "" when proxying
// is disabled or unconfigured.
func (c Config) restProxy() string {
	if !c.ProxyEnabled {
		return ""
	}
	return c.RESTProxyURL
}

// wsProxy falls back to the REST proxy when no websocket-specific URL is set.
func (c Config) wsProxy() string {
	if !c.ProxyEnabled {
		return ""
	}
	if c.WSProxyURL != "" {
		return c.WSProxyURL
	}
	return c.RESTProxyURL
}
