package providers

import (
	"net/http"
	"net/url"

	"github.com/neuromance/neuromance/internal/core"
)

// proxyTransport builds the tokenizer-proxy RoundTripper for a config, or
// nil when proxy mode is off. Requests keep their path and query but are
// redirected to the proxy host; the sealed token replaces the real
// credential and X-Target-Host names the intended upstream.
func proxyTransport(cfg Config) (http.RoundTripper, error) {
	if cfg.ProxyURL == "" {
		return nil, nil
	}
	proxyURL, err := url.Parse(cfg.ProxyURL)
	if err != nil {
		return nil, core.Wrap(core.CodeConfig, err, "invalid proxy url")
	}

	targetHost := ""
	if cfg.BaseURL != "" {
		if base, err := url.Parse(cfg.BaseURL); err == nil {
			targetHost = base.Host
		}
	}

	return &tokenizerProxy{
		scheme:      proxyURL.Scheme,
		host:        proxyURL.Host,
		targetHost:  targetHost,
		sealedToken: cfg.SealedToken,
		next:        http.DefaultTransport,
	}, nil
}

type tokenizerProxy struct {
	scheme      string
	host        string
	targetHost  string
	sealedToken string
	next        http.RoundTripper
}

func (t *tokenizerProxy) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = t.scheme
	out.URL.Host = t.host
	out.Host = t.host

	if t.sealedToken != "" {
		if out.Header.Get("x-api-key") != "" {
			out.Header.Set("x-api-key", t.sealedToken)
		} else {
			out.Header.Set("Authorization", "Bearer "+t.sealedToken)
		}
	}
	if t.targetHost != "" {
		out.Header.Set("X-Target-Host", t.targetHost)
	}
	if out.Body == nil {
		out.Header.Del("Content-Type")
	}

	return t.next.RoundTrip(out)
}
