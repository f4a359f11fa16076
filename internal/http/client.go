package http

import (
	"crypto/tls"
	nethttp "net/http"
	"os"

	"golang.org/x/net/http2"

	"github.com/stashbox/stashbox/internal/config"
	"github.com/stashbox/stashbox/internal/constants"
)

// CreateOptimizedClient returns the client used for direct object-store
// transfers. It starts from ConfigureHTTPClient so uploads and downloads
// honor the same proxy settings as broker calls, then widens the
// connection pool and removes the overall timeout; per-transfer deadlines
// come from the request context.
//
// HTTP/2 is attempted unless a proxy is active or DISABLE_HTTP2=true.
// A nil cfg means no proxy.
func CreateOptimizedClient(cfg *config.Config) (*nethttp.Client, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	baseClient, err := ConfigureHTTPClient(cfg)
	if err != nil {
		return nil, err
	}

	tr, ok := baseClient.Transport.(*nethttp.Transport)
	if !ok {
		// NTLM wraps the transport; leave it alone.
		baseClient.Timeout = 0
		return baseClient, nil
	}

	tr.MaxIdleConns = 4 * constants.HTTPMaxIdleConnsPerHost
	tr.MaxIdleConnsPerHost = constants.HTTPMaxIdleConnsPerHost
	tr.MaxConnsPerHost = 0
	tr.ResponseHeaderTimeout = constants.HTTPResponseHeaderTimeout
	tr.DisableCompression = true
	tr.ForceAttemptHTTP2 = true
	_ = http2.ConfigureTransport(tr)

	if os.Getenv("DISABLE_HTTP2") == "true" || (proxyActive(cfg) && os.Getenv("FORCE_HTTP2") != "true") {
		tr.ForceAttemptHTTP2 = false
		tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
	}

	baseClient.Transport = tr
	baseClient.Timeout = 0
	return baseClient, nil
}

func proxyActive(cfg *config.Config) bool {
	switch cfg.ProxyMode {
	case "no-proxy", "":
		return false
	case "system":
		return os.Getenv("HTTP_PROXY") != "" || os.Getenv("HTTPS_PROXY") != "" ||
			os.Getenv("http_proxy") != "" || os.Getenv("https_proxy") != ""
	default:
		return true
	}
}
