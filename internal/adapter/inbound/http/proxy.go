package http

import (
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"
)

// NewReverseProxy builds the inner handler: a single-host reverse proxy that
// forwards everything surviving the traffic-control chain to the upstream.
func NewReverseProxy(target *url.URL, timeout time.Duration, logger *slog.Logger) http.Handler {
	proxy := httputil.NewSingleHostReverseProxy(target)

	proxy.Transport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: timeout,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		LoggerFromContext(r.Context()).Error("upstream request failed",
			"upstream", target.Host,
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeProblem(w, http.StatusBadGateway, "Bad Gateway", "upstream request failed")
	}

	return proxy
}
