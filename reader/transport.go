package reader

import (
	"net"
	"net/http"

	"depthflow/config"
)

// NewHTTPClient builds the pooled client used for depth requests. Outbound
// connections are bound to cfg.LocalIP when it parses as an IP address.
func NewHTTPClient(cfg config.SourceConfig) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.ConnectionPool.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.ConnectionPool.MaxIdleConns,
		MaxConnsPerHost:     cfg.ConnectionPool.MaxConnsPerHost,
		IdleConnTimeout:     cfg.ConnectionPool.IdleConnTimeout,
		DisableCompression:  false,
	}

	if cfg.LocalIP != "" {
		if ip := net.ParseIP(cfg.LocalIP); ip != nil {
			dialer := &net.Dialer{LocalAddr: &net.TCPAddr{IP: ip}}
			transport.DialContext = dialer.DialContext
		}
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}
