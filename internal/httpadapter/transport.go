package httpadapter

import (
	"net"
	"net/http"
	"net/url"
	"sync"
	"syscall"
	"time"
)

// ClientConfig configures the transport a Adapter's *http.Client uses.
type ClientConfig struct {
	Timeout        time.Duration
	KeepAlive      time.Duration
	ProxyURL       string
	ProxyUsername  string
	ProxyPassword  string
	UserAgent      string
	Headers        map[string]string
	HighThreadMode bool // enables tuned socket options for high connection counts
}

var (
	sharedTransportOnce sync.Once
	sharedTransport     *http.Transport
)

// InitTransport builds (once) the process-wide *http.Transport used by
// every Adapter's client, tuned for many concurrent ranged requests:
// disabled compression (so Content-Length is trustworthy), elevated
// idle-connection ceilings, and — in high-thread mode — socket buffer
// sizing via setSocketOptions. Safe to call repeatedly; only the first
// call's config takes effect, matching the "idempotent initialiser"
// guidance for process-wide transport state.
func InitTransport(cfg ClientConfig) *http.Transport {
	sharedTransportOnce.Do(func() {
		keepAlive := cfg.KeepAlive
		if keepAlive == 0 {
			keepAlive = 90 * time.Second
		}
		transport := &http.Transport{
			IdleConnTimeout:     keepAlive,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			DisableCompression:  true,
			MaxConnsPerHost:     0,
		}
		if cfg.HighThreadMode {
			transport.DialContext = (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
				DualStack: true,
				Control: func(network, address string, c syscall.RawConn) error {
					return c.Control(func(fd uintptr) {
						setSocketOptions(fd)
					})
				},
			}).DialContext
		}
		if cfg.ProxyURL != "" {
			if proxyURL, err := url.Parse(cfg.ProxyURL); err == nil {
				if cfg.ProxyUsername != "" {
					if cfg.ProxyPassword != "" {
						proxyURL.User = url.UserPassword(cfg.ProxyUsername, cfg.ProxyPassword)
					} else {
						proxyURL.User = url.User(cfg.ProxyUsername)
					}
				}
				transport.Proxy = http.ProxyURL(proxyURL)
			}
		}
		sharedTransport = transport
	})
	return sharedTransport
}

// NewClient builds an *http.Client wired to the shared transport, with
// cfg.Timeout as the per-request deadline.
func NewClient(cfg ClientConfig) *http.Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: InitTransport(cfg),
	}
}
