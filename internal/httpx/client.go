// Package httpx provides the HTTP client used against the SSO-fronted
// authentication endpoints. Those endpoints sit behind browser-grade bot
// protection, so requests carry a fixed desktop-Chrome identity and can
// optionally negotiate TLS with a Chrome fingerprint.
package httpx

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	utls "github.com/refraction-networking/utls"
)

// The backend pins on this exact browser identity; it is never rotated.
const (
	chromeUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	acceptLanguage  = "en-US,en;q=0.9"
)

// BrowserClient wraps an http.Client and applies browser-mimicking headers
// to every request that does not already carry them.
type BrowserClient struct {
	client *http.Client
}

// NewBrowserClient creates a client. With useUTLS set, TLS handshakes use a
// Chrome 120 ClientHello instead of the Go default.
func NewBrowserClient(useUTLS bool) *BrowserClient {
	return &BrowserClient{
		client: &http.Client{
			Timeout:   20 * time.Second,
			Transport: newTransport(useUTLS),
		},
	}
}

// Do applies the browser headers and executes the request.
func (bc *BrowserClient) Do(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	applyHeaders(req)
	return bc.client.Do(req)
}

func applyHeaders(req *http.Request) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", chromeUserAgent)
	}
	if req.Header.Get("Accept-Language") == "" {
		req.Header.Set("Accept-Language", acceptLanguage)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json, text/plain, */*")
	}
	if req.Header.Get("Sec-CH-UA") == "" {
		req.Header.Set("Sec-CH-UA", `"Chromium";v="120", "Not(A:Brand";v="8", "Google Chrome";v="120"`)
	}
	if req.Header.Get("Sec-CH-UA-Platform") == "" {
		req.Header.Set("Sec-CH-UA-Platform", `"Windows"`)
	}
}

func newTransport(useUTLS bool) http.RoundTripper {
	if !useUTLS {
		return &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
		}
	}

	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: 10 * time.Second}
			rawConn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host := addr
			if strings.Contains(addr, ":") {
				host, _, _ = net.SplitHostPort(addr)
			}
			config := &utls.Config{
				ServerName: host,
				NextProtos: []string{"h2", "http/1.1"},
			}
			uconn := utls.UClient(rawConn, config, utls.HelloChrome_120)
			if err := uconn.Handshake(); err != nil {
				_ = rawConn.Close()
				return nil, err
			}
			return uconn, nil
		},
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	}
}
