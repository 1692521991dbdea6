package reader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	"marketsync/config"
)

type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(req)
}

// NewHTTPClient builds the pooled client one source uses for its lifetime.
// Outbound connections bind to src.LocalIP when set.
func NewHTTPClient(rc config.ReaderConfig, src config.SourceConfig) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        rc.ConnectionPool.MaxIdleConns,
		MaxIdleConnsPerHost: rc.ConnectionPool.MaxIdleConns,
		MaxConnsPerHost:     rc.ConnectionPool.MaxConnsPerHost,
		IdleConnTimeout:     rc.ConnectionPool.IdleConnTimeout,
	}
	if src.LocalIP != "" {
		if ip := net.ParseIP(src.LocalIP); ip != nil {
			dialer := &net.Dialer{LocalAddr: &net.TCPAddr{IP: ip}}
			transport.DialContext = dialer.DialContext
		}
	}

	var rt http.RoundTripper = transport
	if rc.UserAgent != "" {
		rt = userAgentTransport{agent: rc.UserAgent, base: transport}
	}
	return &http.Client{Transport: rt, Timeout: rc.Timeout}
}

// GetJSON issues a GET against base+path and decodes the JSON body into out.
func GetJSON(ctx context.Context, client *http.Client, base, path string, params url.Values, out any) error {
	u := base + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
