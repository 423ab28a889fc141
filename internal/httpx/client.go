package httpx

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

const DefaultTimeout = 30 * time.Second

// ClientOptions configure one net/http based strategy.
type ClientOptions struct {
	Proxy     string
	VerifySSL bool
	Timeout   time.Duration
	UserAgent string

	// Spoof sends Chrome-like headers; Jar keeps cookies set by the server
	// (CloudFlare clearance) across calls.
	Spoof bool
	Jar   bool

	// Header is sent on every request, below request headers.
	Header http.Header
}

// HTTPStrategy is the primary (spoofed, with jar) or plain strategy.
type HTTPStrategy struct {
	name   string
	client *http.Client
	header http.Header
}

func NewHTTPStrategy(name string, opt ClientOptions) (*HTTPStrategy, error) {
	tr, err := newTransport(opt)
	if err != nil {
		return nil, err
	}
	timeout := opt.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := &http.Client{Transport: tr, Timeout: timeout}
	if opt.Jar {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("cookie jar: %w", err)
		}
		client.Jar = jar
	}

	header := http.Header{}
	if opt.Spoof {
		header = chromeHeaders(opt.UserAgent)
	} else if opt.UserAgent != "" {
		header.Set("User-Agent", opt.UserAgent)
	}
	for k, vs := range opt.Header {
		header[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}
	return &HTTPStrategy{name: name, client: client, header: header}, nil
}

func newTransport(opt ClientOptions) (*http.Transport, error) {
	d := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           d.DialContext,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	if p := strings.TrimSpace(opt.Proxy); p != "" {
		u, err := url.Parse(p)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy %q", p)
		}
		tr.Proxy = http.ProxyURL(u)
	}
	if !opt.VerifySSL {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return tr, nil
}

func (s *HTTPStrategy) Name() string { return s.name }

func (s *HTTPStrategy) Do(ctx context.Context, r *Request) (*Response, error) {
	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method(), r.URL, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range s.header {
		req.Header[k] = vs
	}
	for k, vs := range r.Header {
		req.Header[http.CanonicalHeaderKey(k)] = vs
	}
	if h := req.Header.Get("Host"); h != "" {
		req.Host = h
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: b, Strategy: s.name}, nil
}

// CloseIdle releases pooled connections.
func (s *HTTPStrategy) CloseIdle() { s.client.CloseIdleConnections() }
