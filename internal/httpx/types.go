package httpx

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

const (
	StrategyPrimary = "primary"
	StrategyBrowser = "browser"
	StrategyPlain   = "plain"

	maxBodyBytes = 4 << 20
)

var (
	// ErrBlocked means every strategy got a challenge page or a 400/403.
	ErrBlocked = errors.New("httpx: request blocked")
	// ErrNoStrategy means From was asked to continue past the last strategy.
	ErrNoStrategy = errors.New("httpx: no strategy left")
)

// TransportError wraps the last strategy failure when none produced a response.
type TransportError struct {
	Strategy string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("httpx %s: %v", e.Strategy, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Request is replayable: Body is a byte slice so each strategy can send it.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte

	// ExpectJSON marks an HTML answer as blocked (challenge page).
	ExpectJSON bool
}

func NewRequest(method, rawURL string) *Request {
	return &Request{Method: method, URL: rawURL, Header: http.Header{}}
}

// NewForm builds a urlencoded POST.
func NewForm(rawURL string, form url.Values) *Request {
	r := NewRequest(http.MethodPost, rawURL)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Body = []byte(form.Encode())
	return r
}

func (r *Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Strategy names the strategy that produced this response.
	Strategy string
}

func (r *Response) ContentType() string {
	if r == nil || r.Header == nil {
		return ""
	}
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Type")))
	}
	return mt
}

func (r *Response) IsHTML() bool {
	ct := r.ContentType()
	if ct == "text/html" || ct == "application/xhtml+xml" {
		return true
	}
	if ct != "" {
		return false
	}
	head := strings.ToLower(strings.TrimSpace(string(r.Body[:min(len(r.Body), 256)])))
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}

func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return string(r.Body)
}

// Blocked reports whether resp should fall through to the next strategy.
func Blocked(req *Request, resp *Response) bool {
	if resp == nil {
		return true
	}
	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusForbidden {
		return true
	}
	return req != nil && req.ExpectJSON && resp.IsHTML()
}
