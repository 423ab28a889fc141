// Package httpx is the outbound request dispatcher used by the check-in
// plugins.
//
// A Dispatcher holds an ordered list of strategies: "primary" (a net/http
// client dressed as Chrome, with a cookie jar), an optional "browser"
// (headless Chrome through go-rod, for CloudFlare-fronted sites) and
// "plain" (a bare net/http client). Do tries them in order and returns the
// first response that is not blocked. From restarts the chain after a
// named strategy.
package httpx
