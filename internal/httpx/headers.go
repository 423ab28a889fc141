package httpx

import "net/http"

const ChromeUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// chromeHeaders are sent by the primary strategy before request headers,
// so a request header with the same name wins.
func chromeHeaders(ua string) http.Header {
	if ua == "" {
		ua = ChromeUserAgent
	}
	return http.Header{
		"User-Agent":         {ua},
		"Accept":             {"application/json, text/plain, */*"},
		"Accept-Language":    {"zh-CN,zh;q=0.9,en;q=0.8"},
		"Sec-Ch-Ua":          {`"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`},
		"Sec-Ch-Ua-Mobile":   {"?0"},
		"Sec-Ch-Ua-Platform": {`"Windows"`},
		"Sec-Fetch-Dest":     {"empty"},
		"Sec-Fetch-Mode":     {"cors"},
		"Sec-Fetch-Site":     {"same-origin"},
	}
}
