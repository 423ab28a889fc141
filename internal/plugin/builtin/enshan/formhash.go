package enshan

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

var formhashRe = regexp.MustCompile(`formhash=([a-zA-Z0-9]+)`)

// decodeBody converts a GBK Discuz page to UTF-8. Anything else is
// passed through; an undeclared page sniffs as windows-1252.
func decodeBody(body []byte, contentType string) string {
	enc, name, _ := charset.DetermineEncoding(body, contentType)
	if enc == nil || (name != "gbk" && name != "gb18030") {
		return string(body)
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return string(body)
	}
	return string(out)
}

// findFormhash takes the first formhash input or link in document order
// and falls back to a plain pattern match (inline scripts).
func findFormhash(page string) string {
	if doc, err := html.Parse(strings.NewReader(page)); err == nil {
		if h := walkFormhash(doc); h != "" {
			return h
		}
	}
	if m := formhashRe.FindStringSubmatch(page); m != nil {
		return m[1]
	}
	return ""
}

func walkFormhash(n *html.Node) string {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "input":
			if attr(n, "name") == "formhash" {
				if v := strings.TrimSpace(attr(n, "value")); v != "" {
					return v
				}
			}
		case "a":
			if h := hrefFormhash(attr(n, "href")); h != "" {
				return h
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if h := walkFormhash(c); h != "" {
			return h
		}
	}
	return ""
}

func hrefFormhash(href string) string {
	if !strings.Contains(href, "formhash=") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return u.Query().Get("formhash")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// pageText is the visible text of a page, used for keyword checks.
func pageText(page string) string {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return page
	}
	var b bytes.Buffer
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return b.String()
}
