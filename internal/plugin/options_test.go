package plugin

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestParseCommonDefaults(t *testing.T) {
	t.Parallel()

	f, err := ParseFields(json.RawMessage(`{"cookie":" session=abc "}`))
	if err != nil {
		t.Fatal(err)
	}
	c, err := ParseCommon(f, CommonDefaults{Notify: true, Cron: "0 9 * * *", BaseURL: "https://www.right.com.cn/"})
	if err != nil {
		t.Fatal(err)
	}
	want := Common{
		Cookie:      "session=abc",
		Notify:      true,
		Cron:        "0 9 * * *",
		HistoryDays: 30,
		UseProxy:    true,
		MaxRetries:  3,
		MinDelay:    5 * time.Second,
		MaxDelay:    12 * time.Second,
		Timeout:     30 * time.Second,
		BaseURL:     "https://www.right.com.cn",
	}
	if c != want {
		t.Fatalf("got %+v\nwant %+v", c, want)
	}
	if len(f.Warnings()) != 0 {
		t.Fatalf("unexpected warnings: %v", f.Warnings())
	}
}

func TestParseCommonInvalidIntegersFallBack(t *testing.T) {
	t.Parallel()

	f, _ := ParseFields(json.RawMessage(`{
		"history_days": "abc",
		"max_retries": "5",
		"min_delay": 20,
		"max_delay": "2",
		"notify": "true",
		"use_proxy": "nope",
		"base_url": "https://www.deepflood.com"
	}`))
	c, err := ParseCommon(f, CommonDefaults{})
	if err != nil {
		t.Fatal(err)
	}
	if c.HistoryDays != 30 || c.MaxRetries != 5 || !c.Notify || !c.UseProxy {
		t.Fatalf("got %+v", c)
	}
	if c.MinDelay != 2*time.Second || c.MaxDelay != 20*time.Second {
		t.Fatalf("delays not swapped: %v %v", c.MinDelay, c.MaxDelay)
	}
	joined := strings.Join(f.Warnings(), "\n")
	for _, key := range []string{"history_days", "use_proxy", "max_delay"} {
		if !strings.Contains(joined, key) {
			t.Errorf("no warning for %s in %q", key, joined)
		}
	}
}

func TestParseCommonRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{"not an object", `[1,2]`},
		{"bad cron", `{"cron":"61 * * * *","base_url":"https://x.test"}`},
		{"bad timeout", `{"timeout":"soon","base_url":"https://x.test"}`},
		{"bad base url", `{"base_url":"ftp://x.test"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f, err := ParseFields(json.RawMessage(tc.raw))
			if err != nil {
				return
			}
			if _, err := ParseCommon(f, CommonDefaults{}); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestFieldsStringAcceptsNumbers(t *testing.T) {
	t.Parallel()

	f, _ := ParseFields(json.RawMessage(`{"member_id": 12345, "empty": null}`))
	if got := f.String("member_id", ""); got != "12345" {
		t.Fatalf("member_id=%q", got)
	}
	if f.Has("empty") || f.String("empty", "d") != "d" {
		t.Fatal("null must read as missing")
	}
}

func TestExcerptStripsMarkup(t *testing.T) {
	t.Parallel()

	body := `<html><head><script>var x=1;</script></head><body><div class="alert">请稍后再试 &amp; 重新登录</div></body></html>`
	if got := Excerpt(body, 100); got != "请稍后再试 & 重新登录" {
		t.Fatalf("got %q", got)
	}
	if got := Excerpt("一二三四五", 3); got != "一二三" {
		t.Fatalf("got %q", got)
	}
}
