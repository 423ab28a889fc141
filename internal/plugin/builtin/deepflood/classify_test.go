package deepflood

import (
	"encoding/json"
	"testing"

	"forumsign/internal/signin"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		want    signin.Outcome
		gain    int
		wantOK  bool
		message string
	}{
		{"success flag", 200, `{"success":true,"message":"签到收益5个鸡腿","gain":5,"current":120}`, signin.Success, 5, true, "签到收益5个鸡腿"},
		{"success gain as string", 200, `{"success":true,"gain":"7"}`, signin.Success, 7, true, signin.StatusSuccess},
		{"already signed", 200, `{"success":false,"message":"今天已完成签到，请勿重复操作"}`, signin.AlreadySigned, 0, true, "今天已完成签到，请勿重复操作"},
		{"success keyword without flag", 200, `{"msg":"签到成功，获得3个鸡腿"}`, signin.Success, 0, true, "签到成功，获得3个鸡腿"},
		{"user not found status", 404, `{"success":false,"message":"USER NOT FOUND"}`, signin.InvalidCookie, 0, true, "USER NOT FOUND"},
		{"status field 404", 200, `{"success":false,"status":404,"message":"请先登录"}`, signin.InvalidCookie, 0, true, "请先登录"},
		{"success flag beats message text", 200, `{"success":true,"gain":5,"message":"USER NOT FOUND in cache, created"}`, signin.Success, 5, true, "USER NOT FOUND in cache, created"},
		{"user not found message", 200, `{"success":false,"message":"USER NOT FOUND"}`, signin.InvalidCookie, 0, true, "USER NOT FOUND"},
		{"404 empty json", 404, `{}`, signin.InvalidCookie, 0, true, "USER NOT FOUND"},
		{"404 html page", 404, `<html>Not Found</html>`, signin.InvalidCookie, 0, true, "USER NOT FOUND"},
		{"user not found in text", 200, `error: USER NOT FOUND`, signin.InvalidCookie, 0, true, "USER NOT FOUND"},
		{"unknown json", 500, `{"success":false,"message":"服务器繁忙"}`, signin.Unknown, 0, true, "服务器繁忙"},
		{"empty json", 200, `{}`, signin.Unknown, 0, true, "未知错误"},
		{"html already signed", 200, `<div class="msg">您今日已签到</div>`, signin.AlreadySigned, 0, true, "您今日已签到"},
		{"plain text unknown", 200, `maintenance`, signin.Unknown, 0, false, "maintenance"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := classify(tc.status, []byte(tc.body))
			if ok != tc.wantOK {
				t.Fatalf("ok=%v want %v", ok, tc.wantOK)
			}
			if got.Outcome != tc.want || got.Gain != tc.gain || got.Message != tc.message {
				t.Fatalf("got %+v, want outcome=%v gain=%d message=%q", got, tc.want, tc.gain, tc.message)
			}
		})
	}
}

func TestFlexInt(t *testing.T) {
	t.Parallel()

	var v struct {
		A flexInt `json:"a"`
		B flexInt `json:"b"`
		C flexInt `json:"c"`
		D flexInt `json:"d"`
	}
	if err := json.Unmarshal([]byte(`{"a":3,"b":"12","c":null,"d":4.0}`), &v); err != nil {
		t.Fatal(err)
	}
	if v.A != 3 || v.B != 12 || v.C != 0 || v.D != 4 {
		t.Fatalf("got %+v", v)
	}
	if err := json.Unmarshal([]byte(`{"a":"many"}`), &v); err == nil {
		t.Fatal("expected error for non-numeric string")
	}
}

func TestParseTime(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"2026-10-18T01:02:03Z", "2026-10-18T09:02:03+08:00", "2026-10-18T01:02:03.123", "2026-10-18 01:02:03"} {
		got, err := parseTime(s)
		if err != nil {
			t.Fatalf("%s: %v", s, err)
		}
		if got.UTC().Hour() != 1 || got.UTC().Minute() != 2 {
			t.Fatalf("%s: got %v", s, got.UTC())
		}
	}
	if _, err := parseTime("yesterday"); err == nil {
		t.Fatal("expected error")
	}
}
