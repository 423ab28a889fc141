package enshan

import (
	"testing"

	"forumsign/internal/signin"
)

func TestClassifySign(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		want    signin.Outcome
		gain    int
		message string
	}{
		{
			name: "success with reward",
			body: `<?xml version="1.0" encoding="utf-8"?><root><![CDATA[<div class="c">恭喜你签到成功!获得随机奖励 恩山币 2 枚.</div>]]></root>`,
			want: signin.Success, gain: 2, message: "恭喜你签到成功!获得随机奖励 恩山币 2 枚.",
		},
		{
			name: "already signed",
			body: `<root><![CDATA[<div class="c">您今日已经签到，请明天再来！</div>]]></root>`,
			want: signin.AlreadySigned, message: "您今日已经签到，请明天再来！",
		},
		{
			name: "rate limited",
			body: `<root><![CDATA[系统繁忙，请稍后再试]]></root>`,
			want: signin.Unknown, message: msgRateLimit,
		},
		{
			name: "unknown",
			body: `<root><![CDATA[<p>未定义操作</p>]]></root>`,
			want: signin.Unknown, message: "未定义操作",
		},
		{name: "empty", body: ``, want: signin.Unknown, message: "未知响应"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := classifySign(tc.body)
			if got.Outcome != tc.want || got.Gain != tc.gain || got.Message != tc.message {
				t.Fatalf("got %+v, want outcome=%v gain=%d message=%q", got, tc.want, tc.gain, tc.message)
			}
		})
	}
}

func TestLoggedOut(t *testing.T) {
	t.Parallel()

	if !loggedOut(`<a href="member.php?mod=logging">登录</a><a>立即注册</a>`) {
		t.Fatal("guest page must read as logged out")
	}
	if loggedOut(`<a>登录记录</a><a href="member.php?mod=logging&action=logout">退出</a>`) {
		t.Fatal("page with a logout link is logged in")
	}
}
