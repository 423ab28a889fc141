package enshan

import (
	"regexp"
	"strconv"
	"strings"

	"forumsign/internal/plugin"
	"forumsign/internal/signin"
)

const (
	msgNoFormhash = "无法获取 formhash，可能是网站结构变更或被拦截"
	msgRateLimit  = "操作频繁或需要验证码，请稍后再试"
)

// loggedOut reports a forum page rendered for a guest: a login link and
// no logout link.
func loggedOut(text string) bool {
	return strings.Contains(text, "登录") && !strings.Contains(text, "退出")
}

var gainRe = regexp.MustCompile(`(\d+)\s*枚`)

// classifySign maps the dsu_paulsign answer. The ajax reply wraps HTML in
// an XML CDATA section; only its text matters.
func classifySign(body string) signin.Attempt {
	text := plugin.StripHTML(strings.NewReplacer("<![CDATA[", "", "]]>", "").Replace(body))
	excerpt := plugin.Excerpt(text, 100)
	switch {
	case strings.Contains(text, "恭喜你签到成功"):
		att := signin.Attempt{Outcome: signin.Success, Message: excerpt}
		if m := gainRe.FindStringSubmatch(text); m != nil {
			att.Gain, _ = strconv.Atoi(m[1])
		}
		return att
	case strings.Contains(text, "已经签到"):
		return signin.Attempt{Outcome: signin.AlreadySigned, Message: excerpt}
	case strings.Contains(text, "请稍后再试"):
		return signin.Attempt{Outcome: signin.Unknown, Message: msgRateLimit}
	}
	if excerpt == "" {
		excerpt = "未知响应"
	}
	return signin.Attempt{Outcome: signin.Unknown, Message: excerpt}
}
