package deepflood

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"forumsign/internal/plugin"
	"forumsign/internal/signin"
)

// flexInt decodes a JSON number or a numeric string.
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*n = flexInt(f)
	return nil
}

type attendanceResponse struct {
	Success *bool   `json:"success"`
	Message string  `json:"message"`
	Msg     string  `json:"msg"`
	Gain    flexInt `json:"gain"`
	Current flexInt `json:"current"`
	Status  flexInt `json:"status"`
}

func (r attendanceResponse) text() string {
	if r.Message != "" {
		return r.Message
	}
	return r.Msg
}

var (
	alreadyKeywords = []string{"已完成签到", "已签到", "重复"}
	successKeywords = []string{"签到成功", "签到收益", "获得"}
)

const userNotFound = "USER NOT FOUND"

// classify maps one attendance response. ok is false when the body is
// neither JSON nor text carrying a known keyword. An explicit success flag
// wins over everything else, including the message text.
func classify(status int, body []byte) (att signin.Attempt, ok bool) {
	var r attendanceResponse
	if err := json.Unmarshal(body, &r); err != nil {
		if status == http.StatusNotFound || bytes.Contains(body, []byte(userNotFound)) {
			return signin.Attempt{Outcome: signin.InvalidCookie, Message: userNotFound}, true
		}
		return classifyText(plugin.StripHTML(string(body)))
	}
	msg := strings.TrimSpace(r.text())
	switch {
	case r.Success != nil && *r.Success:
		return signin.Attempt{Outcome: signin.Success, Message: orDefault(msg, signin.StatusSuccess), Gain: int(r.Gain)}, true
	case status == http.StatusNotFound, int(r.Status) == http.StatusNotFound, strings.Contains(msg, userNotFound):
		return signin.Attempt{Outcome: signin.InvalidCookie, Message: orDefault(msg, userNotFound)}, true
	case containsAny(msg, alreadyKeywords):
		return signin.Attempt{Outcome: signin.AlreadySigned, Message: msg}, true
	case containsAny(msg, successKeywords):
		return signin.Attempt{Outcome: signin.Success, Message: msg, Gain: int(r.Gain)}, true
	}
	return signin.Attempt{Outcome: signin.Unknown, Message: orDefault(msg, "未知错误")}, true
}

func classifyText(text string) (signin.Attempt, bool) {
	excerpt := plugin.Excerpt(text, 100)
	switch {
	case containsAny(text, alreadyKeywords):
		return signin.Attempt{Outcome: signin.AlreadySigned, Message: excerpt}, true
	case containsAny(text, successKeywords):
		return signin.Attempt{Outcome: signin.Success, Message: excerpt}, true
	}
	return signin.Attempt{Outcome: signin.Unknown, Message: excerpt}, false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
