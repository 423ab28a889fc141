package signin

import "fmt"

type Outcome int

const (
	Unknown Outcome = iota
	Success
	AlreadySigned
	InvalidCookie
)

var outcomeNames = [...]string{"unknown", "success", "already_signed", "invalid_cookie"}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return fmt.Sprintf("outcome(%d)", int(o))
	}
	return outcomeNames[o]
}

// Signed reports whether the account is checked in for today.
func (o Outcome) Signed() bool { return o == Success || o == AlreadySigned }

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Outcome) UnmarshalText(b []byte) error {
	for i, n := range outcomeNames {
		if n == string(b) {
			*o = Outcome(i)
			return nil
		}
	}
	*o = Unknown
	return nil
}

// Recorded statuses.
const (
	StatusSuccess        = "签到成功"
	StatusAlreadySigned  = "已签到"
	StatusRecordConfirm  = "已签到（记录确认）"
	StatusTimeConfirm    = "签到成功（兜底时间验证）"
	StatusFailed         = "签到失败"
	MsgMissingCookie     = "未配置Cookie"
	MsgMissingCookieHint = "未配置Cookie，请在设置中添加Cookie"
	MsgInvalidCookieHint = "Cookie已失效，请重新配置。"
	MsgNoRetry           = "未配置自动重试"
)

func statusFor(o Outcome) string {
	switch o {
	case Success:
		return StatusSuccess
	case AlreadySigned:
		return StatusAlreadySigned
	default:
		return StatusFailed
	}
}
