package signin

import "time"

// DefaultConfirmWindow bounds the time-proximity fallback.
const DefaultConfirmWindow = 30 * time.Minute

// Confirm is the last-resort check after a failed attempt, using the
// account's latest server-side check-in record:
//
//   - a record dated today (in loc) means the account is already signed;
//   - otherwise a record within window of now is taken as this run's success.
//
// Both rules are heuristics against an upstream that sometimes answers a
// successful check-in with an error. window <= 0 disables the second rule.
func Confirm(a Attempt, now time.Time, loc *time.Location, window time.Duration) (Attempt, string, bool) {
	if a.RecordedAt.IsZero() {
		return a, "", false
	}
	if loc == nil {
		loc = time.Local
	}
	if a.RecordedAt.In(loc).Format(dateLayout) == now.In(loc).Format(dateLayout) {
		a.Outcome = AlreadySigned
		a.Message = "今日已签到（记录确认）"
		return a, StatusRecordConfirm, true
	}
	if window > 0 {
		diff := now.Sub(a.RecordedAt)
		if diff < 0 {
			diff = -diff
		}
		if diff < window {
			a.Outcome = Success
			a.Message = StatusTimeConfirm
			return a, StatusTimeConfirm, true
		}
	}
	return a, "", false
}
