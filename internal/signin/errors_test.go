package signin

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"forumsign/internal/httpx"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"tagged", Errorf(KindRemoteValidation, "login", "not logged in"), KindRemoteValidation},
		{"wrapped tag", fmt.Errorf("run: %w", Errorf(KindMissingCredential, "", "no cookie")), KindMissingCredential},
		{"deadline", fmt.Errorf("sign: %w", context.DeadlineExceeded), KindTransport},
		{"blocked", httpx.ErrBlocked, KindBlocked},
		{"transport", &httpx.TransportError{Strategy: "plain", Err: errors.New("reset")}, KindTransport},
		{"other", errors.New("weird body"), KindUnexpectedResponse},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := KindOf(tc.err); got != tc.want {
				t.Fatalf("KindOf=%v want %v", got, tc.want)
			}
		})
	}
}

func TestWrapKeepsExistingKind(t *testing.T) {
	t.Parallel()

	inner := Errorf(KindBlocked, "fetch", "403")
	if got := KindOf(Wrap(KindTransport, "sign", inner)); got != KindBlocked {
		t.Fatalf("got %v", got)
	}
	if Wrap(KindTransport, "sign", nil) != nil {
		t.Fatal("Wrap(nil) must be nil")
	}
	err := Wrap(KindUnexpectedResponse, "formhash", errors.New("not found"))
	if err.Error() != "formhash: not found" {
		t.Fatalf("message=%q", err.Error())
	}
}

func TestRetryableKinds(t *testing.T) {
	t.Parallel()

	for k, want := range map[Kind]bool{
		KindMissingCredential:  false,
		KindRemoteValidation:   false,
		KindTransport:          true,
		KindBlocked:            true,
		KindUnexpectedResponse: true,
	} {
		if k.Retryable() != want {
			t.Errorf("%v.Retryable()=%v", k, !want)
		}
	}
}

func TestLocalStats(t *testing.T) {
	t.Parallel()

	now := time.Now()
	st := LocalStats([]Record{
		{Time: now.AddDate(0, 0, -40), Outcome: Success, Gain: 100},
		{Time: now.AddDate(0, 0, -2), Outcome: Success, Gain: 4},
		{Time: now.AddDate(0, 0, -1), Outcome: Unknown, Gain: 9},
		{Time: now, Outcome: AlreadySigned, Gain: 6},
	}, 30, now)
	if st.Count != 2 || st.Total != 10 || st.Average != 5 || st.Source != StatsSourceHistory {
		t.Fatalf("stats=%+v", st)
	}
}
