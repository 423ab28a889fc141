package scheduler

import (
	"testing"
	"time"
)

func TestNormalizeSchedule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "0 9 * * *", want: "0 9 * * *"},
		{in: "  30 8 * * *  ", want: "30 8 * * *"},
		{in: "0 0 9 * * *", want: "0 0 9 * * *"},
		{in: "@daily", want: "@daily"},
		{in: "@every 24h", want: "@every 24h"},
		{in: "cron: 30 8 * * 1-5", want: "30 8 * * 1-5"},
		{in: "CRON:0 9 * * *", want: "0 9 * * *"},
		{in: "", wantErr: true},
		{in: "cron:", wantErr: true},
		{in: "61 9 * * *", wantErr: true},
		{in: "@sometimes", wantErr: true},
		{in: "* *", wantErr: true},
		{in: "55m", wantErr: true},
		{in: "02:30", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeSchedule(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("NormalizeSchedule(%q) = %q, want error", tc.in, got)
				}
				if ValidateSchedule(tc.in) == nil {
					t.Fatalf("ValidateSchedule(%q) accepted", tc.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeSchedule(%q): %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("NormalizeSchedule(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSpreadOffsetIsStablePerName(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"deepflood_sign:cron", "enshansignin:cron"} {
		a, b := spreadOffset(name, time.Hour), spreadOffset(name, time.Hour)
		if a != b {
			t.Fatalf("%s: offset changed %s -> %s", name, a, b)
		}
		if a < 0 || a >= maxStartupSpread {
			t.Fatalf("%s: offset %s out of range", name, a)
		}
	}
	if off := spreadOffset("x", 10*time.Second); off >= 10*time.Second {
		t.Fatalf("offset %s not bounded by the interval", off)
	}

	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	sched, off := spreadSchedule("enshansignin:cron", time.Hour, now)
	first := sched.Next(now)
	if want := now.Add(time.Hour + off); !first.Equal(want) {
		t.Fatalf("first=%s want %s", first, want)
	}
	if next := sched.Next(first); !next.Equal(first.Add(time.Hour)) {
		t.Fatalf("second=%s want %s", next, first.Add(time.Hour))
	}
}

func TestEveryInterval(t *testing.T) {
	t.Parallel()

	if d, ok := everyInterval("@every 90m"); !ok || d != 90*time.Minute {
		t.Fatalf("got %s %v", d, ok)
	}
	for _, spec := range []string{"@daily", "0 9 * * *", "@every nope", "@every -1h"} {
		if _, ok := everyInterval(spec); ok {
			t.Fatalf("%q treated as interval", spec)
		}
	}
}
