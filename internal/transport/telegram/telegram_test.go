package telegram

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitTextShortMessageUnchanged(t *testing.T) {
	t.Parallel()

	got := splitText("【恩山签到】\n签到成功", 4000)
	if len(got) != 1 || got[0] != "【恩山签到】\n签到成功" {
		t.Fatalf("unexpected split: %#v", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()

	line := strings.Repeat("签", 30)
	text := strings.Join([]string{line, line, line, line}, "\n")
	parts := splitText(text, 70)
	if len(parts) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(parts))
	}
	for _, p := range parts {
		if utf8.RuneCountInString(p) > 70 {
			t.Fatalf("chunk exceeds limit: %d runes", utf8.RuneCountInString(p))
		}
		if strings.HasPrefix(p, "\n") || strings.HasSuffix(p, "\n") {
			t.Fatalf("chunk has dangling newline: %q", p)
		}
	}
	if strings.Join(parts, "\n") != text {
		t.Fatalf("chunks do not reassemble the original text")
	}
}
