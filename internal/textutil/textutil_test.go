package textutil

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestEnsureUTF8_ValidPassthrough(t *testing.T) {
	inputs := []string{"", "hello", "café", "日本語のテキスト", "emoji 🎉"}
	for _, in := range inputs {
		if got := EnsureUTF8(in); got != in {
			t.Errorf("EnsureUTF8(%q) = %q, want unchanged", in, got)
		}
	}
}

func TestEnsureUTF8_Windows1252(t *testing.T) {
	// "smart quotes" and an em dash in Windows-1252
	in := "He said \x93hello\x94 \x97 twice"
	got := EnsureUTF8(in)
	if !utf8.ValidString(got) {
		t.Fatalf("result is not valid UTF-8: %q", got)
	}
	if !strings.Contains(got, "hello") {
		t.Errorf("EnsureUTF8(%q) = %q, lost ASCII content", in, got)
	}
	if strings.ContainsRune(got, '�') {
		t.Errorf("EnsureUTF8(%q) = %q, expected a clean conversion", in, got)
	}
}

func TestEnsureUTF8_GarbageFallsBackToSanitize(t *testing.T) {
	in := "ok\xff\xfe\xfdok"
	got := EnsureUTF8(in)
	if !utf8.ValidString(got) {
		t.Fatalf("result is not valid UTF-8: %q", got)
	}
	if !strings.HasPrefix(got, "ok") || !strings.HasSuffix(got, "ok") {
		t.Errorf("EnsureUTF8(%q) = %q, expected surrounding ASCII preserved", in, got)
	}
}

func TestSanitizeUTF8(t *testing.T) {
	got := SanitizeUTF8("a\xffb")
	if got != "a�b" {
		t.Errorf("SanitizeUTF8 = %q, want %q", got, "a�b")
	}
}

func TestFirstLine(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"single", "single"},
		{"first\nsecond", "first"},
		{"first\r\nsecond", "first"},
		{"\n\nleading blank lines\nrest", "leading blank lines"},
	}
	for _, tt := range tests {
		if got := FirstLine(tt.in); got != tt.want {
			t.Errorf("FirstLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		in       string
		maxRunes int
		want     string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"日本語テキストです", 5, "日本..."},
		{"abc", 2, "ab"},
		{"anything", 0, ""},
	}
	for _, tt := range tests {
		if got := TruncateRunes(tt.in, tt.maxRunes); got != tt.want {
			t.Errorf("TruncateRunes(%q, %d) = %q, want %q", tt.in, tt.maxRunes, got, tt.want)
		}
	}
}
