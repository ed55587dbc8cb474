package policy

import (
	"strings"
	"testing"
)

func TestRedactTranscript(t *testing.T) {
	input := "Customer: email me at sam@example.com or call +1 (555) 123-9876, card 4242 4242 4242 4242."
	out, changed := RedactTranscript(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[email]", "[phone]", "[card]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
	if strings.Contains(out, "9876") || strings.Contains(out, "sam@") {
		t.Fatalf("output still carries PII: %q", out)
	}
}

func TestRedactTranscriptLeavesMeetingTimes(t *testing.T) {
	input := "Customer: Tuesday at 3 works, we have 12 staff."
	out, changed := RedactTranscript(input)
	if changed || out != input {
		t.Fatalf("RedactTranscript(%q) = %q, %v; want unchanged", input, out, changed)
	}
}

func TestMaskPhone(t *testing.T) {
	cases := map[string]string{
		"+15550001111": "********1111",
		"123":          "***",
		"":             "",
	}
	for in, want := range cases {
		if got := MaskPhone(in); got != want {
			t.Fatalf("MaskPhone(%q) = %q, want %q", in, got, want)
		}
	}
}
