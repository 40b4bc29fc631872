package messaging

import "testing"

func TestNormalizeE164(t *testing.T) {
	cases := map[string]string{
		"+34 600 111 222": "+34600111222",
		"34-600-111-222":  "+34600111222",
		"":                "",
		"abc":             "",
	}
	for in, want := range cases {
		if got := NormalizeE164(in); got != want {
			t.Fatalf("NormalizeE164(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRecipientID(t *testing.T) {
	cases := map[string]string{
		"+34 600 111 222": "34600111222",
		"0034600111222":   "34600111222",
		"34600111222":     "34600111222",
	}
	for in, want := range cases {
		if got := RecipientID(in); got != want {
			t.Fatalf("RecipientID(%q) = %q, want %q", in, got, want)
		}
	}
}
