package util

import "testing"

func TestNormalizeSender(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"user@example.com", "user@example.com"},
		{"User@EXAMPLE.com", "user@example.com"},
		{"Alice <user+ads@Example.com>", "user@example.com"},
		{`"Alice" <user@example.com>`, "user@example.com"},
		{"first.last@example.com", "first.last@example.com"}, // dots kept
		{"not an address", ""},
	}
	for _, c := range cases {
		if got := NormalizeSender(c.in); got != c.want {
			t.Errorf("NormalizeSender(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
