package server

import (
	"net/http/httptest"
	"testing"
)

func TestNormalizeOrigin(t *testing.T) {
	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{input: "http://localhost:8080", want: "http://localhost:8080", ok: true},
		{input: "HTTPS://Chat.Example.COM", want: "https://chat.example.com", ok: true},
		{input: "https://chat.example.com/path?q=1", want: "https://chat.example.com", ok: true},
		{input: "localhost:8080", ok: false},
		{input: "not a url", ok: false},
		{input: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := normalizeOrigin(tt.input)
			if ok != tt.ok || got != tt.want {
				t.Errorf("normalizeOrigin(%q) = %q, %v; want %q, %v", tt.input, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestOriginPolicyAllows(t *testing.T) {
	policy := newOriginPolicy([]string{"http://localhost:8080", " https://Chat.Example.com ", "bogus", ""}, discardLogger())
	wildcard := newOriginPolicy([]string{"*"}, discardLogger())

	tests := []struct {
		name     string
		policy   originPolicy
		origin   string
		expected bool
	}{
		{name: "listed origin", policy: policy, origin: "http://localhost:8080", expected: true},
		{name: "case-insensitive match", policy: policy, origin: "https://chat.example.com", expected: true},
		{name: "unlisted origin", policy: policy, origin: "https://evil.example.com", expected: false},
		{name: "missing origin", policy: policy, origin: "", expected: false},
		{name: "malformed origin", policy: policy, origin: "bogus", expected: false},
		{name: "wildcard", policy: wildcard, origin: "https://anywhere.example", expected: true},
		{name: "wildcard still needs an origin", policy: wildcard, origin: "", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := tt.policy.allows(req); got != tt.expected {
				t.Errorf("allows(%q) = %v, want %v", tt.origin, got, tt.expected)
			}
		})
	}
}
