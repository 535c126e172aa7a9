package app

import (
	"net/http/httptest"
	"testing"
)

func TestShortID_Util(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"7f1c2a9e-3b4d-4c5e-8f60-91a2b3c4d5e6", "7f1c2a…c4d5e6"},
		{"pos_1234567890", "pos_1234567890"}, // <= 14 chars
		{"shortstring", "shortstring"},
		{"exactly14chars", "exactly14chars"},
		{"fifteencharstr!", "fiftee…arstr!"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := shortID(tt.input)
			if result != tt.expected {
				t.Errorf("shortID(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNz(t *testing.T) {
	tests := []struct {
		s        string
		fallback string
		expected string
	}{
		{"hello", "default", "hello"},
		{"", "default", "default"},
		{"   ", "default", "default"},
		{"\t\n", "default", "default"},
		{"  content  ", "default", "  content  "},
	}

	for _, tt := range tests {
		t.Run(tt.s, func(t *testing.T) {
			result := nz(tt.s, tt.fallback)
			if result != tt.expected {
				t.Errorf("nz(%q, %q) = %q, want %q", tt.s, tt.fallback, result, tt.expected)
			}
		})
	}
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, 418, map[string]string{"a": "b"})

	if rec.Code != 418 {
		t.Errorf("expected 418, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type: %s", ct)
	}
	if body := rec.Body.String(); body != "{\"a\":\"b\"}\n" {
		t.Errorf("unexpected body: %q", body)
	}
}
