package registry

import (
	"strings"
	"testing"
)

func TestPairingCodes(t *testing.T) {
	if len(PairingAlphabet) != 32 {
		t.Fatalf("expected a 32 symbol alphabet, got %d", len(PairingAlphabet))
	}

	for range 10000 {
		code, err := NewPairingCode()
		if err != nil {
			t.Fatalf("NewPairingCode failed: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("expected 6 characters, got %q", code)
		}
		if strings.ContainsAny(code, "01IO") {
			t.Fatalf("code %q contains an ambiguous character", code)
		}
		for _, r := range code {
			if !strings.ContainsRune(PairingAlphabet, r) {
				t.Fatalf("code %q contains %q outside the alphabet", code, r)
			}
		}
	}
}

func TestValidPairingCode(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"ABC234", true},
		{"ZZZZZZ", true},
		{"ABC23", false},
		{"ABC2345", false},
		{"ABC0DE", false},
		{"ABCIDE", false},
		{"abc234", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidPairingCode(tt.code); got != tt.want {
			t.Errorf("ValidPairingCode(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
	if got := NormalizePairingCode("  abc234 "); got != "ABC234" {
		t.Errorf("NormalizePairingCode = %q", got)
	}
}
