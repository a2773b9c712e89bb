package credentials

import (
	"strings"
	"testing"
)

func TestGeneratePairingCodeFormat(t *testing.T) {
	for i := 0; i < 100; i++ {
		code, err := GeneratePairingCode()
		if err != nil {
			t.Fatalf("GeneratePairingCode failed: %v", err)
		}
		if len(code) != 9 {
			t.Fatalf("len(%q) = %d, want 9", code, len(code))
		}
		if code[4] != '-' {
			t.Fatalf("code %q missing separator at position 4", code)
		}
		for i, c := range code {
			if i == 4 {
				continue
			}
			if !strings.ContainsRune(pairingCharset, c) {
				t.Fatalf("code %q contains %q outside the charset", code, c)
			}
		}
	}
}

func TestPairingCharsetExcludesAmbiguousCharacters(t *testing.T) {
	for _, c := range "0O1IL" {
		if strings.ContainsRune(pairingCharset, c) {
			t.Errorf("charset contains ambiguous character %q", c)
		}
	}
}

func TestGeneratePairingCodeVaries(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := GeneratePairingCode()
		if err != nil {
			t.Fatalf("GeneratePairingCode failed: %v", err)
		}
		seen[code] = true
	}
	if len(seen) < 45 {
		t.Errorf("only %d distinct codes in 50 draws", len(seen))
	}
}
