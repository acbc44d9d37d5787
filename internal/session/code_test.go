package session

import (
	"strings"
	"testing"
)

func TestGenerateCodeLength(t *testing.T) {
	for _, length := range []int{4, 6, 8} {
		code, err := GenerateCode(length)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(code) != length {
			t.Fatalf("expected length %d, got %q", length, code)
		}
	}
}

func TestGenerateCodeDefaultsLength(t *testing.T) {
	code, err := GenerateCode(0)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(code) != DefaultCodeLength {
		t.Fatalf("expected default length %d, got %q", DefaultCodeLength, code)
	}
}

func TestGenerateCodeAlphabet(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := GenerateCode(6)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		for _, r := range code {
			if !strings.ContainsRune(CodeAlphabet, r) {
				t.Fatalf("code %q contains %q outside the alphabet", code, r)
			}
		}
	}
}

func TestGenerateCodeVaries(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		code, err := GenerateCode(8)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		seen[code] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expected varied codes, got %v", seen)
	}
}
