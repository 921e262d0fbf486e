package util

import (
	"strings"
	"testing"
)

func TestNewIDPrefixAndUniqueness(t *testing.T) {
	a := NewID("ver")
	b := NewID("ver")
	if a == b {
		t.Fatalf("NewID() returned duplicate %q", a)
	}
	if !strings.HasPrefix(a, "ver_") {
		t.Fatalf("NewID() = %q, want ver_ prefix", a)
	}
	if strings.Contains(NewID(""), "_") {
		t.Fatal("NewID(\"\") should not carry a separator")
	}
}

func TestChecksumIsStable(t *testing.T) {
	if Checksum("draft") != Checksum("draft") {
		t.Fatal("Checksum() is not deterministic")
	}
	if Checksum("draft") == Checksum("draft v2") {
		t.Fatal("Checksum() collided on different content")
	}
	if got := len(Checksum("")); got != 64 {
		t.Fatalf("len(Checksum()) = %d, want 64", got)
	}
}
