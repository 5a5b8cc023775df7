package utils

import "testing"

func TestNormalizeAddress(t *testing.T) {
	if got := NormalizeAddress("  0xABCdef  "); got != "0xabcdef" {
		t.Errorf("NormalizeAddress = %q", got)
	}
}

func TestShortAddress(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"0x1234567890abcdef1234567890abcdef12345678", "0x1234...5678"},
		{"0x1234", "0x1234"},
	}
	for _, tt := range tests {
		if got := ShortAddress(tt.in); got != tt.want {
			t.Errorf("ShortAddress(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsAddress(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"0x1234567890abcdef1234567890ABCDEF12345678", true},
		{"1234567890abcdef1234567890abcdef12345678", false},
		{"0x123", false},
		{"0xZZ34567890abcdef1234567890abcdef12345678", false},
	}
	for _, tt := range tests {
		if got := IsAddress(tt.in); got != tt.want {
			t.Errorf("IsAddress(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestAddressSet(t *testing.T) {
	set := NewAddressSet([]string{"0xAAA", " 0xaaa ", "", "0xBbB"})
	if len(set) != 2 {
		t.Fatalf("len = %d, want 2", len(set))
	}
	if !set.Has("0XAAA") && !set.Has("0xaaa") {
		t.Error("expected 0xaaa in set")
	}
	if !set.Has("0xbbb") {
		t.Error("expected 0xbbb in set")
	}
	if set.Has("0xccc") {
		t.Error("unexpected 0xccc")
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" a, ,b ,c,")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("SplitList = %v", got)
	}
	if SplitList("") != nil {
		t.Error("empty input should give nil")
	}
}

func TestMask(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", ""},
		{"abc", "****"},
		{"supersecretkey", "****tkey"},
	}
	for _, tt := range tests {
		if got := Mask(tt.in); got != tt.want {
			t.Errorf("Mask(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
