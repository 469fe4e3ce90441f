package utils

import "testing"

func TestNormalizeIdentifier(t *testing.T) {
	for _, tc := range []struct{ in, want string }{
		{"", ""},
		{"atan2", "atan2"},
		{"d.1", "d_1"},
		{"slice0.2", "slice0_2"},
		{"1st", "_1st"},
		{"a-b c", "a_b_c"},
	} {
		if got := NormalizeIdentifier(tc.in); got != tc.want {
			t.Errorf("NormalizeIdentifier(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestUniqueNames(t *testing.T) {
	names := NewUniqueNames()
	got := []string{names.Name("f"), names.Name("f"), names.Name("g"), names.Name("f"), names.Name("f_1")}
	want := []string{"f", "f_1", "g", "f_2", "f_1_1"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("name #%d: got %q, want %q", i, got[i], want[i])
		}
	}
	if names.Reserve("g") {
		t.Errorf("Reserve(%q) should fail, name already used", "g")
	}
	if !names.Reserve("h") || names.Name("h") != "h_1" {
		t.Errorf("Reserve(%q) should succeed and block the name", "h")
	}
}

func TestSet(t *testing.T) {
	s := SetWith(1, 3)
	if !s.Has(1) || s.Has(2) || !s.Has(3) {
		t.Errorf("unexpected set contents %v", s)
	}
	s.Insert(2)
	if len(s) != 3 {
		t.Errorf("expected 3 elements, got %d", len(s))
	}
}

func TestIndent(t *testing.T) {
	if got := Indent("a\n\nb", "  "); got != "  a\n\n  b" {
		t.Errorf("Indent() = %q", got)
	}
}
