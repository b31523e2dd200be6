package remote

import "testing"

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"backslashes", `a\b\c`, "a/b/c"},
		{"collapse slashes", "a//b///c", "a/b/c"},
		{"trailing slash stripped", "/a/b/", "/a/b"},
		{"root preserved", "/", "/"},
		{"mixed", `\\a\\//b/`, "/a/b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{`a\b\\c/`, "/", "", "a//b///c//"}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestJoin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		base, part string
		want       string
	}{
		{"simple", "/srv/data", "sub/file.bin", "/srv/data/sub/file.bin"},
		{"base trailing slash", "/srv/data/", "/sub", "/srv/data/sub"},
		{"empty base", "", "sub", "/sub"},
		{"empty part", "/srv/data", "", "/srv/data"},
		{"both normalized", `/srv\\data/`, `\\sub\\file`, "/srv/data/sub/file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Join(tt.base, tt.part); got != tt.want {
				t.Errorf("Join(%q, %q) = %q, want %q", tt.base, tt.part, got, tt.want)
			}
		})
	}
}
