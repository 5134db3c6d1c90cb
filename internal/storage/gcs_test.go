package storage

import "testing"

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"contract.pdf", "contract.pdf"},
		{"  My Contract (v2).pdf ", "My_Contract_v2_.pdf"},
		{"../../etc/passwd", "passwd"},
		{"..\\..\\windows\\evil.pdf", "evil.pdf"},
		{"a   b.pdf", "a_b.pdf"},
		{"___x___", "x"},
		{"rapport financier été.pdf", "rapport_financier_t_.pdf"},
	}
	for _, tc := range cases {
		got, err := SanitizeFilename(tc.in)
		if err != nil {
			t.Errorf("SanitizeFilename(%q) error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeFilenameRejectsEmpty(t *testing.T) {
	for _, in := range []string{"", "   ", "///", "!!!", "***"} {
		if _, err := SanitizeFilename(in); err == nil {
			t.Errorf("SanitizeFilename(%q) accepted", in)
		}
	}
}

func TestObjectPath(t *testing.T) {
	got := ObjectPath("ws-1", "doc-2", "file.pdf")
	if got != "ws-1/doc-2/file.pdf" {
		t.Fatalf("ObjectPath = %q", got)
	}
}
