package natskv

import "testing"

func TestKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"export.c1.json", "export.c1.json"},
		{"export:c1:csv", "export_c1_csv"},
		{"export.6f1c-aa/b=1", "export.6f1c-aa/b=1"},
		{"a b*c>", "a_b_c_"},
	}
	for _, tt := range tests {
		if got := Key(tt.in); got != tt.want {
			t.Errorf("Key(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
