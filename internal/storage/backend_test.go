package storage

import "testing"

func TestKeyFor(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/Bonds/yields.csv", "Bonds/yields.csv"},
		{"Bonds/yields.csv", "Bonds/yields.csv"},
		{"/Bonds/../Equities/a.csv", "Equities/a.csv"},
		{"/../../etc/passwd", "etc/passwd"},
		{"manifest.json", "manifest.json"},
	}
	for _, tt := range tests {
		if got := KeyFor(tt.in); got != tt.want {
			t.Errorf("KeyFor(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
