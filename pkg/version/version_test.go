package version

import (
	"testing"
)

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		input string
		major uint16
		minor uint16
	}{
		{"1.0", 1, 0},
		{"1.1", 1, 1},
		{"2.0", 2, 0},
		{"10.23", 10, 23},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			v, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) returned error: %v", tt.input, err)
			}
			if v.Major != tt.major {
				t.Errorf("Major = %d, want %d", v.Major, tt.major)
			}
			if v.Minor != tt.minor {
				t.Errorf("Minor = %d, want %d", v.Minor, tt.minor)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []string{
		"",
		"1",
		"abc",
		"1.0.0",
		"1.x",
		"-1.0",
	}

	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			if err == nil {
				t.Errorf("Parse(%q) should return error", input)
			}
		})
	}
}

func TestCompatible(t *testing.T) {
	v10 := MustParse("1.0")
	if !v10.Compatible(MustParse("1.7")) {
		t.Error("1.0 should be compatible with 1.7")
	}
	if v10.Compatible(MustParse("2.0")) {
		t.Error("1.0 should not be compatible with 2.0")
	}
}

func TestCheckPeer(t *testing.T) {
	if _, err := CheckPeer(Current); err != nil {
		t.Errorf("CheckPeer(Current) = %v", err)
	}
	if _, err := CheckPeer("1.9"); err != nil {
		t.Errorf("CheckPeer(1.9) = %v", err)
	}
	if _, err := CheckPeer("3.0"); err == nil {
		t.Error("CheckPeer(3.0) should fail")
	}
	if _, err := CheckPeer("garbage"); err == nil {
		t.Error("CheckPeer(garbage) should fail")
	}
}

func TestMustParsePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustParse did not panic")
		}
	}()
	MustParse("x")
}
