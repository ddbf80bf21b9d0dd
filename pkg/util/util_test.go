package util

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestWithUserWritePermission(t *testing.T) {
	testCases := []struct {
		name     string
		input    os.FileMode
		expected os.FileMode
	}{
		{
			name:     "Read-only permission",
			input:    0444, // r--r--r--
			expected: 0644, // rw-r--r--
		},
		{
			name:     "Already has write permission",
			input:    0755,
			expected: 0755,
		},
		{
			name:     "No permissions",
			input:    0000,
			expected: 0200,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := WithUserWritePermission(tc.input)
			if result != tc.expected {
				t.Errorf("expected permission %o, but got %o", tc.expected, result)
			}
		})
	}
}

func TestDedupePreserveOrder(t *testing.T) {
	testCases := []struct {
		name        string
		input       []string
		expected    []string
		wantDropped int
	}{
		{"Nil", nil, nil, 0},
		{"NoDuplicates", []string{"b", "a"}, []string{"b", "a"}, 0},
		{"FirstSeenWins", []string{"x", "y", "x", "x", "z", "y"}, []string{"x", "y", "z"}, 3},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, dropped := DedupePreserveOrder(tc.input)
			if !slices.Equal(got, tc.expected) {
				t.Errorf("expected %v, got %v", tc.expected, got)
			}
			if dropped != tc.wantDropped {
				t.Errorf("expected %d dropped, got %d", tc.wantDropped, dropped)
			}
		})
	}
}

func TestResolvePath(t *testing.T) {
	base := t.TempDir()
	abs := filepath.Join(base, "abs")

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"Empty", "", ""},
		{"Relative", "published/comics", filepath.Join(base, "published", "comics")},
		{"Absolute", abs, abs},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolvePath(base, tc.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.expected {
				t.Errorf("expected %q, got %q", tc.expected, got)
			}
		})
	}
}

func TestByteCountIEC(t *testing.T) {
	testCases := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tc := range testCases {
		if got := ByteCountIEC(tc.in); got != tc.want {
			t.Errorf("ByteCountIEC(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
