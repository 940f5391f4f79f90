package storage

import (
	"errors"
	"testing"
)

func TestValidatePrefix(t *testing.T) {
	t.Parallel()

	cases := []struct {
		prefix string
		ok     bool
	}{
		{"live-recordings/3f6c2a4e/chunks/", true},
		{"", false},
		{"/", false},
		{"live-recordings/3f6c2a4e/chunks", false},
	}
	for _, tc := range cases {
		err := validatePrefix(tc.prefix)
		if tc.ok && err != nil {
			t.Fatalf("%q: unexpected error %v", tc.prefix, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%q: expected error", tc.prefix)
		}
	}
	if !errors.Is(validatePrefix("  "), ErrEmptyPrefix) {
		t.Fatalf("blank prefix must be ErrEmptyPrefix")
	}
}
