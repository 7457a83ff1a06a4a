package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "rate limit 429",
			err:      fmt.Errorf("telegram: 429 Too Many Requests"),
			expected: true,
		},
		{
			name:     "server error 502",
			err:      fmt.Errorf("502 bad gateway"),
			expected: true,
		},
		{
			name:     "timeout",
			err:      fmt.Errorf("context deadline exceeded"),
			expected: true,
		},
		{
			name:     "connection refused",
			err:      fmt.Errorf("dial tcp 127.0.0.1:443: connect: connection refused"),
			expected: true,
		},
		{
			name:     "blocked by user",
			err:      fmt.Errorf("vk: user has blocked messages from the community"),
			expected: false,
		},
		{
			name:     "wrapped delivery error keeps classification",
			err:      NewDeliveryError("telegram", 42, fmt.Errorf("503 service unavailable")),
			expected: true,
		},
		{
			name:     "permanent delivery error",
			err:      NewDeliveryError("vk", 42, fmt.Errorf("chat not found")),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.expected {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestDeliveryErrorUnwrap(t *testing.T) {
	inner := fmt.Errorf("boom")
	err := NewDeliveryError("telegram", 7, inner)
	if !errors.Is(err, inner) {
		t.Errorf("expected DeliveryError to unwrap to inner error")
	}
}

func TestActionErrorMessage(t *testing.T) {
	err := NewActionError(5, "close", fmt.Errorf("already ended"))
	want := `scene action "close" for user 5 failed: already ended`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		max  int
		want string
	}{
		{
			name: "nil error",
			err:  nil,
			max:  10,
			want: "",
		},
		{
			name: "shorter than cap",
			err:  fmt.Errorf("short"),
			max:  10,
			want: "short",
		},
		{
			name: "longer than cap",
			err:  fmt.Errorf("0123456789abcdef"),
			max:  10,
			want: "0123456789",
		},
		{
			name: "zero cap means unbounded",
			err:  fmt.Errorf("unbounded"),
			max:  0,
			want: "unbounded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.err, tt.max); got != tt.want {
				t.Errorf("Truncate() = %q, want %q", got, tt.want)
			}
		})
	}
}
