package utils_test

import (
	"testing"

	"sentiment-backend/internal/core/utils"
)

func TestPreview(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		length int
		want   string
	}{
		{
			name:   "short text unchanged",
			text:   "great movie",
			length: 200,
			want:   "great movie",
		},
		{
			name:   "whitespace collapsed",
			text:   "  great \n\n movie\t ",
			length: 200,
			want:   "great movie",
		},
		{
			name:   "cut on rune boundary",
			text:   "héllo wörld",
			length: 4,
			want:   "héll...",
		},
		{
			name:   "exact length not marked",
			text:   "abcd",
			length: 4,
			want:   "abcd",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := utils.Preview(tt.text, tt.length); got != tt.want {
				t.Errorf("Preview() = %q, want %q", got, tt.want)
			}
		})
	}
}
