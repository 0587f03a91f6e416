package core

import (
	"fmt"
	"testing"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 200},
		{"validation", fmt.Errorf("bad address: %w", ErrValidation), 400},
		{"auth", fmt.Errorf("forbidden: %w", ErrAuth), 403},
		{"rate limited", fmt.Errorf("slow down: %w", ErrRateLimited), 429},
		{"storage falls back to 500", fmt.Errorf("disk full: %w", ErrStorage), 500},
		{"consensus falls back to 500", fmt.Errorf("bad block: %w", ErrConsensus), 500},
		{"unclassified falls back to 500", fmt.Errorf("boom"), 500},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := HTTPStatus(c.err); got != c.want {
				t.Fatalf("HTTPStatus(%v) = %d, want %d", c.err, got, c.want)
			}
		})
	}
}
