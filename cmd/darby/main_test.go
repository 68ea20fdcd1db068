package main

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestExitCode(t *testing.T) {
	if got := exitCode(errors.New("boom")); got != 1 {
		t.Fatalf("exitCode(plain) = %d, want 1", got)
	}
	if got := exitCode(context.DeadlineExceeded); got != 124 {
		t.Fatalf("exitCode(deadline) = %d, want 124", got)
	}
	wrapped := fmt.Errorf("run request: %w", context.DeadlineExceeded)
	if got := exitCode(wrapped); got != 124 {
		t.Fatalf("exitCode(wrapped deadline) = %d, want 124", got)
	}
	if got := exitCode(context.Canceled); got != 1 {
		t.Fatalf("exitCode(canceled) = %d, want 1", got)
	}
}
