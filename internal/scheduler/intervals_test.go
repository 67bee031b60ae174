package scheduler_test

import (
	"testing"
	"time"

	"github.com/elsker-net/linkwatch/internal/scheduler"
)

func TestClampToMinimum(t *testing.T) {
	if got := scheduler.ClampToMinimum(1 * time.Millisecond); got != 5*time.Millisecond {
		t.Errorf("ClampToMinimum(1ms) = %v, want 5ms", got)
	}
	if got := scheduler.ClampToMinimum(20 * time.Millisecond); got != 20*time.Millisecond {
		t.Errorf("ClampToMinimum(20ms) = %v, want unchanged 20ms", got)
	}
	if got := scheduler.ClampToMinimum(5 * time.Millisecond); got != 5*time.Millisecond {
		t.Errorf("ClampToMinimum(5ms) = %v, want 5ms exactly at the floor", got)
	}
}
