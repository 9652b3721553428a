package clock

import (
	"testing"
	"time"
)

func TestRealVirtualGap(t *testing.T) {
	t.Parallel()
	var c Real
	start := time.Now()
	if got := c.VirtualGap(start, start); got != 0 {
		t.Fatalf("VirtualGap(start, start) = %v, want 0", got)
	}
	end := start.Add(1500 * time.Microsecond)
	if got := c.VirtualGap(start, end); got <= 0 {
		t.Fatalf("VirtualGap(start, end) = %v, want > 0", got)
	}
}

func TestScaledVirtualGap(t *testing.T) {
	t.Parallel()
	c := NewScaled(2)
	start := time.Now()
	end := start.Add(time.Second)
	got := c.VirtualGap(start, end)
	if got != 2*time.Second {
		t.Fatalf("VirtualGap = %v, want 2s", got)
	}
}

func TestScaledAddVirtualInterval(t *testing.T) {
	t.Parallel()
	c := NewScaled(4)
	from := time.Now()
	to := c.AddVirtualInterval(from, 4*time.Second)
	if got := to.Sub(from); got != time.Second {
		t.Fatalf("real interval = %v, want 1s", got)
	}
}

func TestScaledAddVirtualIntervalZero(t *testing.T) {
	t.Parallel()
	c := NewScaled(2)
	from := time.Now()
	if to := c.AddVirtualInterval(from, 0); !to.Equal(from) {
		t.Fatalf("AddVirtualInterval(from, 0) = %v, want %v", to, from)
	}
}

func TestScaledAddVirtualIntervalNeverZeroForNonZeroInput(t *testing.T) {
	t.Parallel()
	c := NewScaled(0.0001)
	from := time.Now()
	to := c.AddVirtualInterval(from, 1)
	if to.Equal(from) {
		t.Fatal("AddVirtualInterval must advance real time for any non-zero virtual interval")
	}
}

func TestNewScaledPanicsOnNonPositiveFactor(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for non-positive factor")
		}
	}()
	NewScaled(0)
}
