package syncer

import (
	"testing"
	"time"
)

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 10 * time.Second}

	tests := []struct {
		retries int
		want    time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{60, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.retries); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.retries, got, tt.want)
		}
	}
}

func TestBackoff_Uncapped(t *testing.T) {
	b := Backoff{Base: time.Hour}
	if got := b.Delay(1000); got <= 0 || got > maxBackoff {
		t.Errorf("Delay(1000) = %v, want in (0, %v]", got, maxBackoff)
	}
}

func TestBackoff_Jitter(t *testing.T) {
	b := Backoff{Base: time.Second, Max: time.Minute, Jitter: 0.5}
	for i := 0; i < 100; i++ {
		d := b.Delay(2)
		if d < 2*time.Second || d > 3*time.Second {
			t.Fatalf("Delay(2) with jitter = %v, want within [2s, 3s]", d)
		}
	}
}
