package backoff

import (
	"testing"
	"time"
)

func TestDelay_LinearGrowth(t *testing.T) {
	p := Default()

	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		3000 * time.Millisecond,
		4000 * time.Millisecond,
		5000 * time.Millisecond,
	}
	for i, expected := range want {
		attempt := i + 1
		if got := p.Delay(attempt); got != expected {
			t.Errorf("attempt %d: expected %v, got %v", attempt, expected, got)
		}
	}
}

func TestDelay_CapsAtMax(t *testing.T) {
	p := Default()

	if got := p.Delay(10); got != 10*time.Second {
		t.Errorf("attempt 10: expected 10s, got %v", got)
	}
	if got := p.Delay(11); got != 10*time.Second {
		t.Errorf("attempt 11: expected cap of 10s, got %v", got)
	}
	if got := p.Delay(1000); got != 10*time.Second {
		t.Errorf("attempt 1000: expected cap of 10s, got %v", got)
	}
}

func TestDelay_ClampsLowAttempts(t *testing.T) {
	p := Default()

	if got := p.Delay(0); got != time.Second {
		t.Errorf("attempt 0: expected 1s, got %v", got)
	}
	if got := p.Delay(-3); got != time.Second {
		t.Errorf("negative attempt: expected 1s, got %v", got)
	}
}

func TestDelay_CustomPolicy(t *testing.T) {
	p := Policy{Step: 10 * time.Millisecond, Max: 25 * time.Millisecond}

	if got := p.Delay(2); got != 20*time.Millisecond {
		t.Errorf("attempt 2: expected 20ms, got %v", got)
	}
	if got := p.Delay(3); got != 25*time.Millisecond {
		t.Errorf("attempt 3: expected 25ms cap, got %v", got)
	}
}
