package transport

import "testing"

func TestAcceptLimiterAllowsWithinBurst(t *testing.T) {
	l := NewAcceptLimiter(1, 3)
	for i := 0; i < 3; i++ {
		if !l.Allow("10.0.0.1:5555") {
			t.Fatalf("Allow() call %d = false, want true within burst", i)
		}
	}
}

func TestAcceptLimiterRejectsBeyondBurst(t *testing.T) {
	l := NewAcceptLimiter(0.001, 1)
	if !l.Allow("10.0.0.2:1") {
		t.Fatal("first Allow() = false, want true")
	}
	if l.Allow("10.0.0.2:1") {
		t.Fatal("second Allow() immediately after burst exhaustion = true, want false")
	}
}

func TestAcceptLimiterTracksHostsIndependently(t *testing.T) {
	l := NewAcceptLimiter(0.001, 1)
	if !l.Allow("10.0.0.3:1111") {
		t.Fatal("host A first Allow() = false")
	}
	if !l.Allow("10.0.0.4:2222") {
		t.Fatal("host B first Allow() = false, want independent bucket")
	}
}

func TestAcceptLimiterResetClearsState(t *testing.T) {
	l := NewAcceptLimiter(0.001, 1)
	l.Allow("10.0.0.5:1")
	l.Reset()
	if !l.Allow("10.0.0.5:1") {
		t.Fatal("Allow() after Reset() = false, want true")
	}
}

func TestHostOnlyStripsPort(t *testing.T) {
	if got := hostOnly("192.168.1.1:4444"); got != "192.168.1.1" {
		t.Errorf("hostOnly() = %q, want 192.168.1.1", got)
	}
	if got := hostOnly("no-port"); got != "no-port" {
		t.Errorf("hostOnly() = %q, want no-port unchanged", got)
	}
}
