package flowcontrol

import "testing"

func TestReceiver_ViolationBeyondLimit(t *testing.T) {
	r := NewReceiver(10)
	if err := r.OnDataReceived(10); err != nil {
		t.Fatalf("expected exactly-at-limit to be allowed: %v", err)
	}
	if err := r.OnDataReceived(11); err == nil {
		t.Fatal("expected violation beyond advertised limit")
	}
}

func TestReceiver_DoublesWindowPastHalf(t *testing.T) {
	r := NewReceiver(100)
	newLimit, update := r.OnConsumed(40)
	if update {
		t.Fatalf("should not update at 40%% consumption, limit=%d", newLimit)
	}
	newLimit, update = r.OnConsumed(20) // total 60 > 50
	if !update || newLimit != 200 {
		t.Fatalf("expected window doubling to 200, got update=%v limit=%d", update, newLimit)
	}
}

func TestSender_BlockAtLimitThenRelease(t *testing.T) {
	s := NewSender(10)
	s.OnSent(10)
	if s.Budget() != 0 {
		t.Fatalf("budget = %d, want 0", s.Budget())
	}
	if !s.ShouldSignalBlocked() {
		t.Fatal("expected blocked signal at exactly the limit")
	}
	s.MarkBlockedSignaled()
	if s.ShouldSignalBlocked() {
		t.Fatal("expected blocked signal suppressed until the limit changes")
	}
	s.OnMaxDataUpdate(20)
	if s.Budget() != 10 {
		t.Fatalf("budget after raise = %d, want 10", s.Budget())
	}
	if s.ShouldSignalBlocked() {
		t.Fatal("should not be blocked once budget reopens")
	}
}

func TestController_EffectiveBudgetIsMinimum(t *testing.T) {
	c := &Controller{Conn: NewSender(100), Stream: NewSender(10)}
	if c.EffectiveBudget() != 10 {
		t.Fatalf("effective budget = %d, want 10", c.EffectiveBudget())
	}
	c.Stream.OnMaxDataUpdate(1000)
	if c.EffectiveBudget() != 100 {
		t.Fatalf("effective budget = %d, want 100 (conn-limited)", c.EffectiveBudget())
	}
}

func TestSender_MaxDataUpdateIgnoresLowerValues(t *testing.T) {
	s := NewSender(50)
	s.OnMaxDataUpdate(10) // lower, must be ignored (reordered frame)
	if s.Limit() != 50 {
		t.Fatalf("limit = %d, want 50 (lower update ignored)", s.Limit())
	}
}
