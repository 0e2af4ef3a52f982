package clock

import (
	"testing"
	"time"
)

func TestManualNowAndAdvance(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewManual(start)

	if !m.Now().Equal(start) {
		t.Errorf("Expected start time, got %v", m.Now())
	}
	m.Advance(90 * time.Second)
	if !m.Now().Equal(start.Add(90 * time.Second)) {
		t.Errorf("Expected advanced time, got %v", m.Now())
	}
}

func TestManualAfterFiresOnAdvance(t *testing.T) {
	m := NewManual(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	ch := m.After(time.Minute)
	select {
	case <-ch:
		t.Fatal("Timer fired before Advance")
	default:
	}

	m.Advance(30 * time.Second)
	select {
	case <-ch:
		t.Fatal("Timer fired before its deadline")
	default:
	}

	m.Advance(30 * time.Second)
	select {
	case <-ch:
	default:
		t.Fatal("Timer did not fire at its deadline")
	}
}

func TestManualAfterNonPositiveFiresImmediately(t *testing.T) {
	m := NewManual(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	select {
	case <-m.After(0):
	default:
		t.Fatal("Zero-duration timer must fire immediately")
	}
}
