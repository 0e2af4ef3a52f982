package marketdata

import (
	"errors"
	"testing"
	"time"

	"github.com/Noobiez16/Kiwi-AI/internal/domain"
	"github.com/Noobiez16/Kiwi-AI/internal/ports"
)

func makeBar(symbol string, minute int, close float64) domain.Bar {
	openTime := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC).Add(time.Duration(minute) * time.Minute)
	return domain.Bar{
		Symbol:   symbol,
		OpenTime: openTime,
		Open:     close,
		High:     close + 0.5,
		Low:      close - 0.5,
		Close:    close,
		Volume:   1000,
	}
}

func TestBufferAppendAndMonotonicity(t *testing.T) {
	buf, err := NewBuffer("ETHUSDT", 0)
	if err != nil {
		t.Fatalf("NewBuffer failed: %v", err)
	}

	for i := 0; i < 30; i++ {
		if err := buf.AppendOrUpdate(makeBar("ETHUSDT", i, 100+float64(i))); err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
	}
	if buf.Len() != 30 {
		t.Errorf("Expected 30 bars, got %d", buf.Len())
	}

	// Strictly increasing open times in the snapshot.
	snap := buf.Snapshot(0)
	for i := 1; i < len(snap); i++ {
		if !snap[i].OpenTime.After(snap[i-1].OpenTime) {
			t.Errorf("open times not strictly increasing at index %d", i)
		}
	}
}

func TestBufferPartialBarUpdate(t *testing.T) {
	buf, _ := NewBuffer("ETHUSDT", 0)

	if err := buf.AppendOrUpdate(makeBar("ETHUSDT", 0, 100)); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	// Same open time replaces the tail instead of appending.
	update := makeBar("ETHUSDT", 0, 101)
	if err := buf.AppendOrUpdate(update); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if buf.Len() != 1 {
		t.Errorf("Expected 1 bar after update, got %d", buf.Len())
	}
	price, ok := buf.LatestPrice()
	if !ok || price != 101 {
		t.Errorf("Expected latest price 101, got %v", price)
	}
}

func TestBufferRejectsOutOfOrder(t *testing.T) {
	buf, _ := NewBuffer("ETHUSDT", 0)
	if err := buf.AppendOrUpdate(makeBar("ETHUSDT", 5, 100)); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	err := buf.AppendOrUpdate(makeBar("ETHUSDT", 3, 99))
	if !errors.Is(err, ports.ErrOutOfOrderBar) {
		t.Errorf("Expected ErrOutOfOrderBar, got %v", err)
	}
	if buf.Len() != 1 {
		t.Errorf("Out-of-order bar must not be stored")
	}
}

func TestBufferRejectsBadPrice(t *testing.T) {
	buf, _ := NewBuffer("ETHUSDT", 0)
	bad := makeBar("ETHUSDT", 0, 100)
	bad.Close = nan()
	if err := buf.AppendOrUpdate(bad); !errors.Is(err, ports.ErrBadPrice) {
		t.Errorf("Expected ErrBadPrice, got %v", err)
	}
}

func nan() float64 {
	var zero float64
	return zero / zero
}

func TestBufferEviction(t *testing.T) {
	buf, _ := NewBuffer("ETHUSDT", 250)
	for i := 0; i < 300; i++ {
		if err := buf.AppendOrUpdate(makeBar("ETHUSDT", i, 100)); err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
	}
	if buf.Len() != 250 {
		t.Errorf("Expected capacity eviction to 250 bars, got %d", buf.Len())
	}
	snap := buf.Snapshot(1)
	want := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC).Add(299 * time.Minute)
	if !snap[0].OpenTime.Equal(want) {
		t.Errorf("Expected newest bar %v after eviction, got %v", want, snap[0].OpenTime)
	}
}

func TestBufferSnapshotIsACopy(t *testing.T) {
	buf, _ := NewBuffer("ETHUSDT", 0)
	for i := 0; i < 5; i++ {
		_ = buf.AppendOrUpdate(makeBar("ETHUSDT", i, 100+float64(i)))
	}
	snap := buf.Snapshot(0)
	snap[0].Close = -1
	again := buf.Snapshot(0)
	if again[0].Close == -1 {
		t.Errorf("Snapshot must copy bars, buffer was mutated through the snapshot")
	}
}

func TestBufferIndicatorWarmup(t *testing.T) {
	buf, _ := NewBuffer("ETHUSDT", 0)

	for i := 0; i < 10; i++ {
		_ = buf.AppendOrUpdate(makeBar("ETHUSDT", i, 100+float64(i)))
	}
	row := buf.Indicators()
	if row.SMA20.OK || row.RSI14.OK || row.BollMiddle.OK {
		t.Errorf("Indicators must be unavailable before warm-up")
	}

	for i := 10; i < 60; i++ {
		_ = buf.AppendOrUpdate(makeBar("ETHUSDT", i, 100+float64(i)))
	}
	row = buf.Indicators()
	if !row.SMA20.OK || !row.SMA50.OK || !row.RSI14.OK || !row.ATR14.OK || !row.BollMiddle.OK || !row.DonchianUpper.OK {
		t.Errorf("Indicators should be available after 60 bars: %+v", row)
	}
	if row.SMA200.OK {
		t.Errorf("SMA200 must still be warming up at 60 bars")
	}

	// SMA20 of the last 20 closes 140..159 is 149.5.
	if diff := row.SMA20.V - 149.5; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected SMA20 149.5, got %v", row.SMA20.V)
	}
}
