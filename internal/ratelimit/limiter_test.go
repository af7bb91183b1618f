package ratelimit

import "testing"

func TestAdvanceCapWithinWindow(t *testing.T) {
	win := Window{UserID: "u1", WindowStart: 0}
	now := int64(1000)

	for i := 0; i < DefaultCap; i++ {
		var ok bool
		win, ok = Advance(win, now, 1, DefaultCap, DefaultWindowMs)
		if !ok {
			t.Fatalf("unit %d rejected below the cap", i+1)
		}
	}

	rejected, ok := Advance(win, now, 1, DefaultCap, DefaultWindowMs)
	if ok {
		t.Error("unit 61 must be rejected within the same window")
	}
	if rejected.Count != DefaultCap {
		t.Errorf("rejection must not change the count: got %d", rejected.Count)
	}
	if rejected.WindowStart != win.WindowStart {
		t.Error("rejection must not move the window start")
	}
}

func TestAdvanceResetsAfterWindowElapses(t *testing.T) {
	win := Window{UserID: "u1", WindowStart: 0, Count: DefaultCap}

	// Still inside the window: full.
	if _, ok := Advance(win, DefaultWindowMs-1, 1, DefaultCap, DefaultWindowMs); ok {
		t.Error("window must still be full just before expiry")
	}

	// Window elapsed: a fresh 60 units succeed.
	now := int64(DefaultWindowMs)
	for i := 0; i < DefaultCap; i++ {
		var ok bool
		win, ok = Advance(win, now, 1, DefaultCap, DefaultWindowMs)
		if !ok {
			t.Fatalf("unit %d rejected after window reset", i+1)
		}
	}
	if win.WindowStart != now {
		t.Errorf("window start must advance to reset time: got %d", win.WindowStart)
	}
	if _, ok := Advance(win, now, 1, DefaultCap, DefaultWindowMs); ok {
		t.Error("fresh window must also cap at 60")
	}
}

func TestAdvanceWeightedBatch(t *testing.T) {
	win := Window{UserID: "u1", WindowStart: 0}

	win, ok := Advance(win, 10, 45, DefaultCap, DefaultWindowMs)
	if !ok || win.Count != 45 {
		t.Fatalf("45-unit batch should pass: ok=%v count=%d", ok, win.Count)
	}

	// A 20-unit batch overshoots; it must be rejected whole, not partially.
	win, ok = Advance(win, 20, 20, DefaultCap, DefaultWindowMs)
	if ok {
		t.Error("overshooting batch must be rejected")
	}
	if win.Count != 45 {
		t.Errorf("rejected batch must not consume units: count=%d", win.Count)
	}

	// A 15-unit batch exactly fills the window.
	win, ok = Advance(win, 30, 15, DefaultCap, DefaultWindowMs)
	if !ok || win.Count != DefaultCap {
		t.Errorf("exact fill should pass: ok=%v count=%d", ok, win.Count)
	}
}

func TestAdvanceRejectionDoesNotExtendWindow(t *testing.T) {
	win := Window{UserID: "u1", WindowStart: 0, Count: DefaultCap}

	// Hammering a full window with rejections must not push the reset out.
	for now := int64(1000); now < DefaultWindowMs; now += 10_000 {
		var ok bool
		win, ok = Advance(win, now, 1, DefaultCap, DefaultWindowMs)
		if ok {
			t.Fatalf("request at %dms must be rejected", now)
		}
	}

	if _, ok := Advance(win, DefaultWindowMs, 1, DefaultCap, DefaultWindowMs); !ok {
		t.Error("window must still reset on schedule despite rejections")
	}
}
