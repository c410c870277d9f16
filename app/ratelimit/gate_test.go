package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestGateFirstCallImmediate(t *testing.T) {
	gate := NewGate(time.Second)

	start := time.Now()
	if err := gate.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("First call should not wait, took %v", elapsed)
	}
}

func TestGateEnforcesSpacing(t *testing.T) {
	interval := 50 * time.Millisecond
	gate := NewGate(interval)
	ctx := context.Background()

	const calls = 4
	start := time.Now()
	for i := 0; i < calls; i++ {
		if err := gate.Wait(ctx); err != nil {
			t.Fatal(err)
		}
	}

	elapsed := time.Since(start)
	minExpected := time.Duration(calls-1) * interval
	if elapsed < minExpected {
		t.Errorf("%d calls completed in %v, expected at least %v", calls, elapsed, minExpected)
	}
}

func TestGateCancellation(t *testing.T) {
	gate := NewGate(time.Minute)
	ctx := context.Background()

	if err := gate.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	cancelCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	if err := gate.Wait(cancelCtx); err == nil {
		t.Error("Expected context error when cancelled mid-wait")
	}
}
