package task

import (
	"errors"
	"testing"
	"time"
)

func TestFutureReturnsValue(t *testing.T) {
	f := Go(func() (int, error) {
		time.Sleep(10 * time.Millisecond)
		return 42, nil
	})

	v, err := f.Wait()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if v != 42 {
		t.Errorf("Expected 42, got %d", v)
	}

	// a second Wait returns the same result
	v2, _ := f.Wait()
	if v2 != 42 {
		t.Errorf("Expected repeated Wait to return 42, got %d", v2)
	}
}

func TestFutureReturnsError(t *testing.T) {
	boom := errors.New("boom")
	f := Go(func() (string, error) { return "", boom })

	if _, err := f.Wait(); !errors.Is(err, boom) {
		t.Errorf("Expected boom, got %v", err)
	}
	select {
	case <-f.Done():
	default:
		t.Error("Done channel should be closed after Wait")
	}
}

func TestFuturesRunConcurrently(t *testing.T) {
	gate := make(chan struct{})
	a := Go(func() (int, error) {
		<-gate
		return 1, nil
	})
	b := Go(func() (int, error) {
		close(gate)
		return 2, nil
	})

	// a can only finish once b has run
	va, _ := a.Wait()
	vb, _ := b.Wait()
	if va+vb != 3 {
		t.Errorf("Expected 3, got %d", va+vb)
	}
}
