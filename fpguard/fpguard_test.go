package fpguard

import (
	"errors"
	"testing"
)

func TestDoRestoresMask(t *testing.T) {
	before := Mask()
	err := Do(func() error {
		if Mask() != 0 {
			t.Errorf("traps still enabled inside guard: %#x", Mask())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned %v", err)
	}
	if Mask() != before {
		t.Errorf("mask not restored: got %#x, want %#x", Mask(), before)
	}
}

func TestDoPropagatesError(t *testing.T) {
	want := errors.New("engine failed")
	before := Mask()
	if err := Do(func() error { return want }); !errors.Is(err, want) {
		t.Errorf("got %v, want %v", err, want)
	}
	if Mask() != before {
		t.Errorf("mask not restored after error")
	}
}

func TestRestoreOnPanic(t *testing.T) {
	before := Mask()
	func() {
		defer func() { recover() }()
		_ = Do(func() error { panic("kernel blew up") })
	}()
	if Mask() != before {
		t.Errorf("mask not restored after panic")
	}
}

func TestRestoreTwice(t *testing.T) {
	before := Mask()
	g := Disable()
	g.Restore()
	g.Restore()
	if Mask() != before {
		t.Errorf("mask changed by second Restore")
	}
}
