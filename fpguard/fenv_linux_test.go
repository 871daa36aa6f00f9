//go:build linux && cgo

package fpguard

import (
	"errors"
	"runtime"
	"testing"
)

// withTrap 在当前线程上启用除零陷阱后执行 fn，结束时恢复为进入前的掩码
func withTrap(t *testing.T, fn func(prev int)) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	orig := getExcept()
	clearExcept()
	enableExcept(divByZeroExcept)
	defer func() {
		clearExcept()
		disableExcept(allExcept)
		enableExcept(orig)
	}()

	prev := getExcept()
	if prev&divByZeroExcept == 0 {
		t.Fatalf("trap not enabled: %#x", prev)
	}
	fn(prev)
}

func TestDoRestoresEnabledTrap(t *testing.T) {
	withTrap(t, func(prev int) {
		err := Do(func() error {
			if m := Mask(); m != 0 {
				t.Errorf("traps enabled inside guard: %#x", m)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Do returned %v", err)
		}
		if m := Mask(); m != prev {
			t.Errorf("mask after return = %#x, want %#x", m, prev)
		}
	})
}

func TestDoRestoresEnabledTrapOnError(t *testing.T) {
	withTrap(t, func(prev int) {
		want := errors.New("engine failed")
		if err := Do(func() error { return want }); !errors.Is(err, want) {
			t.Errorf("got %v, want %v", err, want)
		}
		if m := Mask(); m != prev {
			t.Errorf("mask after error = %#x, want %#x", m, prev)
		}
	})
}

func TestDoRestoresEnabledTrapOnPanic(t *testing.T) {
	withTrap(t, func(prev int) {
		func() {
			defer func() { recover() }()
			_ = Do(func() error {
				if m := Mask(); m != 0 {
					t.Errorf("traps enabled inside guard: %#x", m)
				}
				panic("kernel blew up")
			})
		}()
		if m := Mask(); m != prev {
			t.Errorf("mask after panic = %#x, want %#x", m, prev)
		}
	})
}

func TestRestoreTwiceWithTrap(t *testing.T) {
	withTrap(t, func(prev int) {
		g := Disable()
		if m := Mask(); m != 0 {
			t.Errorf("traps enabled after Disable: %#x", m)
		}
		g.Restore()
		g.Restore()
		if m := Mask(); m != prev {
			t.Errorf("mask after double Restore = %#x, want %#x", m, prev)
		}
	})
}
