// Package fpguard 在调用推理引擎期间屏蔽浮点异常陷阱，并在所有退出路径上恢复原来的掩码。
//
// 浮点环境是线程级的，因此 Guard 存活期间当前 goroutine 绑定在 OS 线程上。
package fpguard

import "runtime"

type Guard struct {
	prev     int
	restored bool
}

// Disable 清除异常标志，记录当前启用的陷阱并全部屏蔽。必须配对调用 Restore，通常用 defer。
func Disable() *Guard {
	runtime.LockOSThread()
	clearExcept()
	g := &Guard{prev: getExcept()}
	disableExcept(allExcept)
	return g
}

// Restore 恢复 Disable 之前的陷阱掩码，重复调用无副作用
func (g *Guard) Restore() {
	if g.restored {
		return
	}
	g.restored = true
	clearExcept()
	enableExcept(g.prev)
	runtime.UnlockOSThread()
}

// Do 在屏蔽陷阱的作用域内执行 fn，panic 时同样恢复
func Do(fn func() error) error {
	g := Disable()
	defer g.Restore()
	return fn()
}

// Mask 返回当前线程启用的陷阱
func Mask() int {
	return getExcept()
}
