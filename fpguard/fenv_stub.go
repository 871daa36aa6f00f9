//go:build !linux || !cgo

package fpguard

// Go 运行时本身不启用浮点陷阱，没有 fenv 扩展的平台上无需处理

const allExcept = 0

func getExcept() int { return 0 }

func clearExcept() {}

func disableExcept(mask int) {}

func enableExcept(mask int) {}
