//go:build !cgo

package engine

import "errors"

type onnxUnavailable struct{}

// NewOnnx 未启用 cgo 时 ONNX Runtime 不可用，Build 直接失败
func NewOnnx() Backend {
	return onnxUnavailable{}
}

func (onnxUnavailable) Name() string { return "onnxruntime" }

func (onnxUnavailable) Build(Spec) error {
	return errors.New("binary was built without cgo, onnxruntime is unavailable (use --dry-run or rebuild with CGO_ENABLED=1)")
}

func (onnxUnavailable) Infer([]float32) ([]float32, error) { return nil, ErrNotBuilt }

func (onnxUnavailable) Teardown() error { return nil }
