//go:build cgo

package engine

import (
	"fmt"
	"os"

	ort "github.com/yalue/onnxruntime_go"
)

// Onnx 基于 ONNX Runtime 的后端。
// 输入张量形状固定为 [MaxBatchSize, InputChannels]，单元数不足时尾部补零。
type Onnx struct {
	spec    Spec
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	ownsEnv bool
}

func NewOnnx() Backend {
	return &Onnx{}
}

func (o *Onnx) Name() string { return "onnxruntime" }

func (o *Onnx) Build(spec Spec) error {
	if _, err := os.Stat(spec.ModelPath); err != nil {
		return fmt.Errorf("model file: %w", err)
	}
	if spec.SharedLibrary != "" {
		ort.SetSharedLibraryPath(spec.SharedLibrary)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("initialize onnxruntime: %w", err)
		}
		o.ownsEnv = true
	}

	batch := int64(spec.MaxBatchSize)
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(batch, int64(spec.InputChannels)))
	if err != nil {
		o.release()
		return fmt.Errorf("allocate input tensor: %w", err)
	}
	o.input = input
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(batch, int64(spec.OutputChannels)))
	if err != nil {
		o.release()
		return fmt.Errorf("allocate output tensor: %w", err)
	}
	o.output = output

	session, err := ort.NewAdvancedSession(spec.ModelPath,
		spec.InputNames, spec.OutputNames,
		[]ort.Value{o.input}, []ort.Value{o.output}, nil)
	if err != nil {
		o.release()
		return fmt.Errorf("create session: %w", err)
	}
	o.session = session
	o.spec = spec
	return nil
}

func (o *Onnx) Infer(in []float32) ([]float32, error) {
	if o.session == nil {
		return nil, ErrNotBuilt
	}
	data := o.input.GetData()
	n := copy(data, in)
	for i := n; i < len(data); i++ {
		data[i] = 0
	}
	if err := o.session.Run(); err != nil {
		return nil, fmt.Errorf("run session: %w", err)
	}
	cells := len(in) / o.spec.InputChannels
	out := make([]float32, cells*o.spec.OutputChannels)
	copy(out, o.output.GetData())
	return out, nil
}

func (o *Onnx) Teardown() error {
	return o.release()
}

func (o *Onnx) release() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if o.session != nil {
		keep(o.session.Destroy())
		o.session = nil
	}
	if o.input != nil {
		keep(o.input.Destroy())
		o.input = nil
	}
	if o.output != nil {
		keep(o.output.Destroy())
		o.output = nil
	}
	if o.ownsEnv {
		keep(ort.DestroyEnvironment())
		o.ownsEnv = false
	}
	return first
}
