// Package engine 管理推理引擎的生命周期: 构建一次，推理多次，释放一次。
//
// 状态机 Unbuilt -> Built -> TornDown，不支持从 TornDown 回到 Built，
// 新的一次运行需要新的 Manager。
package engine

import (
	"errors"
	"fmt"
)

var (
	ErrNotBuilt     = errors.New("engine: not built")
	ErrAlreadyBuilt = errors.New("engine: already built")
	ErrTornDown     = errors.New("engine: torn down")
	ErrShape        = errors.New("engine: buffer shape mismatch")
	ErrTimeout      = errors.New("engine: inference timed out")
	ErrBusy         = errors.New("engine: previous inference still running")
)

// Spec 构建引擎所需的全部参数
type Spec struct {
	ModelPath      string
	InputNames     []string
	OutputNames    []string
	MaxBatchSize   int
	InputChannels  int
	OutputChannels int
	SharedLibrary  string
}

func (s Spec) validate() error {
	if s.MaxBatchSize <= 0 {
		return fmt.Errorf("engine: max batch size must be positive, got %d", s.MaxBatchSize)
	}
	if s.InputChannels <= 0 || s.OutputChannels <= 0 {
		return fmt.Errorf("engine: channel counts must be positive, got %d in / %d out", s.InputChannels, s.OutputChannels)
	}
	if len(s.InputNames) == 0 || len(s.OutputNames) == 0 {
		return errors.New("engine: input and output tensor names are required")
	}
	return nil
}

// Backend 具体的推理运行时。
// Infer 的输入为 cells*InputChannels 的扁平缓冲区（按单元主序），
// 返回至少 cells*OutputChannels 个值，同样按单元主序排列。
type Backend interface {
	Build(spec Spec) error
	Infer(in []float32) ([]float32, error)
	Teardown() error
	Name() string
}

type State int

const (
	Unbuilt State = iota
	Built
	TornDown
)

func (s State) String() string {
	switch s {
	case Unbuilt:
		return "unbuilt"
	case Built:
		return "built"
	case TornDown:
		return "torn-down"
	}
	return fmt.Sprintf("state(%d)", int(s))
}
