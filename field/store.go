// Package field 提供按名字读写的单元标量场。
// 场按稳定的单元编号顺序存储，每个单元一个值。
package field

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("field: not found")
	ErrLength   = errors.New("field: length does not match cell count")
)

// ReadOpt 声明场在启动时的读取方式
type ReadOpt int

const (
	MustRead ReadOpt = iota // 启动时必须存在
	NoRead                  // 由耦合层写入，启动时置零
)

// Store 场存储
type Store interface {
	Cells() int
	Read(name string) ([]float64, error)
	Write(name string, values []float64) error
}

// MemStore 内存中的场存储
type MemStore struct {
	cells  int
	fields map[string][]float64
}

func NewMemStore(cells int) *MemStore {
	return &MemStore{
		cells:  cells,
		fields: make(map[string][]float64),
	}
}

func (s *MemStore) Cells() int {
	return s.cells
}

// Set 直接放入一个场，不检查长度，用于构造错误的算例
func (s *MemStore) Set(name string, values []float64) {
	s.fields[name] = append([]float64(nil), values...)
}

func (s *MemStore) Read(name string) ([]float64, error) {
	v, ok := s.fields[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return append([]float64(nil), v...), nil
}

func (s *MemStore) Write(name string, values []float64) error {
	if len(values) != s.cells {
		return fmt.Errorf("%w: %s has %d values, mesh has %d cells", ErrLength, name, len(values), s.cells)
	}
	s.fields[name] = append([]float64(nil), values...)
	return nil
}
