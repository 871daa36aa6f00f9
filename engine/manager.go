package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"nnfoam/fpguard"
)

// noCopy 让 go vet 的 copylocks 检查拒绝复制 Manager
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

type result struct {
	out []float32
	err error
}

// Manager 独占持有引擎句柄
type Manager struct {
	noCopy noCopy

	mu      sync.Mutex
	backend Backend
	spec    Spec
	state   State
	timeout time.Duration

	// 超时后仍在运行的推理
	pending chan result
}

// NewManager timeout <= 0 表示不限时
func NewManager(backend Backend, spec Spec, timeout time.Duration) *Manager {
	return &Manager{
		backend: backend,
		spec:    spec,
		state:   Unbuilt,
		timeout: timeout,
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Spec() Spec {
	return m.spec
}

// Build Unbuilt -> Built，只允许一次
func (m *Manager) Build() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case Built:
		return ErrAlreadyBuilt
	case TornDown:
		return ErrTornDown
	}
	if err := m.spec.validate(); err != nil {
		return err
	}

	start := time.Now()
	err := fpguard.Do(func() error {
		return m.backend.Build(m.spec)
	})
	if err != nil {
		return fmt.Errorf("engine: build %s backend: %w", m.backend.Name(), err)
	}
	m.state = Built
	log.WithFields(log.Fields{
		"backend":      m.backend.Name(),
		"model":        m.spec.ModelPath,
		"inputs":       m.spec.InputNames,
		"outputs":      m.spec.OutputNames,
		"maxBatchSize": m.spec.MaxBatchSize,
		"elapsed":      time.Since(start),
	}).Info("推理引擎构建完成")
	return nil
}

// Infer 一次阻塞的推理请求
func (m *Manager) Infer(ctx context.Context, in []float32) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case Unbuilt:
		return nil, ErrNotBuilt
	case TornDown:
		return nil, ErrTornDown
	}
	if m.pending != nil {
		select {
		case <-m.pending:
			m.pending = nil
		default:
			return nil, ErrBusy
		}
	}

	if len(in) == 0 || len(in)%m.spec.InputChannels != 0 {
		return nil, fmt.Errorf("%w: input length %d is not a multiple of %d channels", ErrShape, len(in), m.spec.InputChannels)
	}
	cells := len(in) / m.spec.InputChannels
	if cells > m.spec.MaxBatchSize {
		return nil, fmt.Errorf("%w: %d cells exceed max batch size %d", ErrShape, cells, m.spec.MaxBatchSize)
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	done := make(chan result, 1)
	go func() {
		var r result
		r.err = fpguard.Do(func() error {
			var err error
			r.out, err = m.backend.Infer(in)
			return err
		})
		done <- r
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		if len(r.out) < cells*m.spec.OutputChannels {
			return nil, fmt.Errorf("%w: got %d outputs, want %d", ErrShape, len(r.out), cells*m.spec.OutputChannels)
		}
		return r.out, nil
	case <-ctx.Done():
		m.pending = done
		return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}
}

// Teardown Built -> TornDown；未构建时什么也不做，重复调用无副作用
func (m *Manager) Teardown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case Unbuilt, TornDown:
		return nil
	}
	m.state = TornDown

	if m.pending != nil {
		wait := m.timeout
		if wait <= 0 {
			wait = 5 * time.Second
		}
		select {
		case <-m.pending:
			m.pending = nil
		case <-time.After(wait):
			// 设备挂起时释放资源可能直接崩溃，宁可泄漏
			log.WithField("backend", m.backend.Name()).Warn("推理仍未返回，跳过引擎释放")
			return nil
		}
	}

	err := fpguard.Do(m.backend.Teardown)
	if err != nil {
		return fmt.Errorf("engine: teardown %s backend: %w", m.backend.Name(), err)
	}
	log.WithField("backend", m.backend.Name()).Info("推理引擎已释放")
	return nil
}
