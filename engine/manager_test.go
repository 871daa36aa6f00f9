package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

type fakeBackend struct {
	builds    int
	teardowns int
	infers    int
	buildErr  error
	inferErr  error
	block     chan struct{}
	short     bool
	spec      Spec
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Build(spec Spec) error {
	f.builds++
	f.spec = spec
	return f.buildErr
}

func (f *fakeBackend) Infer(in []float32) ([]float32, error) {
	f.infers++
	if f.block != nil {
		<-f.block
	}
	if f.inferErr != nil {
		return nil, f.inferErr
	}
	cells := len(in) / f.spec.InputChannels
	n := cells * f.spec.OutputChannels
	if f.short {
		n--
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = 1
	}
	return out, nil
}

func (f *fakeBackend) Teardown() error {
	f.teardowns++
	return nil
}

func testSpec() Spec {
	return Spec{
		ModelPath:      "model.onnx",
		InputNames:     []string{"input_1"},
		OutputNames:    []string{"dense_2/BiasAdd"},
		MaxBatchSize:   8,
		InputChannels:  2,
		OutputChannels: 4,
	}
}

func TestTeardownBeforeBuildIsNoop(t *testing.T) {
	b := &fakeBackend{}
	m := NewManager(b, testSpec(), 0)
	if err := m.Teardown(); err != nil {
		t.Fatalf("Teardown before Build: %v", err)
	}
	if m.State() != Unbuilt {
		t.Errorf("state = %v, want unbuilt", m.State())
	}
	if b.teardowns != 0 {
		t.Errorf("backend teardown called %d times", b.teardowns)
	}
	// 之后仍可正常构建
	if err := m.Build(); err != nil {
		t.Fatalf("Build after no-op teardown: %v", err)
	}
}

func TestBuildTwiceRejected(t *testing.T) {
	b := &fakeBackend{}
	m := NewManager(b, testSpec(), 0)
	if err := m.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := m.Build(); !errors.Is(err, ErrAlreadyBuilt) {
		t.Errorf("second Build = %v, want ErrAlreadyBuilt", err)
	}
	if b.builds != 1 {
		t.Errorf("backend built %d times", b.builds)
	}
}

func TestInferBeforeBuild(t *testing.T) {
	m := NewManager(&fakeBackend{}, testSpec(), 0)
	if _, err := m.Infer(context.Background(), make([]float32, 4)); !errors.Is(err, ErrNotBuilt) {
		t.Errorf("Infer = %v, want ErrNotBuilt", err)
	}
}

func TestTeardownInvalidatesHandle(t *testing.T) {
	b := &fakeBackend{}
	m := NewManager(b, testSpec(), 0)
	if err := m.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
	for i := 0; i < 5; i++ {
		out, err := m.Infer(context.Background(), make([]float32, 6))
		if err != nil {
			t.Fatalf("Infer step %d: %v", i, err)
		}
		if len(out) != 12 {
			t.Fatalf("output length %d, want 12", len(out))
		}
	}
	if err := m.Teardown(); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	if _, err := m.Infer(context.Background(), make([]float32, 6)); !errors.Is(err, ErrTornDown) {
		t.Errorf("Infer after Teardown = %v, want ErrTornDown", err)
	}
	if err := m.Build(); !errors.Is(err, ErrTornDown) {
		t.Errorf("Build after Teardown = %v, want ErrTornDown", err)
	}
	if err := m.Teardown(); err != nil {
		t.Errorf("second Teardown: %v", err)
	}
	if b.teardowns != 1 || b.infers != 5 {
		t.Errorf("teardowns=%d infers=%d, want 1 and 5", b.teardowns, b.infers)
	}
}

func TestBuildFailureKeepsUnbuilt(t *testing.T) {
	b := &fakeBackend{buildErr: errors.New("no device")}
	m := NewManager(b, testSpec(), 0)
	err := m.Build()
	if err == nil || !errors.Is(err, b.buildErr) {
		t.Fatalf("Build = %v, want wrapped backend error", err)
	}
	if m.State() != Unbuilt {
		t.Errorf("state = %v after failed build", m.State())
	}
}

func TestBuildRejectsBadSpec(t *testing.T) {
	spec := testSpec()
	spec.MaxBatchSize = 0
	b := &fakeBackend{}
	if err := NewManager(b, spec, 0).Build(); err == nil {
		t.Fatal("expected error for zero batch size")
	}
	if b.builds != 0 {
		t.Error("backend must not be called for an invalid spec")
	}
}

func TestInferShapeChecks(t *testing.T) {
	b := &fakeBackend{}
	m := NewManager(b, testSpec(), 0)
	if err := m.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
	cases := []struct {
		name string
		n    int
	}{
		{"not a multiple of channels", 5},
		{"empty", 0},
		{"more cells than batch", 18},
	}
	for _, tc := range cases {
		if _, err := m.Infer(context.Background(), make([]float32, tc.n)); !errors.Is(err, ErrShape) {
			t.Errorf("%s: got %v, want ErrShape", tc.name, err)
		}
	}
	if b.infers != 0 {
		t.Errorf("backend called %d times for malformed buffers", b.infers)
	}

	b.short = true
	if _, err := m.Infer(context.Background(), make([]float32, 4)); !errors.Is(err, ErrShape) {
		t.Errorf("short output: got %v, want ErrShape", err)
	}
}

func TestInferTimeout(t *testing.T) {
	b := &fakeBackend{block: make(chan struct{})}
	m := NewManager(b, testSpec(), 20*time.Millisecond)
	if err := m.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := m.Infer(context.Background(), make([]float32, 2)); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Infer = %v, want ErrTimeout", err)
	}
	if _, err := m.Infer(context.Background(), make([]float32, 2)); !errors.Is(err, ErrBusy) {
		t.Errorf("Infer while hung = %v, want ErrBusy", err)
	}

	close(b.block)
	var err error
	for i := 0; i < 100; i++ {
		if _, err = m.Infer(context.Background(), make([]float32, 2)); !errors.Is(err, ErrBusy) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err != nil {
		t.Errorf("Infer after recovery: %v", err)
	}
	if err := m.Teardown(); err != nil {
		t.Errorf("Teardown: %v", err)
	}
}

func TestDryBackend(t *testing.T) {
	m := NewManager(NewDry(), testSpec(), time.Second)
	if err := m.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
	out, err := m.Infer(context.Background(), []float32{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if len(out) != 8 {
		t.Fatalf("len(out) = %d, want 8", len(out))
	}
	for i, v := range out {
		if v != 0 {
			t.Errorf("out[%d] = %v, want 0", i, v)
		}
	}
}

func TestOnnxMissingModel(t *testing.T) {
	spec := testSpec()
	spec.ModelPath = filepath.Join(t.TempDir(), "missing.onnx")
	m := NewManager(NewOnnx(), spec, 0)
	if err := m.Build(); err == nil {
		t.Fatal("expected build failure for missing model file")
	}
	if m.State() != Unbuilt {
		t.Errorf("state = %v, want unbuilt", m.State())
	}
}
