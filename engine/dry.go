package engine

// Dry 不加载模型，输出全零（反归一化后即为各输出通道的均值），用于在没有推理运行时的机器上检查算例
type Dry struct {
	spec  Spec
	built bool
}

func NewDry() *Dry {
	return &Dry{}
}

func (d *Dry) Name() string { return "dry" }

func (d *Dry) Build(spec Spec) error {
	d.spec = spec
	d.built = true
	return nil
}

func (d *Dry) Infer(in []float32) ([]float32, error) {
	if !d.built {
		return nil, ErrNotBuilt
	}
	cells := len(in) / d.spec.InputChannels
	return make([]float32, cells*d.spec.OutputChannels), nil
}

func (d *Dry) Teardown() error {
	d.built = false
	return nil
}
