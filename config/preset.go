package config

import (
	"fmt"
	"time"

	"nnfoam/model"
)

// 两个求解器变体只差通道数和归一化参数

// InferFoam 2 个输入 (in_1 压力, in_2 焓) -> 4 个输出
func InferFoam() *model.CouplingCfg {
	cfg := base()
	cfg.Engine.ModelPath = "data/mayer.onnx"
	cfg.Inputs = []model.Channel{
		{Field: "in_1", Mean: 42.0, Scale: 4.89897949, PreScale: 1e5},
		{Field: "in_2", Mean: -124467.032, Scale: 123205.254, PreScale: 1},
	}
	means := []float64{1.69567010e+02, 2.19935016e+02, 2.59815793e-05, 1.72609032e+03}
	scales := []float64{2.26427039e+02, 7.50554975e+01, 2.89748538e-05, 1.51159205e+03}
	for i := range means {
		cfg.Outputs = append(cfg.Outputs, model.OutputChannel{
			Field: fmt.Sprintf("out_%d", i+1),
			Mean:  means[i],
			Scale: scales[i],
		})
	}
	return cfg
}

// FgmFoam 3 个输入 -> 11 个输出，归一化参数需按训练数据填写
func FgmFoam() *model.CouplingCfg {
	cfg := base()
	cfg.Engine.ModelPath = "data/fgm.onnx"
	for i := 1; i <= 3; i++ {
		cfg.Inputs = append(cfg.Inputs, model.Channel{Field: fmt.Sprintf("in_%d", i), Scale: 1, PreScale: 1})
	}
	for i := 1; i <= 11; i++ {
		cfg.Outputs = append(cfg.Outputs, model.OutputChannel{Field: fmt.Sprintf("out_%d", i), Scale: 1})
	}
	return cfg
}

// Preset 按名字取预置配置
func Preset(name string) (*model.CouplingCfg, error) {
	switch name {
	case "inferFoam":
		return InferFoam(), nil
	case "fgmFoam":
		return FgmFoam(), nil
	}
	return nil, fmt.Errorf("config: unknown preset %q (inferFoam, fgmFoam)", name)
}

func base() *model.CouplingCfg {
	timeout, _ := time.ParseDuration(model.DefaultInferTimeout)
	return &model.CouplingCfg{
		Engine: model.EngineCfg{
			InputTensor:  "input_1",
			OutputTensor: "dense_2/BiasAdd",
			MaxBatchSize: model.DefaultMaxBatchSize,
			InferTimeout: timeout,
		},
		Time: model.TimeCfg{
			StartTime:     0,
			EndTime:       0.5,
			DeltaT:        0.005,
			WriteInterval: 20,
		},
		Policy:      model.PolicyAbort,
		MaxFailures: model.DefaultMaxFailures,
		Monitor: model.MonitorCfg{
			History: model.DefaultMonitorHistory,
		},
		Mqtt: model.MqttCfg{
			Topic: model.DefaultMqttTopic,
		},
	}
}
