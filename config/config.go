// Package config 读取算例的耦合字典 system/nnfoamDict.ini
package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"

	"nnfoam/model"
)

var ErrInvalid = errors.New("config: invalid coupling dictionary")

const (
	inputPrefix  = "input."
	outputPrefix = "output."
)

// Load 读取并校验耦合字典
func Load(path string) (*model.CouplingCfg, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := loadCfg(file)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"path":    path,
		"inputs":  cfg.InputFields(),
		"outputs": cfg.OutputFields(),
		"policy":  cfg.Policy,
		"model":   cfg.Engine.ModelPath,
	}).Info("读取耦合配置")
	return cfg, nil
}

func loadCfg(file *ini.File) (*model.CouplingCfg, error) {
	timeout, err := time.ParseDuration(file.Section("engine").Key("infer_timeout").MustString(model.DefaultInferTimeout))
	if err != nil {
		return nil, fmt.Errorf("%w: infer_timeout: %v", ErrInvalid, err)
	}

	cfg := &model.CouplingCfg{
		Engine: model.EngineCfg{
			ModelPath:     file.Section("engine").Key("model_path").String(),
			InputTensor:   file.Section("engine").Key("input_tensor").MustString("input_1"),
			OutputTensor:  file.Section("engine").Key("output_tensor").String(),
			MaxBatchSize:  file.Section("engine").Key("max_batch_size").MustInt(model.DefaultMaxBatchSize),
			SharedLibrary: file.Section("engine").Key("shared_library").String(),
			InferTimeout:  timeout,
		},
		Time: model.TimeCfg{
			StartTime:     file.Section("time").Key("start_time").MustFloat64(0),
			EndTime:       file.Section("time").Key("end_time").MustFloat64(0),
			DeltaT:        file.Section("time").Key("delta_t").MustFloat64(0),
			WriteInterval: file.Section("time").Key("write_interval").MustInt(model.DefaultWriteInterval),
		},
		Policy:      model.FailurePolicy(file.Section("coupling").Key("failure_policy").MustString(string(model.PolicyAbort))),
		MaxFailures: file.Section("coupling").Key("max_consecutive_failures").MustInt(model.DefaultMaxFailures),
		Monitor: model.MonitorCfg{
			Listen:  file.Section("monitor").Key("listen").String(),
			History: file.Section("monitor").Key("history").MustInt(model.DefaultMonitorHistory),
		},
		Mqtt: model.MqttCfg{
			Broker: file.Section("mqtt").Key("broker").String(),
			Topic:  file.Section("mqtt").Key("topic").MustString(model.DefaultMqttTopic),
			QoS:    byte(file.Section("mqtt").Key("qos").MustUint(0)),
		},
	}

	// 通道顺序即文件中小节的顺序
	for _, sec := range file.Sections() {
		name := sec.Name()
		switch {
		case strings.HasPrefix(name, inputPrefix):
			ch := model.Channel{Field: strings.TrimPrefix(name, inputPrefix)}
			if ch.Mean, err = mustFloat(sec, "mean"); err != nil {
				return nil, err
			}
			if ch.Scale, err = mustFloat(sec, "scale"); err != nil {
				return nil, err
			}
			ch.PreScale = sec.Key("pre_scale").MustFloat64(1)
			cfg.Inputs = append(cfg.Inputs, ch)
		case strings.HasPrefix(name, outputPrefix):
			ch := model.OutputChannel{Field: strings.TrimPrefix(name, outputPrefix)}
			if ch.Mean, err = mustFloat(sec, "mean"); err != nil {
				return nil, err
			}
			if ch.Scale, err = mustFloat(sec, "scale"); err != nil {
				return nil, err
			}
			if ch.Min, err = optFloat(sec, "min"); err != nil {
				return nil, err
			}
			if ch.Max, err = optFloat(sec, "max"); err != nil {
				return nil, err
			}
			cfg.Outputs = append(cfg.Outputs, ch)
		}
	}
	return cfg, nil
}

func mustFloat(sec *ini.Section, key string) (float64, error) {
	if !sec.HasKey(key) {
		return 0, fmt.Errorf("%w: [%s] missing %s", ErrInvalid, sec.Name(), key)
	}
	v, err := sec.Key(key).Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: [%s] %s: %v", ErrInvalid, sec.Name(), key, err)
	}
	return v, nil
}

func optFloat(sec *ini.Section, key string) (*float64, error) {
	if !sec.HasKey(key) || sec.Key(key).String() == "" {
		return nil, nil
	}
	v, err := mustFloat(sec, key)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Validate 收集全部问题后一并返回
func Validate(cfg *model.CouplingCfg) error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if len(cfg.Inputs) == 0 {
		bad("no [input.<field>] sections")
	}
	if len(cfg.Outputs) == 0 {
		bad("no [output.<field>] sections")
	}
	seen := make(map[string]bool)
	dup := func(name string) {
		if seen[name] {
			bad("field %s declared twice", name)
		}
		seen[name] = true
	}
	for _, ch := range cfg.Inputs {
		dup(ch.Field)
		if ch.Field == "" {
			bad("input with empty field name")
		}
		if ch.Scale == 0 || math.IsNaN(ch.Scale) {
			bad("input %s: scale must be non-zero", ch.Field)
		}
		if ch.PreScale == 0 || math.IsNaN(ch.PreScale) {
			bad("input %s: pre_scale must be non-zero", ch.Field)
		}
	}
	for _, ch := range cfg.Outputs {
		dup(ch.Field)
		if ch.Field == "" {
			bad("output with empty field name")
		}
		if ch.Scale == 0 || math.IsNaN(ch.Scale) {
			bad("output %s: scale must be non-zero", ch.Field)
		}
		if ch.Min != nil && ch.Max != nil && *ch.Min > *ch.Max {
			bad("output %s: min %g greater than max %g", ch.Field, *ch.Min, *ch.Max)
		}
	}

	if cfg.Engine.MaxBatchSize <= 0 {
		bad("max_batch_size must be positive, got %d", cfg.Engine.MaxBatchSize)
	}
	if cfg.Engine.InferTimeout < 0 {
		bad("infer_timeout must not be negative")
	}
	switch cfg.Policy {
	case model.PolicyAbort, model.PolicyStale:
	default:
		bad("unknown failure_policy %q", cfg.Policy)
	}
	if cfg.Policy == model.PolicyStale && cfg.MaxFailures <= 0 {
		bad("max_consecutive_failures must be positive, got %d", cfg.MaxFailures)
	}
	if cfg.Time.DeltaT <= 0 || math.IsNaN(cfg.Time.DeltaT) {
		bad("delta_t must be positive, got %g", cfg.Time.DeltaT)
	}
	if cfg.Time.EndTime < cfg.Time.StartTime {
		bad("end_time %g before start_time %g", cfg.Time.EndTime, cfg.Time.StartTime)
	}
	if cfg.Time.WriteInterval <= 0 {
		bad("write_interval must be positive, got %d", cfg.Time.WriteInterval)
	}
	if cfg.Mqtt.QoS > 2 {
		bad("mqtt qos must be 0, 1 or 2, got %d", cfg.Mqtt.QoS)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// Write 把配置写成字典文件，供 nnfoam init 使用
func Write(cfg *model.CouplingCfg, path string) error {
	file := ini.Empty()

	engine := file.Section("engine")
	engine.Key("model_path").SetValue(cfg.Engine.ModelPath)
	engine.Key("input_tensor").SetValue(cfg.Engine.InputTensor)
	engine.Key("output_tensor").SetValue(cfg.Engine.OutputTensor)
	engine.Key("max_batch_size").SetValue(strconv.Itoa(cfg.Engine.MaxBatchSize))
	engine.Key("shared_library").SetValue(cfg.Engine.SharedLibrary)
	engine.Key("infer_timeout").SetValue(cfg.Engine.InferTimeout.String())

	coupling := file.Section("coupling")
	coupling.Key("failure_policy").SetValue(string(cfg.Policy))
	coupling.Key("max_consecutive_failures").SetValue(strconv.Itoa(cfg.MaxFailures))

	t := file.Section("time")
	t.Key("start_time").SetValue(formatFloat(cfg.Time.StartTime))
	t.Key("end_time").SetValue(formatFloat(cfg.Time.EndTime))
	t.Key("delta_t").SetValue(formatFloat(cfg.Time.DeltaT))
	t.Key("write_interval").SetValue(strconv.Itoa(cfg.Time.WriteInterval))

	for _, ch := range cfg.Inputs {
		sec := file.Section(inputPrefix + ch.Field)
		sec.Key("mean").SetValue(formatFloat(ch.Mean))
		sec.Key("scale").SetValue(formatFloat(ch.Scale))
		if ch.PreScale != 0 && ch.PreScale != 1 {
			sec.Key("pre_scale").SetValue(formatFloat(ch.PreScale))
		}
	}
	for _, ch := range cfg.Outputs {
		sec := file.Section(outputPrefix + ch.Field)
		sec.Key("mean").SetValue(formatFloat(ch.Mean))
		sec.Key("scale").SetValue(formatFloat(ch.Scale))
		if ch.Min != nil {
			sec.Key("min").SetValue(formatFloat(*ch.Min))
		}
		if ch.Max != nil {
			sec.Key("max").SetValue(formatFloat(*ch.Max))
		}
	}

	monitor := file.Section("monitor")
	monitor.Key("listen").SetValue(cfg.Monitor.Listen)
	monitor.Key("history").SetValue(strconv.Itoa(cfg.Monitor.History))

	mqtt := file.Section("mqtt")
	mqtt.Key("broker").SetValue(cfg.Mqtt.Broker)
	mqtt.Key("topic").SetValue(cfg.Mqtt.Topic)
	mqtt.Key("qos").SetValue(strconv.Itoa(int(cfg.Mqtt.QoS)))

	if err := file.SaveTo(path); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
