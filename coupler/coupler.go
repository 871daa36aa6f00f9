// Package coupler 实现每个时间步的耦合流程:
// 读取输入场 -> 归一化 -> 推理一次 -> 反归一化 -> 写入输出场 -> 交还给求解器做压力速度修正。
package coupler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"nnfoam/codec"
	"nnfoam/field"
	"nnfoam/model"
)

var (
	ErrConfig       = errors.New("coupler: configuration error")
	ErrBufferLength = errors.New("coupler: inference buffer length mismatch")
	ErrSanity       = errors.New("coupler: decoded output out of range")
	ErrAborted      = errors.New("coupler: run aborted")
)

// Engine 推理引擎，一次阻塞调用；*engine.Manager 实现该接口
type Engine interface {
	Infer(ctx context.Context, in []float32) ([]float32, error)
}

// Coupler 参数化的耦合器，不同的求解器变体只是配置不同
type Coupler struct {
	cfg    *model.CouplingCfg
	store  field.Store
	engine Engine

	in  *codec.Codec
	out *codec.Codec

	runID    string
	step     int
	failures int
}

func New(cfg *model.CouplingCfg, store field.Store, engine Engine) (*Coupler, error) {
	if len(cfg.Inputs) == 0 || len(cfg.Outputs) == 0 {
		return nil, fmt.Errorf("%w: need at least one input and one output channel", ErrConfig)
	}
	in, err := codec.ForInputs(cfg.Inputs)
	if err != nil {
		return nil, fmt.Errorf("%w: inputs: %v", ErrConfig, err)
	}
	out, err := codec.ForOutputs(cfg.Outputs)
	if err != nil {
		return nil, fmt.Errorf("%w: outputs: %v", ErrConfig, err)
	}
	cells := store.Cells()
	if cells <= 0 {
		return nil, fmt.Errorf("%w: mesh has no cells", ErrConfig)
	}
	if cfg.Engine.MaxBatchSize > 0 && cells > cfg.Engine.MaxBatchSize {
		return nil, fmt.Errorf("%w: %d cells exceed max batch size %d", ErrConfig, cells, cfg.Engine.MaxBatchSize)
	}

	c := &Coupler{
		cfg:    cfg,
		store:  store,
		engine: engine,
		in:     in,
		out:    out,
		runID:  uuid.New().String(),
	}
	// 进入时间循环之前暴露缺失或长度不对的输入场和输出场
	if _, err := c.Assemble(); err != nil {
		return nil, err
	}
	for _, output := range cfg.Outputs {
		values, err := store.Read(output.Field)
		if err != nil {
			return nil, fmt.Errorf("%w: output %s: %v", ErrConfig, output.Field, err)
		}
		if len(values) != cells {
			return nil, fmt.Errorf("%w: output %s has %d values, mesh has %d cells", ErrBufferLength, output.Field, len(values), cells)
		}
	}
	return c, nil
}

func (c *Coupler) RunID() string {
	return c.runID
}

func (c *Coupler) Store() field.Store {
	return c.store
}

// Assemble 按单元主序、通道次序组装扁平输入缓冲区
func (c *Coupler) Assemble() ([]float32, error) {
	cells := c.store.Cells()
	columns := make([][]float64, len(c.cfg.Inputs))
	for ch, input := range c.cfg.Inputs {
		values, err := c.store.Read(input.Field)
		if err != nil {
			return nil, fmt.Errorf("%w: input %s: %v", ErrConfig, input.Field, err)
		}
		if len(values) != cells {
			return nil, fmt.Errorf("%w: input %s has %d values, mesh has %d cells", ErrBufferLength, input.Field, len(values), cells)
		}
		columns[ch] = values
	}

	buf := make([]float32, 0, cells*len(columns))
	for cell := 0; cell < cells; cell++ {
		for ch := range columns {
			buf = append(buf, float32(c.in.Encode(columns[ch][cell], ch)))
		}
	}
	if len(buf) != cells*len(c.cfg.Inputs) {
		return nil, fmt.Errorf("%w: assembled %d values, want %d", ErrBufferLength, len(buf), cells*len(c.cfg.Inputs))
	}
	return buf, nil
}

// Scatter 反归一化输出缓冲区并做合法性检查，结果暂存不写入场。
// 缓冲区可以比 cells*通道数 长（批大小补齐的部分被忽略）。
func (c *Coupler) Scatter(out []float32) (map[string][]float64, error) {
	cells := c.store.Cells()
	n := len(c.cfg.Outputs)
	if len(out) < cells*n {
		return nil, fmt.Errorf("%w: engine returned %d values, want %d", ErrBufferLength, len(out), cells*n)
	}

	staged := make(map[string][]float64, n)
	for ch, output := range c.cfg.Outputs {
		values := make([]float64, cells)
		for cell := 0; cell < cells; cell++ {
			v := c.out.Decode(float64(out[cell*n+ch]), ch)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: %s[%d] = %v", ErrSanity, output.Field, cell, v)
			}
			if output.Min != nil && v < *output.Min {
				return nil, fmt.Errorf("%w: %s[%d] = %g below %g", ErrSanity, output.Field, cell, v, *output.Min)
			}
			if output.Max != nil && v > *output.Max {
				return nil, fmt.Errorf("%w: %s[%d] = %g above %g", ErrSanity, output.Field, cell, v, *output.Max)
			}
			values[cell] = v
		}
		staged[output.Field] = values
	}
	return staged, nil
}

// commit 写入全部输出场；任一写入失败时把已写的场还原为上一步的值
func (c *Coupler) commit(staged map[string][]float64) error {
	prev := make([][]float64, len(c.cfg.Outputs))
	for i, output := range c.cfg.Outputs {
		values, err := c.store.Read(output.Field)
		if err != nil {
			return fmt.Errorf("coupler: read %s: %w", output.Field, err)
		}
		prev[i] = values
	}
	for i, output := range c.cfg.Outputs {
		if err := c.store.Write(output.Field, staged[output.Field]); err != nil {
			for j := i - 1; j >= 0; j-- {
				name := c.cfg.Outputs[j].Field
				if rerr := c.store.Write(name, prev[j]); rerr != nil {
					log.WithFields(log.Fields{"field": name, "error": rerr}).Error("输出场回滚失败")
				}
			}
			return fmt.Errorf("coupler: write %s: %w", output.Field, err)
		}
	}
	return nil
}

// Step 执行一个时间步的推理往返。
// 返回的 error 表示运行必须终止；stale 策略下的单次失败只体现在报告里。
func (c *Coupler) Step(ctx context.Context, timeName string) (*model.StepReport, error) {
	c.step++
	report := &model.StepReport{
		RunID: c.runID,
		Step:  c.step,
		Time:  timeName,
		Cells: c.store.Cells(),
	}

	buf, err := c.Assemble()
	if err != nil {
		report.Error = err.Error()
		return report, err
	}
	report.InputSize = len(buf)

	start := time.Now()
	out, err := c.engine.Infer(ctx, buf)
	report.InferMillis = float64(time.Since(start).Microseconds()) / 1000
	var staged map[string][]float64
	if err == nil {
		report.OutputSize = len(out)
		staged, err = c.Scatter(out)
	}
	if err != nil {
		return c.fail(report, err)
	}

	if err := c.commit(staged); err != nil {
		report.Error = err.Error()
		return report, err
	}
	c.failures = 0
	report.Success = true
	report.Outputs = summarize(c.cfg.Outputs, staged)

	log.WithFields(log.Fields{
		"timeName":   timeName,
		"inputSize":  report.InputSize,
		"outputSize": report.OutputSize,
		"inferMs":    report.InferMillis,
	}).Info("推理完成")
	return report, nil
}

// 输出场保持上一步的值，不做部分写入
func (c *Coupler) fail(report *model.StepReport, err error) (*model.StepReport, error) {
	c.failures++
	report.Failures = c.failures
	report.Error = err.Error()
	fields := log.Fields{
		"timeName": report.Time,
		"failures": c.failures,
		"error":    err,
	}

	if c.cfg.Policy == model.PolicyStale {
		limit := c.cfg.MaxFailures
		if limit <= 0 {
			limit = model.DefaultMaxFailures
		}
		if c.failures >= limit {
			log.WithFields(fields).Error("连续推理失败次数超限，终止计算")
			return report, fmt.Errorf("%w: %d consecutive inference failures: %w", ErrAborted, c.failures, err)
		}
		report.Stale = true
		log.WithFields(fields).Warn("推理失败，输出场沿用上一步的值")
		return report, nil
	}

	log.WithFields(fields).Error("推理失败，终止计算")
	return report, fmt.Errorf("%w: inference failed at time %s: %w", ErrAborted, report.Time, err)
}
