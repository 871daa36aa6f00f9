package model

import "time"

// 失败处理策略
type FailurePolicy string

const (
	PolicyAbort FailurePolicy = "abort" // 推理失败立即终止
	PolicyStale FailurePolicy = "stale" // 保留上一步输出并标记，连续失败超限后终止
)

// 输入通道: 场名 + 归一化参数
type Channel struct {
	Field    string  `json:"field" yaml:"field"`
	Mean     float64 `json:"mean" yaml:"mean"`
	Scale    float64 `json:"scale" yaml:"scale"`
	PreScale float64 `json:"pre_scale" yaml:"pre_scale"` // 单位换算除数，默认 1
}

// 输出通道，Min/Max 为可选的合法范围
type OutputChannel struct {
	Field string   `json:"field" yaml:"field"`
	Mean  float64  `json:"mean" yaml:"mean"`
	Scale float64  `json:"scale" yaml:"scale"`
	Min   *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max   *float64 `json:"max,omitempty" yaml:"max,omitempty"`
}

// 推理引擎配置
type EngineCfg struct {
	ModelPath     string        `json:"model_path"`
	InputTensor   string        `json:"input_tensor"`
	OutputTensor  string        `json:"output_tensor"`
	MaxBatchSize  int           `json:"max_batch_size"`
	SharedLibrary string        `json:"shared_library"`
	InferTimeout  time.Duration `json:"infer_timeout"`
}

// 时间步配置，语义同 controlDict
type TimeCfg struct {
	StartTime     float64 `json:"start_time"`
	EndTime       float64 `json:"end_time"`
	DeltaT        float64 `json:"delta_t"`
	WriteInterval int     `json:"write_interval"`
}

type MonitorCfg struct {
	Listen  string `json:"listen"`
	History int    `json:"history"`
}

type MqttCfg struct {
	Broker string `json:"broker"`
	Topic  string `json:"topic"`
	QoS    byte   `json:"qos"`
}

// 耦合配置，加载后只读
type CouplingCfg struct {
	Inputs      []Channel       `json:"inputs"`
	Outputs     []OutputChannel `json:"outputs"`
	Engine      EngineCfg       `json:"engine"`
	Time        TimeCfg         `json:"time"`
	Policy      FailurePolicy   `json:"failure_policy"`
	MaxFailures int             `json:"max_consecutive_failures"`
	Monitor     MonitorCfg      `json:"monitor"`
	Mqtt        MqttCfg         `json:"mqtt"`
}

func (c *CouplingCfg) InputFields() []string {
	names := make([]string, len(c.Inputs))
	for i, ch := range c.Inputs {
		names[i] = ch.Field
	}
	return names
}

func (c *CouplingCfg) OutputFields() []string {
	names := make([]string, len(c.Outputs))
	for i, ch := range c.Outputs {
		names[i] = ch.Field
	}
	return names
}

// 单个场的统计
type FieldSummary struct {
	Field string  `json:"field" yaml:"field"`
	Min   float64 `json:"min" yaml:"min"`
	Max   float64 `json:"max" yaml:"max"`
	Mean  float64 `json:"mean" yaml:"mean"`
}

// 每个时间步的推理结果报告
type StepReport struct {
	RunID       string         `json:"run_id" yaml:"run_id"`
	Step        int            `json:"step" yaml:"step"`
	Time        string         `json:"time" yaml:"time"`
	Cells       int            `json:"cells" yaml:"cells"`
	InputSize   int            `json:"input_size" yaml:"input_size"`
	OutputSize  int            `json:"output_size" yaml:"output_size"`
	InferMillis float64        `json:"infer_ms" yaml:"infer_ms"`
	Success     bool           `json:"success" yaml:"success"`
	Stale       bool           `json:"stale" yaml:"stale"`
	Failures    int            `json:"consecutive_failures" yaml:"consecutive_failures"`
	Error       string         `json:"error,omitempty" yaml:"error,omitempty"`
	Outputs     []FieldSummary `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// 前后端通信消息结构
type Msg struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}
