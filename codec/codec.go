// Package codec 实现逐通道的仿射归一化: 输入时减均值除尺度，输出时反变换。
package codec

import (
	"fmt"

	"nnfoam/model"
)

// Codec 逐通道归一化参数，构造后不可修改
type Codec struct {
	mean     []float64
	scale    []float64
	preScale []float64
}

// New 构造编解码器，三个切片长度必须一致
func New(mean, scale, preScale []float64) (*Codec, error) {
	if len(mean) != len(scale) {
		return nil, fmt.Errorf("codec: %d means but %d scales", len(mean), len(scale))
	}
	if preScale == nil {
		preScale = make([]float64, len(mean))
		for i := range preScale {
			preScale[i] = 1
		}
	}
	if len(preScale) != len(mean) {
		return nil, fmt.Errorf("codec: %d means but %d pre-scales", len(mean), len(preScale))
	}
	for c := range mean {
		if scale[c] == 0 {
			return nil, fmt.Errorf("codec: channel %d has zero scale", c)
		}
		if preScale[c] == 0 {
			return nil, fmt.Errorf("codec: channel %d has zero pre-scale", c)
		}
	}
	return &Codec{
		mean:     append([]float64(nil), mean...),
		scale:    append([]float64(nil), scale...),
		preScale: append([]float64(nil), preScale...),
	}, nil
}

// ForInputs 由输入通道配置构造
func ForInputs(channels []model.Channel) (*Codec, error) {
	mean := make([]float64, len(channels))
	scale := make([]float64, len(channels))
	pre := make([]float64, len(channels))
	for i, ch := range channels {
		mean[i], scale[i], pre[i] = ch.Mean, ch.Scale, ch.PreScale
		if pre[i] == 0 {
			pre[i] = 1
		}
	}
	return New(mean, scale, pre)
}

// ForOutputs 输出通道没有单位换算
func ForOutputs(channels []model.OutputChannel) (*Codec, error) {
	mean := make([]float64, len(channels))
	scale := make([]float64, len(channels))
	for i, ch := range channels {
		mean[i], scale[i] = ch.Mean, ch.Scale
	}
	return New(mean, scale, nil)
}

func (c *Codec) Channels() int {
	return len(c.mean)
}

func (c *Codec) check(channel int) {
	if channel < 0 || channel >= len(c.mean) {
		panic(fmt.Sprintf("codec: channel index %d out of range [0, %d)", channel, len(c.mean)))
	}
}

// Encode (raw / preScale - mean) / scale
func (c *Codec) Encode(raw float64, channel int) float64 {
	c.check(channel)
	return (raw/c.preScale[channel] - c.mean[channel]) / c.scale[channel]
}

// Decode normalized * scale + mean，结果仍是 preScale 之后的单位
func (c *Codec) Decode(normalized float64, channel int) float64 {
	c.check(channel)
	return normalized*c.scale[channel] + c.mean[channel]
}

// Raw 完全还原到原始单位，Raw(Encode(x)) == x
func (c *Codec) Raw(normalized float64, channel int) float64 {
	return c.Decode(normalized, channel) * c.preScale[channel]
}
