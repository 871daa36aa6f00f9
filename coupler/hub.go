package coupler

import (
	"sync"

	"nnfoam/model"
)

// CalcHub 计算循环与外部（监控端、命令行信号）之间的信号通道
type CalcHub struct {
	// 停止计算
	Stop chan struct{}
	// 每个时间步的推理报告
	Reports chan *model.StepReport

	once   sync.Once
	closed sync.Once
}

// Sink 报告的消费者（监控端、MQTT）
type Sink interface {
	Publish(report *model.StepReport)
}

func NewCalcHub(buffer int) *CalcHub {
	if buffer <= 0 {
		buffer = 1
	}
	return &CalcHub{
		Stop:    make(chan struct{}),
		Reports: make(chan *model.StepReport, buffer),
	}
}

// StopSignal 可重复调用
func (ch *CalcHub) StopSignal() {
	ch.once.Do(func() {
		close(ch.Stop)
	})
}

func (ch *CalcHub) Stopped() bool {
	select {
	case <-ch.Stop:
		return true
	default:
		return false
	}
}

// PushSignal 不阻塞计算循环，通道满时丢弃该报告
func (ch *CalcHub) PushSignal(report *model.StepReport) bool {
	select {
	case ch.Reports <- report:
		return true
	default:
		return false
	}
}

// Close 计算循环结束后关闭报告通道，只能由生产方调用
func (ch *CalcHub) Close() {
	ch.closed.Do(func() {
		close(ch.Reports)
	})
}

// Forward 把报告分发给所有消费者，直到报告通道关闭
func (ch *CalcHub) Forward(sinks ...Sink) {
	for report := range ch.Reports {
		for _, s := range sinks {
			s.Publish(report)
		}
	}
}
