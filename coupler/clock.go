package coupler

import (
	"fmt"
	"math"
	"strconv"
)

// Clock 时间推进，语义同 OpenFOAM 的 runTime.loop()
type Clock struct {
	start, end, deltaT float64
	writeInterval      int

	index int
	value float64
}

func NewClock(start, end, deltaT float64, writeInterval int) (*Clock, error) {
	if deltaT <= 0 || math.IsNaN(deltaT) {
		return nil, fmt.Errorf("%w: delta_t must be positive, got %g", ErrConfig, deltaT)
	}
	if end < start {
		return nil, fmt.Errorf("%w: end_time %g before start_time %g", ErrConfig, end, start)
	}
	if writeInterval <= 0 {
		writeInterval = 1
	}
	return &Clock{
		start:         start,
		end:           end,
		deltaT:        deltaT,
		writeInterval: writeInterval,
		value:         start,
	}, nil
}

// Loop 推进一个时间步，到达结束时间返回 false
func (c *Clock) Loop() bool {
	next := c.start + float64(c.index+1)*c.deltaT
	// 允许浮点累计误差
	if next > c.end+c.deltaT*1e-6 {
		return false
	}
	c.index++
	c.value = next
	return true
}

func (c *Clock) Value() float64 {
	return c.value
}

func (c *Clock) Index() int {
	return c.index
}

func (c *Clock) Name() string {
	return TimeName(c.value)
}

func (c *Clock) WriteTime() bool {
	return c.index > 0 && c.index%c.writeInterval == 0
}

// TimeName 时间目录名，8 位有效数字
func TimeName(t float64) string {
	return strconv.FormatFloat(t, 'g', 8, 64)
}
