package coupler

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"nnfoam/model"
)

// Persister 时间目录的落盘，*field.CaseStore 实现该接口
type Persister interface {
	SetTime(timeName string)
	Flush() error
	WriteMeta(report *model.StepReport) error
}

// Runner 时间循环: 每步推理一次，然后交给修正器
type Runner struct {
	Coupler   *Coupler
	Clock     *Clock
	Corrector Corrector
	Persister Persister
	Hub       *CalcHub
}

// Run 循环直到结束时间、收到停止信号或运行被终止。
// 停止信号视为正常结束，当前时间步会被写出。
func (r *Runner) Run(ctx context.Context) error {
	if r.Corrector == nil {
		r.Corrector = NoCorrection
	}
	if r.Hub != nil {
		defer r.Hub.Close()
	}

	log.WithFields(log.Fields{
		"runId":   r.Coupler.RunID(),
		"inputs":  r.Coupler.cfg.InputFields(),
		"outputs": r.Coupler.cfg.OutputFields(),
		"cells":   r.Coupler.store.Cells(),
	}).Info("开始耦合计算")

	var last *model.StepReport
	var stop <-chan struct{}
	if r.Hub != nil {
		stop = r.Hub.Stop
	}
LOOP:
	for {
		select {
		case <-stop:
			log.Info("收到停止信号，结束计算")
			break LOOP
		case <-ctx.Done():
			return ctx.Err()
		default:
			if !r.Clock.Loop() {
				break LOOP
			}
			timeName := r.Clock.Name()

			report, err := r.Coupler.Step(ctx, timeName)
			if r.Hub != nil && report != nil {
				r.Hub.PushSignal(report)
			}
			if err != nil {
				if errors.Is(err, ErrAborted) {
					r.persist(timeName, report, false)
				}
				return err
			}
			last = report

			if err := r.Corrector.Correct(ctx, timeName, r.Coupler.store); err != nil {
				return fmt.Errorf("coupler: correction at time %s: %w", timeName, err)
			}
			if r.Clock.WriteTime() || report.Stale {
				if err := r.persist(timeName, report, true); err != nil {
					return err
				}
			}
		}
	}

	// 停止时补写最后一个未落盘的时间步
	if last != nil && !r.Clock.WriteTime() && !last.Stale {
		if err := r.persist(last.Time, last, true); err != nil {
			return err
		}
	}
	log.WithField("timeName", r.Clock.Name()).Info("耦合计算结束")
	return nil
}

func (r *Runner) persist(timeName string, report *model.StepReport, fields bool) error {
	if r.Persister == nil {
		return nil
	}
	r.Persister.SetTime(timeName)
	if fields {
		if err := r.Persister.Flush(); err != nil {
			return fmt.Errorf("coupler: write time %s: %w", timeName, err)
		}
	}
	if err := r.Persister.WriteMeta(report); err != nil {
		if fields {
			return fmt.Errorf("coupler: write meta %s: %w", timeName, err)
		}
		log.WithError(err).Warn("写入时间步元数据失败")
	}
	return nil
}
