package coupler

import (
	"context"

	"nnfoam/field"
)

// Corrector 推理之后由求解器完成的步骤（压力速度修正等）
type Corrector interface {
	Correct(ctx context.Context, timeName string, store field.Store) error
}

type CorrectorFunc func(ctx context.Context, timeName string, store field.Store) error

func (f CorrectorFunc) Correct(ctx context.Context, timeName string, store field.Store) error {
	return f(ctx, timeName, store)
}

// NoCorrection 纯推理运行，不做修正
var NoCorrection Corrector = CorrectorFunc(func(context.Context, string, field.Store) error {
	return nil
})
