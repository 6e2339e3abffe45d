package pipeline

import (
	"context"

	"github.com/pkg/errors"

	"github.com/askiada/vrdprep/pkg/pipeline/model"
)

// AddRootStep adds the step feeding the pipeline. stepFn pushes values to rootChan and must stop when
// ctx is done. rootChan is closed once stepFn returns.
func AddRootStep[O any](pipe *Pipeline, name string, stepFn func(ctx context.Context, rootChan chan<- O) error, opts ...StepOption[O]) (*model.Step[O], error) {
	if pipe == nil {
		return nil, ErrPipelineMustBeSet
	}

	step := &model.Step[O]{
		Details: &model.StepInfo{
			Type:       model.RootStepType,
			Name:       name,
			Concurrent: 1,
		},
	}
	for _, opt := range opts {
		opt(step)
	}
	step.Details.Concurrent = 1
	step.Output = make(chan O, step.Details.BufferSize)

	for _, opt := range pipe.opts {
		err := opt.PrepareStep(model.StartStep.Details, step.Details)
		if err != nil {
			return nil, errors.Wrap(err, "unable to run before step function")
		}
	}

	pipe.start(name, func(ctx context.Context) error {
		return stepFn(ctx, step.Output)
	}, func() { close(step.Output) })

	return step, nil
}
