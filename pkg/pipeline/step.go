package pipeline

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/askiada/vrdprep/pkg/pipeline/model"
)

func details[O any](step *model.Step[O]) *model.StepInfo {
	if step.Details == nil {
		return &model.StepInfo{Name: "input"}
	}

	return step.Details
}

func pushOutput[I any, O any](ctx context.Context, opts []model.PipelineOption, input *model.Step[I], output *model.Step[O], out O, start time.Time, computation time.Duration) error {
	// we check the context again to make sure all go routines currently running
	// stop to add new elements to the pipeline
	select {
	case <-ctx.Done():
		return ctx.Err()
	case output.Output <- out:
	}

	iteration := time.Since(start) - computation
	for _, opt := range opts {
		err := opt.OnStepOutput(details(input), output.Details, iteration, computation)
		if err != nil {
			return errors.Wrap(err, "unable to run step output option")
		}
	}

	return nil
}

func sequentialOneToOne[I any, O any](ctx context.Context, goIdx int, opts []model.PipelineOption, input *model.Step[I], output *model.Step[O], oneToOneFn func(context.Context, I) (O, error)) error {
	for {
		start := time.Now()
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "go routine %d", goIdx)
		case in, ok := <-input.Output:
			if !ok {
				return nil
			}
			startFn := time.Now()
			out, err := oneToOneFn(ctx, in)
			if err != nil {
				return errors.Wrapf(err, "go routine %d", goIdx)
			}
			err = pushOutput(ctx, opts, input, output, out, start, time.Since(startFn))
			if err != nil {
				return errors.Wrapf(err, "go routine %d", goIdx)
			}
		}
	}
}

func sequentialOneToMany[I any, O any](ctx context.Context, goIdx int, opts []model.PipelineOption, input *model.Step[I], output *model.Step[O], oneToManyFn func(context.Context, I) ([]O, error)) error {
	for {
		start := time.Now()
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "go routine %d", goIdx)
		case in, ok := <-input.Output:
			if !ok {
				return nil
			}
			startFn := time.Now()
			outs, err := oneToManyFn(ctx, in)
			if err != nil {
				return errors.Wrapf(err, "go routine %d", goIdx)
			}
			computation := time.Since(startFn)
			for _, out := range outs {
				err = pushOutput(ctx, opts, input, output, out, start, computation)
				if err != nil {
					return errors.Wrapf(err, "go routine %d", goIdx)
				}
			}
		}
	}
}

// runConcurrently starts concurrent consumers running fn.
// Each consumer stops as soon as one of them fails.
func runConcurrently(ctx context.Context, concurrent int, fn func(ctx context.Context, goIdx int) error) error {
	if concurrent <= 1 {
		return fn(ctx, 0)
	}

	errGrp, dCtx := errgroup.WithContext(ctx)
	errGrp.SetLimit(concurrent)
	for goIdx := 0; goIdx < concurrent; goIdx++ {
		localGoIdx := goIdx
		errGrp.Go(func() error {
			return fn(dCtx, localGoIdx)
		})
	}

	return errGrp.Wait()
}

func prepareStep[I any, O any](pipe *Pipeline, name string, input *model.Step[I], opts ...StepOption[O]) (*model.Step[O], error) {
	if pipe == nil {
		return nil, ErrPipelineMustBeSet
	}
	if input == nil {
		return nil, ErrInputMustBeSet
	}

	step := &model.Step[O]{
		Details: &model.StepInfo{
			Type:       model.NormalStepType,
			Name:       name,
			Concurrent: 1,
		},
	}
	for _, opt := range opts {
		opt(step)
	}
	if step.Details.Concurrent < 1 {
		step.Details.Concurrent = 1
	}
	step.Output = make(chan O, step.Details.BufferSize)

	for _, opt := range pipe.opts {
		err := opt.PrepareStep(details(input), step.Details)
		if err != nil {
			return nil, errors.Wrap(err, "unable to run before step function")
		}
	}

	return step, nil
}

// AddStepOneToOne adds a step producing exactly one output for every input.
// With a concurrency above one, the order of the outputs is not guaranteed.
func AddStepOneToOne[I any, O any](pipe *Pipeline, name string, input *model.Step[I], oneToOneFn func(context.Context, I) (O, error), opts ...StepOption[O]) (*model.Step[O], error) {
	step, err := prepareStep(pipe, name, input, opts...)
	if err != nil {
		return nil, err
	}

	pipe.start(name, func(ctx context.Context) error {
		return runConcurrently(ctx, step.Details.Concurrent, func(ctx context.Context, goIdx int) error {
			return sequentialOneToOne(ctx, goIdx, pipe.opts, input, step, oneToOneFn)
		})
	}, func() { close(step.Output) })

	return step, nil
}

// AddStepOneToMany adds a step producing any number of outputs for every input.
// With the default concurrency of one, outputs keep the order of the inputs.
func AddStepOneToMany[I any, O any](pipe *Pipeline, name string, input *model.Step[I], oneToManyFn func(context.Context, I) ([]O, error), opts ...StepOption[O]) (*model.Step[O], error) {
	step, err := prepareStep(pipe, name, input, opts...)
	if err != nil {
		return nil, err
	}

	pipe.start(name, func(ctx context.Context) error {
		return runConcurrently(ctx, step.Details.Concurrent, func(ctx context.Context, goIdx int) error {
			return sequentialOneToMany(ctx, goIdx, pipe.opts, input, step, oneToManyFn)
		})
	}, func() { close(step.Output) })

	return step, nil
}
