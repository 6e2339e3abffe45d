package pipeline

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/askiada/vrdprep/pkg/pipeline/model"
)

// AddSink adds a step consuming every output of input on a single goroutine.
// Elements reach sinkFn in the order they were pushed to input.
func AddSink[I any](pipe *Pipeline, name string, input *model.Step[I], sinkFn func(ctx context.Context, input I) error) error {
	if pipe == nil {
		return ErrPipelineMustBeSet
	}
	if input == nil {
		return ErrInputMustBeSet
	}

	step := &model.Step[I]{
		Details: &model.StepInfo{
			Type:       model.SinkStepType,
			Name:       name,
			Concurrent: 1,
		},
	}
	for _, opt := range pipe.opts {
		err := opt.PrepareSink(details(input), step.Details)
		if err != nil {
			return errors.Wrap(err, "unable to run before sink function")
		}
	}

	pipe.start(name, func(ctx context.Context) error {
		for {
			startInputChan := time.Now()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case in, ok := <-input.Output:
				if !ok {
					return afterSink(pipe, step)
				}
				endInputChan := time.Since(startInputChan)

				startFn := time.Now()
				err := sinkFn(ctx, in)
				if err != nil {
					return err
				}
				for _, opt := range pipe.opts {
					err := opt.OnSinkOutput(details(input), step.Details, endInputChan, time.Since(startFn))
					if err != nil {
						return errors.Wrap(err, "unable to run sink output option")
					}
				}
			}
		}
	}, nil)

	return nil
}

func afterSink[I any](pipe *Pipeline, step *model.Step[I]) error {
	for _, opt := range pipe.opts {
		err := opt.AfterSink(step.Details, time.Since(pipe.startTime))
		if err != nil {
			return errors.Wrap(err, "unable to run after sink function")
		}
	}

	return nil
}
