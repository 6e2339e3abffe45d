package pipeline

import "github.com/askiada/vrdprep/pkg/pipeline/model"

// StepOption configures a step before it starts.
type StepOption[O any] func(s *model.Step[O])

// StepConcurrency sets the number of goroutines running the step function.
func StepConcurrency[O any](concurrent int) StepOption[O] {
	return func(s *model.Step[O]) {
		s.Details.Concurrent = concurrent
	}
}

// StepBufferSize sets the capacity of the step output channel.
func StepBufferSize[O any](size int) StepOption[O] {
	return func(s *model.Step[O]) {
		s.Details.BufferSize = size
	}
}
