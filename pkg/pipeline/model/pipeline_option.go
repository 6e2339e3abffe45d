package model

import "time"

// PipelineOption observes a pipeline. Any hook returning an error fails the pipeline.
type PipelineOption interface {
	// New is called once by pipeline.New.
	New() error

	pipelineStepOption
	pipelineSinkOption

	// Finish is called by Run when every step succeeded.
	Finish() error
}

type pipelineStepOption interface {
	// PrepareStep is called when a root or normal step is added, parentStep being its input.
	PrepareStep(parentStep, step *StepInfo) error
	// OnStepOutput is called after each value the step pushes. iterationDuration is the time
	// spent waiting on the input, computationDuration the time spent in the step function.
	OnStepOutput(parentStep, step *StepInfo, iterationDuration, computationDuration time.Duration) error
}

type pipelineSinkOption interface {
	// PrepareSink is called when the sink is added.
	PrepareSink(parentStep, step *StepInfo) error
	// OnSinkOutput is called after the sink function consumed a value.
	OnSinkOutput(parentStep, step *StepInfo, iterationDuration, computationDuration time.Duration) error
	// AfterSink is called once the input of the sink is closed, totalDuration running from
	// pipeline.New.
	AfterSink(step *StepInfo, totalDuration time.Duration) error
}
