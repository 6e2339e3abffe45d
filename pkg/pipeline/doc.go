// Package pipeline provides a channel based pipeline for processing data.
//
// A pipeline is built from a root step that produces values, any number of intermediate steps that
// transform them, and sinks that consume them. Each step runs in its own goroutine and hands values
// to the next one through a channel. Intermediate steps can run several goroutines concurrently,
// bounded by the step concurrency.
//
// The pipeline stops on the first encountered error: the shared context is cancelled, every step
// drains out, and Run returns the error decorated with the name of the step that produced it.
//
// Pipeline options (see the model package) observe the lifecycle of every step. The measure and
// drawer packages use them to time steps and to render the pipeline as a graph.
package pipeline
