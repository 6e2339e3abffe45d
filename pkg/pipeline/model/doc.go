// Package model provides the data structures shared by the pipeline package and its options.
// It defines the steps flowing through a pipeline, their descriptions, and the hooks a pipeline
// option implements to observe them.
package model
