// Package transform turns the raw annotations of a dataset into train and test splits.
//
// A Transformer runs parse, normalize, split, write and acquire in sequence and records every state
// it goes through. Per entry rejections and per image fetch failures are reported in the Result,
// only structural errors fail the run.
package transform
