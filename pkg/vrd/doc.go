// Package vrd holds the canonical visual relationship model and the transforms applied to it:
// normalization of raw annotations against a category vocabulary, train/test split assignment
// and relationship statistics.
package vrd
