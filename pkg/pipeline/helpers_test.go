package pipeline_test

import (
	"context"
	"testing"
)

func createInputChan(t *testing.T, total int) chan int {
	t.Helper()
	inputChan := make(chan int)
	go func() {
		defer close(inputChan)
		for i := 0; i < total; i++ {
			inputChan <- i
		}
	}()

	return inputChan
}

func rootFn(total int) func(ctx context.Context, rootChan chan<- int) error {
	return func(ctx context.Context, rootChan chan<- int) error {
		for i := 0; i < total; i++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case rootChan <- i:
			}
		}

		return nil
	}
}

func collect(got *[]int) func(ctx context.Context, input int) error {
	return func(_ context.Context, input int) error {
		*got = append(*got, input)

		return nil
	}
}
