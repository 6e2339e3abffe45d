package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/askiada/vrdprep/pkg/pipeline/model"
)

// Pipeline is a pipeline of steps.
type Pipeline struct {
	ctx       context.Context
	cancel    context.CancelFunc
	errcList  *errorChans
	opts      []model.PipelineOption
	startTime time.Time

	mu    sync.Mutex
	cause error
}

// New creates a new pipeline. Steps added to the pipeline start as soon as they are added and stop
// when ctx is done.
func New(ctx context.Context, opts ...model.PipelineOption) (*Pipeline, error) {
	dCtx, cancel := context.WithCancel(ctx)
	pipe := &Pipeline{
		ctx:       dCtx,
		cancel:    cancel,
		errcList:  &errorChans{},
		startTime: time.Now(),
		opts:      opts,
	}

	for _, opt := range opts {
		err := opt.New()
		if err != nil {
			cancel()
			return nil, errors.Wrap(err, "unable to apply pipeline option")
		}
	}

	return pipe, nil
}

// start runs fn in its own goroutine and registers its error channel.
// The first failing step cancels the whole pipeline and becomes the error returned by Run.
func (p *Pipeline) start(name string, fn func(ctx context.Context) error, done func()) {
	errC := make(chan error, 1)
	p.errcList.add(newErrorChan(name, errC))

	go func() {
		defer func() {
			if done != nil {
				done()
			}
			close(errC)
		}()
		err := fn(p.ctx)
		if err != nil {
			p.fail(errors.Wrap(err, name))
			errC <- err
		}
	}()
}

func (p *Pipeline) fail(err error) {
	p.mu.Lock()
	if p.cause == nil {
		p.cause = err
	}
	p.mu.Unlock()
	p.cancel()
}

func (p *Pipeline) firstError() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.cause
}

// waitForPipeline waits until every step has returned and reports the first error received.
func waitForPipeline(errs ...*errorChan) error {
	var first error
	for err := range mergeErrors(errs...) {
		if err != nil && first == nil {
			first = err
		}
	}

	return first
}

// Run waits for every step of the pipeline to return. A failing step cancels the others, so Run
// returns once they have observed the cancellation.
// The pipeline context is cancelled when Run returns, so a pipeline can only run once.
func (p *Pipeline) Run() error {
	defer p.cancel()

	err := waitForPipeline(p.errcList.list...)
	if err != nil {
		// steps stopped by the cancellation report context errors, the first failure is the one to surface.
		if cause := p.firstError(); cause != nil {
			return cause
		}

		return err
	}

	return p.finishRun()
}

func (p *Pipeline) finishRun() error {
	for _, opt := range p.opts {
		err := opt.Finish()
		if err != nil {
			return errors.Wrap(err, "unable to finish pipeline option")
		}
	}

	return nil
}

// Cancel stops every step already added and waits for them to return. It is meant for callers
// that fail to build the pipeline and will never call Run.
func (p *Pipeline) Cancel() {
	p.cancel()
	_ = waitForPipeline(p.errcList.list...)
}
