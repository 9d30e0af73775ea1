package classifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bryanwahyu/skinscan/internal/domain/diagnosis"
)

// ImageSource resolves an opaque image reference to its encoded bytes.
type ImageSource interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// Model is the part of Engine the pipeline depends on.
type Model interface {
	Classify(ctx context.Context, t Tensor) (diagnosis.Scores, error)
	Close() error
}

// Observer is told how every analysis ended.
type Observer func(outcome string, took time.Duration)

// PipelineConfig sizes the worker pool.
type PipelineConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// Outcome of one analysis.
type Outcome struct {
	Result diagnosis.Result
	Err    error
}

type job struct {
	ctx context.Context
	ref string
	out chan Outcome
}

// Pipeline runs image → tensor → scores → diagnosis on its own workers so the
// caller only waits for the outcome.
type Pipeline struct {
	images   ImageSource
	prep     *Preprocessor
	model    Model
	strat    diagnosis.Stratifier
	cfg      PipelineConfig
	log      *zap.Logger
	observer Observer

	base  context.Context
	abort context.CancelFunc

	mu     sync.RWMutex
	closed bool
	jobs   chan job
	wg     sync.WaitGroup
}

func NewPipeline(images ImageSource, prep *Preprocessor, model Model, strat diagnosis.Stratifier, cfg PipelineConfig, log *zap.Logger) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if log == nil {
		log = zap.NewNop()
	}
	base, abort := context.WithCancel(context.Background())
	p := &Pipeline{
		images: images,
		prep:   prep,
		model:  model,
		strat:  strat,
		cfg:    cfg,
		log:    log.With(zap.String("component", "pipeline")),
		base:   base,
		abort:  abort,
		jobs:   make(chan job, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Observe registers fn to be called once per finished analysis.
func (p *Pipeline) Observe(fn Observer) { p.observer = fn }

// Future is a pending analysis.
type Future struct {
	ctx    context.Context
	cancel context.CancelFunc
	stop   func() bool
	out    chan Outcome
}

// Wait blocks until the outcome is delivered, the timeout fires or the caller's
// context is cancelled. A result that arrives after that is discarded.
func (f *Future) Wait() (diagnosis.Result, error) {
	defer f.release()
	select {
	case o := <-f.out:
		return o.Result, o.Err
	case <-f.ctx.Done():
		select {
		case o := <-f.out:
			return o.Result, o.Err
		default:
		}
		return diagnosis.Result{}, ctxErr(f.ctx)
	}
}

// Cancel abandons the analysis.
func (f *Future) Cancel() { f.release() }

func (f *Future) release() {
	f.stop()
	f.cancel()
}

// Submit queues an analysis of ref.
func (p *Pipeline) Submit(ctx context.Context, ref string) (*Future, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, diagnosis.ErrClosed
	}

	var (
		jctx   context.Context
		cancel context.CancelFunc
	)
	if p.cfg.Timeout > 0 {
		jctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
	} else {
		jctx, cancel = context.WithCancel(ctx)
	}
	f := &Future{
		ctx:    jctx,
		cancel: cancel,
		stop:   context.AfterFunc(p.base, cancel),
		out:    make(chan Outcome, 1),
	}

	select {
	case p.jobs <- job{ctx: jctx, ref: ref, out: f.out}:
		return f, nil
	case <-jctx.Done():
		f.release()
		return nil, ctxErr(jctx)
	}
}

// ClassifyImage submits ref and waits for its diagnosis.
func (p *Pipeline) ClassifyImage(ctx context.Context, ref string) (diagnosis.Result, error) {
	f, err := p.Submit(ctx, ref)
	if err != nil {
		return diagnosis.Result{}, err
	}
	return f.Wait()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		start := time.Now()
		var o Outcome
		if err := j.ctx.Err(); err != nil {
			o.Err = ctxErr(j.ctx)
		} else {
			o.Result, o.Err = p.analyze(j.ctx, j.ref)
			if o.Err != nil && j.ctx.Err() != nil && errors.Is(o.Err, j.ctx.Err()) {
				o.Err = ctxErr(j.ctx)
			}
		}
		j.out <- o
		p.observe(o.Err, time.Since(start))
		if o.Err != nil {
			p.log.Warn("analysis failed", zap.String("image_ref", j.ref), zap.Error(o.Err))
		} else {
			p.log.Debug("analysis done", zap.String("image_ref", j.ref),
				zap.String("cancer_type", string(o.Result.CancerType)),
				zap.Float64("confidence", o.Result.Confidence),
				zap.Duration("took", time.Since(start)))
		}
	}
}

func (p *Pipeline) analyze(ctx context.Context, ref string) (diagnosis.Result, error) {
	rc, err := p.images.Open(ctx, ref)
	if err != nil {
		if ctx.Err() != nil {
			return diagnosis.Result{}, ctx.Err()
		}
		if errors.Is(err, diagnosis.ErrDecode) {
			return diagnosis.Result{}, err
		}
		return diagnosis.Result{}, fmt.Errorf("%w: open %s: %v", diagnosis.ErrDecode, ref, err)
	}
	defer rc.Close()

	t, err := p.prep.Prepare(rc)
	if err != nil {
		return diagnosis.Result{}, err
	}
	scores, err := p.model.Classify(ctx, t)
	if err != nil {
		return diagnosis.Result{}, err
	}
	return p.strat.Diagnose(scores), nil
}

func (p *Pipeline) observe(err error, took time.Duration) {
	if p.observer == nil {
		return
	}
	p.observer(OutcomeLabel(err), took)
}

// OutcomeLabel names an analysis result for metrics and the failure log.
func OutcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, diagnosis.ErrTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, diagnosis.ErrDecode), errors.Is(err, diagnosis.ErrUnsupportedFormat):
		return "bad_image"
	case errors.Is(err, diagnosis.ErrBusy):
		return "busy"
	case errors.Is(err, diagnosis.ErrClosed):
		return "closed"
	default:
		return "inference_error"
	}
}

// Close stops accepting work, drains queued and running analyses, then closes
// the model. If ctx expires first, pending analyses are cancelled; the model is
// still only closed after every worker has returned.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var drainErr error
	select {
	case <-done:
	case <-ctx.Done():
		drainErr = ctx.Err()
		p.abort()
		<-done
	}
	p.abort()

	if err := p.model.Close(); err != nil {
		return err
	}
	return drainErr
}

func ctxErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", diagnosis.ErrTimeout, ctx.Err())
	}
	return ctx.Err()
}
