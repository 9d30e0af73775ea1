package classifier

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/bryanwahyu/skinscan/internal/domain/diagnosis"
)

// Backend runs one forward pass. Implementations are not required to be
// reentrant; the Engine never calls Run concurrently or after Close.
type Backend interface {
	Run(input Tensor) ([]float32, error)
	Close() error
}

// EngineOptions tune the engine.
type EngineOptions struct {
	// RejectWhenBusy makes a concurrent Classify fail with ErrBusy instead of queueing.
	RejectWhenBusy bool
	// Logits applies softmax to the backend output.
	Logits bool
	Logger *zap.Logger
}

// Engine owns a loaded model. Classify calls are serialised; Close waits for
// admitted calls to drain before releasing the backend.
type Engine struct {
	backend Backend
	classes []diagnosis.CancerType
	opts    EngineOptions
	log     *zap.Logger

	slot     chan struct{}
	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
	release  sync.Once
	closeErr error
}

func NewEngine(backend Backend, classes []diagnosis.CancerType, opts EngineOptions) (*Engine, error) {
	if backend == nil {
		return nil, fmt.Errorf("engine: nil backend")
	}
	if len(classes) == 0 {
		return nil, fmt.Errorf("engine: no classes")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		backend: backend,
		classes: append([]diagnosis.CancerType(nil), classes...),
		opts:    opts,
		log:     log.With(zap.String("component", "engine")),
		slot:    make(chan struct{}, 1),
	}, nil
}

func (e *Engine) admit() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return diagnosis.ErrClosed
	}
	e.inflight.Add(1)
	return nil
}

// Classify runs the model on t and returns a normalised distribution over the classes.
func (e *Engine) Classify(ctx context.Context, t Tensor) (diagnosis.Scores, error) {
	if err := e.admit(); err != nil {
		return nil, err
	}
	defer e.inflight.Done()

	if e.opts.RejectWhenBusy {
		select {
		case e.slot <- struct{}{}:
		default:
			return nil, diagnosis.ErrBusy
		}
	} else {
		select {
		case e.slot <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	defer func() { <-e.slot }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := e.backend.Run(t)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", diagnosis.ErrInference, err)
	}
	return e.scores(out)
}

func (e *Engine) scores(out []float32) (diagnosis.Scores, error) {
	if len(out) != len(e.classes) {
		return nil, fmt.Errorf("%w: got %d outputs for %d classes", diagnosis.ErrInference, len(out), len(e.classes))
	}
	vals := make([]float64, len(out))
	for i, v := range out {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: non-finite score at %d", diagnosis.ErrInference, i)
		}
		vals[i] = f
	}
	if e.opts.Logits {
		vals = softmax(vals)
	}

	sum := 0.0
	for i, v := range vals {
		if v < 0 {
			return nil, fmt.Errorf("%w: negative score %v for %s", diagnosis.ErrInference, v, e.classes[i])
		}
		sum += v
	}
	if math.Abs(sum-1) > 1e-3 {
		return nil, fmt.Errorf("%w: scores sum to %.4f", diagnosis.ErrInference, sum)
	}

	s := make(diagnosis.Scores, len(diagnosis.CancerTypes))
	for _, t := range diagnosis.CancerTypes {
		s[t] = 0
	}
	for i, v := range vals {
		s[e.classes[i]] = v / sum
	}
	return s, nil
}

func softmax(v []float64) []float64 {
	hi := math.Inf(-1)
	for _, x := range v {
		if x > hi {
			hi = x
		}
	}
	out := make([]float64, len(v))
	sum := 0.0
	for i, x := range v {
		out[i] = math.Exp(x - hi)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Close stops admitting calls, waits for in-flight ones and releases the backend once.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.inflight.Wait()
	e.release.Do(func() {
		e.closeErr = e.backend.Close()
		e.log.Info("model released")
	})
	return e.closeErr
}

// Closed reports whether Close has been called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
