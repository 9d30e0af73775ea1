package onnx

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/bryanwahyu/skinscan/internal/classifier"
)

var (
	envMu   sync.Mutex
	envRefs int
)

// acquireEnv initialises the process-wide ONNX environment on first use.
func acquireEnv(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}
	envRefs++
	return nil
}

func releaseEnv() error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		return nil
	}
	envRefs--
	if envRefs == 0 {
		return ort.DestroyEnvironment()
	}
	return nil
}

// Backend runs an ONNX model with preallocated input/output tensors.
// It is not reentrant; classifier.Engine serialises calls.
type Backend struct {
	spec         classifier.TensorSpec
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// Open loads modelPath. libraryPath points at libonnxruntime; empty uses the default lookup.
func Open(modelPath, libraryPath string, spec classifier.TensorSpec) (*Backend, error) {
	if err := acquireEnv(libraryPath); err != nil {
		return nil, err
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(spec.InputShape...))
	if err != nil {
		releaseEnv()
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(spec.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		releaseEnv()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{spec.InputName}, []string{spec.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		outputTensor.Destroy()
		inputTensor.Destroy()
		releaseEnv()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Backend{
		spec:         spec,
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Run copies input into the session tensor, runs it and returns a copy of the output.
func (b *Backend) Run(input classifier.Tensor) ([]float32, error) {
	dst := b.inputTensor.GetData()
	if len(input.Data) != len(dst) {
		return nil, fmt.Errorf("expected %d input values, got %d", len(dst), len(input.Data))
	}
	copy(dst, input.Data)

	if err := b.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := b.outputTensor.GetData()
	return append([]float32(nil), out...), nil
}

// Close destroys the session and tensors and releases the environment reference.
func (b *Backend) Close() error {
	var firstErr error
	if b.session != nil {
		if err := b.session.Destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
		b.session = nil
	}
	if b.inputTensor != nil {
		if err := b.inputTensor.Destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
		b.inputTensor = nil
	}
	if b.outputTensor != nil {
		if err := b.outputTensor.Destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
		b.outputTensor = nil
	}
	if err := releaseEnv(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
