package classifier

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/bryanwahyu/skinscan/internal/domain/diagnosis"
)

// Layout of the input tensor.
type Layout string

const (
	LayoutNCHW Layout = "NCHW"
	LayoutNHWC Layout = "NHWC"
)

// Tensor is the fixed-shape float32 input the backend consumes.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// TensorSpec describes the model input/output contract. It is loaded from the
// metadata file exported next to the model.
type TensorSpec struct {
	InputName        string    `json:"input_name"`
	OutputName       string    `json:"output_name"`
	InputShape       []int64   `json:"input_shape"`
	OutputShape      []int64   `json:"output_shape"`
	Classes          []string  `json:"classes"`
	ImageSize        int       `json:"image_size"`
	Layout           Layout    `json:"layout"`
	Mean             []float32 `json:"mean"`
	Std              []float32 `json:"std"`
	OutputActivation string    `json:"output_activation"` // softmax | logits
}

// LoadTensorSpec reads and validates a metadata file.
func LoadTensorSpec(path string) (TensorSpec, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return TensorSpec{}, fmt.Errorf("failed to read metadata: %w", err)
	}
	var spec TensorSpec
	if err := json.Unmarshal(b, &spec); err != nil {
		return TensorSpec{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	spec.applyDefaults()
	if err := spec.Validate(); err != nil {
		return TensorSpec{}, err
	}
	return spec, nil
}

func (s *TensorSpec) applyDefaults() {
	if s.InputName == "" {
		s.InputName = "input"
	}
	if s.OutputName == "" {
		s.OutputName = "output"
	}
	if s.Layout == "" {
		s.Layout = LayoutNCHW
	}
	if len(s.Mean) == 0 {
		s.Mean = []float32{0, 0, 0}
	}
	if len(s.Std) == 0 {
		s.Std = []float32{1, 1, 1}
	}
	if s.OutputActivation == "" {
		s.OutputActivation = "softmax"
	}
	if len(s.InputShape) == 0 && s.ImageSize > 0 {
		s.InputShape = s.expectedShape()
	}
	if len(s.OutputShape) == 0 && len(s.Classes) > 0 {
		s.OutputShape = []int64{1, int64(len(s.Classes))}
	}
}

func (s TensorSpec) expectedShape() []int64 {
	n := int64(s.ImageSize)
	if s.Layout == LayoutNHWC {
		return []int64{1, n, n, 3}
	}
	return []int64{1, 3, n, n}
}

// Validate checks the metadata is internally consistent.
func (s TensorSpec) Validate() error {
	if s.ImageSize <= 0 {
		return fmt.Errorf("metadata: image_size must be positive")
	}
	if s.Layout != LayoutNCHW && s.Layout != LayoutNHWC {
		return fmt.Errorf("metadata: unsupported layout %q", s.Layout)
	}
	want := s.expectedShape()
	if len(s.InputShape) != len(want) {
		return fmt.Errorf("metadata: input_shape %v does not match %s layout", s.InputShape, s.Layout)
	}
	for i := range want {
		if s.InputShape[i] != want[i] {
			return fmt.Errorf("metadata: input_shape %v, expected %v", s.InputShape, want)
		}
	}
	if len(s.Mean) != 3 || len(s.Std) != 3 {
		return fmt.Errorf("metadata: mean and std need 3 channels")
	}
	for _, v := range s.Std {
		if v == 0 {
			return fmt.Errorf("metadata: std must be non-zero")
		}
	}
	if s.OutputActivation != "softmax" && s.OutputActivation != "logits" {
		return fmt.Errorf("metadata: unsupported output_activation %q", s.OutputActivation)
	}
	if _, err := s.CancerTypes(); err != nil {
		return err
	}
	return nil
}

// CancerTypes maps the model's class labels, in output order, to domain classes.
func (s TensorSpec) CancerTypes() ([]diagnosis.CancerType, error) {
	if len(s.Classes) == 0 {
		return nil, fmt.Errorf("metadata: no classes")
	}
	out := make([]diagnosis.CancerType, len(s.Classes))
	seen := map[diagnosis.CancerType]bool{}
	for i, c := range s.Classes {
		t, err := diagnosis.ParseCancerType(c)
		if err != nil {
			return nil, fmt.Errorf("metadata: %w", err)
		}
		if seen[t] {
			return nil, fmt.Errorf("metadata: class %s listed twice", t)
		}
		seen[t] = true
		out[i] = t
	}
	return out, nil
}

// InputSize is the number of float32 values in one input tensor.
func (s TensorSpec) InputSize() int {
	n := 1
	for _, d := range s.InputShape {
		n *= int(d)
	}
	return n
}
