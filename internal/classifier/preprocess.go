package classifier

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp"

	"github.com/bryanwahyu/skinscan/internal/domain/diagnosis"
)

// PreprocessConfig bounds what the preprocessor accepts.
type PreprocessConfig struct {
	MaxBytes  int64
	MinSide   int
	MaxPixels int
	Formats   []string
}

// DefaultPreprocessConfig accepts phone photos up to 20MB / 40MP.
func DefaultPreprocessConfig() PreprocessConfig {
	return PreprocessConfig{
		MaxBytes:  20 << 20,
		MinSide:   32,
		MaxPixels: 40_000_000,
		Formats:   []string{"jpeg", "png", "webp"},
	}
}

// Preprocessor converts an encoded image into the model's input tensor.
// It holds no mutable state and is safe for concurrent use.
type Preprocessor struct {
	spec    TensorSpec
	cfg     PreprocessConfig
	formats map[string]bool
}

func NewPreprocessor(spec TensorSpec, cfg PreprocessConfig) *Preprocessor {
	def := DefaultPreprocessConfig()
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = def.MaxBytes
	}
	if cfg.MinSide <= 0 {
		cfg.MinSide = def.MinSide
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = def.MaxPixels
	}
	if len(cfg.Formats) == 0 {
		cfg.Formats = def.Formats
	}
	formats := make(map[string]bool, len(cfg.Formats))
	for _, f := range cfg.Formats {
		formats[strings.ToLower(f)] = true
	}
	return &Preprocessor{spec: spec, cfg: cfg, formats: formats}
}

// Prepare decodes r and returns a tensor shaped per the spec.
func (p *Preprocessor) Prepare(r io.Reader) (Tensor, error) {
	data, err := io.ReadAll(io.LimitReader(r, p.cfg.MaxBytes+1))
	if err != nil {
		return Tensor{}, fmt.Errorf("%w: read: %v", diagnosis.ErrDecode, err)
	}
	if len(data) == 0 {
		return Tensor{}, fmt.Errorf("%w: empty image", diagnosis.ErrDecode)
	}
	if int64(len(data)) > p.cfg.MaxBytes {
		return Tensor{}, fmt.Errorf("%w: image larger than %d bytes", diagnosis.ErrUnsupportedFormat, p.cfg.MaxBytes)
	}

	conf, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Tensor{}, fmt.Errorf("%w: %v", diagnosis.ErrDecode, err)
	}
	if !p.formats[format] {
		return Tensor{}, fmt.Errorf("%w: format %s", diagnosis.ErrUnsupportedFormat, format)
	}
	if conf.Width < p.cfg.MinSide || conf.Height < p.cfg.MinSide {
		return Tensor{}, fmt.Errorf("%w: %dx%d is smaller than %dpx",
			diagnosis.ErrUnsupportedFormat, conf.Width, conf.Height, p.cfg.MinSide)
	}
	if conf.Width*conf.Height > p.cfg.MaxPixels {
		return Tensor{}, fmt.Errorf("%w: %dx%d exceeds %d pixels",
			diagnosis.ErrUnsupportedFormat, conf.Width, conf.Height, p.cfg.MaxPixels)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return Tensor{}, fmt.Errorf("%w: %v", diagnosis.ErrDecode, err)
	}
	return p.Tensorize(img), nil
}

// Tensorize resizes img to ImageSize² and writes normalised RGB values in the model's layout.
func (p *Preprocessor) Tensorize(img image.Image) Tensor {
	size := p.spec.ImageSize
	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)
	b := resized.Bounds()

	plane := size * size
	data := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, bl, _ := resized.At(b.Min.X+x, b.Min.Y+y).RGBA()
			px := [3]float32{float32(r) / 65535.0, float32(g) / 65535.0, float32(bl) / 65535.0}
			idx := y*size + x
			for c := 0; c < 3; c++ {
				v := (px[c] - p.spec.Mean[c]) / p.spec.Std[c]
				if p.spec.Layout == LayoutNHWC {
					data[idx*3+c] = v
				} else {
					data[c*plane+idx] = v
				}
			}
		}
	}
	return Tensor{Shape: append([]int64(nil), p.spec.InputShape...), Data: data}
}
