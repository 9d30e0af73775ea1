package classifier

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testSpec(t *testing.T) TensorSpec {
	t.Helper()
	s := TensorSpec{
		ImageSize: 8,
		Classes:   []string{"melanoma", "bcc", "scc", "benign", "unknown"},
	}
	s.applyDefaults()
	require.NoError(t, s.Validate())
	return s
}

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solidImage(w, h, c)))
	return buf.Bytes()
}

func gifBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, solidImage(w, h, color.White), nil))
	return buf.Bytes()
}

// fakeBackend records overlapping runs and runs after close.
type fakeBackend struct {
	out   []float32
	err   error
	delay time.Duration

	started chan struct{}
	gate    chan struct{}

	running       atomic.Int32
	calls         atomic.Int32
	overlap       atomic.Bool
	closed        atomic.Bool
	runAfterClose atomic.Bool
	closeCalls    atomic.Int32
}

func newFakeBackend(out ...float32) *fakeBackend {
	return &fakeBackend{out: out}
}

func (b *fakeBackend) Run(Tensor) ([]float32, error) {
	if b.closed.Load() {
		b.runAfterClose.Store(true)
	}
	if b.running.Add(1) > 1 {
		b.overlap.Store(true)
	}
	defer b.running.Add(-1)
	b.calls.Add(1)

	if b.started != nil {
		b.started <- struct{}{}
	}
	if b.gate != nil {
		<-b.gate
	}
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	return append([]float32(nil), b.out...), b.err
}

func (b *fakeBackend) Close() error {
	b.closeCalls.Add(1)
	b.closed.Store(true)
	return nil
}

// melanomaOut is the backend output for (MELANOMA, 0.92) in testSpec class order.
var melanomaOut = []float32{0.92, 0.02, 0.02, 0.03, 0.01}

type memSource struct {
	mu     sync.Mutex
	images map[string][]byte
}

func (m *memSource) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.images[ref]
	if !ok {
		return nil, fmt.Errorf("no such image %q", ref)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}
