package mock

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kiranshivaraju/captioner/pkg/models"
)

// ErrMockInference is the default error returned by NewFailingEngine callers
// that do not care about the exact message.
var ErrMockInference = errors.New("mock engine: generation failed")

// MockEngine satisfies models.VisionEngine for testing. It counts calls and
// tracks how many generations overlap so tests can assert serialization.
type MockEngine struct {
	Name_       string
	Model_      string
	LoadFunc    func(ctx context.Context, device models.Device) (models.Device, error)
	CaptionFunc func(ctx context.Context, img image.Image, length models.CaptionLength) (string, error)
	QueryFunc   func(ctx context.Context, img image.Image, question string) (string, error)
	// Delay is slept inside every generation call, honoring ctx.
	Delay time.Duration

	loads       atomic.Int64
	generations atomic.Int64
	inFlight    atomic.Int64

	mu          sync.Mutex
	maxInFlight int64
}

func (m *MockEngine) Name() string  { return m.Name_ }
func (m *MockEngine) Model() string { return m.Model_ }

func (m *MockEngine) Load(ctx context.Context, device models.Device) (models.Device, error) {
	m.loads.Add(1)
	if m.LoadFunc != nil {
		return m.LoadFunc(ctx, device)
	}
	if device == models.DeviceAuto {
		return models.DeviceCPU, nil
	}
	return device, nil
}

func (m *MockEngine) Caption(ctx context.Context, img image.Image, length models.CaptionLength) (string, error) {
	done, err := m.enter(ctx)
	if err != nil {
		return "", err
	}
	defer done()
	if m.CaptionFunc != nil {
		return m.CaptionFunc(ctx, img, length)
	}
	return "", nil
}

func (m *MockEngine) Query(ctx context.Context, img image.Image, question string) (string, error) {
	done, err := m.enter(ctx)
	if err != nil {
		return "", err
	}
	defer done()
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, img, question)
	}
	return "", nil
}

func (m *MockEngine) enter(ctx context.Context) (func(), error) {
	m.generations.Add(1)
	n := m.inFlight.Add(1)
	m.mu.Lock()
	if n > m.maxInFlight {
		m.maxInFlight = n
	}
	m.mu.Unlock()
	done := func() { m.inFlight.Add(-1) }

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			done()
			return nil, ctx.Err()
		}
	}
	return done, nil
}

// Loads returns how many times Load was called.
func (m *MockEngine) Loads() int64 { return m.loads.Load() }

// Generations returns how many Caption and Query calls were made.
func (m *MockEngine) Generations() int64 { return m.generations.Load() }

// MaxInFlight returns the highest number of generations observed running at once.
func (m *MockEngine) MaxInFlight() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

// NewMockEngine returns a MockEngine with deterministic responses.
func NewMockEngine() *MockEngine {
	return &MockEngine{
		Name_:  "mock",
		Model_: "mock-vision-v1",
		CaptionFunc: func(_ context.Context, _ image.Image, length models.CaptionLength) (string, error) {
			if length == models.CaptionShort {
				return "A small test image.", nil
			}
			return "A small test image filled with a single flat color and no other detail.", nil
		},
		QueryFunc: func(_ context.Context, _ image.Image, question string) (string, error) {
			return "Mock answer to: " + question, nil
		},
	}
}

// NewFailingEngine returns a MockEngine whose generations always return err.
func NewFailingEngine(err error) *MockEngine {
	m := NewMockEngine()
	m.Name_ = "mock-failing"
	m.CaptionFunc = func(_ context.Context, _ image.Image, _ models.CaptionLength) (string, error) {
		return "", err
	}
	m.QueryFunc = func(_ context.Context, _ image.Image, _ string) (string, error) {
		return "", err
	}
	return m
}

// NewUnloadableEngine returns a MockEngine whose Load always fails with err.
func NewUnloadableEngine(err error) *MockEngine {
	m := NewMockEngine()
	m.Name_ = "mock-unloadable"
	m.LoadFunc = func(_ context.Context, _ models.Device) (models.Device, error) {
		return "", err
	}
	return m
}

// NewBlockingEngine returns a MockEngine whose generations block until ctx is done.
func NewBlockingEngine() *MockEngine {
	m := NewMockEngine()
	m.Name_ = "mock-blocking"
	m.CaptionFunc = func(ctx context.Context, _ image.Image, _ models.CaptionLength) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	m.QueryFunc = func(ctx context.Context, _ image.Image, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return m
}

// Compile-time check that MockEngine implements VisionEngine.
var _ models.VisionEngine = (*MockEngine)(nil)
