package embedding

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/clearance/ai/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFunction(t *testing.T, embedder *mock.MockEmbedder, dims int, opts ...Option) *Function {
	t.Helper()
	opts = append([]Option{WithRetry(3, time.Millisecond)}, opts...)
	f, err := New(embedder, dims, opts...)
	require.NoError(t, err)
	return f
}

func TestNewValidatesArguments(t *testing.T) {
	_, err := New(nil, 8)
	assert.ErrorIs(t, err, ErrEmbedderRequired)

	_, err = New(mock.NewMockEmbedder(), 0)
	assert.ErrorIs(t, err, ErrInvalidDimensions)

	_, err = New(mock.NewMockEmbedder(), 8, WithBatchSize(0))
	assert.Error(t, err)

	_, err = New(mock.NewMockEmbedder(), 8, WithRetry(0, time.Second))
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
}

func TestPadsNarrowBackendVectors(t *testing.T) {
	f := newFunction(t, mock.NewMockEmbedderWithDimensions(768), 1024)

	vectors, err := f.Embed(context.Background(), []string{"sick leave entitlement"})
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	v := vectors[0]
	require.Len(t, v, 1024)
	assert.Equal(t, make([]float32, 256), v[768:], "tail is zero")
	assert.Equal(t, mock.HashedVector("sick leave entitlement", 768), v[:768])

	again, err := f.Embed(context.Background(), []string{"sick leave entitlement"})
	require.NoError(t, err)
	assert.Equal(t, vectors, again, "padding is deterministic")
}

func TestRejectsWideBackendVectorsWithoutRetry(t *testing.T) {
	embedder := mock.NewMockEmbedderWithDimensions(1536)
	f := newFunction(t, embedder, 1024)

	_, err := f.Embed(context.Background(), []string{"text"})
	assert.ErrorIs(t, err, ErrDimensionality)
	assert.NotErrorIs(t, err, ErrBackend)
	assert.Equal(t, 1, embedder.CallCount(), "dimensionality errors are not retried")
}

func TestRetriesTransientFailures(t *testing.T) {
	embedder := mock.NewMockEmbedderWithDimensions(4)
	var calls atomic.Int32
	embedder.EmbedTextsFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("503 service unavailable")
		}
		out := make([][]float32, len(texts))
		for i := range out {
			out[i] = []float32{1, 0, 0, 0}
		}
		return out, nil
	}
	f := newFunction(t, embedder, 4)

	vectors, err := f.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vectors, 2)
	assert.EqualValues(t, 3, calls.Load())
}

func TestExhaustedRetriesReturnBackendError(t *testing.T) {
	embedder := mock.NewMockEmbedderWithDimensions(4)
	embedder.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("timeout")
	}
	f := newFunction(t, embedder, 4)

	vectors, err := f.Embed(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, ErrBackend)
	assert.Nil(t, vectors)
	assert.Equal(t, 3, embedder.CallCount())
}

func TestMalformedResponsesAreBackendErrors(t *testing.T) {
	tests := []struct {
		name string
		resp [][]float32
	}{
		{"too few vectors", [][]float32{{1, 0}}},
		{"empty vector", [][]float32{{1, 0}, {}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			embedder := mock.NewMockEmbedderWithDimensions(2)
			embedder.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
				return tt.resp, nil
			}
			f := newFunction(t, embedder, 2)

			_, err := f.Embed(context.Background(), []string{"a", "b"})
			assert.ErrorIs(t, err, ErrBackend)
		})
	}
}

func TestBatchOrderIsPreserved(t *testing.T) {
	embedder := mock.NewMockEmbedderWithDimensions(32)
	f := newFunction(t, embedder, 32, WithBatchSize(2))
	texts := []string{"alpha", "bravo", "charlie", "delta", "echo"}

	vectors, err := f.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))
	for i, text := range texts {
		assert.Equal(t, mock.HashedVector(text, 32), vectors[i], text)
	}
	assert.Equal(t, 3, embedder.CallCount(), "five texts in batches of two")
}

func TestEmbedNothing(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	f := newFunction(t, embedder, 8)

	vectors, err := f.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Zero(t, embedder.CallCount())
}

func TestEmbedQuery(t *testing.T) {
	f := newFunction(t, mock.NewMockEmbedderWithDimensions(8), 16)
	v, err := f.EmbedQuery(context.Background(), "remote work")
	require.NoError(t, err)
	assert.Len(t, v, 16)
	assert.Equal(t, 16, f.Dimensions())
}

func TestEmbedQueryUsesSingleTextCall(t *testing.T) {
	embedder := mock.NewMockEmbedderWithDimensions(4)
	var single int
	embedder.EmbedTextFunc = func(_ context.Context, text string) ([]float32, error) {
		single++
		if single == 1 {
			return nil, errors.New("flaky")
		}
		return mock.HashedVector(text, 4), nil
	}
	embedder.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("batch call not expected")
	}
	f := newFunction(t, embedder, 4)

	v, err := f.EmbedQuery(context.Background(), "holiday pay")
	require.NoError(t, err)
	assert.Equal(t, mock.HashedVector("holiday pay", 4), v)
	assert.Equal(t, 2, single, "retried once")
}

func TestCancelledContext(t *testing.T) {
	embedder := mock.NewMockEmbedderWithDimensions(4)
	f := newFunction(t, embedder, 4, WithRateLimit(100, 1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Embed(ctx, []string{"a"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, embedder.CallCount())
}

func TestRateLimitPacesBatches(t *testing.T) {
	embedder := mock.NewMockEmbedderWithDimensions(4)
	f := newFunction(t, embedder, 4, WithBatchSize(1), WithRateLimit(20, 1))

	start := time.Now()
	_, err := f.Embed(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond, "two waits of 50ms")
}

func TestPad(t *testing.T) {
	v, err := Pad([]float32{1, 2}, 4)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 0, 0}, v)

	same := []float32{1, 2}
	v, err = Pad(same, 2)
	require.NoError(t, err)
	assert.Equal(t, same, v)

	_, err = Pad([]float32{1, 2, 3}, 2)
	assert.ErrorIs(t, err, ErrDimensionality)
}
