package backend

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bz888/studyhelper/internal/conversation"
	"github.com/bz888/studyhelper/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockClient struct {
	mock.Mock
}

func (m *MockClient) Name() string {
	return "mock"
}

func (m *MockClient) EnsureModel(ctx context.Context, model string) error {
	args := m.Called(ctx, model)
	return args.Error(0)
}

func (m *MockClient) StreamChat(ctx context.Context, model string, turns []conversation.Turn, fn func(string) error) error {
	args := m.Called(ctx, model, turns, fn)
	for _, d := range args.Get(0).([]string) {
		if err := fn(d); err != nil {
			return err
		}
	}
	return args.Error(1)
}

func drain(t *testing.T, s *ChunkSource) []Chunk {
	t.Helper()
	var out []Chunk
	timeout := time.After(2 * time.Second)
	for {
		select {
		case c, ok := <-s.Chunks():
			if !ok {
				return out
			}
			out = append(out, c)
		case <-timeout:
			t.Fatal("source did not terminate")
		}
	}
}

func TestEnsureReadyCachesSuccess(t *testing.T) {
	client := new(MockClient)
	client.On("EnsureModel", mock.Anything, "llama3:8b").Return(nil).Once()

	a := NewAdapter(client, "llama3:8b", WithLogger(logger.Nop()))
	assert.True(t, a.EnsureReady(context.Background()).Ready)
	assert.True(t, a.EnsureReady(context.Background()).Ready)

	client.AssertNumberOfCalls(t, "EnsureModel", 1)
}

func TestEnsureReadyRetriesAfterFailure(t *testing.T) {
	client := new(MockClient)
	client.On("EnsureModel", mock.Anything, "llama3:8b").Return(errors.New("connection refused")).Once()
	client.On("EnsureModel", mock.Anything, "llama3:8b").Return(nil).Once()

	a := NewAdapter(client, "llama3:8b", WithLogger(logger.Nop()))
	r := a.EnsureReady(context.Background())
	assert.False(t, r.Ready)
	assert.Contains(t, r.Reason, "connection refused")

	assert.True(t, a.EnsureReady(context.Background()).Ready)
	client.AssertExpectations(t)
}

func TestEnsureReadyUnconfigured(t *testing.T) {
	a := NewAdapter(nil, "llama3:8b", WithLogger(logger.Nop()))
	r := a.EnsureReady(context.Background())
	assert.False(t, r.Ready)
	assert.NotEmpty(t, r.Reason)

	client := new(MockClient)
	a = NewAdapter(client, "", WithLogger(logger.Nop()))
	assert.False(t, a.EnsureReady(context.Background()).Ready)
	client.AssertNotCalled(t, "EnsureModel", mock.Anything, mock.Anything)
}

type slowClient struct {
	calls   atomic.Int32
	release chan struct{}
}

func (c *slowClient) Name() string { return "slow" }

func (c *slowClient) EnsureModel(ctx context.Context, model string) error {
	c.calls.Add(1)
	<-c.release
	return nil
}

func (c *slowClient) StreamChat(ctx context.Context, model string, turns []conversation.Turn, fn func(string) error) error {
	return nil
}

func TestEnsureReadyCoalescesConcurrentChecks(t *testing.T) {
	client := &slowClient{release: make(chan struct{})}
	a := NewAdapter(client, "m", WithLogger(logger.Nop()))

	var wg sync.WaitGroup
	results := make([]Readiness, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = a.EnsureReady(context.Background())
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(client.release)
	wg.Wait()

	for _, r := range results {
		assert.True(t, r.Ready)
	}
	assert.Equal(t, int32(1), client.calls.Load())
}

func TestEnsureReadyAbandonedByCaller(t *testing.T) {
	client := &slowClient{release: make(chan struct{})}
	defer close(client.release)
	a := NewAdapter(client, "m", WithLogger(logger.Nop()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	r := a.EnsureReady(ctx)
	assert.False(t, r.Ready)
	assert.Contains(t, r.Reason, "abandoned")
}

type panickyClient struct{ slowClient }

func (c *panickyClient) EnsureModel(ctx context.Context, model string) error {
	panic("boom")
}

func TestEnsureReadyRecoversPanic(t *testing.T) {
	a := NewAdapter(&panickyClient{}, "m", WithLogger(logger.Nop()))
	r := a.EnsureReady(context.Background())
	assert.False(t, r.Ready)
	assert.Contains(t, r.Reason, "boom")
}

func TestOpenStream(t *testing.T) {
	turns := []conversation.Turn{conversation.NewTurn(conversation.RoleUser, "Hi", time.Now())}
	client := new(MockClient)
	client.On("StreamChat", mock.Anything, "m", turns, mock.Anything).Return([]string{"Hel", "", "lo!"}, nil)

	a := NewAdapter(client, "m", WithLogger(logger.Nop()))
	chunks := drain(t, a.OpenStream(context.Background(), turns))

	require.Len(t, chunks, 3)
	assert.Equal(t, Delta("Hel"), chunks[0])
	assert.Equal(t, Delta("lo!"), chunks[1])
	assert.Equal(t, Done(), chunks[2])
}

func TestOpenStreamProviderError(t *testing.T) {
	client := new(MockClient)
	client.On("StreamChat", mock.Anything, "m", mock.Anything, mock.Anything).Return([]string{"A"}, errors.New("model crashed"))

	a := NewAdapter(client, "m", WithLogger(logger.Nop()))
	chunks := drain(t, a.OpenStream(context.Background(), nil))

	require.Len(t, chunks, 3)
	assert.Equal(t, Delta("A"), chunks[0])
	assert.Equal(t, KindError, chunks[1].Kind)
	assert.Contains(t, chunks[1].Text, "model crashed")
	assert.Equal(t, Done(), chunks[2])
}

func TestSetTarget(t *testing.T) {
	first := new(MockClient)
	a := NewAdapter(first, "a", WithLogger(logger.Nop()))
	assert.Equal(t, "a", a.Model())

	second := new(MockClient)
	second.On("EnsureModel", mock.Anything, "b").Return(nil)
	a.SetTarget(second, "b")
	assert.Equal(t, "b", a.Model())
	assert.True(t, a.EnsureReady(context.Background()).Ready)
	first.AssertNotCalled(t, "EnsureModel", mock.Anything, mock.Anything)
}
