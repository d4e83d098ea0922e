package backend

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"
)

// ErrStopped is returned to the producer once a stop was requested.
var ErrStopped = errors.New("generation stopped")

const DefaultBufferSize = 16

// Emit hands one delta to the consumer. A non-nil error means the producer has to
// return; the delta was not delivered.
type Emit func(delta string) error

// ProduceFunc runs the blocking generation call and reports every delta through emit.
type ProduceFunc func(ctx context.Context, emit Emit) error

// ChunkSource is the bridge between one producer goroutine and the consumer. The
// sequence on Chunks always ends with exactly one Done, preceded by at most one Error.
// Cancelling the parent context counts as a stop: no delta is accepted afterwards and
// the resulting error is not reported.
type ChunkSource struct {
	chunks  chan Chunk
	ctx     context.Context
	cancel  context.CancelFunc
	stopped atomic.Bool
	done    chan struct{}
}

// NewSource starts produce on its own goroutine.
func NewSource(ctx context.Context, bufferSize int, produce ProduceFunc) *ChunkSource {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	sourceCtx, cancel := context.WithCancel(ctx)
	s := &ChunkSource{
		chunks: make(chan Chunk, bufferSize),
		ctx:    sourceCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(produce)
	return s
}

// Chunks is closed right after Done was delivered.
func (s *ChunkSource) Chunks() <-chan Chunk {
	return s.chunks
}

// Stop asks the producer to finish. Only the first call has an effect.
func (s *ChunkSource) Stop() bool {
	if !s.stopped.CompareAndSwap(false, true) {
		return false
	}
	s.cancel()
	return true
}

func (s *ChunkSource) Stopped() bool {
	return s.stopped.Load()
}

// Wait blocks until the producer goroutine has exited.
func (s *ChunkSource) Wait() {
	<-s.done
}

func (s *ChunkSource) run(produce ProduceFunc) {
	defer close(s.done)
	defer close(s.chunks)
	defer s.cancel()

	err := s.protect(produce)
	if err != nil && s.ctx.Err() != nil {
		// cancelled from outside, finish like a stop
		s.stopped.Store(true)
	}
	if err != nil && !s.stopped.Load() {
		s.chunks <- Failure(err.Error())
	}
	s.chunks <- Done()
}

func (s *ChunkSource) protect(produce ProduceFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("producer panic: %v", r)
		}
	}()
	return produce(s.ctx, s.emit)
}

func (s *ChunkSource) emit(delta string) error {
	if s.stopped.Load() {
		return ErrStopped
	}
	if delta == "" {
		return nil
	}
	if err := s.ctx.Err(); err != nil {
		return err
	}
	select {
	case s.chunks <- Delta(delta):
		return nil
	case <-s.ctx.Done():
		if s.stopped.Load() {
			return ErrStopped
		}
		return s.ctx.Err()
	}
}
