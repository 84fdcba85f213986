package engine

import (
	"context"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/tansive/agentgateway/internal/gateway/turn"
)

type item struct {
	chunk turn.Chunk
	err   error
}

// chanStream adapts a producer goroutine to turn.Streamer. Close cancels the
// producer and waits for it to exit.
type chanStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	ch     chan item
	done   chan struct{}
}

// emitFunc hands a chunk to the consumer. It returns false once the consumer is gone.
type emitFunc func(turn.Chunk) bool

func startStream(ctx context.Context, produce func(ctx context.Context, emit emitFunc) error) *chanStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &chanStream{
		ctx:    ctx,
		cancel: cancel,
		ch:     make(chan item),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer close(s.ch)
		defer func() {
			if p := recover(); p != nil {
				log.Ctx(ctx).Error().Interface("panic", p).Msg("engine producer panicked")
				select {
				case s.ch <- item{err: turn.ErrEnginePanic}:
				case <-ctx.Done():
				}
			}
		}()
		emit := func(c turn.Chunk) bool {
			select {
			case s.ch <- item{chunk: c}:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if err := produce(ctx, emit); err != nil && ctx.Err() == nil {
			select {
			case s.ch <- item{err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return s
}

func (s *chanStream) Recv() (turn.Chunk, error) {
	it, ok := <-s.ch
	if !ok {
		if err := s.ctx.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return it.chunk, it.err
}

func (s *chanStream) Close() error {
	s.cancel()
	<-s.done
	return nil
}
