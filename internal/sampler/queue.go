package sampler

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// Queue is a bounded buffer of prefetched patches fed by one producer
// goroutine. The producer blocks while the buffer is full.
type Queue struct {
	ch     chan *Patch
	g      *errgroup.Group
	cancel context.CancelFunc
}

// Prefetch starts drawing patches into a queue of the given depth. The
// sampler must not be used directly until the queue is closed.
func (s *Sampler) Prefetch(ctx context.Context, depth int) *Queue {
	if depth < 1 {
		depth = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	q := &Queue{ch: make(chan *Patch, depth), g: g, cancel: cancel}
	g.Go(func() error {
		defer close(q.ch)
		for {
			p, err := s.Next(gctx)
			if err != nil {
				return err
			}
			select {
			case q.ch <- p:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})
	return q
}

// Next returns the next prefetched patch, or the producer's error once the
// buffer is drained.
func (q *Queue) Next(ctx context.Context) (*Patch, error) {
	select {
	case p, ok := <-q.ch:
		if ok {
			return p, nil
		}
		return nil, q.g.Wait()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Take returns the next n patches.
func (q *Queue) Take(ctx context.Context, n int) ([]*Patch, error) {
	out := make([]*Patch, 0, n)
	for len(out) < n {
		p, err := q.Next(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Close stops the producer and waits for it to exit.
func (q *Queue) Close() error {
	q.cancel()
	for range q.ch {
	}
	if err := q.g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
