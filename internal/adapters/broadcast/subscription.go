package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/okian/huntline/internal/domain/model"
	"github.com/okian/huntline/pkg/logger"
	"github.com/okian/huntline/pkg/metrics"
)

// Subscription is one consumer of lane snapshots. Cancel stops delivery; it
// never touches the repository.
type Subscription struct {
	hub  *Hub
	key  string
	hunt bool
	fn   Handler

	mu      sync.Mutex
	pending map[string]model.LaneEvent // by lane id
	order   []string                   // lanes with a pending event, oldest first
	wake    chan struct{}

	delivered map[string]int64 // owned by run

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

func newSubscription(h *Hub, key string, hunt bool, fn Handler) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	return &Subscription{
		hub:       h,
		key:       key,
		hunt:      hunt,
		fn:        fn,
		pending:   make(map[string]model.LaneEvent),
		wake:      make(chan struct{}, 1),
		delivered: make(map[string]int64),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Cancel stops delivery. It is safe to call more than once and from inside
// the handler.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.hub.unregister(s)
		s.cancel()
	})
}

// Done is closed once the delivery goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// offer places ev in the mailbox, replacing an older pending snapshot of the
// same lane.
func (s *Subscription) offer(ev model.LaneEvent) {
	s.mu.Lock()
	prev, ok := s.pending[ev.Lane.ID]
	switch {
	case !ok:
		s.pending[ev.Lane.ID] = ev
		s.order = append(s.order, ev.Lane.ID)
	case ev.Lane.Version > prev.Lane.Version:
		s.pending[ev.Lane.ID] = ev
		metrics.RecordBroadcastCoalesced()
	default:
		metrics.RecordBroadcastStale()
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) next() (model.LaneEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		return model.LaneEvent{}, false
	}
	id := s.order[0]
	s.order = s.order[1:]
	ev := s.pending[id]
	delete(s.pending, id)
	return ev, true
}

func (s *Subscription) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}
		for {
			ev, ok := s.next()
			if !ok {
				break
			}
			if s.ctx.Err() != nil {
				return
			}
			s.deliver(ev)
		}
	}
}

func (s *Subscription) deliver(ev model.LaneEvent) {
	if ev.Lane.Version <= s.delivered[ev.Lane.ID] {
		metrics.RecordBroadcastStale()
		return
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.hub.retryInterval
	bo.MaxInterval = 20 * s.hub.retryInterval

	_, err := backoff.Retry(s.ctx, func() (struct{}, error) {
		return struct{}{}, s.fn(s.ctx, ev)
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(s.hub.retries),
		backoff.WithNotify(func(err error, _ time.Duration) {
			metrics.RecordBroadcastError()
		}),
	)
	if err != nil {
		if s.ctx.Err() == nil {
			metrics.RecordBroadcastError()
			s.hub.logger.Warn(s.ctx, "snapshot delivery deferred",
				logger.String("lane", ev.Lane.ID),
				logger.Int64("version", ev.Lane.Version),
				logger.Error(err))
			s.redeliver(ev, bo.MaxInterval)
		}
		return
	}
	s.delivered[ev.Lane.ID] = ev.Lane.Version
	metrics.RecordBroadcastDelivered()
}

// redeliver offers ev again after wait unless a newer snapshot of its lane
// got there first. The last committed state of a quiet lane is otherwise
// never delivered.
func (s *Subscription) redeliver(ev model.LaneEvent, wait time.Duration) {
	time.AfterFunc(wait, func() {
		if s.ctx.Err() == nil {
			s.offer(ev)
		}
	})
}
