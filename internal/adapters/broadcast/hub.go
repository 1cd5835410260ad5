// Package broadcast fans committed lane snapshots out to subscribers.
//
// Every subscription owns one goroutine and a mailbox holding at most one
// pending snapshot per lane. A newer snapshot replaces a pending one, and a
// snapshot whose version is not above the last delivered version of its
// lane is dropped. Subscribers therefore never see a lane move backward and
// always end on the latest committed state.
package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/huntline/internal/domain/model"
	"github.com/okian/huntline/pkg/logger"
	"github.com/okian/huntline/pkg/metrics"
)

// Hub defaults.
const (
	defaultDeliveryRetries = 5
	defaultRetryInterval   = 50 * time.Millisecond
)

// Handler receives lane snapshots. A returned error schedules a retry.
type Handler func(ctx context.Context, ev model.LaneEvent) error

// SnapshotSource supplies the state a new subscription starts from.
type SnapshotSource interface {
	GetLaneWithHunt(ctx context.Context, laneID string) (model.Hunt, model.Lane, error)
	GetHunt(ctx context.Context, id string) (model.Hunt, error)
	ListLanes(ctx context.Context, huntID string) ([]model.Lane, error)
}

type subscribers map[*Subscription]struct{}

// Hub routes published events to lane and hunt subscriptions.
type Hub struct {
	source        SnapshotSource
	retries       uint
	retryInterval time.Duration
	logger        logger.Logger

	mu     sync.RWMutex
	byLane map[string]subscribers
	byHunt map[string]subscribers
	closed bool
	wg     sync.WaitGroup
}

// NewHub creates a Hub reading initial snapshots from source.
func NewHub(source SnapshotSource, opts ...Option) *Hub {
	h := &Hub{
		source:        source,
		retries:       defaultDeliveryRetries,
		retryInterval: defaultRetryInterval,
		logger:        logger.Nop(),
		byLane:        make(map[string]subscribers),
		byHunt:        make(map[string]subscribers),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SubscribeLane delivers every committed snapshot of one lane, starting
// with the current one.
func (h *Hub) SubscribeLane(ctx context.Context, laneID string, fn Handler) (*Subscription, error) {
	if fn == nil {
		return nil, ErrNilHandler
	}
	hunt, _, err := h.source.GetLaneWithHunt(ctx, laneID)
	if err != nil {
		return nil, fmt.Errorf("subscribe lane: %w", err)
	}
	s, err := h.register(laneID, false, fn)
	if err != nil {
		return nil, err
	}
	// Read again after registering: a commit racing the subscribe is then
	// either in the mailbox already or older than this snapshot.
	if err := h.refresh(ctx, s, hunt.ID, laneID); err != nil {
		s.Cancel()
		return nil, err
	}
	return s, nil
}

// SubscribeHunt delivers snapshots of every lane of a hunt. This is the
// organizer dashboard feed.
func (h *Hub) SubscribeHunt(ctx context.Context, huntID string, fn Handler) (*Subscription, error) {
	if fn == nil {
		return nil, ErrNilHandler
	}
	if _, err := h.source.GetHunt(ctx, huntID); err != nil {
		return nil, fmt.Errorf("subscribe hunt: %w", err)
	}
	s, err := h.register(huntID, true, fn)
	if err != nil {
		return nil, err
	}
	if err := h.refresh(ctx, s, huntID, ""); err != nil {
		s.Cancel()
		return nil, err
	}
	return s, nil
}

// Publish offers ev to every subscription interested in its lane or hunt.
// It never blocks on a subscriber.
func (h *Hub) Publish(_ context.Context, ev model.LaneEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrHubClosed
	}
	for s := range h.byLane[ev.Lane.ID] {
		s.offer(ev)
	}
	for s := range h.byHunt[ev.Hunt.ID] {
		s.offer(ev)
	}
	return nil
}

// Subscriptions returns the number of open subscriptions.
func (h *Hub) Subscriptions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.byLane {
		n += len(set)
	}
	for _, set := range h.byHunt {
		n += len(set)
	}
	return n
}

// Close cancels every subscription and waits for their goroutines.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*Subscription
	for _, set := range h.byLane {
		for s := range set {
			all = append(all, s)
		}
	}
	for _, set := range h.byHunt {
		for s := range set {
			all = append(all, s)
		}
	}
	h.mu.Unlock()
	for _, s := range all {
		s.Cancel()
	}
	h.wg.Wait()
}

// refresh offers the current snapshot of one lane, or of every lane of the
// hunt when laneID is empty. Lanes are read before the hunt: a start
// committed between the reads then pairs a started hunt with an older lane
// version, and the start event itself still arrives as newer.
func (h *Hub) refresh(ctx context.Context, s *Subscription, huntID, laneID string) error {
	if laneID != "" {
		hunt, lane, err := h.source.GetLaneWithHunt(ctx, laneID)
		if err != nil {
			return fmt.Errorf("initial snapshot: %w", err)
		}
		s.offer(model.LaneEvent{Kind: model.KindSnapshot, Hunt: hunt, Lane: lane})
		return nil
	}
	lanes, err := h.source.ListLanes(ctx, huntID)
	if err != nil {
		return fmt.Errorf("initial snapshot: %w", err)
	}
	hunt, err := h.source.GetHunt(ctx, huntID)
	if err != nil {
		return fmt.Errorf("initial snapshot: %w", err)
	}
	for _, lane := range lanes {
		s.offer(model.LaneEvent{Kind: model.KindSnapshot, Hunt: hunt, Lane: lane})
	}
	return nil
}

func (h *Hub) register(key string, hunt bool, fn Handler) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	s := newSubscription(h, key, hunt, fn)
	index := h.byLane
	if hunt {
		index = h.byHunt
	}
	if index[key] == nil {
		index[key] = make(subscribers)
	}
	index[key][s] = struct{}{}
	metrics.AddSubscriptions(1)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		s.run()
	}()
	return s, nil
}

func (h *Hub) unregister(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	index := h.byLane
	if s.hunt {
		index = h.byHunt
	}
	set, ok := index[s.key]
	if !ok {
		return
	}
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(index, s.key)
	}
	metrics.AddSubscriptions(-1)
}
