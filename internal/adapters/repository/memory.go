package repository

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/huntline/internal/domain/model"
)

// huntCell owns the published hunt snapshot and its lanes in position order.
type huntCell struct {
	snap  atomic.Pointer[model.Hunt]
	lanes []*laneCell
}

// laneCell serializes writers of one lane; readers only load snap.
type laneCell struct {
	mu   sync.Mutex
	snap atomic.Pointer[model.Lane]
	hunt *huntCell
}

// MemoryStore keeps immutable snapshots behind atomic pointers. Each lane
// has its own writer mutex so lanes never contend with one another.
type MemoryStore struct {
	mu          sync.RWMutex // guards the indexes, not the snapshots
	hunts       map[string]*huntCell
	lanes       map[string]*laneCell
	invitations map[string]string
	closed      atomic.Bool
}

// NewMemoryStore creates an empty in-memory backend.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		hunts:       make(map[string]*huntCell),
		lanes:       make(map[string]*laneCell),
		invitations: make(map[string]string),
	}
}

// InsertHunt implements Store.
func (s *MemoryStore) InsertHunt(ctx context.Context, h model.Hunt, lanes []model.Lane, invitations []model.Invitation) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.hunts[h.ID]; ok {
		return fmt.Errorf("hunt %s: %w", h.ID, ErrDuplicateID)
	}
	for _, l := range lanes {
		if _, ok := s.lanes[l.ID]; ok {
			return fmt.Errorf("lane %s: %w", l.ID, ErrDuplicateID)
		}
	}
	for _, inv := range invitations {
		if _, ok := s.invitations[inv.Reference]; ok {
			return fmt.Errorf("invitation %s: %w", inv.Reference, ErrDuplicateID)
		}
	}

	hc := &huntCell{lanes: make([]*laneCell, 0, len(lanes))}
	hs := h.Clone()
	hc.snap.Store(&hs)
	for _, l := range lanes {
		lc := &laneCell{hunt: hc}
		ls := l.Clone()
		lc.snap.Store(&ls)
		hc.lanes = append(hc.lanes, lc)
		s.lanes[l.ID] = lc
	}
	s.hunts[h.ID] = hc
	for _, inv := range invitations {
		s.invitations[inv.Reference] = inv.LaneID
	}
	return nil
}

// Hunt implements Store.
func (s *MemoryStore) Hunt(ctx context.Context, id string) (model.Hunt, error) {
	if err := s.ready(ctx); err != nil {
		return model.Hunt{}, err
	}
	s.mu.RLock()
	hc, ok := s.hunts[id]
	s.mu.RUnlock()
	if !ok {
		return model.Hunt{}, fmt.Errorf("hunt %s: %w", id, model.ErrNotFound)
	}
	return hc.snap.Load().Clone(), nil
}

// Lane implements Store.
func (s *MemoryStore) Lane(ctx context.Context, id string) (model.Lane, error) {
	if err := s.ready(ctx); err != nil {
		return model.Lane{}, err
	}
	lc, err := s.lane(id)
	if err != nil {
		return model.Lane{}, err
	}
	return lc.snap.Load().Clone(), nil
}

// Lanes implements Store.
func (s *MemoryStore) Lanes(ctx context.Context, huntID string) ([]model.Lane, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	hc, ok := s.hunts[huntID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("hunt %s: %w", huntID, model.ErrNotFound)
	}
	out := make([]model.Lane, 0, len(hc.lanes))
	for _, lc := range hc.lanes {
		out = append(out, lc.snap.Load().Clone())
	}
	return out, nil
}

// Invitation implements Store.
func (s *MemoryStore) Invitation(ctx context.Context, ref string) (model.Invitation, error) {
	if err := s.ready(ctx); err != nil {
		return model.Invitation{}, err
	}
	s.mu.RLock()
	laneID, ok := s.invitations[ref]
	s.mu.RUnlock()
	if !ok {
		return model.Invitation{}, fmt.Errorf("invitation %s: %w", ref, model.ErrNotFound)
	}
	return model.Invitation{Reference: ref, LaneID: laneID}, nil
}

// UpdateLane implements Store.
func (s *MemoryStore) UpdateLane(ctx context.Context, laneID string, fn Mutation) (model.Hunt, model.Lane, error) {
	if err := s.ready(ctx); err != nil {
		return model.Hunt{}, model.Lane{}, err
	}
	lc, err := s.lane(laneID)
	if err != nil {
		return model.Hunt{}, model.Lane{}, err
	}

	lc.mu.Lock()
	defer lc.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return model.Hunt{}, model.Lane{}, err
	}

	h := lc.hunt.snap.Load().Clone()
	next := lc.snap.Load().Clone()
	if err := fn(h, &next); err != nil {
		return model.Hunt{}, model.Lane{}, err
	}
	next.Version++
	lc.snap.Store(&next)
	return h, next.Clone(), nil
}

// StartHunt implements Store.
func (s *MemoryStore) StartHunt(ctx context.Context, huntID string, at time.Time) (model.Hunt, []model.Lane, error) {
	if err := s.ready(ctx); err != nil {
		return model.Hunt{}, nil, err
	}
	s.mu.RLock()
	hc, ok := s.hunts[huntID]
	s.mu.RUnlock()
	if !ok {
		return model.Hunt{}, nil, fmt.Errorf("hunt %s: %w", huntID, model.ErrNotFound)
	}

	// Position order keeps concurrent starts of the same hunt deadlock free.
	for _, lc := range hc.lanes {
		lc.mu.Lock()
	}
	defer func() {
		for _, lc := range hc.lanes {
			lc.mu.Unlock()
		}
	}()

	h := hc.snap.Load().Clone()
	if h.Started {
		return model.Hunt{}, nil, fmt.Errorf("hunt %s already started: %w", huntID, model.ErrInvalidOperation)
	}
	start := at
	h.Started = true
	h.StartTime = &start
	h.Version++
	published := h.Clone()
	hc.snap.Store(&published)

	lanes := make([]model.Lane, 0, len(hc.lanes))
	for _, lc := range hc.lanes {
		next := lc.snap.Load().Clone()
		next.Version++
		lc.snap.Store(&next)
		lanes = append(lanes, next.Clone())
	}
	return h, lanes, nil
}

// Counts implements Store.
func (s *MemoryStore) Counts(_ context.Context) (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.hunts), len(s.lanes)
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *MemoryStore) lane(id string) (*laneCell, error) {
	s.mu.RLock()
	lc, ok := s.lanes[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("lane %s: %w", id, model.ErrNotFound)
	}
	return lc, nil
}

func (s *MemoryStore) ready(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}
