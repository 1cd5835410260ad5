// Package service wires the hunt engine together and implements the
// dependencies required by the HTTP and websocket surfaces.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/okian/huntline/internal/adapters/blob"
	"github.com/okian/huntline/internal/adapters/broadcast"
	eventqueue "github.com/okian/huntline/internal/adapters/mq/queue"
	workerpool "github.com/okian/huntline/internal/adapters/mq/worker"
	"github.com/okian/huntline/internal/adapters/repository"
	"github.com/okian/huntline/internal/domain/editor"
	"github.com/okian/huntline/internal/domain/invitation"
	"github.com/okian/huntline/internal/domain/model"
	"github.com/okian/huntline/internal/domain/progression"
	"github.com/okian/huntline/internal/domain/token"
	"github.com/okian/huntline/internal/domain/types"
	"github.com/okian/huntline/pkg/logger"
	"github.com/okian/huntline/pkg/metrics"
)

// ErrNotStarted is returned by calls made before Start.
var ErrNotStarted = errors.New("service not started")

// Service owns every engine component for the lifetime of the process.
type Service struct {
	mu sync.RWMutex

	repo    *repository.Repository
	invites *invitation.Issuer
	editor  *editor.Editor
	machine *progression.Machine
	hub     *broadcast.Hub
	queue   *eventqueue.InMemoryQueue
	pool    *workerpool.Pool
	images  *blob.Store

	sqlitePath      string
	tokenSecret     string
	publicBaseURL   string
	opTimeout       time.Duration
	storeRetries    int
	queueSize       int
	dispatchWorkers int
	deliveryRetries int
	imageDir        string
	maxLanes        int

	started   bool
	startedAt time.Time
	logger    logger.Logger
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		publicBaseURL:   "http://localhost:9080",
		opTimeout:       5 * time.Second,
		storeRetries:    3,
		queueSize:       4096,
		dispatchWorkers: runtime.NumCPU(),
		deliveryRetries: 5,
		maxLanes:        64,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the components and launches the dispatch workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger.Info(ctx, "starting hunt service...")

	store, backend, err := s.openStore()
	if err != nil {
		return err
	}

	tokens := token.Random()
	if s.tokenSecret != "" {
		if tokens, err = token.New([]byte(s.tokenSecret)); err != nil {
			_ = store.Close()
			return fmt.Errorf("token issuer: %w", err)
		}
	} else {
		s.logger.Warn(ctx, "no token secret configured; using a random per-process key")
	}

	if s.imageDir == "" {
		s.imageDir, err = os.MkdirTemp("", "huntline-images-")
		if err != nil {
			_ = store.Close()
			return fmt.Errorf("image dir: %w", err)
		}
	}
	if s.images, err = blob.NewStore(s.imageDir); err != nil {
		_ = store.Close()
		return fmt.Errorf("image store: %w", err)
	}

	// The issuer resolves through the repository, which is built right after.
	s.invites = invitation.NewIssuer(invitation.LookupFunc(func(ctx context.Context, ref string) (model.Invitation, error) {
		return s.repo.Invitation(ctx, ref)
	}), invitation.WithBaseURL(s.publicBaseURL))

	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.repo = repository.New(store, s.invites,
		repository.WithOpTimeout(s.opTimeout),
		repository.WithRetries(s.storeRetries),
		repository.WithMaxLanes(s.maxLanes),
		repository.WithPublisher(&commitPublisher{s: s}),
		repository.WithLogger(s.logger.Named("repository")),
	)
	s.hub = broadcast.NewHub(s.repo,
		broadcast.WithDeliveryRetries(s.deliveryRetries),
		broadcast.WithLogger(s.logger.Named("broadcast")),
	)
	s.editor = editor.New(s.repo, tokens,
		editor.WithImageDeleter(s.images),
		editor.WithLogger(s.logger.Named("editor")),
	)
	s.machine = progression.New(s.repo, progression.WithLogger(s.logger.Named("progression")))

	// Workers outlive the start context; Stop ends them.
	s.pool = workerpool.NewPool(s.dispatchWorkers, s.queue, s.hub,
		workerpool.WithLogger(s.logger.Named("dispatch")))
	s.pool.Start(context.WithoutCancel(ctx))

	s.started = true
	s.startedAt = time.Now()
	s.logger.Info(ctx, "hunt service started",
		logger.String("store", backend),
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.String("imageDir", s.imageDir),
	)
	return nil
}

// Stop drains pending broadcasts and releases every component.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.logger.Info(ctx, "stopping hunt service...")

	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "dispatch pool shutdown", logger.Error(err))
	}
	s.hub.Close()
	if err := s.repo.Close(); err != nil {
		s.logger.Warn(ctx, "close repository", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "hunt service stopped")
}

func (s *Service) openStore() (repository.Store, string, error) {
	if s.sqlitePath == "" {
		return repository.NewMemoryStore(), "memory", nil
	}
	store, err := repository.OpenSQLite(s.sqlitePath)
	if err != nil {
		return nil, "", fmt.Errorf("open store: %w", err)
	}
	return store, "sqlite", nil
}

// commitPublisher enqueues lane events for the dispatch workers. When the
// queue rejects an event it is handed to the hub directly so no commit goes
// unannounced.
type commitPublisher struct {
	s *Service
}

func (p *commitPublisher) Publish(ctx context.Context, ev model.LaneEvent) error {
	err := p.s.queue.Enqueue(ctx, ev)
	if err == nil {
		return nil
	}
	p.s.logger.Debug(ctx, "commit queue rejected event; publishing inline",
		logger.String("lane", ev.Lane.ID),
		logger.Error(err))
	return p.s.hub.Publish(ctx, ev)
}

func (s *Service) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

func (s *Service) organizerLane(h model.Hunt, l model.Lane) types.Lane {
	return types.FromLane(h, l, types.OrganizerView, s.invites.Link)
}

// CreateHunt creates a hunt and returns the organizer view of its lanes.
func (s *Service) CreateHunt(ctx context.Context, name string, laneCount int) (types.HuntCreated, error) {
	if err := s.ready(); err != nil {
		return types.HuntCreated{}, err
	}
	h, lanes, err := s.repo.CreateHunt(ctx, name, laneCount)
	if err != nil {
		return types.HuntCreated{}, err
	}
	out := types.HuntCreated{Hunt: types.FromHunt(h), Lanes: make([]types.Lane, 0, len(lanes))}
	for _, l := range lanes {
		out.Lanes = append(out.Lanes, s.organizerLane(h, l))
	}
	return out, nil
}

// GetHunt returns a hunt.
func (s *Service) GetHunt(ctx context.Context, id string) (types.Hunt, error) {
	if err := s.ready(); err != nil {
		return types.Hunt{}, err
	}
	h, err := s.repo.GetHunt(ctx, id)
	if err != nil {
		return types.Hunt{}, err
	}
	return types.FromHunt(h), nil
}

// ListLanes returns the organizer dashboard of a hunt.
func (s *Service) ListLanes(ctx context.Context, huntID string) ([]types.Lane, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	h, err := s.repo.GetHunt(ctx, huntID)
	if err != nil {
		return nil, err
	}
	lanes, err := s.repo.ListLanes(ctx, huntID)
	if err != nil {
		return nil, err
	}
	out := make([]types.Lane, 0, len(lanes))
	for _, l := range lanes {
		out = append(out, s.organizerLane(h, l))
	}
	return out, nil
}

// StartHunt starts a hunt.
func (s *Service) StartHunt(ctx context.Context, id string) (types.Hunt, error) {
	if err := s.ready(); err != nil {
		return types.Hunt{}, err
	}
	h, err := s.repo.StartHunt(ctx, id)
	if err != nil {
		return types.Hunt{}, err
	}
	return types.FromHunt(h), nil
}

// GetLane returns the participant view of a lane.
func (s *Service) GetLane(ctx context.Context, id string) (types.Lane, error) {
	if err := s.ready(); err != nil {
		return types.Lane{}, err
	}
	h, l, err := s.repo.GetLaneWithHunt(ctx, id)
	if err != nil {
		return types.Lane{}, err
	}
	return types.FromLane(h, l, types.ParticipantView, nil), nil
}

// AddCheckpoint inserts a checkpoint; a nil insertAfter appends.
func (s *Service) AddCheckpoint(ctx context.Context, laneID, imageRef, label string, insertAfter *int) (types.Lane, error) {
	after := editor.Append
	if insertAfter != nil {
		after = *insertAfter
	}
	return s.edited(ctx, func() (model.Lane, error) {
		return s.editor.AddCheckpoint(ctx, laneID, imageRef, label, after)
	})
}

// RemoveCheckpoint deletes a checkpoint.
func (s *Service) RemoveCheckpoint(ctx context.Context, laneID string, index int) (types.Lane, error) {
	return s.edited(ctx, func() (model.Lane, error) {
		return s.editor.RemoveCheckpoint(ctx, laneID, index)
	})
}

// ReorderCheckpoint moves a checkpoint.
func (s *Service) ReorderCheckpoint(ctx context.Context, laneID string, from, to int) (types.Lane, error) {
	return s.edited(ctx, func() (model.Lane, error) {
		return s.editor.ReorderCheckpoint(ctx, laneID, from, to)
	})
}

// RelabelCheckpoint changes a checkpoint label.
func (s *Service) RelabelCheckpoint(ctx context.Context, laneID string, index int, label string) (types.Lane, error) {
	return s.edited(ctx, func() (model.Lane, error) {
		return s.editor.RelabelCheckpoint(ctx, laneID, index, label)
	})
}

func (s *Service) edited(ctx context.Context, edit func() (model.Lane, error)) (types.Lane, error) {
	if err := s.ready(); err != nil {
		return types.Lane{}, err
	}
	l, err := edit()
	if err != nil {
		return types.Lane{}, err
	}
	h, err := s.repo.GetHunt(ctx, l.HuntID)
	if err != nil {
		return types.Lane{}, err
	}
	return s.organizerLane(h, l), nil
}

// SubmitScan evaluates a scanned token.
func (s *Service) SubmitScan(ctx context.Context, laneID, scanned string) (types.ScanResult, error) {
	if err := s.ready(); err != nil {
		return types.ScanResult{}, err
	}
	res, err := s.machine.SubmitScan(ctx, laneID, scanned)
	if err != nil {
		return types.ScanResult{}, err
	}
	return types.ScanResult{
		Accepted: res.Accepted,
		NewIndex: res.NewIndex,
		State:    string(res.State),
		Clue:     res.Lane.Clue(),
	}, nil
}

// Landing describes the lane an invitation leads to.
func (s *Service) Landing(ctx context.Context, ref string) (types.Landing, error) {
	if err := s.ready(); err != nil {
		return types.Landing{}, err
	}
	laneID, err := s.invites.Resolve(ctx, ref)
	if err != nil {
		return types.Landing{}, err
	}
	h, l, err := s.repo.GetLaneWithHunt(ctx, laneID)
	if err != nil {
		return types.Landing{}, err
	}
	return types.Landing{
		HuntID:       h.ID,
		HuntName:     h.Name,
		LaneID:       l.ID,
		LanePosition: l.Position,
		Started:      h.Started,
		Participants: len(l.Participants),
	}, nil
}

// Join adds a named participant to the lane behind an invitation.
func (s *Service) Join(ctx context.Context, ref, name string) (types.Joined, error) {
	if err := s.ready(); err != nil {
		return types.Joined{}, err
	}
	laneID, err := s.invites.Resolve(ctx, ref)
	if err != nil {
		return types.Joined{}, err
	}
	l, err := s.repo.Join(ctx, laneID, name)
	if err != nil {
		return types.Joined{}, err
	}
	h, err := s.repo.GetHunt(ctx, l.HuntID)
	if err != nil {
		return types.Joined{}, err
	}
	return types.Joined{
		Lane:             types.FromLane(h, l, types.ParticipantView, nil),
		ParticipantIndex: len(l.Participants) - 1,
	}, nil
}

// MarkReady flags a participant as ready.
func (s *Service) MarkReady(ctx context.Context, laneID string, index int) (types.Lane, error) {
	if err := s.ready(); err != nil {
		return types.Lane{}, err
	}
	l, err := s.repo.MarkReady(ctx, laneID, index)
	if err != nil {
		return types.Lane{}, err
	}
	h, err := s.repo.GetHunt(ctx, l.HuntID)
	if err != nil {
		return types.Lane{}, err
	}
	return types.FromLane(h, l, types.ParticipantView, nil), nil
}

// PutImage stores an uploaded checkpoint image.
func (s *Service) PutImage(ctx context.Context, r io.Reader) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	return s.images.Put(ctx, r)
}

// OpenImage returns a stored checkpoint image.
func (s *Service) OpenImage(ctx context.Context, ref string) (io.ReadCloser, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.images.Open(ctx, ref)
}

// SubscribeLane streams participant views of one lane until the returned
// cancel function is called.
func (s *Service) SubscribeLane(ctx context.Context, laneID string, fn func(context.Context, types.Lane) error) (func(), error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	sub, err := s.hub.SubscribeLane(ctx, laneID, func(ctx context.Context, ev model.LaneEvent) error {
		return fn(ctx, types.FromLane(ev.Hunt, ev.Lane, types.ParticipantView, nil))
	})
	if err != nil {
		return nil, err
	}
	return sub.Cancel, nil
}

// SubscribeHunt streams organizer views of every lane of a hunt.
func (s *Service) SubscribeHunt(ctx context.Context, huntID string, fn func(context.Context, types.Lane) error) (func(), error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	sub, err := s.hub.SubscribeHunt(ctx, huntID, func(ctx context.Context, ev model.LaneEvent) error {
		return fn(ctx, s.organizerLane(ev.Hunt, ev.Lane))
	})
	if err != nil {
		return nil, err
	}
	return sub.Cancel, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":         s.started,
		"dispatchWorkers": s.dispatchWorkers,
		"queueCapacity":   s.queueSize,
	}
	if !s.started {
		return stats
	}

	ctx := context.Background()
	hunts, lanes := s.repo.Counts(ctx)
	queueLen := s.queue.Len()
	stats["hunts"] = hunts
	stats["lanes"] = lanes
	stats["queueLength"] = queueLen
	stats["subscriptions"] = s.hub.Subscriptions()
	stats["uptimeSeconds"] = int64(time.Since(s.startedAt).Seconds())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	metrics.UpdateQueueSize(queueLen)
	metrics.UpdateHuntCounts(hunts, lanes)
	metrics.UpdateSystemMemoryUsage(mem.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
	if mem.NumGC > 0 {
		metrics.RecordSystemGCPauseTime(float64(mem.PauseNs[(mem.NumGC+255)%256]) / 1e6)
	}
	return stats
}
