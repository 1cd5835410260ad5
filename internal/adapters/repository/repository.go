package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/okian/huntline/internal/domain/editor"
	"github.com/okian/huntline/internal/domain/model"
	"github.com/okian/huntline/pkg/logger"
	"github.com/okian/huntline/pkg/metrics"
)

// Repository defaults.
const (
	defaultOpTimeout     = 5 * time.Second
	defaultRetries       = 3
	defaultRetryInterval = 20 * time.Millisecond
	defaultMaxLanes      = 64
)

// InvitationIssuer mints the join reference of a new lane.
type InvitationIssuer interface {
	Issue(laneID string) model.Invitation
}

// Publisher receives every committed lane change.
type Publisher interface {
	Publish(ctx context.Context, ev model.LaneEvent) error
}

// Repository is the single authority over hunt state. Every call is bounded
// by the op timeout and transient backend failures are retried.
type Repository struct {
	store         Store
	invitations   InvitationIssuer
	publisher     Publisher
	timeout       time.Duration
	retries       uint
	retryInterval time.Duration
	maxLanes      int
	logger        logger.Logger
	now           func() time.Time
}

// New creates a Repository over store.
func New(store Store, invitations InvitationIssuer, opts ...Option) *Repository {
	r := &Repository{
		store:         store,
		invitations:   invitations,
		timeout:       defaultOpTimeout,
		retries:       defaultRetries,
		retryInterval: defaultRetryInterval,
		maxLanes:      defaultMaxLanes,
		logger:        logger.Nop(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateHunt creates a hunt with laneCount empty lanes, each with its own
// invitation, in one commit.
func (r *Repository) CreateHunt(ctx context.Context, name string, laneCount int) (model.Hunt, []model.Lane, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Hunt{}, nil, fmt.Errorf("create hunt: empty name: %w", model.ErrInvalidInput)
	}
	if laneCount < 1 || laneCount > r.maxLanes {
		return model.Hunt{}, nil, fmt.Errorf("create hunt: lane count %d outside [1, %d]: %w", laneCount, r.maxLanes, model.ErrInvalidInput)
	}

	h := model.Hunt{
		ID:        uuid.NewString(),
		Name:      name,
		LaneCount: laneCount,
		CreatedAt: r.clock(),
		Version:   1,
	}
	lanes := make([]model.Lane, 0, laneCount)
	invs := make([]model.Invitation, 0, laneCount)
	for i := range laneCount {
		l := model.Lane{
			ID:           uuid.NewString(),
			HuntID:       h.ID,
			Position:     i + 1,
			Checkpoints:  []model.Checkpoint{},
			Participants: []model.Participant{},
			Version:      1,
		}
		inv := r.invitations.Issue(l.ID)
		l.Invitation = inv.Reference
		lanes = append(lanes, l)
		invs = append(invs, inv)
	}

	_, err := run(ctx, r, "create_hunt", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.store.InsertHunt(ctx, h, lanes, invs)
	})
	if err != nil {
		return model.Hunt{}, nil, fmt.Errorf("create hunt: %w", err)
	}
	metrics.RecordCommit("create_hunt")
	r.updateCounts(ctx)
	r.logger.Info(ctx, "hunt created",
		logger.String("hunt_id", h.ID),
		logger.Int("lanes", laneCount))
	return h, lanes, nil
}

// GetHunt returns the hunt snapshot.
func (r *Repository) GetHunt(ctx context.Context, id string) (model.Hunt, error) {
	return run(ctx, r, "get_hunt", func(ctx context.Context) (model.Hunt, error) {
		return r.store.Hunt(ctx, id)
	})
}

// GetLane returns the lane snapshot.
func (r *Repository) GetLane(ctx context.Context, id string) (model.Lane, error) {
	return run(ctx, r, "get_lane", func(ctx context.Context) (model.Lane, error) {
		return r.store.Lane(ctx, id)
	})
}

// GetLaneWithHunt returns the lane and the hunt that owns it.
func (r *Repository) GetLaneWithHunt(ctx context.Context, id string) (model.Hunt, model.Lane, error) {
	l, err := r.GetLane(ctx, id)
	if err != nil {
		return model.Hunt{}, model.Lane{}, err
	}
	h, err := r.GetHunt(ctx, l.HuntID)
	if err != nil {
		return model.Hunt{}, model.Lane{}, err
	}
	return h, l, nil
}

// ListLanes returns the hunt's lanes in position order.
func (r *Repository) ListLanes(ctx context.Context, huntID string) ([]model.Lane, error) {
	return run(ctx, r, "list_lanes", func(ctx context.Context) ([]model.Lane, error) {
		return r.store.Lanes(ctx, huntID)
	})
}

// Invitation looks up a stored reference.
func (r *Repository) Invitation(ctx context.Context, ref string) (model.Invitation, error) {
	return run(ctx, r, "get_invitation", func(ctx context.Context) (model.Invitation, error) {
		return r.store.Invitation(ctx, ref)
	})
}

// ApplyLaneEdit commits a structural edit.
func (r *Repository) ApplyLaneEdit(ctx context.Context, laneID string, e editor.Edit) (model.Lane, error) {
	return r.commit(ctx, model.KindEdit, laneID, e.Apply)
}

// ApplyProgression advances the lane from fromIndex to toIndex. It fails
// with model.ErrConflict when the stored index is no longer fromIndex or the
// checkpoint at fromIndex is no longer checkpointID. The index alone can
// return to an old value after a visited checkpoint is removed.
func (r *Repository) ApplyProgression(ctx context.Context, laneID string, fromIndex, toIndex int, checkpointID string) (model.Lane, error) {
	return r.commit(ctx, model.KindProgression, laneID, func(h model.Hunt, l *model.Lane) error {
		switch {
		case !h.Started:
			return model.ErrHuntNotStarted
		case l.CurrentIndex != fromIndex:
			return fmt.Errorf("lane at %d, expected %d: %w", l.CurrentIndex, fromIndex, model.ErrConflict)
		case toIndex != fromIndex+1 || toIndex > len(l.Checkpoints):
			return fmt.Errorf("progression %d -> %d: %w", fromIndex, toIndex, model.ErrInvalidOperation)
		case l.Checkpoints[fromIndex].ID != checkpointID:
			return fmt.Errorf("checkpoint %d is %s, expected %s: %w", fromIndex, l.Checkpoints[fromIndex].ID, checkpointID, model.ErrConflict)
		}
		l.CurrentIndex = toIndex
		return nil
	})
}

// Join appends a participant to the lane. Joining after start is allowed.
func (r *Repository) Join(ctx context.Context, laneID, name string) (model.Lane, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Lane{}, fmt.Errorf("join: empty name: %w", model.ErrInvalidInput)
	}
	joinedAt := r.clock()
	return r.commit(ctx, model.KindJoin, laneID, func(_ model.Hunt, l *model.Lane) error {
		l.Participants = append(l.Participants, model.Participant{Name: name, JoinedAt: joinedAt})
		return nil
	})
}

// MarkReady flags the participant at index as ready.
func (r *Repository) MarkReady(ctx context.Context, laneID string, index int) (model.Lane, error) {
	return r.commit(ctx, model.KindReady, laneID, func(_ model.Hunt, l *model.Lane) error {
		if index < 0 || index >= len(l.Participants) {
			return fmt.Errorf("participant %d of %d: %w", index, len(l.Participants), model.ErrInvalidInput)
		}
		l.Participants[index].Ready = true
		return nil
	})
}

// StartHunt starts the hunt. Every lane's version is bumped and published.
func (r *Repository) StartHunt(ctx context.Context, huntID string) (model.Hunt, error) {
	type started struct {
		hunt  model.Hunt
		lanes []model.Lane
	}
	at := r.clock()
	res, err := run(ctx, r, "start_hunt", func(ctx context.Context) (started, error) {
		h, lanes, err := r.store.StartHunt(ctx, huntID, at)
		return started{hunt: h, lanes: lanes}, err
	})
	if err != nil {
		return model.Hunt{}, fmt.Errorf("start hunt: %w", err)
	}
	metrics.RecordCommit(model.KindStart)
	for _, l := range res.lanes {
		r.publish(ctx, model.LaneEvent{Kind: model.KindStart, Hunt: res.hunt, Lane: l})
	}
	r.logger.Info(ctx, "hunt started", logger.String("hunt_id", huntID))
	return res.hunt, nil
}

// Counts returns the number of stored hunts and lanes.
func (r *Repository) Counts(ctx context.Context) (int, int) {
	return r.store.Counts(ctx)
}

// Close releases the backend.
func (r *Repository) Close() error {
	return r.store.Close()
}

func (r *Repository) commit(ctx context.Context, kind, laneID string, fn Mutation) (model.Lane, error) {
	type committed struct {
		hunt model.Hunt
		lane model.Lane
	}
	res, err := run(ctx, r, kind, func(ctx context.Context) (committed, error) {
		h, l, err := r.store.UpdateLane(ctx, laneID, fn)
		return committed{hunt: h, lane: l}, err
	})
	if err != nil {
		return model.Lane{}, err
	}
	metrics.RecordCommit(kind)
	r.publish(ctx, model.LaneEvent{Kind: kind, Hunt: res.hunt, Lane: res.lane})
	return res.lane.Clone(), nil
}

func (r *Repository) publish(ctx context.Context, ev model.LaneEvent) {
	if r.publisher == nil {
		return
	}
	// The commit already happened; a cancelled caller must not suppress it.
	if err := r.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		r.logger.Warn(ctx, "publish lane event failed",
			logger.String("lane_id", ev.Lane.ID),
			logger.Int64("version", ev.Lane.Version),
			logger.Error(err))
	}
}

func (r *Repository) updateCounts(ctx context.Context) {
	hunts, lanes := r.store.Counts(ctx)
	metrics.UpdateHuntCounts(hunts, lanes)
}

func (r *Repository) clock() time.Time {
	return r.now().UTC().Truncate(time.Millisecond)
}

// run executes fn under the op timeout, retrying transient failures.
func run[T any](ctx context.Context, r *Repository, op string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryLatency(op, float64(time.Since(start).Microseconds())/1000)
	}()

	tctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.retryInterval
	bo.MaxInterval = 10 * r.retryInterval

	res, err := backoff.Retry(tctx, func() (T, error) {
		v, err := fn(tctx)
		if err == nil {
			return v, nil
		}
		if permanent(tctx, err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(r.retries),
		backoff.WithNotify(func(err error, d time.Duration) {
			metrics.RecordRepositoryRetry()
			r.logger.Debug(tctx, "retrying repository call",
				logger.String("op", op),
				logger.Duration("backoff", d),
				logger.Error(err))
		}),
	)
	if err == nil {
		return res, nil
	}

	var zero T
	switch {
	case ctx.Err() != nil:
		return zero, ctx.Err()
	case errors.Is(tctx.Err(), context.DeadlineExceeded):
		metrics.RecordErrorByComponent("repository", "timeout")
		return zero, fmt.Errorf("%s: %w", op, model.ErrTimeout)
	case !model.IsDomain(err):
		metrics.RecordErrorByComponent("repository", "backend")
	}
	return zero, err
}

// permanent reports whether err must not be retried.
func permanent(ctx context.Context, err error) bool {
	return model.IsDomain(err) ||
		errors.Is(err, ErrClosed) ||
		errors.Is(err, ErrDuplicateID) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		ctx.Err() != nil
}
