// Package progression decides whether a scanned token advances a lane.
//
// The machine never writes directly: it reads a snapshot, validates the
// scan against the lane's current checkpoint and asks the repository for a
// compare-and-swap from the observed index and checkpoint. A lost swap means another
// device advanced first, so the scan is evaluated again from scratch.
package progression

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/huntline/internal/domain/model"
	"github.com/okian/huntline/internal/domain/token"
	"github.com/okian/huntline/pkg/logger"
	"github.com/okian/huntline/pkg/metrics"
)

// Repository is the slice of the hunt repository scans go through.
type Repository interface {
	GetLaneWithHunt(ctx context.Context, laneID string) (model.Hunt, model.Lane, error)
	ApplyProgression(ctx context.Context, laneID string, fromIndex, toIndex int, checkpointID string) (model.Lane, error)
}

// Result is the outcome of a scan that was evaluated.
type Result struct {
	Accepted bool
	NewIndex int
	State    model.LaneState
	Lane     model.Lane
}

// Machine evaluates scans.
type Machine struct {
	repo   Repository
	logger logger.Logger
}

// Option applies a configuration option to the Machine.
type Option func(*Machine)

// WithLogger sets a custom logger for the machine.
func WithLogger(l logger.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates a Machine.
func New(repo Repository, opts ...Option) *Machine {
	m := &Machine{repo: repo, logger: logger.Nop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SubmitScan evaluates scanned against the lane's current checkpoint.
//
// It fails with model.ErrHuntNotStarted before the hunt starts and with
// model.ErrAlreadyComplete once the lane reached victory. A wrong token is
// not an error: the result has Accepted false and the index is unchanged.
// A scan that loses a race sees the lane already past that checkpoint and
// is reported as not accepted, even if the winner completed the lane.
func (m *Machine) SubmitScan(ctx context.Context, laneID, scanned string) (Result, error) {
	for raced := false; ; raced = true {
		h, lane, err := m.repo.GetLaneWithHunt(ctx, laneID)
		if err != nil {
			metrics.RecordScan("error")
			return Result{}, fmt.Errorf("submit scan: %w", err)
		}
		if !h.Started {
			metrics.RecordScan("not_started")
			return Result{}, fmt.Errorf("submit scan: %w", model.ErrHuntNotStarted)
		}
		if lane.Complete() {
			if raced {
				metrics.RecordScan("rejected")
				return result(false, h, lane), nil
			}
			metrics.RecordScan("complete")
			return Result{}, fmt.Errorf("submit scan: %w", model.ErrAlreadyComplete)
		}

		from := lane.CurrentIndex
		if !token.Equal(scanned, lane.Checkpoints[from].Token) {
			metrics.RecordScan("rejected")
			m.logger.Debug(ctx, "scan rejected",
				logger.String("lane", laneID),
				logger.Int("currentIndex", from))
			return result(false, h, lane), nil
		}

		next, err := m.repo.ApplyProgression(ctx, laneID, from, from+1, lane.Checkpoints[from].ID)
		switch {
		case err == nil:
			metrics.RecordScan("accepted")
			m.logger.Info(ctx, "lane advanced",
				logger.String("lane", laneID),
				logger.Int("currentIndex", next.CurrentIndex),
				logger.Int("checkpoints", len(next.Checkpoints)))
			return result(true, h, next), nil
		case errors.Is(err, model.ErrConflict):
			metrics.RecordScanConflict()
			if err := ctx.Err(); err != nil {
				return Result{}, fmt.Errorf("submit scan: %w", err)
			}
		default:
			metrics.RecordScan("error")
			return Result{}, fmt.Errorf("submit scan: %w", err)
		}
	}
}

func result(accepted bool, h model.Hunt, l model.Lane) Result {
	return Result{
		Accepted: accepted,
		NewIndex: l.CurrentIndex,
		State:    l.State(h),
		Lane:     l,
	}
}
