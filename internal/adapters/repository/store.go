// Package repository is the authority over hunts, lanes and invitations.
//
// A Store backend holds the records; Repository wraps it with deadlines,
// retries and commit publication.
package repository

import (
	"context"
	"time"

	"github.com/okian/huntline/internal/domain/model"
)

// Mutation edits a private copy of a lane. The hunt is the snapshot current
// under the lane's writer lock. Returning an error discards the copy.
type Mutation func(h model.Hunt, l *model.Lane) error

// Store is a repository backend. Implementations serialize writers per lane,
// bump Lane.Version on every commit and hand out deep copies.
type Store interface {
	// InsertHunt persists a hunt together with its lanes and invitations.
	InsertHunt(ctx context.Context, h model.Hunt, lanes []model.Lane, invitations []model.Invitation) error

	Hunt(ctx context.Context, id string) (model.Hunt, error)
	Lane(ctx context.Context, id string) (model.Lane, error)
	// Lanes returns the hunt's lanes ordered by position.
	Lanes(ctx context.Context, huntID string) ([]model.Lane, error)
	Invitation(ctx context.Context, ref string) (model.Invitation, error)

	// UpdateLane applies fn under the lane's writer lock and commits the
	// result with Version+1.
	UpdateLane(ctx context.Context, laneID string, fn Mutation) (model.Hunt, model.Lane, error)

	// StartHunt flips Started once while holding every lane of the hunt and
	// bumps each lane's version. A second start fails with ErrInvalidOperation.
	StartHunt(ctx context.Context, huntID string, at time.Time) (model.Hunt, []model.Lane, error)

	// Counts returns the number of hunts and lanes stored.
	Counts(ctx context.Context) (hunts, lanes int)

	Close() error
}
