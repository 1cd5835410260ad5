package editor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/okian/huntline/internal/domain/model"
	"github.com/okian/huntline/pkg/logger"
	"github.com/okian/huntline/pkg/metrics"
)

// Repository is the slice of the hunt repository the editor commits through.
type Repository interface {
	GetLane(ctx context.Context, laneID string) (model.Lane, error)
	ApplyLaneEdit(ctx context.Context, laneID string, e Edit) (model.Lane, error)
}

// TokenIssuer mints the scan token for a new checkpoint.
type TokenIssuer interface {
	Issue(huntID, checkpointID string) (string, error)
}

// ImageDeleter releases images of removed checkpoints.
type ImageDeleter interface {
	Delete(ctx context.Context, ref string) error
}

// Editor is the organizer-facing entry point for lane structure changes.
type Editor struct {
	repo   Repository
	tokens TokenIssuer
	images ImageDeleter
	logger logger.Logger
}

// Option applies a configuration option to the Editor.
type Option func(*Editor)

// WithImageDeleter releases removed checkpoint images through d.
func WithImageDeleter(d ImageDeleter) Option {
	return func(e *Editor) {
		if d != nil {
			e.images = d
		}
	}
}

// WithLogger sets a custom logger for the editor.
func WithLogger(l logger.Logger) Option {
	return func(e *Editor) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Editor.
func New(repo Repository, tokens TokenIssuer, opts ...Option) *Editor {
	e := &Editor{repo: repo, tokens: tokens, logger: logger.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddCheckpoint inserts a new checkpoint with a freshly issued token. Pass
// Append as insertAfter to add at the end.
func (e *Editor) AddCheckpoint(ctx context.Context, laneID, imageRef, label string, insertAfter int) (model.Lane, error) {
	if strings.TrimSpace(imageRef) == "" {
		return model.Lane{}, fmt.Errorf("add checkpoint: missing image ref: %w", model.ErrInvalidInput)
	}
	lane, err := e.repo.GetLane(ctx, laneID)
	if err != nil {
		return model.Lane{}, fmt.Errorf("add checkpoint: %w", err)
	}
	cp := model.Checkpoint{ID: uuid.NewString(), ImageRef: imageRef, Label: label}
	if cp.Token, err = e.tokens.Issue(lane.HuntID, cp.ID); err != nil {
		return model.Lane{}, fmt.Errorf("add checkpoint: %w", err)
	}
	return e.apply(ctx, laneID, AddCheckpoint{Checkpoint: cp, InsertAfter: insertAfter})
}

// RemoveCheckpoint deletes a checkpoint and then releases its image.
func (e *Editor) RemoveCheckpoint(ctx context.Context, laneID string, index int) (model.Lane, error) {
	edit := &RemoveCheckpoint{Index: index}
	lane, err := e.apply(ctx, laneID, edit)
	if err != nil {
		return model.Lane{}, err
	}
	if e.images != nil && edit.Removed.ImageRef != "" {
		if err := e.images.Delete(ctx, edit.Removed.ImageRef); err != nil {
			e.logger.Warn(ctx, "release checkpoint image failed",
				logger.String("lane", laneID),
				logger.String("image", edit.Removed.ImageRef),
				logger.Error(err),
			)
		}
	}
	return lane, nil
}

// ReorderCheckpoint moves a checkpoint before the hunt starts.
func (e *Editor) ReorderCheckpoint(ctx context.Context, laneID string, from, to int) (model.Lane, error) {
	return e.apply(ctx, laneID, ReorderCheckpoint{From: from, To: to})
}

// RelabelCheckpoint changes a checkpoint's label.
func (e *Editor) RelabelCheckpoint(ctx context.Context, laneID string, index int, label string) (model.Lane, error) {
	return e.apply(ctx, laneID, RelabelCheckpoint{Index: index, Label: label})
}

func (e *Editor) apply(ctx context.Context, laneID string, edit Edit) (model.Lane, error) {
	lane, err := e.repo.ApplyLaneEdit(ctx, laneID, edit)
	if err != nil {
		metrics.RecordEdit(edit.Op(), editResult(err))
		e.logger.Debug(ctx, "lane edit rejected",
			logger.String("lane", laneID),
			logger.String("op", edit.Op()),
			logger.Error(err),
		)
		return model.Lane{}, fmt.Errorf("%s: %w", edit.Op(), err)
	}
	metrics.RecordEdit(edit.Op(), "ok")
	e.logger.Info(ctx, "lane edited",
		logger.String("lane", laneID),
		logger.String("op", edit.Op()),
		logger.Int("checkpoints", len(lane.Checkpoints)),
		logger.Int("currentIndex", lane.CurrentIndex),
	)
	return lane, nil
}

func editResult(err error) string {
	switch {
	case errors.Is(err, model.ErrInvalidOperation):
		return "invalid_operation"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}
