// Package editor applies structural edits to a lane's checkpoint sequence.
//
// Edits are pure: Apply mutates the lane copy it is handed and never touches
// storage. The repository runs Apply inside its per-lane critical section so
// the hunt's start state seen by the edit is the one the commit lands on.
package editor

import (
	"fmt"
	"slices"

	"github.com/okian/huntline/internal/domain/model"
)

// Edit is one structural change to a lane.
type Edit interface {
	// Op names the edit for logs and metrics.
	Op() string
	// Apply validates the edit against the hunt's start state and mutates l.
	Apply(h model.Hunt, l *model.Lane) error
}

// Append is the InsertAfter value meaning "at the end".
const Append = -2

// AddCheckpoint inserts a checkpoint after InsertAfter, or at the end when
// InsertAfter is Append. InsertAfter of -1 inserts at the front.
type AddCheckpoint struct {
	Checkpoint  model.Checkpoint
	InsertAfter int
}

func (AddCheckpoint) Op() string { return "add_checkpoint" }

func (e AddCheckpoint) Apply(h model.Hunt, l *model.Lane) error {
	if h.Started {
		return fmt.Errorf("add checkpoint to started hunt: %w", model.ErrInvalidOperation)
	}
	pos := len(l.Checkpoints)
	if e.InsertAfter != Append {
		if e.InsertAfter < -1 || e.InsertAfter >= len(l.Checkpoints) {
			return fmt.Errorf("insert after %d of %d: %w", e.InsertAfter, len(l.Checkpoints), model.ErrInvalidOperation)
		}
		pos = e.InsertAfter + 1
	}
	l.Checkpoints = slices.Insert(l.Checkpoints, pos, e.Checkpoint)
	// Keep targeting the same checkpoint once the lane has progress.
	if l.CurrentIndex > 0 && pos <= l.CurrentIndex {
		l.CurrentIndex++
	}
	return nil
}

// RemoveCheckpoint deletes the checkpoint at Index. Removed holds the deleted
// checkpoint after a successful Apply so its image can be released.
type RemoveCheckpoint struct {
	Index   int
	Removed model.Checkpoint
}

func (*RemoveCheckpoint) Op() string { return "remove_checkpoint" }

func (e *RemoveCheckpoint) Apply(h model.Hunt, l *model.Lane) error {
	if err := checkIndex(e.Index, l); err != nil {
		return err
	}
	if h.Started && e.Index >= l.CurrentIndex {
		return fmt.Errorf("remove unvisited checkpoint %d (lane at %d): %w", e.Index, l.CurrentIndex, model.ErrInvalidOperation)
	}
	e.Removed = l.Checkpoints[e.Index]
	l.Checkpoints = slices.Delete(l.Checkpoints, e.Index, e.Index+1)
	if e.Index < l.CurrentIndex {
		l.CurrentIndex--
	}
	return nil
}

// ReorderCheckpoint moves the checkpoint at From to To.
type ReorderCheckpoint struct {
	From int
	To   int
}

func (ReorderCheckpoint) Op() string { return "reorder_checkpoint" }

func (e ReorderCheckpoint) Apply(h model.Hunt, l *model.Lane) error {
	if h.Started {
		return fmt.Errorf("reorder checkpoints of started hunt: %w", model.ErrInvalidOperation)
	}
	if err := checkIndex(e.From, l); err != nil {
		return err
	}
	if err := checkIndex(e.To, l); err != nil {
		return err
	}
	cp := l.Checkpoints[e.From]
	l.Checkpoints = slices.Delete(l.Checkpoints, e.From, e.From+1)
	l.Checkpoints = slices.Insert(l.Checkpoints, e.To, cp)
	return nil
}

// RelabelCheckpoint replaces a checkpoint's label. Allowed at any time.
type RelabelCheckpoint struct {
	Index int
	Label string
}

func (RelabelCheckpoint) Op() string { return "relabel_checkpoint" }

func (e RelabelCheckpoint) Apply(_ model.Hunt, l *model.Lane) error {
	if err := checkIndex(e.Index, l); err != nil {
		return err
	}
	l.Checkpoints[e.Index].Label = e.Label
	return nil
}

func checkIndex(i int, l *model.Lane) error {
	if i < 0 || i >= len(l.Checkpoints) {
		return fmt.Errorf("checkpoint index %d of %d: %w", i, len(l.Checkpoints), model.ErrInvalidOperation)
	}
	return nil
}
