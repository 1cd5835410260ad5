// Package model contains the hunt domain records passed between layers.
//
// Values returned by the repository are snapshots: callers may read them
// freely but never write back through them. Use Clone before handing a
// record to code that mutates it.
package model

import "time"

// StartLabel is the clue shown before the first checkpoint is scanned.
const StartLabel = "Start"

// LaneState is the derived progression state of a lane.
type LaneState string

const (
	StateNotStarted LaneState = "NOT_STARTED"
	StateInProgress LaneState = "IN_PROGRESS"
	StateComplete   LaneState = "COMPLETE"
)

// Hunt is the top-level event owning one or more lanes.
type Hunt struct {
	ID        string
	Name      string
	LaneCount int
	Started   bool
	StartTime *time.Time
	CreatedAt time.Time
	Version   int64
}

// Checkpoint is one physical stop of a lane.
type Checkpoint struct {
	ID       string
	ImageRef string
	Label    string
	Token    string
}

// Participant is a named member of a lane's team.
type Participant struct {
	Name     string
	JoinedAt time.Time
	Ready    bool
}

// Lane is one team's ordered checkpoint sequence and its shared progress.
type Lane struct {
	ID           string
	HuntID       string
	Position     int
	Checkpoints  []Checkpoint
	CurrentIndex int
	Participants []Participant
	Invitation   string
	Version      int64
}

// Invitation maps a join reference to the lane it admits into.
type Invitation struct {
	Reference string
	LaneID    string
}

// Clone returns a deep copy of the hunt.
func (h Hunt) Clone() Hunt {
	if h.StartTime != nil {
		t := *h.StartTime
		h.StartTime = &t
	}
	return h
}

// Clone returns a deep copy of the lane.
func (l Lane) Clone() Lane {
	l.Checkpoints = append([]Checkpoint(nil), l.Checkpoints...)
	l.Participants = append([]Participant(nil), l.Participants...)
	return l
}

// State derives the lane's progression state from the owning hunt.
func (l Lane) State(h Hunt) LaneState {
	switch {
	case !h.Started:
		return StateNotStarted
	case l.Complete():
		return StateComplete
	default:
		return StateInProgress
	}
}

// Complete reports whether the lane reached victory.
func (l Lane) Complete() bool {
	return l.CurrentIndex == len(l.Checkpoints)
}

// Clue returns the label shown while the lane waits at CurrentIndex: the
// label of the previous checkpoint, or StartLabel at the beginning.
func (l Lane) Clue() string {
	return l.ClueAt(l.CurrentIndex)
}

// ClueAt returns the label displayed for checkpoint i.
func (l Lane) ClueAt(i int) string {
	switch {
	case i <= 0:
		return StartLabel
	case i > len(l.Checkpoints):
		return ""
	}
	return l.Checkpoints[i-1].Label
}

// Valid reports whether the progression invariant holds.
func (l Lane) Valid() bool {
	return l.CurrentIndex >= 0 && l.CurrentIndex <= len(l.Checkpoints)
}
