// Package types contains the JSON views the HTTP and websocket surfaces
// return.
package types

import (
	"time"

	"github.com/okian/huntline/internal/domain/model"
)

// Hunt is the public shape of a hunt.
type Hunt struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	LaneCount int        `json:"lane_count"`
	Started   bool       `json:"started"`
	StartTime *time.Time `json:"start_time,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Checkpoint is one stop of a lane. Token is only filled in organizer views.
type Checkpoint struct {
	ID       string `json:"id"`
	ImageRef string `json:"image_ref"`
	Label    string `json:"label"`
	Token    string `json:"token,omitempty"`
}

// Participant is a lane member.
type Participant struct {
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joined_at"`
	Ready    bool      `json:"ready"`
}

// Lane is a lane snapshot plus its derived state and clue.
type Lane struct {
	ID              string        `json:"id"`
	HuntID          string        `json:"hunt_id"`
	Position        int           `json:"position"`
	CurrentIndex    int           `json:"current_index"`
	CheckpointCount int           `json:"checkpoint_count"`
	Checkpoints     []Checkpoint  `json:"checkpoints"`
	Participants    []Participant `json:"participants"`
	State           string        `json:"state"`
	Clue            string        `json:"clue"`
	Invitation      string        `json:"invitation,omitempty"`
	InvitationLink  string        `json:"invitation_link,omitempty"`
	Version         int64         `json:"version"`
}

// HuntCreated answers hunt creation.
type HuntCreated struct {
	Hunt  Hunt   `json:"hunt"`
	Lanes []Lane `json:"lanes"`
}

// ScanResult answers a scan submission.
type ScanResult struct {
	Accepted bool   `json:"accepted"`
	NewIndex int    `json:"new_index"`
	State    string `json:"state"`
	Clue     string `json:"clue"`
}

// Landing describes where an invitation leads.
type Landing struct {
	HuntID       string `json:"hunt_id"`
	HuntName     string `json:"hunt_name"`
	LaneID       string `json:"lane_id"`
	LanePosition int    `json:"lane_position"`
	Started      bool   `json:"started"`
	Participants int    `json:"participants"`
}

// Joined answers a join through an invitation.
type Joined struct {
	Lane             Lane `json:"lane"`
	ParticipantIndex int  `json:"participant_index"`
}

// View selects how much of a lane is exposed.
type View int

const (
	// ParticipantView hides checkpoint tokens, the invitation and every
	// checkpoint past the current one.
	ParticipantView View = iota
	// OrganizerView shows everything needed to print and hand out a lane.
	OrganizerView
)

// FromHunt converts a hunt record.
func FromHunt(h model.Hunt) Hunt {
	h = h.Clone()
	return Hunt{
		ID:        h.ID,
		Name:      h.Name,
		LaneCount: h.LaneCount,
		Started:   h.Started,
		StartTime: h.StartTime,
		CreatedAt: h.CreatedAt,
	}
}

// FromLane converts a lane record. link renders an invitation reference and
// is only used for OrganizerView.
func FromLane(h model.Hunt, l model.Lane, view View, link func(string) string) Lane {
	visible := l.Checkpoints
	if view == ParticipantView {
		visible = visible[:min(l.CurrentIndex+1, len(visible))]
	}
	out := Lane{
		ID:              l.ID,
		HuntID:          l.HuntID,
		Position:        l.Position,
		CurrentIndex:    l.CurrentIndex,
		CheckpointCount: len(l.Checkpoints),
		Checkpoints:     make([]Checkpoint, 0, len(visible)),
		Participants:    make([]Participant, 0, len(l.Participants)),
		State:           string(l.State(h)),
		Clue:            l.Clue(),
		Version:         l.Version,
	}
	for _, cp := range visible {
		c := Checkpoint{ID: cp.ID, ImageRef: cp.ImageRef, Label: cp.Label}
		if view == OrganizerView {
			c.Token = cp.Token
		}
		out.Checkpoints = append(out.Checkpoints, c)
	}
	for _, p := range l.Participants {
		out.Participants = append(out.Participants, Participant(p))
	}
	if view == OrganizerView {
		out.Invitation = l.Invitation
		if link != nil && l.Invitation != "" {
			out.InvitationLink = link(l.Invitation)
		}
	}
	return out
}
