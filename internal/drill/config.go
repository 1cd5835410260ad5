package drill

import "time"

// Config holds configuration for a drill run.
type Config struct {
	BaseURL      string        // Base URL of the service
	Lanes        int           // Lanes in the drill hunt
	Checkpoints  int           // Checkpoints per lane
	Participants int           // Devices racing on each lane
	Timeout      time.Duration // HTTP request timeout
	Verbose      bool          // Log every step
}

// Stats holds drill statistics.
type Stats struct {
	HuntID             string
	LanesCreated       int
	CheckpointsAdded   int
	ParticipantsJoined int
	ScansSubmitted     int
	ScansAccepted      int
	ScansRejected      int
	ScansFailed        int
	StartTime          time.Time
	EndTime            time.Time
	Duration           time.Duration
}

// lane is the organizer view fields the drill reads.
type lane struct {
	ID           string `json:"id"`
	CurrentIndex int    `json:"current_index"`
	State        string `json:"state"`
	Invitation   string `json:"invitation"`
	Checkpoints  []struct {
		Token string `json:"token"`
	} `json:"checkpoints"`
}

type huntCreated struct {
	Hunt struct {
		ID string `json:"id"`
	} `json:"hunt"`
	Lanes []lane `json:"lanes"`
}

type scanResult struct {
	Accepted bool   `json:"accepted"`
	NewIndex int    `json:"new_index"`
	State    string `json:"state"`
}
