package model

// LaneEvent is emitted after every committed lane change. It carries the
// hunt snapshot current at commit time so subscribers can derive LaneState
// without a second read.
type LaneEvent struct {
	Kind string
	Hunt Hunt
	Lane Lane
}

// Commit kinds carried by LaneEvent.
const (
	KindEdit        = "edit"
	KindProgression = "progression"
	KindJoin        = "join"
	KindReady       = "ready"
	KindStart       = "start"
	// KindSnapshot marks the state a new subscription starts from.
	KindSnapshot = "snapshot"
)
