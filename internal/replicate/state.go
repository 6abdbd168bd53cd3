package replicate

// State is a replication session state.
type State int

const (
	StateIdle State = iota
	StateFetchingCheckpoint
	StateReadingChanges
	StateDiffingRevisions
	StateTransferringBodies
	StateApplyingLocally
	StateCommittingCheckpoint
	StateFailed
)

var stateNames = [...]string{
	StateIdle:                 "idle",
	StateFetchingCheckpoint:   "fetching_checkpoint",
	StateReadingChanges:       "reading_changes",
	StateDiffingRevisions:     "diffing_revisions",
	StateTransferringBodies:   "transferring_bodies",
	StateApplyingLocally:      "applying_locally",
	StateCommittingCheckpoint: "committing_checkpoint",
	StateFailed:               "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Direction is the direction of a session relative to the local store.
type Direction string

const (
	Pull Direction = "pull"
	Push Direction = "push"
)

// CheckpointKey is the tracker key for a peer and direction. The two
// directions read different feeds, so they progress independently.
func CheckpointKey(peerID string, dir Direction) string {
	return peerID + "/" + string(dir)
}
