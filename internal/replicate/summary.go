package replicate

import (
	"time"

	"github.com/roach88/revsync/internal/ir"
)

// Summary reports the outcome of one session. It is returned even when the
// session fails.
type Summary struct {
	SessionID string    `json:"session_id"`
	PeerID    string    `json:"peer_id"`
	Direction Direction `json:"direction"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`

	StartCheckpoint int64 `json:"start_checkpoint"`
	LastCheckpoint  int64 `json:"last_checkpoint"`

	Batches          int `json:"batches"`
	ChangesRead      int `json:"changes_read"`
	DocsApplied      int `json:"docs_applied"`
	DocsUpToDate     int `json:"docs_up_to_date"`
	RevisionsApplied int `json:"revisions_applied"`

	Skipped []SkippedDoc `json:"skipped"`
	Error   string       `json:"error,omitempty"`
}

// SkippedDoc is a document left unapplied by a session.
type SkippedDoc struct {
	DocID  string       `json:"doc_id"`
	Seq    int64        `json:"seq"`
	Code   ir.ErrorCode `json:"code"`
	Reason string       `json:"reason"`
}

// Event is delivered to listeners on every state change and on every
// checkpoint commit (Committed set, From == To).
type Event struct {
	SessionID  string
	PeerID     string
	Direction  Direction
	From       State
	To         State
	Checkpoint int64
	Committed  bool
	Err        error
}

// Listener observes a replicator. Listeners run synchronously on the
// session goroutine and must not block.
type Listener func(Event)
