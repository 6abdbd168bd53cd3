package harness

// TraceEvent records one executed step. Only the fields relevant to the
// step's op are set.
type TraceEvent struct {
	Step  int    `json:"step"`
	Op    string `json:"op"`
	Store string `json:"store,omitempty"`
	Doc   string `json:"doc,omitempty"`
	From  string `json:"from,omitempty"`
	To    string `json:"to,omitempty"`

	// Generation and Deleted describe the revision a write produced.
	Generation int64 `json:"generation,omitempty"`
	Deleted    bool  `json:"deleted,omitempty"`

	Replication *ReplicationTrace `json:"replication,omitempty"`

	// Error is the error code the step failed with.
	Error string `json:"error,omitempty"`
}

// ReplicationTrace is the digest-free part of a replication summary.
type ReplicationTrace struct {
	Batches          int   `json:"batches"`
	ChangesRead      int   `json:"changes_read"`
	DocsApplied      int   `json:"docs_applied"`
	DocsUpToDate     int   `json:"docs_up_to_date"`
	RevisionsApplied int   `json:"revisions_applied"`
	Skipped          int   `json:"skipped"`
	Checkpoint       int64 `json:"checkpoint"`
}

// StoreState is the final shape of one store.
type StoreState struct {
	Store     string          `json:"store"`
	Documents []DocumentState `json:"documents"`
}

// DocumentState is the shape of one document's tree.
type DocumentState struct {
	Doc        string `json:"doc"`
	Leaves     int    `json:"leaves"`
	Generation int64  `json:"generation"`
	Deleted    bool   `json:"deleted"`
	Conflicted bool   `json:"conflicted"`
}

// Result is the outcome of a scenario.
type Result struct {
	Scenario string `json:"scenario"`

	// Pass is false when any step or expectation failed.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Final  []StoreState `json:"final"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult(scenario string) *Result {
	return &Result{
		Scenario: scenario,
		Pass:     true,
		Trace:    []TraceEvent{},
		Final:    []StoreState{},
		Errors:   []string{},
	}
}

// AddError records a failure.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
