package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// RevID identifies a revision within a document's tree: a generation
// and a content digest. Its text form is "<generation>-<digest>".
// The zero RevID means "no revision" (the parent of a root).
type RevID struct {
	Gen    int64
	Digest string
}

// ParseRevID parses "<generation>-<digest>". The empty string parses to the zero RevID.
func ParseRevID(s string) (RevID, error) {
	if s == "" {
		return RevID{}, nil
	}
	genStr, digest, ok := strings.Cut(s, "-")
	if !ok || digest == "" {
		return RevID{}, fmt.Errorf("invalid revision id %q: expected <generation>-<digest>", s)
	}
	gen, err := strconv.ParseInt(genStr, 10, 64)
	if err != nil || gen < 1 {
		return RevID{}, fmt.Errorf("invalid revision id %q: bad generation", s)
	}
	return RevID{Gen: gen, Digest: digest}, nil
}

// MustParseRevID is like ParseRevID but panics on error.
// Use only in tests or with known-good input.
func MustParseRevID(s string) RevID {
	r, err := ParseRevID(s)
	if err != nil {
		panic(err)
	}
	return r
}

// String returns the text form, or "" for the zero RevID.
func (r RevID) String() string {
	if r.IsZero() {
		return ""
	}
	return strconv.FormatInt(r.Gen, 10) + "-" + r.Digest
}

// IsZero reports whether r is the zero RevID.
func (r RevID) IsZero() bool {
	return r.Gen == 0 && r.Digest == ""
}

// Valid reports whether r is a well-formed non-zero revision id.
func (r RevID) Valid() bool {
	return r.Gen >= 1 && r.Digest != "" && !strings.Contains(r.Digest, "-")
}

// Compare orders revision ids by generation, then digest bytes.
func (r RevID) Compare(o RevID) int {
	switch {
	case r.Gen < o.Gen:
		return -1
	case r.Gen > o.Gen:
		return 1
	}
	return strings.Compare(r.Digest, o.Digest)
}

// MarshalText implements encoding.TextMarshaler.
func (r RevID) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *RevID) UnmarshalText(text []byte) error {
	parsed, err := ParseRevID(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Revision is an immutable snapshot of a document at one point of its history.
// Seq is the store-local sequence assigned when the revision was written;
// it is not part of the revision's identity and differs between stores.
type Revision struct {
	DocID   string   `json:"doc_id"`
	RevID   RevID    `json:"rev_id"`
	Parent  RevID    `json:"parent_rev_id"`
	Body    IRObject `json:"body"`
	Deleted bool     `json:"deleted"`
	Seq     int64    `json:"seq,omitempty"`
}

// NewRevision builds a revision with a computed id for the given parent.
func NewRevision(docID string, parent RevID, body IRObject, deleted bool) (Revision, error) {
	digest, err := RevisionDigest(parent, body, deleted)
	if err != nil {
		return Revision{}, err
	}
	return Revision{
		DocID:   docID,
		RevID:   RevID{Gen: parent.Gen + 1, Digest: digest},
		Parent:  parent,
		Body:    body,
		Deleted: deleted,
	}, nil
}

// ChangeEntry is one record of a store's change feed. Every written
// revision produces exactly one entry.
type ChangeEntry struct {
	Seq     int64  `json:"seq"`
	DocID   string `json:"doc_id"`
	RevID   RevID  `json:"rev_id"`
	Deleted bool   `json:"deleted"`
}

// Checkpoint is the last source sequence durably applied for a peer.
type Checkpoint struct {
	PeerID       string `json:"peer_id"`
	LastSequence int64  `json:"last_sequence"`
}
