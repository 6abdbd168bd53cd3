package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for a future algorithm migration.
const (
	DomainRevision = "revsync/revision/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// RevisionDigest computes the content digest of a revision from its parent
// linkage, body and tombstone flag. Identical inputs always yield the same
// digest on every store, which is what makes revision ids comparable across
// replicas.
//
// The document id is deliberately not part of the digest: the same edit of
// the same parent is the same revision wherever it is replayed.
func RevisionDigest(parent RevID, body IRObject, deleted bool) (string, error) {
	if body == nil {
		body = IRObject{}
	}
	obj := IRObject{
		"parent":  IRString(parent.String()),
		"body":    body,
		"deleted": IRBool(deleted),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("RevisionDigest: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainRevision, canonical), nil
}

// MustRevisionDigest is like RevisionDigest but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustRevisionDigest(parent RevID, body IRObject, deleted bool) string {
	d, err := RevisionDigest(parent, body, deleted)
	if err != nil {
		panic(err)
	}
	return d
}
