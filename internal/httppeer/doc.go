// Package httppeer exposes a revision store over HTTP and consumes one.
//
// Server serves the replication endpoints of a store with chi. Client
// implements replicate.Peer against such a server, retrying transport
// failures and 5xx/429 responses with go-retryablehttp and caching
// immutable revisions in an LRU.
//
// Endpoints (JSON):
//
//	GET  /health
//	GET  /_changes?since=N&limit=M   {"results":[...],"last_seq":N}
//	GET  /_revision?doc=ID&rev=REV   Revision
//	GET  /_leaves?doc=ID             [Revision...]
//	POST /_missing?doc=ID            ["rev",...] -> {"missing":["rev",...]}
//	POST /_revs?doc=ID               [Revision...] -> {"applied":N}
//	GET  /_doc?doc=ID                winning Revision
//
// Errors are {"error":CODE,"reason":MESSAGE} with CONFLICT 409, NOT_FOUND 404,
// INVALID_TREE 422, STRUCTURAL 400, TRANSIENT_IO 503 and anything else 500.
package httppeer
