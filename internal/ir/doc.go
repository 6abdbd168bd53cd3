// Package ir provides the shared value and identity types for revsync.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Document bodies are IRObject values; numbers stay int64 unless they carry a fraction
//   - Revision ids are content-addressed: SHA-256 over RFC 8785 canonical JSON of
//     (parent, body, deleted) with domain separation
//   - Sequences are store-local logical clocks, never wall-clock timestamps
//   - All JSON tags use snake_case
package ir
