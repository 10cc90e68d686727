// Package revocation provides a Redis-backed denylist of token IDs.
//
// An entry lives exactly as long as the token it revokes, so the list never
// outgrows the set of tokens that could still verify.
//
// # What this package must NOT do
//
//   - Import authcore or jwt (no upward imports).
//   - Store tokens. Only the jti and bookkeeping fields are kept.
package revocation
