// Package authcore authenticates marketplace users and administrators with
// passwords, optional TOTP second factors and purpose-scoped HS256 tokens.
//
// An [Engine] is assembled once with [Builder] and is safe for concurrent
// use. Storage is reached through the repository interfaces in this package;
// store/postgres provides the production implementations.
//
// # Tokens
//
// Every token carries a purpose. A password login against an account with
// MFA enabled yields a temporary token that only reaches the MFA verify
// route; completing MFA exchanges it for an access token (users) or an
// admin token (administrators). [Engine.Gate] verifies a token and applies
// the [RoutePolicy] for the requested path.
//
// # Concurrency
//
// MFA state changes are conditional updates: a repository applies an
// [AccountPatch] only while its expectations still hold, so two racing
// enable or disable requests cannot both succeed. Backup codes are consumed
// with a conditional write as well and redeem at most once.
//
// # What this package must NOT do
//
//   - Issue a token before the write that justifies it has been persisted.
//   - Reveal whether an identifier exists through errors or timing.
//   - Store TOTP codes or backup code plaintexts.
package authcore
