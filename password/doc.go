// Package password hashes and verifies account passwords.
//
// New hashes are Argon2id PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Hashes carried over from the previous marketplace backend are bcrypt
// ($2a$, $2b$, $2y$). [Verifier] dispatches on the encoding prefix and reports
// whether a stored hash should be upgraded after the next successful login.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords; callers supply plaintext and receive hashes.
//   - Enforce password policy (length, character classes); the Engine does.
//   - Log plaintext passwords or stored hashes.
package password
