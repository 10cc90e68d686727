// Package jwt issues and verifies the purpose-scoped HS256 tokens handed to
// browsers after each authentication step.
//
// Every token carries exactly one [Purpose] fixed at issuance, a fresh JWT ID
// for revocation lookups, and an audience naming the account kind that
// authenticated. Verification failures are reported as one of
// [ErrMalformed], [ErrSignatureInvalid] or [ErrExpired]; callers at the HTTP
// boundary collapse them into a single unauthenticated response.
//
// # What this package must NOT do
//
//   - Decide which routes a purpose may reach (see authcore.RoutePolicy).
//   - Consult revocation state or any other I/O.
package jwt
