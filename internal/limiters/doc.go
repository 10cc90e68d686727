// Package limiters holds the Redis-backed attempt limiter for second-factor
// verification.
//
// The limiter only counts. The caller decides what a limited subject gets.
// All methods are nil-safe: a nil *MFALimiter never limits.
package limiters
