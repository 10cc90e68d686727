// Package postgres implements the authcore repositories on PostgreSQL
// through database/sql and the pgx stdlib driver.
//
// Conditional writes are single UPDATE statements whose WHERE clause carries
// the expected prior state. Zero affected rows means the expectation failed
// and the repository returns authcore.ErrConflict.
package postgres
