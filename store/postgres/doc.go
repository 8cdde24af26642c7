// Package postgres implements job.Store on PostgreSQL using pgx/v5 with
// raw SQL.
//
// Status writes are compare-and-set (UPDATE ... WHERE status = $expected)
// so concurrent transitions on one job cannot both apply. Timeout and
// staleness predicates are evaluated against the database clock (NOW()),
// which keeps reapers on different hosts in agreement. The schema lives
// in embedded SQL files applied by [Store.Migrate].
package postgres
