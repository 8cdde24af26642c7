// Package sqlite implements job.Store on SQLite through database/sql and
// the mattn/go-sqlite3 driver. It suits single-node deployments, CLI tools
// and local development.
//
// Timestamps are stored as fixed-width UTC text so that lexical order
// matches chronological order, and deadline predicates compare against
// julianday('now') so the database clock decides expiry.
//
//	s, err := sqlite.New(ctx, "/var/lib/asyncjob/jobs.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//	if err := s.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package sqlite
