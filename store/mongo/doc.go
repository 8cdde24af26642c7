// Package mongo implements job.Store on MongoDB using the official Go
// driver (v2). Suitable for deployments that already run MongoDB and want
// job records next to their business documents.
//
// Status writes are filtered replacements ({_id, status: expected}) so a
// concurrent transition makes the write match nothing. Deadline queries
// use $expr with $$NOW, which evaluates against the server clock.
//
//	s, err := mongo.Open(ctx, "mongodb://localhost:27017", "asyncjob")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//	if err := s.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package mongo
