// Package sqlite implements store.Store on SQLite through database/sql and
// the pure-Go modernc.org/sqlite driver. Suitable for single-node
// deployments, CLI tools and local development.
//
// Timestamps are stored as fixed-width UTC text so that lexical order is
// time order. Acquisition is one UPDATE ... RETURNING statement.
//
//	s, err := sqlite.Open(ctx, "delayed.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//	if err := s.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package sqlite
