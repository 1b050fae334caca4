// Package mongo implements store.Store on MongoDB with the official v2
// driver. Acquisition is a FindOneAndUpdate filtered on the lock and
// completion flags, which MongoDB applies atomically to one document.
//
// The caller owns the client lifecycle; the Store never disconnects it:
//
//	client, _ := mongo.Connect(options.Client().ApplyURI(uri))
//	s := mongostore.New(client.Database("delayed"))
//	s.Migrate(ctx)
//
// BSON dates have millisecond precision, so timestamps read back from this
// store are truncated to the millisecond.
package mongo
