// Package trombi implements a non-blocking client for CouchDB.
//
// The package covers database management, documents, attachments, views,
// bulk operations and change feeds. It is a thin protocol-shaping layer:
// requests are translated into CouchDB's HTTP conventions and responses
// are classified into typed results and errors, nothing more. There is no
// local storage and no query planning; all state lives server-side.
//
// # Getting started
//
//	s := trombi.NewServer("http://127.0.0.1:5984")
//	db, err := s.GetOrCreate(ctx, "mydatabase")
//
// To make code examples easier to follow there is no explicit error
// handling in what follows, even though every operation reports one.
//
// # Documents
//
// A document is a mapping of user fields plus an identity the server
// controls: an id and an opaque revision token. Field names starting with
// an underscore belong to the wire envelope and are rejected, the client
// splits the envelope off on the way in and merges it back on the way
// out.
//
//	doc, _ := db.Set(ctx, map[string]any{"name": "Peter"})
//
// Set without an id lets the server assign one. Storing under a chosen id
// and updating a loaded document both go through the same call:
//
//	doc, _ = db.Set(ctx, map[string]any{"name": "Anna"}, trombi.WithID("person-1"))
//	doc.Set("alive", true)
//	doc, _ = db.Set(ctx, doc)
//
// Every successful write returns a document carrying the new revision.
// CouchDB does not edit in place; an update with a stale revision means
// someone else won the race, reported as a Conflict error. Fetch the
// latest revision and retry:
//
//	latest, _ := db.Get(ctx, doc.ID())
//
// A missing document is not an error: Get returns nil, nil.
//
// # Error handling
//
// Failures are values. Every error produced by a server response carries
// one of a closed set of kinds plus the server's reason text; ErrorKind
// extracts the kind for dispatching:
//
//	if trombi.ErrorKind(err) == trombi.Conflict {
//		// somebody else updated first
//	}
//
// # Non-blocking use
//
// All methods are synchronous and safe to run on their own goroutines.
// The Go helper and the Callback type recover the callback-completion
// shape for event-loop style callers:
//
//	trombi.Go(func() (*trombi.Document, error) {
//		return db.Set(ctx, fields)
//	}, trombi.NewCallback(func(doc *trombi.Document, err error) {
//		// runs once, with either doc or err
//	}))
//
// Operations issued back to back are in flight concurrently and complete
// in any order; chain dependent calls from the first one's completion.
//
// # Change feeds
//
// Changes returns one bounded envelope, long-polling if asked to. For an
// unbounded subscription, ContinuousChanges parses the newline-delimited
// stream incrementally and delivers each event as soon as its line is
// complete:
//
//	feed, _ := db.ContinuousChanges(ctx, trombi.ChangesOptions{Since: 0})
//	for change := range feed.Events() {
//		// strictly in wire order
//	}
//	// channel closed: feed ended, feed.Err() says why
package trombi
