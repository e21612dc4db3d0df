package trombi

import (
	"context"
	"encoding/json"
	"maps"
)

const conflictsDesign = "conflicts" // design document hosting the conflicts view
const conflictsView = "all"         // view collecting ids of conflicted documents

// DocConflict holds the open, non-deleted revision branches of one document.
// CouchDB never merges diverged branches on its own; something has to pick
// a winner, and that something is the caller.
type DocConflict struct {
	db        *Database
	docID     string
	revisions []map[string]any
}

// ConflictFor returns the conflicting revisions of a document, nil if the
// document has a single open branch.
func (db *Database) ConflictFor(ctx context.Context, docID string) (*DocConflict, error) {
	status, body, err := db.server.fetch(ctx, "GET", db.docURL(docID)+"?open_revs=all", "", nil)
	if err != nil {
		return nil, err
	}
	if status != 200 {
		return nil, classify(status, body, baseTable)
	}
	var revs []struct {
		Ok map[string]any `json:"ok"`
	}
	if err := json.Unmarshal(body, &revs); err != nil {
		return nil, &Error{Kind: ServerError, Msg: string(body)}
	}
	var open []map[string]any
	for _, rev := range revs {
		if deleted, _ := rev.Ok["_deleted"].(bool); !deleted {
			open = append(open, rev.Ok)
		}
	}
	if len(open) <= 1 {
		return nil, nil
	}
	return &DocConflict{db: db, docID: docID, revisions: open}, nil
}

// Revisions returns the conflicting branches as documents.
func (c *DocConflict) Revisions() []*Document {
	docs := make([]*Document, len(c.revisions))
	for i, raw := range c.revisions {
		docs[i] = docFromWire(c.db, raw)
	}
	return docs
}

// Count returns the number of conflicting branches.
func (c *DocConflict) Count() int { return len(c.revisions) }

// Resolve settles the conflict with the given final field mapping: the
// winning branch is overwritten with it and every other open branch is
// closed with a deletion tombstone, all in one all-or-nothing bulk write.
// Another party may resolve first; that lost update surfaces as Conflict
// and the caller should re-read the conflict state.
func (c *DocConflict) Resolve(ctx context.Context, final map[string]any) error {
	if len(c.revisions) < 2 {
		return nil
	}
	winner := make(map[string]any, len(final)+2)
	winner["_id"] = c.docID
	winner["_rev"] = c.revisions[0]["_rev"]
	maps.Copy(winner, final)

	batch := []any{winner}
	for _, rev := range c.revisions[1:] {
		batch = append(batch, map[string]any{
			"_id":      rev["_id"],
			"_rev":     rev["_rev"],
			"_deleted": true,
		})
	}
	result, err := c.db.BulkDocs(ctx, batch, true)
	if err != nil {
		return err
	}
	for _, item := range result {
		if item.Failed() {
			return item.Err()
		}
	}
	c.revisions = nil
	return nil
}

// Conflicts lists the ids of all conflicted documents in the database. It
// needs a dedicated view; with ensureView enabled the view is created when
// missing. On a database that is already large, building that view takes
// a while, so set it up right after creating the database if you can.
func (db *Database) Conflicts(ctx context.Context, ensureView bool) ([]string, error) {
	if err := db.ensureConflictsView(ctx, ensureView); err != nil {
		return nil, err
	}
	result, err := db.View(ctx, conflictsDesign, conflictsView, map[string]any{"reduce": false})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(result.Rows))
	for i, row := range result.Rows {
		ids[i] = row.ID
	}
	return ids, nil
}

// ConflictsCount returns the number of conflicted documents, creating the
// counting view when missing and ensureView is enabled.
func (db *Database) ConflictsCount(ctx context.Context, ensureView bool) (int, error) {
	if err := db.ensureConflictsView(ctx, ensureView); err != nil {
		return 0, err
	}
	result, err := db.View(ctx, conflictsDesign, conflictsView, map[string]any{"reduce": true})
	if err != nil {
		return 0, err
	}
	if len(result.Rows) == 0 {
		return 0, nil
	}
	count, _ := result.Rows[0].Value.(float64)
	return int(count), nil
}

func (db *Database) ensureConflictsView(ctx context.Context, create bool) error {
	target := db.URL() + "/_design/" + conflictsDesign + "/_view/" + conflictsView
	status, _, err := db.server.fetch(ctx, "HEAD", target, "", nil)
	if err != nil {
		return err
	}
	if status == 200 || !create {
		return nil
	}
	_, err = db.Set(ctx, map[string]any{
		"language": "javascript",
		"views": map[string]any{
			conflictsView: map[string]any{
				"map":    "function(doc) { if (doc._conflicts) { emit(null, null); } }",
				"reduce": "_count",
			},
		},
	}, WithID("_design/"+conflictsDesign))
	return err
}
