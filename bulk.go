package trombi

import (
	"context"
	"encoding/json"
	"fmt"
)

// BulkItem is the per-element outcome of a bulk operation. Elements
// succeed or fail independently; a failed element carries the server's
// error tag and reason instead of a revision.
type BulkItem struct {
	ID     string `json:"id"`
	Rev    string `json:"rev,omitempty"`
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Failed reports whether this element was rejected.
func (it BulkItem) Failed() bool { return it.Error != "" }

// Err returns the element's failure as a classified error, nil for a
// successful element.
func (it BulkItem) Err() error {
	if !it.Failed() {
		return nil
	}
	kind := ServerError
	if it.Error == "conflict" {
		kind = Conflict
	}
	return &Error{Kind: kind, Msg: it.Reason}
}

// BulkResult is the ordered list of per-element outcomes, one per
// submitted document.
type BulkResult []BulkItem

// BulkDocs submits a batch of creates, updates and deletes in one
// request. Each element is a *Document or a plain map in wire form; a map
// carrying "_deleted": true deletes that document. With allOrNothing the
// server stores either the whole batch or nothing, otherwise elements
// succeed or fail independently.
func (db *Database) BulkDocs(ctx context.Context, docs []any, allOrNothing bool) (BulkResult, error) {
	normalized := make([]any, len(docs))
	for i, doc := range docs {
		switch v := doc.(type) {
		case *Document:
			normalized[i] = v.Raw()
		case map[string]any:
			normalized[i] = v
		default:
			return nil, fmt.Errorf("trombi: bulk element %d must be *Document or map[string]any, got %T", i, doc)
		}
	}
	payload := map[string]any{"docs": normalized}
	if allOrNothing {
		payload["all_or_nothing"] = true
	}
	body, err := db.server.marshal(payload)
	if err != nil {
		return nil, err
	}
	status, respBody, err := db.server.fetch(ctx, "POST", db.URL()+"/_bulk_docs", "", body)
	if err != nil {
		return nil, err
	}
	if status != 200 && status != 201 {
		return nil, classify(status, respBody, baseTable)
	}
	var result BulkResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &Error{Kind: ServerError, Msg: string(respBody)}
	}
	return result, nil
}
