package trombi

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/url"
	"strings"
)

// Database is a handle scoped to one named database of a Server. Handles
// are value-like: they carry no state beyond the name and the owning
// server, and operations issued through the same handle do not serialize
// against each other. Callers needing ordered mutation chain the second
// call after the first one's completion.
type Database struct {
	server *Server
	name   string
}

// Name of the database.
func (db *Database) Name() string { return db.name }

// Server returns the owning server handle.
func (db *Database) Server() *Server { return db.server }

// URL returns the absolute URL of the database, without trailing slash.
func (db *Database) URL() string {
	return db.server.baseURL + "/" + db.name
}

// docURL builds the document path. Identifiers stay logically opaque but
// travel percent-encoded, slashes included.
func (db *Database) docURL(id string) string {
	return db.URL() + "/" + url.PathEscape(id)
}

type setRequest struct {
	id          string
	hasID       bool
	attachments map[string]*Attachment
}

// SetOption adjusts a single Set call.
type SetOption func(*setRequest)

// WithID stores the document under the given id instead of letting the
// server pick one, or overrides the id of an already-loaded document.
func WithID(id string) SetOption {
	return func(r *setRequest) {
		r.id = id
		r.hasID = true
	}
}

// WithAttachments inlines the given payloads into the stored document.
// Entries without a content type default to text/plain.
func WithAttachments(attachments map[string]*Attachment) SetOption {
	return func(r *setRequest) { r.attachments = attachments }
}

// Set stores a new document or updates an existing one. data is either a
// *Document or a plain map[string]any of user fields.
//
// A loaded document with id and revision is written back with PUT so the
// server can detect conflicting concurrent writes; WithID forces a PUT
// against that id; with no id available the server assigns one via POST.
// The returned document carries the server-assigned id and revision and
// exactly the user fields that were supplied. A lost revision race
// surfaces as Conflict; any other non-201 response is a ServerError
// carrying the raw body.
func (db *Database) Set(ctx context.Context, data any, opts ...SetOption) (*Document, error) {
	var req setRequest
	for _, opt := range opts {
		opt(&req)
	}

	var doc *Document
	var fields map[string]any
	switch v := data.(type) {
	case *Document:
		doc = v
		fields = v.fields
	case map[string]any:
		fields = v
	default:
		return nil, fmt.Errorf("trombi: Set accepts *Document or map[string]any, got %T", data)
	}
	for k := range fields {
		if strings.HasPrefix(k, "_") {
			return nil, ErrReservedField
		}
	}

	// Request target and optimistic concurrency token. An explicit id that
	// differs from the document's own makes a fresh copy rather than an
	// update, so no revision is sent along.
	var docID string
	payload := make(map[string]any, len(fields)+2)
	switch {
	case doc != nil && doc.id != "" && doc.rev != "" && (!req.hasID || req.id == doc.id):
		docID = doc.id
		payload["_rev"] = doc.rev
	case req.hasID:
		docID = req.id
	case doc != nil:
		docID = doc.id
	}

	attachments := make(map[string]*Attachment)
	if doc != nil {
		maps.Copy(attachments, doc.attachments)
	}
	for name, att := range req.attachments {
		contentType := att.ContentType
		if contentType == "" {
			contentType = "text/plain"
		}
		attachments[name] = &Attachment{ContentType: contentType, Data: att.Data}
	}
	if len(attachments) > 0 {
		payload["_attachments"] = attachments
	}
	maps.Copy(payload, fields)

	body, err := db.server.marshal(payload)
	if err != nil {
		return nil, err
	}
	method, target := "POST", db.URL()
	if docID != "" {
		method, target = "PUT", db.docURL(docID)
	}
	status, respBody, err := db.server.fetch(ctx, method, target, "", body)
	if err != nil {
		return nil, err
	}
	switch status {
	case 201:
		var res struct {
			ID  string `json:"id"`
			Rev string `json:"rev"`
		}
		if err := json.Unmarshal(respBody, &res); err != nil {
			return nil, &Error{Kind: ServerError, Msg: string(respBody)}
		}
		return &Document{
			db:          db,
			id:          res.ID,
			rev:         res.Rev,
			fields:      maps.Clone(fields),
			attachments: attachments,
		}, nil
	case 409:
		return nil, &Error{Kind: Conflict, Msg: reason(respBody)}
	default:
		return nil, &Error{Kind: ServerError, Msg: string(respBody)}
	}
}

type getRequest struct {
	inlineAttachments bool
}

// GetOption adjusts a single Get call.
type GetOption func(*getRequest)

// WithInlineAttachments asks the server to inline attachment payloads
// instead of returning stubs, sparing a follow-up round trip when the
// caller loads one afterwards.
func WithInlineAttachments() GetOption {
	return func(r *getRequest) { r.inlineAttachments = true }
}

// Get fetches a document by id. A missing document is a successful nil
// result, not an error.
func (db *Database) Get(ctx context.Context, id string, opts ...GetOption) (*Document, error) {
	var req getRequest
	for _, opt := range opts {
		opt(&req)
	}
	target := db.docURL(id)
	if req.inlineAttachments {
		target += "?attachments=true"
	}
	status, body, err := db.server.fetch(ctx, "GET", target, "", nil)
	if err != nil {
		return nil, err
	}
	switch status {
	case 200:
		var raw map[string]any
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, &Error{Kind: ServerError, Msg: string(body)}
		}
		return docFromWire(db, raw), nil
	case 404:
		return nil, nil
	default:
		return nil, classify(status, body, baseTable)
	}
}

// Delete removes the document at its current id and revision. A stale or
// wrong revision reports Conflict, a malformed one BadRequest, an unknown
// id NotFound.
func (db *Database) Delete(ctx context.Context, doc *Document) error {
	if doc == nil || doc.id == "" {
		return fmt.Errorf("trombi: cannot delete a document without an id")
	}
	target := db.docURL(doc.id) + "?rev=" + url.QueryEscape(doc.rev)
	status, body, err := db.server.fetch(ctx, "DELETE", target, "", nil)
	if err != nil {
		return err
	}
	if status == 200 {
		return nil
	}
	return classify(status, body, statusTable{
		400: BadRequest,
		404: NotFound,
		409: Conflict,
	})
}
