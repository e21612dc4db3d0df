package trombi

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/url"
)

// Attach stores raw bytes as a named attachment under the document's
// current revision. An empty contentType defaults to text/plain. The
// server allocates a new revision per attachment write; on success it is
// recorded on the document in place, on failure (a stale revision, say)
// the revision is left untouched and the classified error returned.
func (d *Document) Attach(ctx context.Context, name string, data []byte, contentType string) error {
	if d.id == "" {
		return fmt.Errorf("trombi: cannot attach to an unsaved document")
	}
	if contentType == "" {
		contentType = "text/plain"
	}
	target := d.attachmentURL(name) + "?rev=" + url.QueryEscape(d.rev)
	status, body, err := d.db.server.fetch(ctx, "PUT", target, contentType, data)
	if err != nil {
		return err
	}
	if status != 201 {
		return classify(status, body, baseTable)
	}
	var res struct {
		Rev string `json:"rev"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return &Error{Kind: ServerError, Msg: string(body)}
	}
	d.rev = res.Rev
	if d.attachments == nil {
		d.attachments = make(map[string]*Attachment)
	}
	// The payload is on the server now; keep a stub so the envelope stays
	// truthful without holding the bytes twice.
	d.attachments[name] = &Attachment{ContentType: contentType, Stub: true}
	return nil
}

// LoadAttachment returns the payload of a named attachment. If the
// document already holds the bytes inline, because it was stored or
// fetched with attachments included, they are returned without any
// network request.
func (d *Document) LoadAttachment(ctx context.Context, name string) ([]byte, error) {
	if att, ok := d.attachments[name]; ok && !att.Stub && att.Data != nil {
		return att.Data, nil
	}
	status, body, err := d.db.server.fetch(ctx, "GET", d.attachmentURL(name), "", nil)
	if err != nil {
		return nil, err
	}
	if status != 200 {
		return nil, classify(status, body, baseTable)
	}
	return body, nil
}

// DeleteAttachment removes a named attachment at the current revision.
// The server allocates a new revision for the deletion but nothing is
// updated client-side; re-fetch the document before mutating further.
func (d *Document) DeleteAttachment(ctx context.Context, name string) error {
	target := d.attachmentURL(name) + "?rev=" + url.QueryEscape(d.rev)
	status, body, err := d.db.server.fetch(ctx, "DELETE", target, "", nil)
	if err != nil {
		return err
	}
	if status != 200 {
		return classify(status, body, baseTable)
	}
	return nil
}

// Copy duplicates the document, attachments included, under a new id using
// the COPY verb, which the server applies atomically. An id already in use
// reports Conflict.
func (d *Document) Copy(ctx context.Context, newID string) (*Document, error) {
	if d.id == "" {
		return nil, fmt.Errorf("trombi: cannot copy an unsaved document")
	}
	header := http.Header{"Destination": []string{newID}}
	resp, err := d.db.server.send(ctx, "COPY", d.db.docURL(d.id), "", nil, header)
	if err != nil {
		return nil, err
	}
	status, body, err := drain(resp)
	if err != nil {
		return nil, err
	}
	if status != 201 {
		return nil, classify(status, body, baseTable)
	}
	var res struct {
		ID  string `json:"id"`
		Rev string `json:"rev"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, &Error{Kind: ServerError, Msg: string(body)}
	}
	copied := &Document{
		db:          d.db,
		id:          res.ID,
		rev:         res.Rev,
		fields:      maps.Clone(d.fields),
		attachments: make(map[string]*Attachment, len(d.attachments)),
	}
	if copied.id == "" {
		copied.id = newID
	}
	maps.Copy(copied.attachments, d.attachments)
	return copied, nil
}

func (d *Document) attachmentURL(name string) string {
	return d.db.docURL(d.id) + "/" + url.PathEscape(name)
}
