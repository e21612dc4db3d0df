package trombi

import (
	"encoding/base64"
	"maps"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Attachment is a named binary payload stored alongside a document. On the
// wire it travels base64-encoded under the _attachments table. A Stub
// attachment was fetched without its payload and needs a LoadAttachment
// round trip to obtain the bytes.
type Attachment struct {
	ContentType string `json:"content_type"`
	Data        []byte `json:"data,omitempty"`
	Stub        bool   `json:"stub,omitempty"`
}

// Document is one database record, identified by the pair (id, revision).
// User fields live in a flat mapping whose keys never start with an
// underscore; the envelope metadata (_id, _rev, _attachments) is split out
// into dedicated attributes at construction and merged back only when
// producing the wire form.
//
// The revision is overwritten after every successful mutation. A caller
// issuing further writes must use the revision of the latest returned
// document or the server will report a conflict.
type Document struct {
	id          string
	rev         string
	fields      map[string]any
	attachments map[string]*Attachment
	db          *Database
}

// NewDocument builds a fresh, unsaved document from a field mapping.
// Keys starting with '_' are rejected with ErrReservedField.
func NewDocument(fields map[string]any) (*Document, error) {
	for k := range fields {
		if strings.HasPrefix(k, "_") {
			return nil, ErrReservedField
		}
	}
	return &Document{
		fields:      maps.Clone(fields),
		attachments: make(map[string]*Attachment),
	}, nil
}

func (d *Document) ID() string  { return d.id }
func (d *Document) Rev() string { return d.rev }

// SetIDRev overrides the document's identity. Useful to force an update
// against a known id, or to deliberately provoke a conflict in tests.
func (d *Document) SetIDRev(id, rev string) {
	d.id, d.rev = id, rev
}

// Set stores a user field. Assigning a reserved key fails immediately, the
// envelope is never mutated through the field interface.
func (d *Document) Set(key string, value any) error {
	if strings.HasPrefix(key, "_") {
		return ErrReservedField
	}
	if d.fields == nil {
		d.fields = make(map[string]any)
	}
	d.fields[key] = value
	return nil
}

// Get reads a user field.
func (d *Document) Get(key string) (any, bool) {
	v, ok := d.fields[key]
	return v, ok
}

// Unset removes a user field.
func (d *Document) Unset(key string) {
	delete(d.fields, key)
}

// Fields returns a copy of the user field mapping.
func (d *Document) Fields() map[string]any {
	return maps.Clone(d.fields)
}

// Attachments returns the attachment table keyed by name.
func (d *Document) Attachments() map[string]*Attachment {
	return d.attachments
}

// Decode unmarshals the user fields into v, typically a pointer to a
// struct. Field matching follows mapstructure conventions.
func (d *Document) Decode(v any) error {
	return mapstructure.Decode(d.fields, v)
}

// Raw produces the wire envelope: _id and _rev if set, _attachments if any,
// then the user fields. Envelope keys cannot be shadowed because reserved
// keys are excluded from the field mapping by construction.
func (d *Document) Raw() map[string]any {
	raw := make(map[string]any, len(d.fields)+3)
	if d.id != "" {
		raw["_id"] = d.id
	}
	if d.rev != "" {
		raw["_rev"] = d.rev
	}
	if len(d.attachments) > 0 {
		raw["_attachments"] = d.attachments
	}
	maps.Copy(raw, d.fields)
	return raw
}

// docFromWire splits a decoded response body into a Document. Every key
// starting with '_' is stripped from the field mapping; _id, _rev and
// _attachments feed the matching attributes, other reserved keys carry
// server bookkeeping and are dropped.
func docFromWire(db *Database, raw map[string]any) *Document {
	doc := &Document{
		db:          db,
		fields:      make(map[string]any, len(raw)),
		attachments: make(map[string]*Attachment),
	}
	for k, v := range raw {
		if !strings.HasPrefix(k, "_") {
			doc.fields[k] = v
			continue
		}
		switch k {
		case "_id":
			doc.id, _ = v.(string)
		case "_rev":
			doc.rev, _ = v.(string)
		case "_attachments":
			if table, ok := v.(map[string]any); ok {
				doc.attachments = attachmentsFromWire(table)
			}
		}
	}
	return doc
}

func attachmentsFromWire(table map[string]any) map[string]*Attachment {
	atts := make(map[string]*Attachment, len(table))
	for name, v := range table {
		entry, ok := v.(map[string]any)
		if !ok {
			continue
		}
		att := &Attachment{}
		att.ContentType, _ = entry["content_type"].(string)
		if data, ok := entry["data"].(string); ok {
			if decoded, err := base64.StdEncoding.DecodeString(data); err == nil {
				att.Data = decoded
			}
		} else {
			att.Stub = true
		}
		atts[name] = att
	}
	return atts
}
