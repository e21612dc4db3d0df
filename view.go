package trombi

import (
	"context"
	"encoding/json"
	"net/url"
	"sort"
	"strings"
)

// ViewRow is a single row of a view result.
type ViewRow struct {
	ID    string `json:"id"`
	Key   any    `json:"key"`
	Value any    `json:"value"`
}

// ViewResult wraps the rows array of a view response. TotalRows and Offset
// reflect the unfiltered counts even when pagination parameters narrowed
// the returned rows.
type ViewResult struct {
	TotalRows int64     `json:"total_rows"`
	Offset    int64     `json:"offset"`
	Rows      []ViewRow `json:"rows"`
}

// Len returns the number of returned rows.
func (r *ViewResult) Len() int { return len(r.Rows) }

// View queries a predefined map/reduce view of a design document.
//
// Parameter values (group, skip, limit, descending, startkey, ...) are
// JSON-encoded individually before URL-encoding. The keys parameter is the
// exception: large key sets blow URL length limits, so it travels as a
// POST body instead, transparently to the caller.
//
// A missing design document and a missing named view both report NotFound
// and differ only in the server's reason text ("missing" versus
// "missing_named_view").
func (db *Database) View(ctx context.Context, design, viewname string, params map[string]any) (*ViewResult, error) {
	target := db.URL() + "/_design/" + design + "/_view/" + viewname
	return db.queryView(ctx, target, params)
}

// TemporaryView runs an ad hoc map and optional reduce function. The
// server compiles the functions per request, making this far more
// expensive than a predefined view; a diagnostic facility, not a data
// path. An empty language defaults to javascript.
func (db *Database) TemporaryView(ctx context.Context, mapFun, reduceFun, language string, params map[string]any) (*ViewResult, error) {
	if language == "" {
		language = "javascript"
	}
	payload := map[string]any{
		"map":      mapFun,
		"language": language,
	}
	if reduceFun != "" {
		payload["reduce"] = reduceFun
	}
	qs, err := encodeParams(params, nil)
	if err != nil {
		return nil, err
	}
	body, err := db.server.marshal(payload)
	if err != nil {
		return nil, err
	}
	status, respBody, err := db.server.fetch(ctx, "POST", db.URL()+"/_temp_view"+qs, "", body)
	if err != nil {
		return nil, err
	}
	return viewResponse(status, respBody)
}

// List runs a server-side rendering function over a view's rows and
// returns the rendered content verbatim.
func (db *Database) List(ctx context.Context, design, listname, viewname string, params map[string]any) ([]byte, error) {
	qs, err := encodeParams(params, nil)
	if err != nil {
		return nil, err
	}
	target := db.URL() + "/_design/" + design + "/_list/" + listname + "/" + viewname + qs
	status, body, err := db.server.fetch(ctx, "GET", target, "", nil)
	if err != nil {
		return nil, err
	}
	if status != 200 {
		return nil, classify(status, body, baseTable)
	}
	return body, nil
}

func (db *Database) queryView(ctx context.Context, target string, params map[string]any) (*ViewResult, error) {
	method := "GET"
	var body []byte
	if keys, ok := params["keys"]; ok {
		method = "POST"
		var err error
		body, err = db.server.marshal(map[string]any{"keys": keys})
		if err != nil {
			return nil, err
		}
	}
	qs, err := encodeParams(params, map[string]bool{"keys": true})
	if err != nil {
		return nil, err
	}
	status, respBody, err := db.server.fetch(ctx, method, target+qs, "", body)
	if err != nil {
		return nil, err
	}
	return viewResponse(status, respBody)
}

func viewResponse(status int, body []byte) (*ViewResult, error) {
	if status != 200 {
		return nil, classify(status, body, baseTable)
	}
	result := &ViewResult{}
	if err := json.Unmarshal(body, result); err != nil {
		return nil, &Error{Kind: ServerError, Msg: string(body)}
	}
	return result, nil
}

// encodeParams turns view parameters into a query string. Each value is
// JSON-encoded, then URL-encoded, so startkey=["a"] arrives the way the
// server expects it. Keys are emitted in sorted order to keep request URLs
// reproducible.
func encodeParams(params map[string]any, skip map[string]bool) (string, error) {
	if len(params) == 0 {
		return "", nil
	}
	names := make([]string, 0, len(params))
	for name := range params {
		if skip[name] {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return "", nil
	}
	sort.Strings(names)
	var buf strings.Builder
	for i, name := range names {
		encoded, err := json.Marshal(params[name])
		if err != nil {
			return "", err
		}
		if i == 0 {
			buf.WriteByte('?')
		} else {
			buf.WriteByte('&')
		}
		buf.WriteString(name)
		buf.WriteByte('=')
		buf.WriteString(url.QueryEscape(string(encoded)))
	}
	return buf.String(), nil
}
