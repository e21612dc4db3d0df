package trombi

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const viewBody = `{"total_rows":3,"offset":1,"rows":[` +
	`{"id":"a","key":"k1","value":1},` +
	`{"id":"b","key":"k2","value":2}]}`

func TestView(t *testing.T) {
	s, _ := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/testdb/_design/testview/_view/all", r.URL.Path)
		io.WriteString(w, viewBody)
	})
	result, err := s.Database("testdb").View(context.Background(), "testview", "all", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, result.TotalRows)
	assert.EqualValues(t, 1, result.Offset)
	require.Equal(t, 2, result.Len())
	assert.Equal(t, "a", result.Rows[0].ID)
	assert.Equal(t, "k1", result.Rows[0].Key)
	assert.EqualValues(t, 1, result.Rows[0].Value)
}

func TestViewParamsAreJSONEncoded(t *testing.T) {
	s, _ := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "true", q.Get("descending"))
		assert.Equal(t, `"a"`, q.Get("startkey"))
		assert.Equal(t, `["a","z"]`, q.Get("endkey"))
		assert.Equal(t, "10", q.Get("limit"))
		io.WriteString(w, viewBody)
	})
	_, err := s.Database("testdb").View(context.Background(), "testview", "all", map[string]any{
		"descending": true,
		"startkey":   "a",
		"endkey":     []string{"a", "z"},
		"limit":      10,
	})
	require.NoError(t, err)
}

// A keys parameter switches the request to POST and travels in the body,
// never in the URL.
func TestViewKeysBecomePOST(t *testing.T) {
	s, _ := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.NotContains(t, r.URL.RawQuery, "keys")
		assert.Equal(t, "true", r.URL.Query().Get("group"))
		payload := decodeBody(t, r)
		assert.Equal(t, map[string]any{"keys": []any{"k1", "k2"}}, payload)
		io.WriteString(w, viewBody)
	})
	_, err := s.Database("testdb").View(context.Background(), "testview", "all", map[string]any{
		"keys":  []string{"k1", "k2"},
		"group": true,
	})
	require.NoError(t, err)
}

func TestViewMissing(t *testing.T) {
	s, _ := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
		io.WriteString(w, `{"error":"not_found","reason":"missing_named_view"}`)
	})
	_, err := s.Database("testdb").View(context.Background(), "testview", "nope", nil)
	require.Error(t, err)
	assert.Equal(t, NotFound, ErrorKind(err))
	assert.EqualError(t, err, "trombi: not_found: missing_named_view")
}

func TestTemporaryView(t *testing.T) {
	s, _ := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/testdb/_temp_view", r.URL.Path)
		payload := decodeBody(t, r)
		assert.Equal(t, "function(doc) { emit(null, doc); }", payload["map"])
		assert.Equal(t, "javascript", payload["language"])
		assert.NotContains(t, payload, "reduce")
		io.WriteString(w, viewBody)
	})
	result, err := s.Database("testdb").TemporaryView(context.Background(),
		"function(doc) { emit(null, doc); }", "", "", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Len())
}

func TestTemporaryViewWithReduce(t *testing.T) {
	s, _ := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		payload := decodeBody(t, r)
		assert.Equal(t, "_count", payload["reduce"])
		assert.Equal(t, "erlang", payload["language"])
		io.WriteString(w, `{"rows":[{"key":null,"value":2}]}`)
	})
	result, err := s.Database("testdb").TemporaryView(context.Background(),
		"fun({Doc}) -> Emit(null, 1) end.", "_count", "erlang", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, result.Rows[0].Value)
}

func TestList(t *testing.T) {
	s, _ := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/testdb/_design/testview/_list/render/all", r.URL.Path)
		io.WriteString(w, "<html>rendered</html>")
	})
	body, err := s.Database("testdb").List(context.Background(), "testview", "render", "all", nil)
	require.NoError(t, err)
	assert.Equal(t, "<html>rendered</html>", string(body))
}

func TestEncodeParamsDeterministic(t *testing.T) {
	qs, err := encodeParams(map[string]any{"b": 2, "a": 1, "c": "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "?a=1&b=2&c=%22x%22", qs)

	qs, err = encodeParams(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "", qs)

	qs, err = encodeParams(map[string]any{"keys": []int{1}}, map[string]bool{"keys": true})
	require.NoError(t, err)
	assert.Equal(t, "", qs)
}
