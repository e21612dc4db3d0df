package trombi

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedParserSingleLine(t *testing.T) {
	var p feedParser
	events := p.feed([]byte(`{"seq":1,"id":"testid","changes":[{"rev":"1-abc"}]}` + "\n"))
	require.Len(t, events, 1)
	assert.EqualValues(t, 1, events[0].Seq)
	assert.Equal(t, "testid", events[0].ID)
	require.Len(t, events[0].Changes, 1)
	assert.Equal(t, "1-abc", events[0].Changes[0].Rev)
}

func TestFeedParserReassemblesSplitLines(t *testing.T) {
	var p feedParser
	assert.Empty(t, p.feed([]byte(`{"seq":1,"id":"te`)))
	assert.Empty(t, p.feed([]byte(`stid","chan`)))
	events := p.feed([]byte("ges\":[{\"rev\":\"1-abc\"}]}\n{\"seq\":2,\"id\":\"other\",\"changes\":[]}\n"))
	require.Len(t, events, 2)
	assert.Equal(t, "testid", events[0].ID)
	assert.Equal(t, "other", events[1].ID)
}

func TestFeedParserDropsNoise(t *testing.T) {
	var p feedParser
	// Heartbeat newlines and garbage lines carry no events.
	assert.Empty(t, p.feed([]byte("\n\n")))
	assert.Empty(t, p.feed([]byte("not json\n")))

	events := p.feed([]byte(`{"seq":3,"id":"testid","changes":[]}` + "\n"))
	require.Len(t, events, 1)
	assert.EqualValues(t, 3, events[0].Seq)
}

func TestFeedParserSkipsTrailer(t *testing.T) {
	var p feedParser
	events := p.feed([]byte(`{"seq":4,"id":"testid","changes":[]}` + "\n" + `{"last_seq":4}` + "\n"))
	require.Len(t, events, 1)
	assert.Equal(t, "testid", events[0].ID)
}

func TestFeedParserDeletedFlag(t *testing.T) {
	var p feedParser
	events := p.feed([]byte(`{"seq":5,"id":"testid","changes":[{"rev":"2-abc"}],"deleted":true}` + "\n"))
	require.Len(t, events, 1)
	assert.True(t, events[0].Deleted)
}

func TestChanges(t *testing.T) {
	s, _ := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/testdb/_changes", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("since"))
		io.WriteString(w, `{"results":[`+
			`{"seq":6,"id":"a","changes":[{"rev":"1-x"}]},`+
			`{"seq":7,"id":"b","changes":[{"rev":"2-y"}]}],"last_seq":7}`)
	})
	result, err := s.Database("testdb").Changes(context.Background(), ChangesOptions{Since: 5})
	require.NoError(t, err)
	assert.EqualValues(t, 7, result.LastSeq)
	require.Len(t, result.Results, 2)
	assert.Equal(t, "a", result.Results[0].ID)
	assert.Equal(t, "b", result.Results[1].ID)
}

func TestChangesLongpollOptions(t *testing.T) {
	s, _ := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "longpoll", q.Get("feed"))
		assert.Equal(t, "1000", q.Get("timeout"))
		assert.Equal(t, "true", q.Get("include_docs"))
		io.WriteString(w, `{"results":[],"last_seq":0}`)
	})
	_, err := s.Database("testdb").Changes(context.Background(), ChangesOptions{
		Feed:        "longpoll",
		Timeout:     1000,
		IncludeDocs: true,
	})
	require.NoError(t, err)
}

// A quiet long poll holds the connection open longer than the shared
// client's per-request timeout allows; it must still complete cleanly
// with the server's empty envelope.
func TestChangesLongpollOutlivesClientTimeout(t *testing.T) {
	s, _ := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "longpoll", r.URL.Query().Get("feed"))
		time.Sleep(200 * time.Millisecond)
		io.WriteString(w, `{"results":[],"last_seq":9}`)
	})
	s.client.Timeout = 50 * time.Millisecond

	result, err := s.Database("testdb").Changes(context.Background(), ChangesOptions{
		Feed:    "longpoll",
		Timeout: 120000,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 9, result.LastSeq)
	assert.Empty(t, result.Results)
}

func TestChangesLongpollHonorsCancellation(t *testing.T) {
	started := make(chan struct{})
	s, _ := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := s.Database("testdb").Changes(ctx, ChangesOptions{Feed: "longpoll", Timeout: 120000})
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
}

func TestChangesRefusesContinuousFeed(t *testing.T) {
	s := NewServer("http://couch.invalid:5984")
	_, err := s.Database("testdb").Changes(context.Background(), ChangesOptions{Feed: "continuous"})
	require.Error(t, err)
}

func TestContinuousChanges(t *testing.T) {
	lines := []string{
		`{"seq":1,"id":"a","changes":[{"rev":"1-x"}]}`,
		`{"seq":2,"id":"b","changes":[{"rev":"1-y"}]}`,
		`{"seq":3,"id":"c","changes":[{"rev":"1-z"}],"deleted":true}`,
	}
	s, _ := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "continuous", r.URL.Query().Get("feed"))
		flusher := w.(http.Flusher)
		for _, line := range lines {
			io.WriteString(w, line+"\n")
			flusher.Flush()
		}
		io.WriteString(w, `{"last_seq":3}`+"\n")
	})

	feed, err := s.Database("testdb").ContinuousChanges(context.Background(), ChangesOptions{})
	require.NoError(t, err)
	defer feed.Close()

	var got []Change
	for event := range feed.Events() {
		got = append(got, event)
	}
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.Equal(t, "c", got[2].ID)
	assert.True(t, got[2].Deleted)
	assert.NoError(t, feed.Err())
}

func TestContinuousChangesClose(t *testing.T) {
	release := make(chan struct{})
	s, _ := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"seq":1,"id":"a","changes":[]}`+"\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	t.Cleanup(func() { close(release) })

	feed, err := s.Database("testdb").ContinuousChanges(context.Background(), ChangesOptions{})
	require.NoError(t, err)

	event := <-feed.Events()
	assert.Equal(t, "a", event.ID)

	require.NoError(t, feed.Close())
	select {
	case _, open := <-feed.Events():
		assert.False(t, open, "closing the feed must close the event channel")
	case <-time.After(5 * time.Second):
		t.Fatal("event channel did not close")
	}
}

func TestContinuousChangesBadStatus(t *testing.T) {
	s, _ := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
		io.WriteString(w, `{"error":"not_found","reason":"no_db_file"}`)
	})
	_, err := s.Database("testdb").ContinuousChanges(context.Background(), ChangesOptions{})
	require.Error(t, err)
	assert.Equal(t, NotFound, ErrorKind(err))
}

func TestContinuousChangesDefaultTimeout(t *testing.T) {
	s, _ := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3600000", r.URL.Query().Get("timeout"))
	})
	feed, err := s.Database("testdb").ContinuousChanges(context.Background(), ChangesOptions{})
	require.NoError(t, err)
	feed.Close()
	for range feed.Events() {
	}
}
