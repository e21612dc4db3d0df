package trombi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/go-querystring/query"
)

// ChangesOptions narrow a changes feed. Feed is set by the method used and
// need not be filled in by the caller. Timeout and Heartbeat are
// milliseconds, matching the wire protocol.
type ChangesOptions struct {
	Feed        string `url:"feed,omitempty"`
	Since       int64  `url:"since,omitempty"`
	Timeout     int    `url:"timeout,omitempty"`
	Heartbeat   int    `url:"heartbeat,omitempty"`
	IncludeDocs bool   `url:"include_docs,omitempty"`
	Filter      string `url:"filter,omitempty"`
}

// ChangeRev describes one revision affected by a change.
type ChangeRev struct {
	Rev string `json:"rev"`
}

// Change is one document mutation event from a changes feed.
type Change struct {
	Seq     int64       `json:"seq"`
	ID      string      `json:"id"`
	Changes []ChangeRev `json:"changes"`
	Deleted bool        `json:"deleted,omitempty"`
}

// ChangesResult is the envelope of a bounded (normal or long-polling)
// changes request.
type ChangesResult struct {
	Results []Change `json:"results"`
	LastSeq int64    `json:"last_seq"`
}

// A continuous feed without an explicit timeout keeps the connection open
// for an hour at a time; individual changes arrive far more often than
// that in any live database.
const defaultFeedTimeout = 3600 * 1000

// The server holds a quiet longpoll request open for 60 seconds unless
// told otherwise.
const defaultLongpollTimeout = 60 * 1000

// Slack granted beyond the server-side longpoll timeout before the client
// gives up on the connection.
const longpollSlack = 10 * time.Second

// Changes issues one bounded changes request. With feed=longpoll the
// request blocks server-side until a change occurred or the timeout
// elapsed; either way the whole response arrives as a single envelope.
// Use ContinuousChanges for an unbounded feed.
func (db *Database) Changes(ctx context.Context, opts ChangesOptions) (*ChangesResult, error) {
	if opts.Feed == "continuous" {
		return nil, fmt.Errorf("trombi: use ContinuousChanges for feed=continuous")
	}
	target, err := db.changesURL(opts)
	if err != nil {
		return nil, err
	}
	var status int
	var body []byte
	if opts.Feed == "longpoll" {
		// A quiet longpoll legitimately outlives the shared client's
		// per-request timeout, so it runs on a derived client with the
		// deadline taken from the server-side wait instead.
		wait := opts.Timeout
		if wait == 0 {
			wait = defaultLongpollTimeout
		}
		lpCtx, cancel := context.WithTimeout(ctx, time.Duration(wait)*time.Millisecond+longpollSlack)
		defer cancel()
		resp, err := db.server.sendWith(lpCtx, db.server.feedClient(), "GET", target, "", nil, nil)
		if err != nil {
			return nil, err
		}
		status, body, err = drain(resp)
		if err != nil {
			return nil, err
		}
	} else {
		status, body, err = db.server.fetch(ctx, "GET", target, "", nil)
		if err != nil {
			return nil, err
		}
	}
	if status != 200 {
		return nil, classify(status, body, baseTable)
	}
	result := &ChangesResult{}
	if err := json.Unmarshal(body, result); err != nil {
		return nil, &Error{Kind: ServerError, Msg: string(body)}
	}
	return result, nil
}

// ChangesFeed is a live continuous changes subscription. Events arrive on
// the Events channel in exactly the order they appear on the wire; the
// channel closing is the end-of-feed signal, after which Err reports
// whether the feed ended cleanly.
type ChangesFeed struct {
	events chan Change
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

// Events returns the ordered stream of change events. The channel is
// closed when the underlying connection terminates.
func (f *ChangesFeed) Events() <-chan Change { return f.events }

// Err reports why the feed ended. It is meaningful once Events is closed
// and returns nil for a clean shutdown (server closed the stream, or the
// feed was closed locally).
func (f *ChangesFeed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Close tears down the connection. The Events channel closes once the
// reader has drained.
func (f *ChangesFeed) Close() error {
	f.cancel()
	return nil
}

// ContinuousChanges subscribes to the unbounded changes feed. The response
// body is consumed incrementally: every newline-terminated JSON fragment
// becomes one event, delivered as soon as it is complete, while non-JSON
// keep-alive lines are dropped as transport noise.
func (db *Database) ContinuousChanges(ctx context.Context, opts ChangesOptions) (*ChangesFeed, error) {
	opts.Feed = "continuous"
	if opts.Timeout == 0 {
		opts.Timeout = defaultFeedTimeout
	}
	target, err := db.changesURL(opts)
	if err != nil {
		return nil, err
	}

	feedCtx, cancel := context.WithCancel(ctx)
	resp, err := db.server.sendWith(feedCtx, db.server.feedClient(), "GET", target, "", nil, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode != 200 {
		_, body, derr := drain(resp)
		cancel()
		if derr != nil {
			return nil, derr
		}
		return nil, classify(resp.StatusCode, body, baseTable)
	}

	feed := &ChangesFeed{
		events: make(chan Change),
		cancel: cancel,
	}
	go feed.run(feedCtx, resp.Body)
	return feed, nil
}

func (db *Database) changesURL(opts ChangesOptions) (string, error) {
	values, err := query.Values(opts)
	if err != nil {
		return "", err
	}
	target := db.URL() + "/_changes"
	if qs := values.Encode(); qs != "" {
		target += "?" + qs
	}
	return target, nil
}

func (f *ChangesFeed) run(ctx context.Context, body io.ReadCloser) {
	defer close(f.events)
	defer body.Close()

	var parser feedParser
	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, event := range parser.feed(buf[:n]) {
				select {
				case f.events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				f.mu.Lock()
				f.err = connectionFailed()
				f.mu.Unlock()
			}
			return
		}
	}
}

// feedParser reassembles newline-delimited JSON from arbitrarily sliced
// chunks. Complete lines that fail to parse are heartbeat padding and get
// dropped; a trailing partial line stays buffered until the next chunk
// terminates it.
type feedParser struct {
	buf []byte
}

func (p *feedParser) feed(chunk []byte) []Change {
	if len(bytes.TrimSpace(chunk)) == 0 {
		return nil
	}
	p.buf = append(p.buf, chunk...)

	var events []Change
	for {
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			return events
		}
		line := bytes.TrimSpace(p.buf[:i])
		p.buf = p.buf[i+1:]
		if len(line) == 0 {
			continue
		}
		var event Change
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		if event.ID == "" {
			// The closing {"last_seq": N} line parses but is no change.
			continue
		}
		events = append(events, event)
	}
}
