package trombi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
)

// Database names are validated client-side so violations never reach the
// network.
var validDBName = regexp.MustCompile(`^[a-z][a-z0-9_$()+-/]*$`)

// Server is a handle to a CouchDB instance. The transport configuration is
// read-only after construction except for the session cookie, which login
// helpers may swap at any time and is therefore guarded for hosts that
// issue requests from multiple goroutines.
type Server struct {
	baseURL string
	client  *http.Client
	cred    *Credentials
	marshal func(any) ([]byte, error)

	mu      sync.RWMutex
	session string
}

// Credentials for HTTP basic auth.
type Credentials struct {
	user     string
	password string
}

// NewCredentials returns credentials usable with WithCredentials.
func NewCredentials(user, password string) *Credentials {
	return &Credentials{user: user, password: password}
}

// ServerOption configures a Server through the functional options pattern.
type ServerOption func(*Server)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) ServerOption {
	return func(s *Server) { s.client = client }
}

// WithCredentials attaches basic auth credentials to every request.
func WithCredentials(cred *Credentials) ServerOption {
	return func(s *Server) { s.cred = cred }
}

// WithEncoder replaces the JSON encoder used for request bodies. Use it to
// serialize value types the standard encoder rejects, timestamps for
// instance.
func WithEncoder(marshal func(any) ([]byte, error)) ServerOption {
	return func(s *Server) { s.marshal = marshal }
}

// NewServer returns a handle for the CouchDB instance at rawurl. A
// trailing slash on the URL is dropped.
func NewServer(rawurl string, opts ...ServerOption) *Server {
	s := &Server{
		baseURL: strings.TrimRight(rawurl, "/"),
		client:  defaultHTTPClient(),
		marshal: json.Marshal,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FromURI parses an URI of the form http://host[:port]/dbname into a
// Database handle. Only plain http URIs without query string or fragment
// are accepted; parsing happens locally and fails immediately.
func FromURI(rawuri string, opts ...ServerOption) (*Database, error) {
	u, err := url.Parse(rawuri)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" {
		return nil, fmt.Errorf("trombi: unsupported scheme %q", u.Scheme)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return nil, fmt.Errorf("trombi: URI %q must not carry a query or fragment", rawuri)
	}
	name := strings.Trim(u.Path, "/")
	if name == "" {
		return nil, fmt.Errorf("trombi: URI %q carries no database name", rawuri)
	}
	server := NewServer(u.Scheme+"://"+u.Host, opts...)
	return server.Database(name), nil
}

// URL returns the normalized base URL, without trailing slash.
func (s *Server) URL() string { return s.baseURL }

// SetSession stores an opaque session cookie sent with every subsequent
// request. An empty string clears it.
func (s *Server) SetSession(cookie string) {
	s.mu.Lock()
	s.session = cookie
	s.mu.Unlock()
}

// Session returns the current session cookie.
func (s *Server) Session() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Database returns a handle scoped to one named database. The handle is a
// cheap value, no caching or network traffic involved.
func (s *Server) Database(name string) *Database {
	return &Database{server: s, name: name}
}

func invalidName(name string) *Error {
	return &Error{
		Kind: InvalidDatabaseName,
		Msg:  fmt.Sprintf("Invalid database name: %q", name),
	}
}

// Create makes a new database. An invalid name short-circuits without a
// network call; a name already in use reports PreconditionFailed.
func (s *Server) Create(ctx context.Context, name string) (*Database, error) {
	if !validDBName.MatchString(name) {
		return nil, invalidName(name)
	}
	status, body, err := s.fetch(ctx, "PUT", s.baseURL+"/"+name, "", []byte{})
	if err != nil {
		return nil, err
	}
	switch status {
	case 201:
		return s.Database(name), nil
	case 412:
		return nil, &Error{
			Kind: PreconditionFailed,
			Msg:  fmt.Sprintf("Database already exists: %q", name),
		}
	default:
		return nil, classify(status, body, baseTable)
	}
}

// Get returns a handle for an existing database, checking that it is
// really there.
func (s *Server) Get(ctx context.Context, name string) (*Database, error) {
	if !validDBName.MatchString(name) {
		return nil, invalidName(name)
	}
	status, body, err := s.fetch(ctx, "GET", s.baseURL+"/"+name, "", nil)
	if err != nil {
		return nil, err
	}
	switch status {
	case 200:
		return s.Database(name), nil
	case 404:
		return nil, &Error{
			Kind: NotFound,
			Msg:  fmt.Sprintf("Database not found: %q", name),
		}
	default:
		return nil, classify(status, body, baseTable)
	}
}

// GetOrCreate behaves like Get but transparently creates the database when
// it does not exist yet.
func (s *Server) GetOrCreate(ctx context.Context, name string) (*Database, error) {
	db, err := s.Get(ctx, name)
	if ErrorKind(err) == NotFound {
		return s.Create(ctx, name)
	}
	return db, err
}

// Delete removes a database and everything in it.
func (s *Server) Delete(ctx context.Context, name string) error {
	status, body, err := s.fetch(ctx, "DELETE", s.baseURL+"/"+name, "", []byte{})
	if err != nil {
		return err
	}
	switch status {
	case 200:
		return nil
	case 404:
		return &Error{
			Kind: NotFound,
			Msg:  fmt.Sprintf("Database does not exist: %q", name),
		}
	default:
		return classify(status, body, baseTable)
	}
}

// ListDatabases enumerates all databases of the instance, in the order the
// server reports them.
func (s *Server) ListDatabases(ctx context.Context) ([]*Database, error) {
	status, body, err := s.fetch(ctx, "GET", s.baseURL+"/_all_dbs", "", nil)
	if err != nil {
		return nil, err
	}
	if status != 200 {
		return nil, classify(status, body, baseTable)
	}
	var names []string
	if err := json.Unmarshal(body, &names); err != nil {
		return nil, &Error{Kind: ServerError, Msg: string(body)}
	}
	dbs := make([]*Database, len(names))
	for i, name := range names {
		dbs[i] = s.Database(name)
	}
	return dbs, nil
}
