package trombi

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies a failed operation. The numeric values are stable and
// follow the HTTP status codes they originate from, plus two pseudo-codes:
// InvalidDatabaseName for client-side validation and ConnectionFailed for
// requests that never reached the server.
type Kind int

const (
	InvalidDatabaseName Kind = 51
	BadRequest          Kind = 400
	NotFound            Kind = 404
	Conflict            Kind = 409
	PreconditionFailed  Kind = 412
	ServerError         Kind = 500
	ConnectionFailed    Kind = 599
)

func (k Kind) String() string {
	switch k {
	case InvalidDatabaseName:
		return "invalid_database_name"
	case BadRequest:
		return "bad_request"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case PreconditionFailed:
		return "precondition_failed"
	case ServerError:
		return "server_error"
	case ConnectionFailed:
		return "connection_failed"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error describes a failed CouchDB operation. Msg carries the server's
// reason field when the response body had one, the raw body otherwise.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return "trombi: " + e.Kind.String() + ": " + e.Msg
}

// ErrorKind returns the classification of an error produced by this
// package, or 0 if err came from a different source.
func ErrorKind(err error) Kind {
	var cErr *Error
	if errors.As(err, &cErr) {
		return cErr.Kind
	}
	return 0
}

// ErrReservedField is returned when a caller tries to store a field whose
// name starts with an underscore. That prefix belongs to the document
// envelope and is never part of the user field mapping.
var ErrReservedField = errors.New("trombi: field names starting with '_' are reserved")

// statusTable translates HTTP status codes into error kinds. Codes are
// overloaded across the CouchDB API, so each operation supplies its own
// table; codes missing from the table fall through to ServerError with the
// raw response body as the message.
type statusTable map[int]Kind

var baseTable = statusTable{
	400: BadRequest,
	404: NotFound,
	409: Conflict,
	412: PreconditionFailed,
	500: ServerError,
}

func classify(status int, body []byte, table statusTable) *Error {
	if kind, ok := table[status]; ok {
		return &Error{Kind: kind, Msg: reason(body)}
	}
	return &Error{Kind: ServerError, Msg: string(body)}
}

// reason extracts the server-supplied failure message. Bodies that are not
// JSON, or that parse to something without a reason field (a list, say),
// are passed through verbatim.
func reason(body []byte) string {
	var payload struct {
		Reason *string `json:"reason"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Reason == nil {
		return string(body)
	}
	return *payload.Reason
}

func connectionFailed() *Error {
	return &Error{Kind: ConnectionFailed, Msg: "Unable to connect to CouchDB"}
}
