// Package errors implements an Upspin-style error type: a single concrete
// *Error carries a Kind, an optional wrapped cause and a human message, and
// knows how to render itself as the W3C-shaped envelope of spec §6.
package errors

import (
	"fmt"
	"strings"
)

// Kind classifies an error for both HTTP-status and W3C error-code mapping.
type Kind int

const (
	Other Kind = iota

	// Startup / infrastructure kinds. These abort the program; they never
	// reach the HTTP envelope.
	InvalidPort
	ConfigNotFound
	ConfigLoadError
	ConfigUnexpectedBrowser
	IOError
	Validation

	// Per-request kinds, mapped to the W3C envelope by the table in spec §6.
	EndpointNotFoundKind
	MethodNotFoundKind
	SessionNotFoundKind
	ErrorCreatingSessionKind
	NoMatchingBrowserKind
	NoSessionsAvailableKind
	RequestErrorKind
	NodeNotFoundKind
	ErrorCreatingNodeKind
	ErrorUpdatingNodeKind
	ErrorDeregisteringNodeKind
	Internal
)

// wcode and httpStatus give the §6 mapping table a single source of truth.
var wcode = map[Kind]string{
	EndpointNotFoundKind:       "unknown method",
	MethodNotFoundKind:         "unknown method",
	SessionNotFoundKind:        "invalid session id",
	ErrorCreatingSessionKind:   "session not created",
	NoMatchingBrowserKind:      "session not created",
	NoSessionsAvailableKind:    "session not created",
	RequestErrorKind:           "unknown error",
	NodeNotFoundKind:           "node not found",
	ErrorCreatingNodeKind:      "error creating node",
	ErrorUpdatingNodeKind:      "error updating node",
	ErrorDeregisteringNodeKind: "error deregistering node",
	Internal:                   "unknown error",
	Other:                      "unknown error",
}

var httpStatus = map[Kind]int{
	EndpointNotFoundKind:       400,
	MethodNotFoundKind:         400,
	SessionNotFoundKind:        500,
	ErrorCreatingSessionKind:   500,
	NoMatchingBrowserKind:      404,
	NoSessionsAvailableKind:    404,
	RequestErrorKind:           500,
	NodeNotFoundKind:           500,
	ErrorCreatingNodeKind:      500,
	ErrorUpdatingNodeKind:      500,
	ErrorDeregisteringNodeKind: 500,
	Internal:                   500,
	Other:                      500,
}

// Error is the concrete error value carried across package boundaries.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Message != "" {
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	if b.Len() == 0 {
		return wcode[e.Kind]
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus reports the status code this error should be served with.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return 500
}

// WCode reports the W3C error-code string for this error's kind.
func (e *Error) WCode() string {
	if c, ok := wcode[e.Kind]; ok {
		return c
	}
	return "unknown error"
}

// Envelope is the §6 JSON shape Xenon-synthesized errors are served as.
type Envelope struct {
	Status int           `json:"status"`
	State  string        `json:"state"`
	Value  EnvelopeValue `json:"value"`
}

type EnvelopeValue struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Envelope builds the response body for this error.
func (e *Error) Envelope() Envelope {
	msg := e.Message
	if msg == "" {
		msg = e.Error()
	}
	return Envelope{
		Status: e.HTTPStatus(),
		State:  e.WCode(),
		Value: EnvelopeValue{
			Message: msg,
			Error:   e.WCode(),
		},
	}
}

// E builds an *Error from a mix of Kind, string and error arguments, in the
// style of the Upspin errors package: strings are joined as the message, and
// a later Kind or error argument overwrites an earlier one, so the last Kind
// and the last error win. When the first error is itself an *Error and no
// Kind argument came before it, its Kind is adopted.
func E(args ...any) *Error {
	e := &Error{}
	var msgs []string
	for _, a := range args {
		switch v := a.(type) {
		case Kind:
			e.Kind = v
		case string:
			msgs = append(msgs, v)
		case error:
			if inner, ok := v.(*Error); ok && e.Err == nil && e.Kind == Other {
				e.Kind = inner.Kind
			}
			e.Err = v
		case *Error:
			e.Err = v
		}
	}
	e.Message = strings.Join(msgs, ": ")
	return e
}

// PassThrough is the ResponsePassThrough outcome of spec §7: a backend HTTP
// response forwarded verbatim, distinct from a Xenon-synthesized *Error so
// the Router can skip the envelope entirely and any local-cleanup branch
// that only applies to Xenon-manufactured failures.
type PassThrough struct {
	Status      int
	Body        []byte
	ContentType string
}

func (p *PassThrough) Error() string {
	return fmt.Sprintf("pass-through response (status %d)", p.Status)
}

// ValidationErrors accumulates field-level validation failures, e.g. while
// checking a loaded BrowserConfig or PortManager range list.
type ValidationErrors struct {
	errs []string
}

// ValidationErrs returns a new, empty ValidationErrors builder.
func ValidationErrs() *ValidationErrors {
	return &ValidationErrors{}
}

// Add records a field-level validation failure.
func (v *ValidationErrors) Add(field, msg string) {
	v.errs = append(v.errs, field+": "+msg)
}

// Empty reports whether no failures have been recorded.
func (v *ValidationErrors) Empty() bool { return len(v.errs) == 0 }

// Err returns nil when empty, else a single *Error of Kind Validation
// joining every recorded failure.
func (v *ValidationErrors) Err() error {
	if v.Empty() {
		return nil
	}
	return E(Validation, strings.Join(v.errs, "; "))
}

// --- Router-facing constructors, one per spec §6 error code. ---

func EndpointNotFound() *Error { return E(EndpointNotFoundKind, "endpoint not found") }

func MethodNotFound() *Error { return E(MethodNotFoundKind, "method not found") }

func SessionNotFound(id string) *Error {
	return E(SessionNotFoundKind, fmt.Sprintf("no session with id %q", id))
}

func ErrorCreatingSession(msg string) *Error {
	return E(ErrorCreatingSessionKind, msg)
}

func NoMatchingBrowser() *Error {
	return E(NoMatchingBrowserKind, "no configured browser matches the requested capabilities")
}

func NoSessionsAvailable() *Error {
	return E(NoSessionsAvailableKind, "no session capacity available")
}

func RequestError(err error) *Error {
	return E(RequestErrorKind, "request to backend driver failed", err)
}

func NodeNotFound() *Error { return E(NodeNotFoundKind, "no node with that id") }

func ErrorCreatingNode(err error) *Error {
	return E(ErrorCreatingNodeKind, "error creating node", err)
}

func ErrorUpdatingNode(err error) *Error {
	return E(ErrorUpdatingNodeKind, "error updating node", err)
}

func ErrorDeregisteringNode(err error) *Error {
	return E(ErrorDeregisteringNodeKind, "error deregistering node", err)
}

func InternalServerError(err error) *Error {
	return E(Internal, "internal error", err)
}

// --- Generic HTTP helpers, mirroring the teacher's handler-level idiom. ---

func EmptyParamErr(field string) *Error {
	return E(EndpointNotFoundKind, fmt.Sprintf("missing required parameter %q", field))
}

func InvalidBodyErr(err error) *Error {
	return E(ErrorCreatingSessionKind, "invalid request body", err)
}

func ValidationFailedErr(err error) *Error {
	return E(Validation, "validation failed", err)
}
