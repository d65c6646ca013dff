package errors

import (
	"github.com/pkg/errors"
)

// Representation of errors surfaced to the operator. These are divided
// into a small number of categories, essentially distinguished by whose
// fault the error is and whether anything was changed; i.e., is this
// error:
//   - a problem with the input (compose file, artifact), so nothing was attempted?
//   - a cluster state that needs a human to look at it before we touch it?
//   - a failure talking to the cluster, part way through?
type Error struct {
	Type Type
	// a message that can be printed out for the user
	Help string
	// the underlying error that can be e.g., logged for developers to look at
	Err error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

// Cause makes the error play along with errors.Cause.
func (e *Error) Cause() error {
	return e.Err
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Type string

const (
	// The operation looked fine on paper, but something went wrong
	// talking to the cluster
	Server Type = "server"
	// The thing you mentioned, whatever it is, just doesn't exist
	Missing Type = "missing"
	// The input was malformed, or asked for something we can't
	// translate; nothing was attempted
	User Type = "user"
	// The cluster is in a state we refuse to change without someone
	// sorting it out first; nothing was attempted
	Precondition Type = "precondition"
)

// IsType reports whether err, or any error it wraps, is an *Error of
// the given type.
func IsType(err error, t Type) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Type == t
		}
		next := errors.Unwrap(err)
		if next == nil {
			if c, ok := err.(interface{ Cause() error }); ok {
				next = c.Cause()
			}
		}
		err = next
	}
	return false
}

func IsMissing(err error) bool {
	return IsType(err, Missing)
}

// HelpOf returns the help text of the first *Error found in the chain,
// or the empty string.
func HelpOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Help
	}
	return ""
}
