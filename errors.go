package shardsync

import "github.com/pkg/errors"

// Kinds of run errors.
// Test for them with errors.Is.
var (
	// ErrNotFound is the error for a shard ID with no directory entry.
	ErrNotFound = errors.New("not found")

	ErrDirectoryLookup = errors.New("directory lookup")
	ErrRemote          = errors.New("remote shard")
	ErrUpsert          = errors.New("upsert")
	ErrStoreFatal      = errors.New("keyed store unusable")
)

// Error is an error tagged with one of the kinds above.
type Error struct {
	Kind error
	Err  error
}

// NewError wraps err as an error of the given kind.
// It returns nil if err is nil,
// and err itself if err already has that kind.
func NewError(kind, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) {
		return err
	}
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is e's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// IsFatal tells whether err should abort a run.
// Everything but a plain upsert failure is fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStoreFatal) {
		return true
	}
	return !errors.Is(err, ErrUpsert)
}
