package db

import (
	"errors"
	"fmt"
)

// ----------------------- Database Errors --------------------------

// ErrTypingNotPersisted is returned when a typing signal reaches the store.
var ErrTypingNotPersisted = errors.New("db: typing messages are never persisted")

type BucketNotFoundError struct{ b string }

func (e BucketNotFoundError) Error() string {
	return fmt.Sprintf("db: bucket %q not found", e.b)
}

// DataNotFoundError: d = data key, b = bucket.
type DataNotFoundError struct{ d, b string }

func (e DataNotFoundError) Error() string {
	return fmt.Sprintf("db: could not fetch %q from bucket %q", e.d, e.b)
}

type EncoderError struct{ err string }

func (e EncoderError) Error() string {
	return fmt.Sprintf("db: failed to encode record: %s", e.err)
}

type DecoderError struct{ err string }

func (e DecoderError) Error() string {
	return fmt.Sprintf("db: failed to decode record: %s", e.err)
}

type PutDataError struct{ i, b, e string }

func (e PutDataError) Error() string {
	return fmt.Sprintf("db: failed to put %q in bucket %q: %s", e.i, e.b, e.e)
}

type DeleteDataError struct{ i, b, e string }

func (e DeleteDataError) Error() string {
	return fmt.Sprintf("db: failed to delete %q in bucket %q: %s", e.i, e.b, e.e)
}
