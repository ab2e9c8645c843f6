package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

var (
	// ErrNotFound means no place exists for the class and id.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate means a unique index rejected the write, usually a
	// second place with the same class and slug.
	ErrDuplicate = errors.New("duplicate record")

	// ErrConflict means concurrent writers touched the same place. The
	// write can be retried.
	ErrConflict = errors.New("write conflict")

	// ErrDimension means an embedding does not match the HNSW index
	// dimension. Re-run InitSchema with the embedder's dimension.
	ErrDimension = errors.New("embedding dimension mismatch")
)

// queryErrorKinds maps fragments of SurrealDB query error messages to
// sentinels. First match wins.
var queryErrorKinds = []struct {
	fragment string
	kind     error
}{
	{"already exists", ErrDuplicate},
	{"already contains", ErrDuplicate},
	{"transaction conflict", ErrConflict},
	{"incorrect vector dimension", ErrDimension},
	{"dimension mismatch", ErrDimension},
}

// wrapQueryError tags database-level query errors with a sentinel. Other
// errors (transport, decoding) are returned as is.
func wrapQueryError(err error) error {
	var qe *surrealdb.QueryError
	if !errors.As(err, &qe) {
		return err
	}
	msg := strings.ToLower(qe.Message)
	for _, k := range queryErrorKinds {
		if strings.Contains(msg, k.fragment) {
			return fmt.Errorf("%w: %s", k.kind, qe.Message)
		}
	}
	return err
}
