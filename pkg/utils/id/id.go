// Package id provides the identifiers used across the RAG service.
//
//	taskID := id.NewTaskID()                  // "01ARZ3NDEKTSV4RRFFQ69G5FAV"
//	docID := id.DocumentID("docs/cats.txt")   // stable UUIDv5
package id

import (
	"crypto/rand"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ErrInvalidTaskID is returned when a task id is empty, too long or contains
// characters other than letters, digits and "-_.:".
var ErrInvalidTaskID = errors.New("invalid task id")

// maxTaskIDLen bounds ids accepted from callers; generated ids are 26 chars.
const maxTaskIDLen = 128

// documentNamespace scopes document ids so they never collide with other
// UUIDv5 users of the same path.
var documentNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("sentinel-rag/documents"))

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewTaskID returns a new lexicographically sortable task id.
// Ids generated within the same millisecond are strictly increasing.
func NewTaskID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Now(), entropy).String()
}

// ValidateTaskID checks that s can be used as a task id. Ids are opaque to
// callers: anything NewTaskID produces passes, and so do ids minted by other
// producers sharing the same backend.
func ValidateTaskID(s string) error {
	if s == "" || len(s) > maxTaskIDLen {
		return ErrInvalidTaskID
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r == '-', r == '_', r == '.', r == ':':
		default:
			return ErrInvalidTaskID
		}
	}
	return nil
}

// DocumentID derives a deterministic id from a document path, so reloading
// the same corpus yields the same ids.
func DocumentID(path string) string {
	return uuid.NewSHA1(documentNamespace, []byte(path)).String()
}
