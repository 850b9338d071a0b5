package notes

import (
	"context"
	"time"

	"github.com/kuitang/persona-notes/internal/errs"
)

// Logical field names shared by payloads, the wire format and the stores.
const (
	FieldID           = "id"
	FieldPersonaID    = "personaId"
	FieldTitle        = "title"
	FieldContent      = "content"
	FieldDateCreated  = "dateCreated"
	FieldDateModified = "dateModified"
)

// MutableFields are the only fields an edit may change.
var MutableFields = []string{FieldTitle, FieldContent}

// ErrNotFound is returned by stores when no note has the requested id.
var ErrNotFound = errs.New(errs.NotFound, "note not found")

// Note is the sole persisted entity: a titled text owned by a persona.
type Note struct {
	ID           string    `json:"id" bson:"-"`
	PersonaID    string    `json:"personaId" bson:"personaId"`
	Title        string    `json:"title" bson:"title"`
	Content      string    `json:"content" bson:"content"`
	DateCreated  time.Time `json:"dateCreated" bson:"dateCreated"`
	DateModified time.Time `json:"dateModified" bson:"dateModified"`
}

// Payload is a loosely typed note body as received from a caller.
type Payload = map[string]any

// Store is the persistence boundary for notes. Implementations own a single
// long-lived collection handle shared by all requests and perform no
// validation of their own.
type Store interface {
	// Insert stores a new note and returns it with its generated id.
	Insert(ctx context.Context, note Note) (*Note, error)
	// FindByID returns ErrNotFound when no note has the given id.
	FindByID(ctx context.Context, id string) (*Note, error)
	// FindByOwner returns the persona's notes, most recently modified first.
	FindByOwner(ctx context.Context, personaID string) ([]Note, error)
	// PartialUpdate sets only the named fields, leaving the rest untouched.
	PartialUpdate(ctx context.Context, id string, fields map[string]any) error
	// DeleteByID removes at most one note. A missing id is not an error.
	DeleteByID(ctx context.Context, id string) error
}

// OwnerGate confirms that the current caller may act on a persona's notes.
type OwnerGate interface {
	AssertOwnerExists(ctx context.Context, personaID string) error
}
