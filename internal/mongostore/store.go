// Package mongostore implements notes.Store on a MongoDB collection.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kuitang/persona-notes/internal/errs"
	"github.com/kuitang/persona-notes/internal/notes"
	"github.com/kuitang/persona-notes/internal/obs"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// ErrMalformedID is returned for ids that are not ObjectID hex strings.
var ErrMalformedID = errs.New(errs.InvalidArgument, "malformed note id")

// fixedFields can never be the target of a partial update.
var fixedFields = map[string]bool{
	"_id":                  true,
	notes.FieldID:          true,
	notes.FieldPersonaID:   true,
	notes.FieldDateCreated: true,
}

// noteDocument is the persisted shape of a note.
type noteDocument struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	PersonaID    string             `bson:"personaId"`
	Title        string             `bson:"title"`
	Content      string             `bson:"content"`
	DateCreated  time.Time          `bson:"dateCreated"`
	DateModified time.Time          `bson:"dateModified"`
}

func (d noteDocument) toNote() *notes.Note {
	return &notes.Note{
		ID:           d.ID.Hex(),
		PersonaID:    d.PersonaID,
		Title:        d.Title,
		Content:      d.Content,
		DateCreated:  d.DateCreated.UTC(),
		DateModified: d.DateModified.UTC(),
	}
}

// NoteStore implements notes.Store over one shared collection handle.
type NoteStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

var _ notes.Store = (*NoteStore)(nil)

// NewNoteStore wraps an existing collection. Close is a no-op for stores
// built this way.
func NewNoteStore(coll *mongo.Collection) *NoteStore {
	return &NoteStore{coll: coll}
}

// Connect dials uri, verifies the deployment answers, selects the note
// collection and ensures its owner index.
func Connect(ctx context.Context, uri, database, collection string) (*NoteStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	s := &NoteStore{
		client: client,
		coll:   client.Database(database).Collection(collection),
	}
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	obs.Pkg("mongostore").Info("mongo_connected", "database", database, "collection", collection)
	return s, nil
}

// EnsureIndexes creates the (personaId, dateModified desc) index used by
// FindByOwner. It is idempotent.
func (s *NoteStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: notes.FieldPersonaID, Value: 1},
			{Key: notes.FieldDateModified, Value: -1},
		},
		Options: options.Index().SetName("personaId_dateModified"),
	})
	if err != nil {
		return fmt.Errorf("failed to create note index: %w", err)
	}
	return nil
}

// Close disconnects the client when the store owns it.
func (s *NoteStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// Insert stores note under a fresh ObjectID.
func (s *NoteStore) Insert(ctx context.Context, note notes.Note) (*notes.Note, error) {
	doc := noteDocument{
		ID:           primitive.NewObjectID(),
		PersonaID:    note.PersonaID,
		Title:        note.Title,
		Content:      note.Content,
		DateCreated:  note.DateCreated,
		DateModified: note.DateModified,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return nil, storeError("failed to insert note", err)
	}
	return doc.toNote(), nil
}

// FindByID returns notes.ErrNotFound when no document has the id.
func (s *NoteStore) FindByID(ctx context.Context, id string) (*notes.Note, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var doc noteDocument
	err = s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: oid}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notes.ErrNotFound
	}
	if err != nil {
		return nil, storeError("failed to read note", err)
	}
	return doc.toNote(), nil
}

// FindByOwner lists a persona's notes by dateModified, newest first.
func (s *NoteStore) FindByOwner(ctx context.Context, personaID string) ([]notes.Note, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: notes.FieldDateModified, Value: -1},
		{Key: "_id", Value: 1},
	})
	cursor, err := s.coll.Find(ctx, bson.D{{Key: notes.FieldPersonaID, Value: personaID}}, opts)
	if err != nil {
		return nil, storeError("failed to list notes", err)
	}

	var docs []noteDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, storeError("failed to read notes", err)
	}

	found := make([]notes.Note, 0, len(docs))
	for _, doc := range docs {
		found = append(found, *doc.toNote())
	}
	return found, nil
}

// PartialUpdate $sets only the given fields. Nested maps are flattened to
// dotted paths so sibling subfields survive. Updating a missing id is a no-op.
func (s *NoteStore) PartialUpdate(ctx context.Context, id string, fields map[string]any) error {
	oid, err := parseID(id)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}

	set, err := setDocument(fields)
	if err != nil {
		return err
	}
	_, err = s.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: oid}},
		bson.D{{Key: "$set", Value: set}},
	)
	if err != nil {
		return storeError("failed to update note", err)
	}
	return nil
}

// DeleteByID removes at most one document.
func (s *NoteStore) DeleteByID(ctx context.Context, id string) error {
	oid, err := parseID(id)
	if err != nil {
		return err
	}
	if _, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: oid}}); err != nil {
		return storeError("failed to delete note", err)
	}
	return nil
}

func parseID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, errs.Wrap(errs.InvalidArgument, ErrMalformedID.Error(), err)
	}
	return oid, nil
}

// setDocument builds the $set body in sorted path order.
func setDocument(fields map[string]any) (bson.D, error) {
	flat := make(map[string]any, len(fields))
	if err := flatten("", fields, flat); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(flat))
	for path := range flat {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	set := make(bson.D, 0, len(paths))
	for _, path := range paths {
		set = append(set, bson.E{Key: path, Value: flat[path]})
	}
	return set, nil
}

func flatten(prefix string, fields map[string]any, out map[string]any) error {
	for key, value := range fields {
		if key == "" || strings.HasPrefix(key, "$") || strings.Contains(key, ".") {
			return errs.Invalid(prefix+key, "invalid field name")
		}
		path := key
		if prefix != "" {
			path = prefix + key
		} else if fixedFields[key] {
			return errs.Invalid(key, "field cannot be updated")
		}

		if nested, ok := value.(map[string]any); ok && len(nested) > 0 {
			if err := flatten(path+".", nested, out); err != nil {
				return err
			}
			continue
		}
		out[path] = value
	}
	return nil
}

func storeError(message string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return errs.Wrap(errs.Unavailable, message, err)
	}
	return errs.Wrap(errs.Internal, message, err)
}
