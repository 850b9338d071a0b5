package notes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kuitang/persona-notes/internal/errs"
	"github.com/kuitang/persona-notes/internal/obs"
)

// Service sequences ownership checks, validation and persistence for the
// note operations. It holds no per-request state; everything request scoped
// travels in the context.
type Service struct {
	store  Store
	owners OwnerGate
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for note timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a notes service over the given store and ownership gate.
func NewService(store Store, owners OwnerGate, opts ...Option) *Service {
	s := &Service{
		store:  store,
		owners: owners,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a new note for personaID. Only title and content are taken
// from input, and both are required.
func (s *Service) Create(ctx context.Context, personaID string, input Payload) (*Note, error) {
	if err := s.assertOwner(ctx, personaID); err != nil {
		return nil, err
	}

	payload := make(Payload, len(MutableFields))
	for _, key := range MutableFields {
		v, ok := input[key]
		if !ok {
			return nil, errs.Invalid(key, "is required")
		}
		payload[key] = v
	}
	if err := Validate(payload); err != nil {
		return nil, err
	}

	now := s.timestamp()
	note, err := s.store.Insert(ctx, Note{
		PersonaID:    personaID,
		Title:        payload[FieldTitle].(string),
		Content:      payload[FieldContent].(string),
		DateCreated:  now,
		DateModified: now,
	})
	if err != nil {
		return nil, fmt.Errorf("insert note: %w", err)
	}

	obs.From(ctx).Debug("note_created", "pkg", "notes", "note_id", note.ID, "persona_id", personaID)
	return note, nil
}

// List returns the persona's notes, most recently modified first.
func (s *Service) List(ctx context.Context, personaID string) ([]Note, error) {
	if err := s.assertOwner(ctx, personaID); err != nil {
		return nil, err
	}

	found, err := s.store.FindByOwner(ctx, personaID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	if found == nil {
		found = []Note{}
	}
	return found, nil
}

// Show returns a note after re-confirming its owner. A missing note and an
// owner the caller may not access are reported identically.
func (s *Service) Show(ctx context.Context, id string) (*Note, error) {
	if id == "" {
		return nil, errs.Invalid(FieldID, "is required")
	}

	note, err := s.store.FindByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find note: %w", err)
	}

	if err := s.owners.AssertOwnerExists(ctx, note.PersonaID); err != nil {
		obs.From(ctx).Info("note_owner_rejected", "pkg", "notes", "note_id", id, "error", err)
		return nil, errs.Wrap(errs.NotFound, ErrNotFound.Error(), err)
	}
	return note, nil
}

// Edit applies the title and/or content present in input and returns the
// note as persisted afterwards. Any other keys in input are ignored.
func (s *Service) Edit(ctx context.Context, id string, input Payload) (*Note, error) {
	existing, err := s.Show(ctx, id)
	if err != nil {
		return nil, err
	}

	payload := Project(input, MutableFields...)
	if err := Validate(payload); err != nil {
		return nil, err
	}

	fields := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		fields[k] = v
	}
	fields[FieldDateModified] = s.nextModified(existing.DateModified)

	if err := s.store.PartialUpdate(ctx, id, fields); err != nil {
		return nil, fmt.Errorf("update note: %w", err)
	}
	return s.Show(ctx, id)
}

// Delete removes a note after re-confirming it exists and its owner.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.Show(ctx, id); err != nil {
		return err
	}
	if err := s.store.DeleteByID(ctx, id); err != nil {
		return fmt.Errorf("delete note: %w", err)
	}

	obs.From(ctx).Debug("note_deleted", "pkg", "notes", "note_id", id)
	return nil
}

func (s *Service) assertOwner(ctx context.Context, personaID string) error {
	if personaID == "" {
		return errs.Invalid(FieldPersonaID, "is required")
	}
	return s.owners.AssertOwnerExists(ctx, personaID)
}

// timestamp truncates to milliseconds, the precision every store keeps.
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// nextModified never returns a value at or before prev.
func (s *Service) nextModified(prev time.Time) time.Time {
	t := s.timestamp()
	if !t.After(prev) {
		t = prev.Add(time.Millisecond)
	}
	return t
}
