package notes

import (
	"context"

	"github.com/kuitang/persona-notes/internal/rpc"
)

// ServiceName is the RPC service the note operations are registered under.
const ServiceName = "notes"

// Methods returns the RPC dispatch table for s. Params are positional:
//
//	create(personaId, note)  list(personaId)  show(id)
//	edit(id, note)           delete(id)
func Methods(s *Service) map[string]rpc.Method {
	return map[string]rpc.Method{
		"create": func(ctx context.Context, params rpc.Params) (any, error) {
			if err := params.Expect(2); err != nil {
				return nil, err
			}
			personaID, err := params.String(0, FieldPersonaID)
			if err != nil {
				return nil, err
			}
			input, err := params.Object(1, "note")
			if err != nil {
				return nil, err
			}
			return s.Create(ctx, personaID, input)
		},
		"list": func(ctx context.Context, params rpc.Params) (any, error) {
			if err := params.Expect(1); err != nil {
				return nil, err
			}
			personaID, err := params.String(0, FieldPersonaID)
			if err != nil {
				return nil, err
			}
			return s.List(ctx, personaID)
		},
		"show": func(ctx context.Context, params rpc.Params) (any, error) {
			if err := params.Expect(1); err != nil {
				return nil, err
			}
			id, err := params.String(0, FieldID)
			if err != nil {
				return nil, err
			}
			return s.Show(ctx, id)
		},
		"edit": func(ctx context.Context, params rpc.Params) (any, error) {
			if err := params.Expect(2); err != nil {
				return nil, err
			}
			id, err := params.String(0, FieldID)
			if err != nil {
				return nil, err
			}
			input, err := params.Object(1, "note")
			if err != nil {
				return nil, err
			}
			return s.Edit(ctx, id, input)
		},
		"delete": func(ctx context.Context, params rpc.Params) (any, error) {
			if err := params.Expect(1); err != nil {
				return nil, err
			}
			id, err := params.String(0, FieldID)
			if err != nil {
				return nil, err
			}
			return nil, s.Delete(ctx, id)
		},
	}
}
