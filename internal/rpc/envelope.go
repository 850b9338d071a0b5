// Package rpc is the JSON-over-HTTP boundary shared by persona services.
// A call is POST /rpc/{service} with a body naming the method, its
// positional params and the caller context.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/kuitang/persona-notes/internal/auth"
	"github.com/kuitang/persona-notes/internal/errs"
)

// MaxBodyBytes bounds the size of a request body.
const MaxBodyBytes = 1 << 20

// Request is the wire form of a call.
type Request struct {
	Method  string             `json:"method"`
	Params  Params             `json:"params"`
	Context auth.CallerContext `json:"context"`
}

// Method serves one named operation of a service.
type Method func(ctx context.Context, params Params) (any, error)

// Params are the positional arguments of a call, decoded lazily.
type Params []json.RawMessage

// Expect fails unless exactly n params were sent.
func (p Params) Expect(n int) error {
	if len(p) != n {
		return errs.New(errs.InvalidArgument, fmt.Sprintf("expected %d params, got %d", n, len(p)))
	}
	return nil
}

// String decodes param i as a string. field names it in errors.
func (p Params) String(i int, field string) (string, error) {
	raw, err := p.at(i, field)
	if err != nil {
		return "", err
	}
	var value string
	if isNull(raw) || json.Unmarshal(raw, &value) != nil {
		return "", errs.Invalid(field, "must be a string")
	}
	return value, nil
}

// Object decodes param i as a JSON object.
func (p Params) Object(i int, field string) (map[string]any, error) {
	raw, err := p.at(i, field)
	if err != nil {
		return nil, err
	}
	var value map[string]any
	if isNull(raw) || json.Unmarshal(raw, &value) != nil {
		return nil, errs.Invalid(field, "must be an object")
	}
	return value, nil
}

func (p Params) at(i int, field string) (json.RawMessage, error) {
	if i < 0 || i >= len(p) {
		return nil, errs.Invalid(field, "is required")
	}
	return p[i], nil
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

type resultBody struct {
	Result any `json:"result"`
}

// ErrorDetail is the error member of a failed response.
type ErrorDetail struct {
	Code    errs.Code `json:"code"`
	Message string    `json:"message"`
	Field   string    `json:"field,omitempty"`
}

type errorBody struct {
	Error ErrorDetail `json:"error"`
}

func detailOf(err error) ErrorDetail {
	return ErrorDetail{
		Code:    errs.CodeOf(err),
		Message: errs.MessageOf(err),
		Field:   errs.FieldOf(err),
	}
}
