package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"pgregory.net/rapid"
)

var allCodes = []Code{
	InvalidArgument,
	Unauthenticated,
	NotFound,
	PermissionDenied,
	ResourceExhausted,
	Unavailable,
	Internal,
}

func testCodeOf_RoundtripForTypedErrors(t *rapid.T) {
	code := rapid.SampledFrom(allCodes).Draw(t, "code")
	message := rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "message")

	err := New(code, message)
	if got := CodeOf(err); got != code {
		t.Fatalf("CodeOf(New) mismatch: got=%q want=%q", got, code)
	}
	if got := MessageOf(err); got != message {
		t.Fatalf("MessageOf(New) mismatch: got=%q want=%q", got, message)
	}
}

func TestCodeOf_RoundtripForTypedErrors(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testCodeOf_RoundtripForTypedErrors)
}

func testCodeOfAndMessageOf_WrappedTypedError(t *rapid.T) {
	code := rapid.SampledFrom(allCodes).Draw(t, "code")
	message := rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "message")
	cause := errors.New(rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "cause"))

	err := Wrap(code, message, cause)
	wrapped := fmt.Errorf("outer: %w", err)

	if got := CodeOf(wrapped); got != code {
		t.Fatalf("CodeOf(wrapped) mismatch: got=%q want=%q", got, code)
	}
	if got := MessageOf(wrapped); got != message {
		t.Fatalf("MessageOf(wrapped) mismatch: got=%q want=%q", got, message)
	}
}

func TestCodeOfAndMessageOf_WrappedTypedError(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testCodeOfAndMessageOf_WrappedTypedError)
}

func testUntypedAndNilFallbacks(t *rapid.T) {
	raw := rapid.StringMatching(`[a-zA-Z0-9 _:\-./]{1,80}`).Draw(t, "raw")
	untyped := errors.New(raw)

	if got := CodeOf(untyped); got != Internal {
		t.Fatalf("CodeOf(untyped) mismatch: got=%q want=%q", got, Internal)
	}
	if got := MessageOf(untyped); got != "internal error" {
		t.Fatalf("MessageOf(untyped) mismatch: got=%q want=%q", got, "internal error")
	}
	if got := CodeOf(nil); got != Internal {
		t.Fatalf("CodeOf(nil) mismatch: got=%q want=%q", got, Internal)
	}
	if got := MessageOf(nil); got != string(Internal) {
		t.Fatalf("MessageOf(nil) mismatch: got=%q want=%q", got, Internal)
	}
}

func TestUntypedAndNilFallbacks(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testUntypedAndNilFallbacks)
}

func testHTTPStatus_Mapping(t *rapid.T) {
	cases := map[Code]int{
		InvalidArgument:   http.StatusBadRequest,
		Unauthenticated:   http.StatusUnauthorized,
		PermissionDenied:  http.StatusForbidden,
		NotFound:          http.StatusNotFound,
		ResourceExhausted: http.StatusTooManyRequests,
		Unavailable:       http.StatusServiceUnavailable,
		Internal:          http.StatusInternalServerError,
	}

	code := rapid.SampledFrom(append([]Code{Code("unknown_code")}, allCodes...)).Draw(t, "code")

	want := http.StatusInternalServerError
	if mapped, ok := cases[code]; ok {
		want = mapped
	}
	if got := HTTPStatus(code); got != want {
		t.Fatalf("HTTPStatus mismatch: code=%q got=%d want=%d", code, got, want)
	}
}

func TestHTTPStatus_Mapping(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testHTTPStatus_Mapping)
}

func testInvalid_CarriesField(t *rapid.T) {
	field := rapid.StringMatching(`[a-zA-Z]{1,20}`).Draw(t, "field")
	reason := rapid.StringMatching(`[a-z ]{1,40}`).Draw(t, "reason")

	err := fmt.Errorf("validate: %w", Invalid(field, reason))
	if got := CodeOf(err); got != InvalidArgument {
		t.Fatalf("CodeOf(Invalid) mismatch: got=%q want=%q", got, InvalidArgument)
	}
	if got := FieldOf(err); got != field {
		t.Fatalf("FieldOf(Invalid) mismatch: got=%q want=%q", got, field)
	}
	if got := MessageOf(err); got != field+": "+reason {
		t.Fatalf("MessageOf(Invalid) mismatch: got=%q", got)
	}
}

func TestInvalid_CarriesField(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testInvalid_CarriesField)
}

func TestFieldOf_EmptyForNonValidationErrors(t *testing.T) {
	t.Parallel()
	if got := FieldOf(New(NotFound, "note not found")); got != "" {
		t.Fatalf("FieldOf(NotFound) = %q, want empty", got)
	}
	if got := FieldOf(errors.New("plain")); got != "" {
		t.Fatalf("FieldOf(plain) = %q, want empty", got)
	}
}
