package notes

import (
	"testing"

	"github.com/kuitang/persona-notes/internal/errs"
	"pgregory.net/rapid"
)

func testValidate_AcceptsStringFields(t *rapid.T) {
	payload := Payload{}
	if rapid.Bool().Draw(t, "hasTitle") {
		payload[FieldTitle] = rapid.String().Draw(t, "title")
	}
	if rapid.Bool().Draw(t, "hasContent") {
		payload[FieldContent] = rapid.String().Draw(t, "content")
	}
	if err := Validate(payload); err != nil {
		t.Fatalf("Validate(%v) = %v, want nil", payload, err)
	}
}

func TestValidate_AcceptsStringFields(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testValidate_AcceptsStringFields)
}

func testValidate_RejectsUnknownKeys(t *rapid.T) {
	key := rapid.StringMatching(`[a-zA-Z_]{1,12}`).
		Filter(func(s string) bool { return s != FieldTitle && s != FieldContent }).
		Draw(t, "key")

	err := Validate(Payload{FieldTitle: "ok", key: "value"})
	if errs.CodeOf(err) != errs.InvalidArgument {
		t.Fatalf("expected invalid_argument for %q, got %v", key, err)
	}
	if errs.FieldOf(err) != key {
		t.Fatalf("field = %q, want %q", errs.FieldOf(err), key)
	}
}

func TestValidate_RejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testValidate_RejectsUnknownKeys)
}

func TestValidate_WrongTypes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		value any
		want  string
	}{
		{nil, "title: must be a string, got null"},
		{true, "title: must be a string, got boolean"},
		{float64(3), "title: must be a string, got number"},
		{[]any{"a"}, "title: must be a string, got array"},
		{map[string]any{"a": 1}, "title: must be a string, got object"},
	}
	for _, tc := range cases {
		err := Validate(Payload{FieldTitle: tc.value})
		if err == nil {
			t.Fatalf("Validate(%v) = nil, want error", tc.value)
		}
		if err.Error() != tc.want {
			t.Fatalf("Validate(%v) = %q, want %q", tc.value, err.Error(), tc.want)
		}
	}
}

func TestValidate_ReportsFirstFieldInSortedOrder(t *testing.T) {
	t.Parallel()

	err := Validate(Payload{FieldTitle: 1, FieldContent: 2, "zeta": "x"})
	if errs.FieldOf(err) != FieldContent {
		t.Fatalf("field = %q, want %q", errs.FieldOf(err), FieldContent)
	}
}

func TestValidate_EmptyPayload(t *testing.T) {
	t.Parallel()

	if err := Validate(nil); err != nil {
		t.Fatalf("Validate(nil) = %v", err)
	}
	if err := Validate(Payload{}); err != nil {
		t.Fatalf("Validate({}) = %v", err)
	}
}

func testProject_KeepsOnlyAllowed(t *rapid.T) {
	input := Payload{}
	keys := rapid.SliceOfDistinct(
		rapid.SampledFrom([]string{FieldID, "_id", FieldPersonaID, FieldTitle, FieldContent, FieldDateCreated, FieldDateModified, "extra"}),
		func(s string) string { return s },
	).Draw(t, "keys")
	for _, k := range keys {
		input[k] = k + "-value"
	}

	out := Project(input, MutableFields...)

	for k, v := range out {
		if k != FieldTitle && k != FieldContent {
			t.Fatalf("Project kept disallowed key %q", k)
		}
		if v != input[k] {
			t.Fatalf("Project changed value of %q", k)
		}
	}
	for _, k := range MutableFields {
		_, inInput := input[k]
		_, inOut := out[k]
		if inInput != inOut {
			t.Fatalf("key %q: present in input=%v, in output=%v", k, inInput, inOut)
		}
	}
	if len(input) != len(keys) {
		t.Fatal("Project must not modify its input")
	}
}

func TestProject_KeepsOnlyAllowed(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testProject_KeepsOnlyAllowed)
}
