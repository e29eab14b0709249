package errors

import (
	stderrors "errors"
	"strings"
	"testing"

	simlin "github.com/bpowers/simlin-sub000"
)

func TestTranslate_NilFault(t *testing.T) {
	if err := Translate("anything", nil); err != nil {
		t.Fatalf("expected nil for nil fault, got %v", err)
	}
}

func TestTranslate_Runtime(t *testing.T) {
	f := &simlin.Fault{Code: simlin.ErrDoesNotExist, Message: "no variable 'population'"}
	err := Translate("get value", f)

	var e *Error
	if !stderrors.As(err, &e) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if e.Kind != KindRuntime {
		t.Fatalf("expected runtime kind, got %s", e.Kind)
	}
	if e.Code != simlin.ErrDoesNotExist {
		t.Fatalf("wrong code: %v", e.Code)
	}
	if !strings.Contains(e.Error(), "get value") {
		t.Fatalf("message missing op: %s", e.Error())
	}
}

func TestTranslate_Compilation(t *testing.T) {
	f := &simlin.Fault{
		Code: simlin.ErrVariablesHaveErrors,
		Details: []simlin.ErrorDetail{
			{
				Code:         simlin.ErrUnknownDependency,
				Message:      "reference to undefined variable 'birth_rate'",
				ModelName:    "main",
				VariableName: "births",
				Start:        0,
				End:          10,
				Kind:         simlin.DetailVariable,
			},
		},
	}

	err := Translate("apply patch", f)
	var ce *CompilationError
	if !stderrors.As(err, &ce) {
		t.Fatalf("expected *CompilationError, got %T: %v", err, err)
	}
	if len(ce.Details) != 1 {
		t.Fatalf("expected 1 detail, got %d", len(ce.Details))
	}
	if !stderrors.Is(err, &CompilationError{}) {
		t.Fatal("Is should match any CompilationError")
	}
	msg := ce.Error()
	if !strings.Contains(msg, "births") || !strings.Contains(msg, "main") {
		t.Fatalf("detail formatting missing names: %s", msg)
	}
}

func TestTranslate_VariablesHaveErrorsWithoutDetails(t *testing.T) {
	// Without details there is nothing structured to expose; this stays
	// a generic runtime error.
	f := &simlin.Fault{Code: simlin.ErrVariablesHaveErrors}
	err := Translate("compile", f)

	var e *Error
	if !stderrors.As(err, &e) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if e.Code != simlin.ErrVariablesHaveErrors {
		t.Fatalf("wrong code: %v", e.Code)
	}
}

func TestTranslate_UnrecognizedCode(t *testing.T) {
	f := &simlin.Fault{Code: simlin.ErrorCode(9999), Message: "from a future engine"}
	err := Translate("run", f)

	var e *Error
	if !stderrors.As(err, &e) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if e.Code != CodeNone {
		t.Fatalf("unrecognized code should map to CodeNone, got %v", e.Code)
	}
	if !strings.Contains(e.Detail, "9999") {
		t.Fatalf("raw code should survive in detail: %s", e.Detail)
	}
}

func TestTranslateOpen_ImportKind(t *testing.T) {
	f := &simlin.Fault{Code: simlin.ErrProtobufDecode}
	err := TranslateOpen("open project", f)

	var e *Error
	if !stderrors.As(err, &e) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if e.Kind != KindImport {
		t.Fatalf("expected import kind, got %s", e.Kind)
	}
}

func TestClosed(t *testing.T) {
	err := Closed("project")
	if !stderrors.Is(err, ErrClosed) {
		t.Fatal("Closed error should match ErrClosed")
	}
	if !strings.Contains(err.Error(), "project") {
		t.Fatalf("message should name the resource: %s", err.Error())
	}
}

func TestError_Is(t *testing.T) {
	a := Runtime("op", simlin.ErrDoesNotExist, "")
	b := Runtime("other op", simlin.ErrDoesNotExist, "different detail")
	c := Runtime("op", simlin.ErrBadTable, "")

	if !stderrors.Is(a, b) {
		t.Fatal("same kind and code should match")
	}
	if stderrors.Is(a, c) {
		t.Fatal("different code should not match")
	}
	if stderrors.Is(a, Import("op", "")) {
		t.Fatal("different kind should not match")
	}
	if !stderrors.Is(a, &Error{Kind: KindRuntime, Code: CodeNone}) {
		t.Fatal("kind-only target should match any code")
	}
}
