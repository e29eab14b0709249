package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	simlin "github.com/bpowers/simlin-sub000"
)

// Kind categorizes the error.
type Kind string

const (
	KindImport      Kind = "import"      // unreadable input at open time
	KindCompilation Kind = "compilation" // invalid model structure/equations/units
	KindRuntime     Kind = "runtime"     // everything else
)

// CodeNone marks an error that carries no recognized engine code, e.g.
// a code reported by an engine newer than this binding.
const CodeNone simlin.ErrorCode = -1

// ErrClosed is the cause attached to every operation attempted on a
// closed wrapper. Test with errors.Is(err, ErrClosed).
var ErrClosed = stderrors.New("handle already closed")

// Error is the structured error type used throughout the binding.
type Error struct {
	Cause  error
	Kind   Kind
	Op     string // operation label, e.g. "open project"
	Code   simlin.ErrorCode
	Detail string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Kind))
	b.WriteString("] ")
	b.WriteString(e.Op)

	if e.Code != CodeNone && e.Code != simlin.ErrNoError {
		b.WriteString(": ")
		b.WriteString(e.Code.String())
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. Two *Errors match on
// Kind, and on Code when the target carries one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	if t.Code != simlin.ErrNoError && t.Code != CodeNone {
		return e.Code == t.Code
	}
	return true
}

// Import creates an open-time error for unreadable input.
func Import(op, detail string) *Error {
	return &Error{Kind: KindImport, Op: op, Code: CodeNone, Detail: detail}
}

// Runtime creates a runtime error with an engine code.
func Runtime(op string, code simlin.ErrorCode, detail string) *Error {
	return &Error{Kind: KindRuntime, Op: op, Code: code, Detail: detail}
}

// Closed creates the dedicated error for operations on closed wrappers.
func Closed(what string) *Error {
	return &Error{
		Kind:   KindRuntime,
		Op:     what,
		Code:   CodeNone,
		Detail: fmt.Sprintf("%s is closed", what),
		Cause:  ErrClosed,
	}
}

// Wrap wraps an existing error with operation context.
func Wrap(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Code: CodeNone, Cause: cause}
}

// CompilationError is returned when the engine reports that variables
// have errors, carrying one ErrorDetail per problem.
type CompilationError struct {
	Op      string
	Details []simlin.ErrorDetail
}

func (e *CompilationError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("[compilation] %s: no details", e.Op)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[compilation] %s: %d problem(s):\n", e.Op, len(e.Details))

	// Group by model for cleaner output.
	byModel := make(map[string][]simlin.ErrorDetail)
	var order []string
	for _, d := range e.Details {
		model := d.ModelName
		if _, exists := byModel[model]; !exists {
			order = append(order, model)
		}
		byModel[model] = append(byModel[model], d)
	}

	for _, model := range order {
		b.WriteString("\n  ")
		if model == "" {
			b.WriteString("(project)")
		} else {
			b.WriteString(model)
		}
		b.WriteString(":\n")
		for _, d := range byModel[model] {
			b.WriteString("    - ")
			if d.VariableName != "" {
				b.WriteString(d.VariableName)
				b.WriteString(": ")
			}
			if d.Message != "" {
				b.WriteString(d.Message)
			} else {
				b.WriteString(d.Code.String())
			}
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type.
func (e *CompilationError) Is(target error) bool {
	_, ok := target.(*CompilationError)
	return ok
}

// Translate converts an engine fault into the taxonomy. It is a no-op
// on a nil fault. A fault with code "variables have errors" and at
// least one detail becomes a *CompilationError; everything else becomes
// a runtime *Error. An unrecognized code is preserved in the message
// but mapped to CodeNone rather than failing to translate.
func Translate(op string, f *simlin.Fault) error {
	if f == nil {
		return nil
	}

	if f.Code == simlin.ErrVariablesHaveErrors && len(f.Details) > 0 {
		return &CompilationError{Op: op, Details: f.Details}
	}

	code := f.Code
	detail := f.Message
	if !code.Known() {
		if detail == "" {
			detail = fmt.Sprintf("unrecognized engine error code %d", int32(code))
		} else {
			detail = fmt.Sprintf("%s (unrecognized engine error code %d)", detail, int32(code))
		}
		code = CodeNone
	}

	return &Error{Kind: KindRuntime, Op: op, Code: code, Detail: detail}
}

// TranslateOpen is Translate for open/import call sites, where anything
// short of a compilation failure is an import error.
func TranslateOpen(op string, f *simlin.Fault) error {
	if f == nil {
		return nil
	}

	if f.Code == simlin.ErrVariablesHaveErrors && len(f.Details) > 0 {
		return &CompilationError{Op: op, Details: f.Details}
	}

	err := Translate(op, f).(*Error)
	err.Kind = KindImport
	return err
}
