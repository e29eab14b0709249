package simlin

import "fmt"

// ErrorCode mirrors the engine's simlin_error_code enum. The values are
// part of the ABI and must not be reordered.
type ErrorCode int32

const (
	ErrNoError ErrorCode = iota
	ErrDoesNotExist
	ErrXMLDeserialization
	ErrVensimConversion
	ErrProtobufDecode
	ErrInvalidToken
	ErrUnrecognizedEOF
	ErrUnrecognizedToken
	ErrExtraToken
	ErrUnclosedComment
	ErrUnclosedQuotedIdent
	ErrExpectedNumber
	ErrUnknownBuiltin
	ErrBadBuiltinArgs
	ErrEmptyEquation
	ErrBadModuleInputDst
	ErrBadModuleInputSrc
	ErrNotSimulatable
	ErrBadTable
	ErrBadSimSpecs
	ErrNoAbsoluteReferences
	ErrCircularDependency
	ErrArraysNotImplemented
	ErrMultiDimensionalArraysNotImplemented
	ErrBadDimensionName
	ErrBadModelName
	ErrMismatchedDimensions
	ErrArrayReferenceNeedsExplicitSubscripts
	ErrDuplicateVariable
	ErrUnknownDependency
	ErrVariablesHaveErrors
	ErrUnitDefinitionErrors
	ErrGeneric
)

// codeNames is the host-side fallback for ErrorCode descriptions, used
// when no engine is available to answer ErrorString.
var codeNames = map[ErrorCode]string{
	ErrNoError:                               "no error",
	ErrDoesNotExist:                          "does not exist",
	ErrXMLDeserialization:                    "XML deserialization error",
	ErrVensimConversion:                      "Vensim conversion error",
	ErrProtobufDecode:                        "protobuf decode error",
	ErrInvalidToken:                          "invalid token",
	ErrUnrecognizedEOF:                       "unrecognized EOF",
	ErrUnrecognizedToken:                     "unrecognized token",
	ErrExtraToken:                            "extra token",
	ErrUnclosedComment:                       "unclosed comment",
	ErrUnclosedQuotedIdent:                   "unclosed quoted identifier",
	ErrExpectedNumber:                        "expected number",
	ErrUnknownBuiltin:                        "unknown builtin",
	ErrBadBuiltinArgs:                        "bad builtin arguments",
	ErrEmptyEquation:                         "empty equation",
	ErrBadModuleInputDst:                     "bad module input destination",
	ErrBadModuleInputSrc:                     "bad module input source",
	ErrNotSimulatable:                        "not simulatable",
	ErrBadTable:                              "bad graphical function",
	ErrBadSimSpecs:                           "bad sim specs",
	ErrNoAbsoluteReferences:                  "absolute references not allowed",
	ErrCircularDependency:                    "circular dependency",
	ErrArraysNotImplemented:                  "arrays not implemented",
	ErrMultiDimensionalArraysNotImplemented:  "multi-dimensional arrays not implemented",
	ErrBadDimensionName:                      "bad dimension name",
	ErrBadModelName:                          "bad model name",
	ErrMismatchedDimensions:                  "mismatched dimensions",
	ErrArrayReferenceNeedsExplicitSubscripts: "array reference needs explicit subscripts",
	ErrDuplicateVariable:                     "duplicate variable",
	ErrUnknownDependency:                     "unknown dependency",
	ErrVariablesHaveErrors:                   "variables have errors",
	ErrUnitDefinitionErrors:                  "unit definition errors",
	ErrGeneric:                               "generic error",
}

func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("error code %d", int32(c))
}

// Known reports whether c is a code this binding recognizes. The engine
// may be newer than the binding and report codes past ErrGeneric.
func (c ErrorCode) Known() bool {
	_, ok := codeNames[c]
	return ok
}

// DetailKind says which level of the project a detail is attached to.
type DetailKind uint8

const (
	DetailProject DetailKind = iota
	DetailModel
	DetailVariable
	DetailUnits
	DetailSimulation
)

func (k DetailKind) String() string {
	switch k {
	case DetailProject:
		return "project"
	case DetailModel:
		return "model"
	case DetailVariable:
		return "variable"
	case DetailUnits:
		return "units"
	case DetailSimulation:
		return "simulation"
	default:
		return fmt.Sprintf("detail kind %d", uint8(k))
	}
}

// UnitErrorKind subdivides unit problems.
type UnitErrorKind uint8

const (
	UnitErrorNone UnitErrorKind = iota
	UnitErrorConsistency
	UnitErrorDefinition
)

// ErrorDetail describes one validation or compilation problem reported
// by the engine. Immutable once constructed; ModelName and VariableName
// are empty when the engine left the corresponding field null. The
// [Start, End) range is a half-open byte-offset span into the equation
// source text, both zero when the engine reported no span.
type ErrorDetail struct {
	Code         ErrorCode
	Message      string
	ModelName    string
	VariableName string
	Start        uint32
	End          uint32
	Kind         DetailKind
	UnitKind     UnitErrorKind
}

func (d ErrorDetail) String() string {
	loc := ""
	switch {
	case d.ModelName != "" && d.VariableName != "":
		loc = d.ModelName + "." + d.VariableName + ": "
	case d.VariableName != "":
		loc = d.VariableName + ": "
	case d.ModelName != "":
		loc = d.ModelName + ": "
	}
	msg := d.Message
	if msg == "" {
		msg = d.Code.String()
	}
	return fmt.Sprintf("%s%s (%s)", loc, msg, d.Kind)
}

// Fault is an engine error already copied across the boundary: the code
// and message from the out-error object plus its detail array, with the
// native object freed by whichever backend produced the Fault. A nil
// *Fault means the call succeeded.
type Fault struct {
	Code    ErrorCode
	Message string
	Details []ErrorDetail
}

// Fail is a convenience constructor for backends reporting a bare code.
func Fail(code ErrorCode) *Fault {
	return &Fault{Code: code, Message: code.String()}
}

func (f *Fault) String() string {
	if f == nil {
		return "<nil>"
	}
	if f.Message != "" && f.Message != f.Code.String() {
		return fmt.Sprintf("%s: %s", f.Code, f.Message)
	}
	return f.Code.String()
}
