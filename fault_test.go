package simlin

import "testing"

func TestErrorCodeString(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{ErrNoError, "no error"},
		{ErrProtobufDecode, "protobuf decode error"},
		{ErrVariablesHaveErrors, "variables have errors"},
		{ErrorCode(999), "error code 999"},
	}

	for _, tt := range tests {
		if got := tt.code.String(); got != tt.want {
			t.Errorf("ErrorCode(%d).String() = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestErrorCodeKnown(t *testing.T) {
	if !ErrGeneric.Known() {
		t.Error("ErrGeneric should be known")
	}
	if ErrorCode(999).Known() {
		t.Error("code 999 should be unknown")
	}
	if ErrorCode(-1).Known() {
		t.Error("code -1 should be unknown")
	}
}

func TestErrorDetailString(t *testing.T) {
	tests := []struct {
		name   string
		detail ErrorDetail
		want   string
	}{
		{
			"full location",
			ErrorDetail{
				Code:         ErrUnknownDependency,
				Message:      "reference to undefined variable",
				ModelName:    "main",
				VariableName: "births",
				Kind:         DetailVariable,
			},
			"main.births: reference to undefined variable (variable)",
		},
		{
			"variable only",
			ErrorDetail{Code: ErrEmptyEquation, VariableName: "x", Kind: DetailVariable},
			"x: empty equation (variable)",
		},
		{
			"no location",
			ErrorDetail{Code: ErrBadSimSpecs, Kind: DetailProject},
			"bad sim specs (project)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.detail.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFaultString(t *testing.T) {
	var nilFault *Fault
	if got := nilFault.String(); got != "<nil>" {
		t.Errorf("nil fault String() = %q", got)
	}

	f := Fail(ErrCircularDependency)
	if got := f.String(); got != "circular dependency" {
		t.Errorf("Fail String() = %q", got)
	}

	f = &Fault{Code: ErrGeneric, Message: "something exploded"}
	if got := f.String(); got != "generic error: something exploded" {
		t.Errorf("String() = %q", got)
	}
}
