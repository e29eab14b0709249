package enginetest

import (
	"math"
	"testing"
)

func TestEvalExpr(t *testing.T) {
	env := func(name string) (float64, bool) {
		switch name {
		case "population":
			return 1000, true
		case "birth_rate":
			return 0.04, true
		}
		return 0, false
	}

	tests := []struct {
		expr string
		want float64
	}{
		{"42", 42},
		{"0.04", 0.04},
		{"1e3", 1000},
		{"-5", -5},
		{"2 + 3 * 4", 14},
		{"(2 + 3) * 4", 20},
		{"10 - 4 - 3", 3},
		{"100 / 4 / 5", 5},
		{"population * birth_rate", 40},
		{"Population * BIRTH_RATE", 40},
		{"population / (1 + 1)", 500},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := evalExpr(tt.expr, env)
			if err != nil {
				t.Fatalf("evalExpr(%q): %v", tt.expr, err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("evalExpr(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvalExprErrors(t *testing.T) {
	env := func(string) (float64, bool) { return 0, false }

	for _, expr := range []string{"", "unknown_var", "1 +", "(1 + 2", "1 2", "@"} {
		t.Run(expr, func(t *testing.T) {
			if _, err := evalExpr(expr, env); err == nil {
				t.Errorf("evalExpr(%q) succeeded, want error", expr)
			}
		})
	}
}

func TestExtractIdents(t *testing.T) {
	tests := []struct {
		equation string
		want     []string
	}{
		{"population * birth_rate", []string{"population", "birth_rate"}},
		{"0.04", nil},
		{"1e3 + x", []string{"x"}},
		{"", nil},
	}

	for _, tt := range tests {
		t.Run(tt.equation, func(t *testing.T) {
			got := extractIdents(tt.equation)
			if len(got) != len(tt.want) {
				t.Fatalf("extractIdents(%q) = %v, want %v", tt.equation, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ident %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
