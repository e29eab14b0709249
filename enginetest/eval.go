package enginetest

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"
)

// jsonGet returns the numeric fields of a JSON object at path.
func jsonGet(doc, path string) map[string]float64 {
	res := gjson.Get(doc, path)
	if !res.IsObject() {
		return nil
	}
	out := make(map[string]float64)
	for k, v := range res.Map() {
		if v.Type == gjson.Number {
			out[k] = v.Float()
		}
	}
	return out
}

// evalExpr evaluates a small arithmetic expression: numbers,
// identifiers resolved through env, + - * / and parentheses. This
// exists so the fake can settle constant chains; anything fancier is
// the real engine's job.
func evalExpr(expr string, env func(string) (float64, bool)) (float64, error) {
	p := &exprParser{input: expr, env: env}
	v, err := p.parseSum()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return 0, fmt.Errorf("unexpected %q at offset %d", p.input[p.pos:], p.pos)
	}
	return v, nil
}

type exprParser struct {
	input string
	pos   int
	env   func(string) (float64, bool)
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t' || p.input[p.pos] == '\n') {
		p.pos++
	}
}

func (p *exprParser) peek() byte {
	if p.pos < len(p.input) {
		return p.input[p.pos]
	}
	return 0
}

func (p *exprParser) parseSum() (float64, error) {
	v, err := p.parseProduct()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		op := p.peek()
		if op != '+' && op != '-' {
			return v, nil
		}
		p.pos++
		rhs, err := p.parseProduct()
		if err != nil {
			return 0, err
		}
		if op == '+' {
			v += rhs
		} else {
			v -= rhs
		}
	}
}

func (p *exprParser) parseProduct() (float64, error) {
	v, err := p.parsePrimary()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		op := p.peek()
		if op != '*' && op != '/' {
			return v, nil
		}
		p.pos++
		rhs, err := p.parsePrimary()
		if err != nil {
			return 0, err
		}
		if op == '*' {
			v *= rhs
		} else {
			v /= rhs
		}
	}
}

func (p *exprParser) parsePrimary() (float64, error) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0, fmt.Errorf("unexpected end of expression")
	}

	c := p.input[p.pos]
	switch {
	case c == '(':
		p.pos++
		v, err := p.parseSum()
		if err != nil {
			return 0, err
		}
		p.skipSpace()
		if p.peek() != ')' {
			return 0, fmt.Errorf("missing closing paren")
		}
		p.pos++
		return v, nil
	case c == '-':
		p.pos++
		v, err := p.parsePrimary()
		return -v, err
	case c >= '0' && c <= '9' || c == '.':
		start := p.pos
		for p.pos < len(p.input) && (p.input[p.pos] >= '0' && p.input[p.pos] <= '9' || p.input[p.pos] == '.' || p.input[p.pos] == 'e' || p.input[p.pos] == 'E') {
			p.pos++
		}
		return strconv.ParseFloat(p.input[start:p.pos], 64)
	case unicode.IsLetter(rune(c)) || c == '_':
		start := p.pos
		for p.pos < len(p.input) {
			r := rune(p.input[p.pos])
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
				break
			}
			p.pos++
		}
		name := strings.ToLower(p.input[start:p.pos])
		v, ok := p.env(name)
		if !ok {
			return 0, fmt.Errorf("unknown variable %q", name)
		}
		return v, nil
	default:
		return 0, fmt.Errorf("unexpected character %q", c)
	}
}
