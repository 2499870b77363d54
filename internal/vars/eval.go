package vars

import (
	"fmt"
	"strconv"
	"strings"
)

// Evaluate evaluates a condition string against a context.
//
// Conditions are parsed with a small expression grammar:
//
//	expr    := or
//	or      := and ("||" and)*
//	and     := unary ("&&" unary)*
//	unary   := "!" unary | cmp
//	cmp     := term (("==" | "!=" | "<" | "<=" | ">" | ">=") term)?
//	term    := "(" expr ")" | literal | ${ref} | identifier
//
// Variable substitution is the lexing stage: ${ref} tokens and bare
// identifiers resolve through the context at evaluation time. A resolved
// value used standalone is coerced with Truthy. If the condition does not
// parse as an expression it degrades to the truthiness of the resolved
// string, which keeps plain conditions like "${item}" working.
func Evaluate(cond string, ctx map[string]any) bool {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return true
	}
	val, err := EvaluateExpr(cond, ctx)
	if err != nil {
		return Truthy(Resolve(cond, ctx))
	}
	return Truthy(val)
}

// EvaluateExpr parses and evaluates cond, returning the raw result value.
// Returns an error for malformed expressions; Evaluate wraps this with the
// truthiness fallback.
func EvaluateExpr(cond string, ctx map[string]any) (any, error) {
	toks, err := lex(cond)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, ctx: ctx}
	v, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("unexpected token %q", p.toks[p.pos].text)
	}
	return v, nil
}

// Truthy reports the boolean interpretation of a resolved value.
// nil, false, zero numbers, "", "false", "0", "null" and "undefined"
// are false; everything else is true.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "", "false", "0", "null", "undefined":
			return false
		}
		return true
	default:
		return true
	}
}

type tokenKind int

const (
	tokRef    tokenKind = iota // ${path}
	tokIdent                   // bare identifier
	tokString                  // quoted string literal
	tokNumber                  // numeric literal
	tokOp                      // operator or paren
)

type token struct {
	kind tokenKind
	text string
}

func lex(s string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '$' && i+1 < len(s) && s[i+1] == '{':
			end := strings.IndexByte(s[i:], '}')
			if end < 0 {
				return nil, fmt.Errorf("unterminated placeholder at %d", i)
			}
			toks = append(toks, token{tokRef, s[i+2 : i+end]})
			i += end + 1
		case c == '\'' || c == '"':
			end := strings.IndexByte(s[i+1:], c)
			if end < 0 {
				return nil, fmt.Errorf("unterminated string at %d", i)
			}
			toks = append(toks, token{tokString, s[i+1 : i+1+end]})
			i += end + 2
		case c == '(' || c == ')':
			toks = append(toks, token{tokOp, string(c)})
			i++
		case strings.HasPrefix(s[i:], "&&") || strings.HasPrefix(s[i:], "||") ||
			strings.HasPrefix(s[i:], "==") || strings.HasPrefix(s[i:], "!=") ||
			strings.HasPrefix(s[i:], "<=") || strings.HasPrefix(s[i:], ">="):
			toks = append(toks, token{tokOp, s[i : i+2]})
			i += 2
		case c == '<' || c == '>' || c == '!':
			toks = append(toks, token{tokOp, string(c)})
			i++
		case c >= '0' && c <= '9' || c == '-' && i+1 < len(s) && s[i+1] >= '0' && s[i+1] <= '9':
			j := i + 1
			for j < len(s) && (s[j] >= '0' && s[j] <= '9' || s[j] == '.') {
				j++
			}
			toks = append(toks, token{tokNumber, s[i:j]})
			i = j
		case isIdentByte(c):
			j := i
			for j < len(s) && (isIdentByte(s[j]) || s[j] == '.') {
				j++
			}
			toks = append(toks, token{tokIdent, s[i:j]})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at %d", c, i)
		}
	}
	return toks, nil
}

func isIdentByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

type parser struct {
	toks []token
	pos  int
	ctx  map[string]any
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) acceptOp(ops ...string) (string, bool) {
	t, ok := p.peek()
	if !ok || t.kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			p.pos++
			return op, true
		}
	}
	return "", false
}

func (p *parser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("||"); !ok {
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = Truthy(left) || Truthy(right)
	}
}

func (p *parser) parseAnd() (any, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("&&"); !ok {
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = Truthy(left) && Truthy(right)
	}
}

func (p *parser) parseUnary() (any, error) {
	if _, ok := p.acceptOp("!"); ok {
		v, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return !Truthy(v), nil
	}
	return p.parseCmp()
}

func (p *parser) parseCmp() (any, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	op, ok := p.acceptOp("==", "!=", "<", "<=", ">", ">=")
	if !ok {
		return left, nil
	}
	right, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	return compare(op, left, right)
}

func (p *parser) parseTerm() (any, error) {
	t, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("unexpected end of condition")
	}
	switch {
	case t.kind == tokOp && t.text == "(":
		p.pos++
		v, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, ok := p.acceptOp(")"); !ok {
			return nil, fmt.Errorf("missing closing paren")
		}
		return v, nil
	case t.kind == tokString:
		p.pos++
		return t.text, nil
	case t.kind == tokNumber:
		p.pos++
		n, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q: %w", t.text, err)
		}
		return n, nil
	case t.kind == tokRef:
		p.pos++
		v, ok := Lookup(p.ctx, t.text)
		if !ok {
			// Unresolved placeholders keep their literal form, matching
			// the Resolve contract. A lone unresolved ref is truthy.
			return "${" + t.text + "}", nil
		}
		return v, nil
	case t.kind == tokIdent:
		p.pos++
		switch t.text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null":
			return nil, nil
		}
		if v, ok := Lookup(p.ctx, t.text); ok {
			return v, nil
		}
		// Bare identifiers without a binding behave like string literals.
		return t.text, nil
	default:
		return nil, fmt.Errorf("unexpected token %q", t.text)
	}
}

// compare applies a comparison operator, numerically when both sides are
// number-like and lexically otherwise.
func compare(op string, left, right any) (bool, error) {
	lf, lok := toNumber(left)
	rf, rok := toNumber(right)
	if lok && rok {
		switch op {
		case "==":
			return lf == rf, nil
		case "!=":
			return lf != rf, nil
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}
	ls, rs := Format(left), Format(right)
	switch op {
	case "==":
		return ls == rs, nil
	case "!=":
		return ls != rs, nil
	case "<":
		return ls < rs, nil
	case "<=":
		return ls <= rs, nil
	case ">":
		return ls > rs, nil
	case ">=":
		return ls >= rs, nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
