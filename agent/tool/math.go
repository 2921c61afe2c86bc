package tool

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var errDivisionByZero = errors.New("division by zero")

type tokenKind uint8

const (
	tokNumber tokenKind = iota
	tokOp
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind  tokenKind
	op    byte
	value float64
	pos   int
}

// Evaluate computes an arithmetic expression over + - * / % ^ and parentheses.
// ^ is right associative and binds tighter than unary minus, so -2^2 is -4.
func Evaluate(expression string) (float64, error) {
	tokens, err := tokenize(expression)
	if err != nil {
		return 0, err
	}
	if len(tokens) == 1 {
		return 0, errors.New("expression is empty")
	}

	e := &evaluator{tokens: tokens}
	value, err := e.expr(0)
	if err != nil {
		return 0, err
	}
	if t := e.peek(); t.kind != tokEOF {
		return 0, fmt.Errorf("unexpected %s at position %d", t, t.pos)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, errors.New("result is not a finite number")
	}
	return value, nil
}

func tokenize(input string) ([]token, error) {
	var tokens []token
	for i := 0; i < len(input); {
		ch := input[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			i++
		case ch == '(':
			tokens = append(tokens, token{kind: tokLParen, pos: i})
			i++
		case ch == ')':
			tokens = append(tokens, token{kind: tokRParen, pos: i})
			i++
		case strings.IndexByte("+-*/%^", ch) >= 0:
			tokens = append(tokens, token{kind: tokOp, op: ch, pos: i})
			i++
		case ch == '.' || (ch >= '0' && ch <= '9'):
			start := i
			for i < len(input) && (input[i] == '.' || (input[i] >= '0' && input[i] <= '9')) {
				i++
			}
			v, err := strconv.ParseFloat(input[start:i], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q at position %d", input[start:i], start)
			}
			tokens = append(tokens, token{kind: tokNumber, value: v, pos: start})
		default:
			return nil, fmt.Errorf("invalid character %q at position %d", ch, i)
		}
	}
	return append(tokens, token{kind: tokEOF, pos: len(input)}), nil
}

func (t token) String() string {
	switch t.kind {
	case tokNumber:
		return strconv.FormatFloat(t.value, 'g', -1, 64)
	case tokOp:
		return string(t.op)
	case tokLParen:
		return "("
	case tokRParen:
		return ")"
	default:
		return "end of expression"
	}
}

// binding powers: left, right. Right-associative ops have right < left.
var infix = map[byte][2]int{
	'+': {10, 11},
	'-': {10, 11},
	'*': {20, 21},
	'/': {20, 21},
	'%': {20, 21},
	'^': {41, 40},
}

const prefixPower = 30

type evaluator struct {
	tokens []token
	pos    int
}

func (e *evaluator) peek() token { return e.tokens[e.pos] }

func (e *evaluator) next() token {
	t := e.tokens[e.pos]
	if t.kind != tokEOF {
		e.pos++
	}
	return t
}

// expr is a Pratt loop: it folds operators whose left power exceeds minPower.
func (e *evaluator) expr(minPower int) (float64, error) {
	left, err := e.operand()
	if err != nil {
		return 0, err
	}
	for {
		t := e.peek()
		if t.kind != tokOp {
			return left, nil
		}
		power := infix[t.op]
		if power[0] <= minPower {
			return left, nil
		}
		e.next()
		right, err := e.expr(power[1])
		if err != nil {
			return 0, err
		}
		if left, err = apply(t.op, left, right); err != nil {
			return 0, err
		}
	}
}

func (e *evaluator) operand() (float64, error) {
	t := e.next()
	switch {
	case t.kind == tokNumber:
		return t.value, nil
	case t.kind == tokOp && (t.op == '-' || t.op == '+'):
		v, err := e.expr(prefixPower)
		if err != nil {
			return 0, err
		}
		if t.op == '-' {
			v = -v
		}
		return v, nil
	case t.kind == tokLParen:
		v, err := e.expr(0)
		if err != nil {
			return 0, err
		}
		if closing := e.next(); closing.kind != tokRParen {
			return 0, fmt.Errorf("missing ) for ( at position %d", t.pos)
		}
		return v, nil
	default:
		return 0, fmt.Errorf("expected a number at position %d, got %s", t.pos, t)
	}
}

func apply(op byte, a, b float64) (float64, error) {
	switch op {
	case '+':
		return a + b, nil
	case '-':
		return a - b, nil
	case '*':
		return a * b, nil
	case '/':
		if b == 0 {
			return 0, errDivisionByZero
		}
		return a / b, nil
	case '%':
		if b == 0 {
			return 0, errDivisionByZero
		}
		return math.Mod(a, b), nil
	default:
		return math.Pow(a, b), nil
	}
}
