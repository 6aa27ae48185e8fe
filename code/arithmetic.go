package code

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Compile time check to ensure ArithmeticExecutor satisfies the Executor interface.
var _ Executor = (*ArithmeticExecutor)(nil)

// ArithmeticExecutor evaluates arithmetic expressions in-process.
//
// Supported: + - * / % ^, parentheses, unary minus and decimal literals.
// Results are normalized to 12 significant digits so binary float artifacts
// (1000*0.035 -> 35.000000000000004) do not leak into model-visible output.
type ArithmeticExecutor struct{}

// NewArithmeticExecutor creates a new ArithmeticExecutor.
func NewArithmeticExecutor() *ArithmeticExecutor {
	return &ArithmeticExecutor{}
}

// Execute evaluates the given expression and returns the result as a decimal string.
func (e *ArithmeticExecutor) Execute(code string) (string, error) {
	v, err := evaluate(code)
	if err != nil {
		return "", err
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return "", fmt.Errorf("code: expression %q has no finite result", code)
	}
	// Round-trip through a 12 significant digit form to drop float noise.
	s := strconv.FormatFloat(v, 'g', 12, 64)
	v, _ = strconv.ParseFloat(s, 64)
	return strconv.FormatFloat(v, 'f', -1, 64), nil
}

type tokenKind int

const (
	tokenNumber tokenKind = iota
	tokenOperator
	tokenLeftParen
	tokenRightParen
)

type token struct {
	kind  tokenKind
	value float64
	op    byte
}

const unaryMinus = 'm'

func evaluate(input string) (float64, error) {
	tokens, err := tokenize(input)
	if err != nil {
		return 0, err
	}
	if len(tokens) == 0 {
		return 0, fmt.Errorf("code: empty expression")
	}
	rpn, err := toPostfix(tokens)
	if err != nil {
		return 0, err
	}
	return evalPostfix(rpn)
}

func tokenize(input string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c >= '0' && c <= '9' || c == '.':
			j := i
			for j < len(input) && (input[j] >= '0' && input[j] <= '9' || input[j] == '.') {
				j++
			}
			v, err := strconv.ParseFloat(input[i:j], 64)
			if err != nil {
				return nil, fmt.Errorf("code: invalid number %q at position %d", input[i:j], i)
			}
			tokens = append(tokens, token{kind: tokenNumber, value: v})
			i = j
		case c == '(':
			tokens = append(tokens, token{kind: tokenLeftParen})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokenRightParen})
			i++
		case strings.IndexByte("+-*/%^", c) >= 0:
			op := c
			if c == '-' && startsOperand(tokens) {
				op = unaryMinus
			}
			tokens = append(tokens, token{kind: tokenOperator, op: op})
			i++
		default:
			return nil, fmt.Errorf("code: unexpected character %q at position %d", c, i)
		}
	}
	return tokens, nil
}

// startsOperand reports whether the next token begins a new operand, which
// turns a '-' into a unary minus.
func startsOperand(tokens []token) bool {
	if len(tokens) == 0 {
		return true
	}
	last := tokens[len(tokens)-1]
	return last.kind == tokenOperator || last.kind == tokenLeftParen
}

func precedence(op byte) int {
	switch op {
	case '+', '-':
		return 1
	case '*', '/', '%':
		return 2
	case '^':
		return 3
	case unaryMinus:
		return 4
	}
	return 0
}

func rightAssociative(op byte) bool {
	return op == '^' || op == unaryMinus
}

func toPostfix(tokens []token) ([]token, error) {
	var output []token
	var stack []token
	for _, tok := range tokens {
		switch tok.kind {
		case tokenNumber:
			output = append(output, tok)
		case tokenOperator:
			for len(stack) > 0 {
				top := stack[len(stack)-1]
				if top.kind != tokenOperator {
					break
				}
				if precedence(top.op) > precedence(tok.op) ||
					(precedence(top.op) == precedence(tok.op) && !rightAssociative(tok.op)) {
					output = append(output, top)
					stack = stack[:len(stack)-1]
					continue
				}
				break
			}
			stack = append(stack, tok)
		case tokenLeftParen:
			stack = append(stack, tok)
		case tokenRightParen:
			matched := false
			for len(stack) > 0 {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if top.kind == tokenLeftParen {
					matched = true
					break
				}
				output = append(output, top)
			}
			if !matched {
				return nil, fmt.Errorf("code: unbalanced parentheses")
			}
		}
	}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top.kind == tokenLeftParen {
			return nil, fmt.Errorf("code: unbalanced parentheses")
		}
		output = append(output, top)
	}
	return output, nil
}

func evalPostfix(rpn []token) (float64, error) {
	var stack []float64
	for _, tok := range rpn {
		if tok.kind == tokenNumber {
			stack = append(stack, tok.value)
			continue
		}
		if tok.op == unaryMinus {
			if len(stack) < 1 {
				return 0, fmt.Errorf("code: malformed expression")
			}
			stack[len(stack)-1] = -stack[len(stack)-1]
			continue
		}
		if len(stack) < 2 {
			return 0, fmt.Errorf("code: malformed expression")
		}
		b := stack[len(stack)-1]
		a := stack[len(stack)-2]
		stack = stack[:len(stack)-2]
		var v float64
		switch tok.op {
		case '+':
			v = a + b
		case '-':
			v = a - b
		case '*':
			v = a * b
		case '/':
			if b == 0 {
				return 0, fmt.Errorf("code: division by zero")
			}
			v = a / b
		case '%':
			if b == 0 {
				return 0, fmt.Errorf("code: division by zero")
			}
			v = math.Mod(a, b)
		case '^':
			v = math.Pow(a, b)
		}
		stack = append(stack, v)
	}
	if len(stack) != 1 {
		return 0, fmt.Errorf("code: malformed expression")
	}
	return stack[0], nil
}
