package calc

import (
	"fmt"
	"strconv"
	"strings"
)

// Expression is a single binary operation, e.g. "1 + 2".
type Expression struct {
	A  int32
	Op Operation
	B  int32
}

// String formats e the way the demo prints it.
func (e Expression) String() string {
	return fmt.Sprintf("%d %s %d", e.A, e.Op.Symbol(), e.B)
}

// ParseExpression parses "<a> <op> <b>" with op one of + - * /.
// Operands are signed 32-bit integers; whitespace is optional.
func ParseExpression(input string) (Expression, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return Expression{}, &ExpressionError{Input: input, Message: "empty expression"}
	}

	// The operator is the first operator character that follows a digit
	// (ignoring spaces), so leading signs stay with their operand.
	idx := -1
	for i := 1; i < len(s) && idx < 0; i++ {
		if !strings.ContainsRune("+-*/", rune(s[i])) {
			continue
		}
		prev := strings.TrimRight(s[:i], " \t")
		if prev != "" && isDigit(prev[len(prev)-1]) {
			idx = i
		}
	}
	if idx < 0 {
		return Expression{}, &ExpressionError{Input: input, Message: "missing operator"}
	}

	op, err := operationForSymbol(s[idx])
	if err != nil {
		return Expression{}, &ExpressionError{Input: input, Message: "bad operator", Err: err}
	}

	a, err := parseOperand(s[:idx])
	if err != nil {
		return Expression{}, &ExpressionError{Input: input, Message: "bad left operand", Err: err}
	}

	b, err := parseOperand(s[idx+1:])
	if err != nil {
		return Expression{}, &ExpressionError{Input: input, Message: "bad right operand", Err: err}
	}

	return Expression{A: a, Op: op, B: b}, nil
}

func operationForSymbol(c byte) (Operation, error) {
	for _, op := range operations {
		if op.Symbol() == string(c) {
			return op, nil
		}
	}
	return "", &UnknownOperationError{Name: string(c)}
}

func parseOperand(s string) (int32, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, err
	}
	return int32(v), nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
