package calculator

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Operation is one of the four supported arithmetic operations.
type Operation int

const (
	Add Operation = iota
	Subtract
	Multiply
	Divide
)

const (
	CommandAdd      = "/add"
	CommandSubtract = "/subtract"
	CommandMultiply = "/multiply"
	CommandDivide   = "/divide"
)

var commandOperations = map[string]Operation{
	CommandAdd:      Add,
	CommandSubtract: Subtract,
	CommandMultiply: Multiply,
	CommandDivide:   Divide,
}

// Symbol returns the operator used when rendering an expression.
func (o Operation) Symbol() string {
	switch o {
	case Add:
		return "+"
	case Subtract:
		return "-"
	case Multiply:
		return "*"
	case Divide:
		return "/"
	default:
		return "?"
	}
}

// InvalidCommandError is returned for a slash command that is not one of the four operations.
type InvalidCommandError struct {
	Command string
}

func (e *InvalidCommandError) Error() string {
	return fmt.Sprintf("Command '%s' is invalid. Valid options include '%s', '%s', '%s' and '%s'.",
		e.Command, CommandAdd, CommandSubtract, CommandMultiply, CommandDivide)
}

// InvalidTextError is returned when the command text is not two numbers.
type InvalidTextError struct {
	Text string
}

func (e *InvalidTextError) Error() string {
	return fmt.Sprintf("Input '%s' is not valid. Expected input to be of the form: 'num1 num2'.", e.Text)
}

// Expression is a parsed slash command.
type Expression struct {
	First     float64
	Operation Operation
	Second    float64
}

// IsCommand reports whether command names one of the supported operations.
func IsCommand(command string) bool {
	_, ok := commandOperations[command]
	return ok
}

// ParseExpression builds an Expression from a slash command such as "/add"
// and its text such as "4 5". The two numbers must be separated by exactly
// one space.
func ParseExpression(command, text string) (Expression, error) {
	op, ok := commandOperations[command]
	if !ok {
		return Expression{}, &InvalidCommandError{Command: command}
	}

	parts := strings.Split(strings.TrimSpace(text), " ")
	if len(parts) != 2 {
		return Expression{}, &InvalidTextError{Text: text}
	}

	first, err := parseNumber(parts[0])
	if err != nil {
		return Expression{}, &InvalidTextError{Text: text}
	}
	second, err := parseNumber(parts[1])
	if err != nil {
		return Expression{}, &InvalidTextError{Text: text}
	}

	return Expression{First: first, Operation: op, Second: second}, nil
}

func parseNumber(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("not a finite number: %s", s)
	}
	return v, nil
}

func (e Expression) String() string {
	return FormatNumber(e.First) + " " + e.Operation.Symbol() + " " + FormatNumber(e.Second)
}

// FormatNumber renders v with the fewest digits that round-trip.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
