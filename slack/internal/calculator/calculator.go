package calculator

import (
	"errors"
	"fmt"
)

var ErrDivisionByZero = errors.New("Unable to perform calculation. Cannot divide by 0.")

// Calculate evaluates e.
func Calculate(e Expression) (float64, error) {
	switch e.Operation {
	case Add:
		return e.First + e.Second, nil
	case Subtract:
		return e.First - e.Second, nil
	case Multiply:
		return e.First * e.Second, nil
	case Divide:
		if e.Second == 0 {
			return 0, ErrDivisionByZero
		}
		return e.First / e.Second, nil
	default:
		return 0, fmt.Errorf("unknown operation %d", int(e.Operation))
	}
}
