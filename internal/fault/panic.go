package fault

import (
	"fmt"

	"github.com/tuncerburak97/bugatlas/internal/classify"
)

const panicName = "panic"

// PanicError carries a recovered panic value and the stack it was raised on.
type PanicError struct {
	Value any
	stack string
}

func NewPanicError(v any, stack []byte) *PanicError {
	return &PanicError{Value: v, stack: string(stack)}
}

func (e *PanicError) Error() string {
	if err, ok := e.Value.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(e.Value)
}

func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// Name reports the name of the panicking error, or "panic" for other values.
func (e *PanicError) Name() string {
	if err, ok := e.Value.(error); ok {
		return classify.NameOf(err)
	}
	return panicName
}

func (e *PanicError) Stack() string {
	return e.stack
}
