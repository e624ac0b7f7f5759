package utility

import "fmt"

// AppError is a plain message error used where no sentinel is needed.
type AppError struct {
	message string
}

func (e *AppError) Error() string {
	return e.message
}

func Err(m string) error {
	return &AppError{m}
}

func Errf(format string, args ...interface{}) error {
	return &AppError{fmt.Sprintf(format, args...)}
}
