package session

import "fmt"

// Category classifies a bootstrap failure and fixes its recovery policy:
// fatal errors block with a retry affordance, fail-closed errors default
// to the more restrictive steady state, fail-open errors route to the
// login screen, and timeouts force whatever steady state the partial
// results support.
type Category string

const (
	CategoryFatal      Category = "fatal"
	CategoryFailClosed Category = "fail_closed"
	CategoryFailOpen   Category = "fail_open"
	CategoryTimeout    Category = "timeout"
)

// Error is a categorized bootstrap error. Only CategoryFatal and
// CategoryTimeout errors ever surface to the user; the rest resolve
// silently into a steady state.
type Error struct {
	Category Category
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func fatalf(format string, args ...any) *Error {
	return &Error{Category: CategoryFatal, Err: fmt.Errorf(format, args...)}
}

func timeoutf(format string, args ...any) *Error {
	return &Error{Category: CategoryTimeout, Err: fmt.Errorf(format, args...)}
}
