package llm

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	// KindConfig means the provider is missing or not configured; retrying will not help.
	KindConfig ErrorKind = "config"
	// KindCall is a failed or rejected provider call.
	KindCall ErrorKind = "call"
	// KindMalformed means the provider answered but the content was unusable.
	KindMalformed ErrorKind = "malformed"
)

type Error struct {
	Kind     ErrorKind
	Provider string
	Err      error
}

func (e *Error) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("llm %s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("llm %s error (%s): %v", e.Kind, e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func configError(provider string, format string, args ...any) error {
	return &Error{Kind: KindConfig, Provider: provider, Err: fmt.Errorf(format, args...)}
}

func callError(provider string, err error) error {
	return &Error{Kind: KindCall, Provider: provider, Err: err}
}

// Malformed reports a response that could not be used, e.g. unparseable JSON.
func Malformed(provider string, err error) error {
	return &Error{Kind: KindMalformed, Provider: provider, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
