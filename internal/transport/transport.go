// Package transport defines the email transport contract and the error
// taxonomy the retry policy classifies against.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// Message is one outbound email.
type Message struct {
	FromName  string
	FromEmail string
	To        string
	Subject   string
	HTML      string
	Text      string
}

// Result carries the provider's message id for event correlation.
type Result struct {
	ProviderMessageID string
}

type Transport interface {
	Send(ctx context.Context, msg *Message) (*Result, error)
}

// ErrorClass partitions transport failures for the retry policy.
type ErrorClass int

const (
	// Retryable covers timeouts, 5xx responses, and throttling.
	Retryable ErrorClass = iota
	// Terminal covers invalid addresses and hard provider rejections;
	// only the recipient fails.
	Terminal
	// Fatal covers auth and configuration failures that doom every
	// remaining recipient; the run aborts.
	Fatal
)

func (c ErrorClass) String() string {
	switch c {
	case Retryable:
		return "retryable"
	case Terminal:
		return "terminal"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a classified transport failure.
type Error struct {
	Class ErrorClass
	Code  string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport error (%s, %s): %v", e.Class, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func NewRetryable(code string, err error) *Error {
	return &Error{Class: Retryable, Code: code, Err: err}
}

func NewTerminal(code string, err error) *Error {
	return &Error{Class: Terminal, Code: code, Err: err}
}

func NewFatal(code string, err error) *Error {
	return &Error{Class: Fatal, Code: code, Err: err}
}

// Classify maps an error from a Send call to its class. Unclassified
// errors (including context timeouts) are treated as retryable so a
// flaky provider never terminally fails a recipient on one attempt.
func Classify(err error) ErrorClass {
	var terr *Error
	if errors.As(err, &terr) {
		return terr.Class
	}
	return Retryable
}
