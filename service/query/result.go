// Package query caches contract reads. Each read is keyed by contract,
// function and arguments; results are tri-state so callers can tell "not
// loaded yet" from "loaded" and "failed".
package query

import (
	"fmt"
	"strings"
)

// Status is the load state of a read.
type Status int

const (
	NotLoaded Status = iota
	Loaded
	Failed
)

func (s Status) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	default:
		return "not_loaded"
	}
}

// Result is the outcome of a cached read.
type Result[T any] struct {
	Status Status
	Value  T
	Err    error
}

// Idle is the result of a read that was not issued, typically because an
// argument such as the connected address is absent.
func Idle[T any]() Result[T] {
	return Result[T]{Status: NotLoaded}
}

// Success wraps a loaded value.
func Success[T any](v T) Result[T] {
	return Result[T]{Status: Loaded, Value: v}
}

// Failure wraps a read error.
func Failure[T any](err error) Result[T] {
	return Result[T]{Status: Failed, Err: err}
}

// Ok reports whether the value is loaded.
func (r Result[T]) Ok() bool {
	return r.Status == Loaded
}

// Get returns the value and whether it is loaded.
func (r Result[T]) Get() (T, bool) {
	return r.Value, r.Status == Loaded
}

// OrElse returns the value when loaded, def otherwise.
func (r Result[T]) OrElse(def T) T {
	if r.Status == Loaded {
		return r.Value
	}
	return def
}

// Map transforms a loaded value and keeps the other states.
func Map[T, U any](r Result[T], fn func(T) U) Result[U] {
	switch r.Status {
	case Loaded:
		return Success(fn(r.Value))
	case Failed:
		return Failure[U](r.Err)
	default:
		return Idle[U]()
	}
}

// Key identifies one call signature.
type Key struct {
	Contract string
	Function string
	Args     []string
}

// NewKey builds a key; args are rendered with %v.
func NewKey(contract, function string, args ...interface{}) Key {
	k := Key{Contract: strings.ToLower(contract), Function: function}
	for _, a := range args {
		k.Args = append(k.Args, strings.ToLower(fmt.Sprint(a)))
	}
	return k
}

func (k Key) String() string {
	return k.Contract + "." + k.Function + "(" + strings.Join(k.Args, ",") + ")"
}

// HasArg reports whether any argument equals v, ignoring case.
func (k Key) HasArg(v string) bool {
	v = strings.ToLower(v)
	for _, a := range k.Args {
		if a == v {
			return true
		}
	}
	return false
}
