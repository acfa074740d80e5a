// Package callback implements the supervisor's uniform optional/required
// callback contract. A runtime "method on self / method on object /
// free function" symbolic lookup is replaced with an explicit value
// type whose resolvability is checked once, at registration time.
package callback

import (
	"errors"
	"fmt"

	"github.com/mattjoyce/dispatchd/internal/log"
)

// ErrMissing is returned by Invoke when a required callback's Ref is
// empty.
var ErrMissing = errors.New("callback: required callback not registered")

// Func is a user-supplied callback. Args and return value are untyped
// because each callback slot (child-run, child-exit, parent-fork, ...)
// has its own argument shape; call sites know what they passed and what
// they expect back.
type Func func(args ...any) (any, error)

// Ref is an optional callback slot. The zero value is "unregistered".
type Ref struct {
	fn   Func
	name string
}

// New wraps fn as a resolvable Ref. name is used only for logging.
func New(name string, fn Func) Ref {
	return Ref{fn: fn, name: name}
}

// Empty reports whether the slot has no registered callback.
func (r Ref) Empty() bool { return r.fn == nil }

// Name returns the ref's diagnostic name ("" if never registered).
func (r Ref) Name() string { return r.name }

// Invoke calls the referenced callback. When the ref is empty: if
// required is true, returns ErrMissing after logging at CRIT; if
// false, it is a silent no-op returning (nil, nil).
func (r Ref) Invoke(required bool, args ...any) (any, error) {
	if r.fn == nil {
		if required {
			log.Crit("required callback not registered", "callback", r.name)
			return nil, fmt.Errorf("%w: %s", ErrMissing, r.name)
		}
		return nil, nil
	}
	return r.fn(args...)
}
