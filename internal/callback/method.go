package callback

import (
	"fmt"
	"reflect"
)

// Method builds a Ref from a (receiver, methodName) pair — the second
// resolution path the source supports ("method on a provided object").
// Resolution happens immediately: if receiver has no exported method by
// that name, Method returns a non-nil error so registration fails fast
// instead of discovering the problem the first time the callback fires.
func Method(receiver any, methodName string) (Ref, error) {
	v := reflect.ValueOf(receiver)
	m := v.MethodByName(methodName)
	if !m.IsValid() {
		return Ref{}, fmt.Errorf("callback: no method %q on %T", methodName, receiver)
	}

	fn := func(args ...any) (any, error) {
		in := make([]reflect.Value, len(args))
		for i, a := range args {
			in[i] = reflect.ValueOf(a)
		}
		out := m.Call(in)
		return methodResult(out)
	}

	return Ref{fn: fn, name: fmt.Sprintf("%T.%s", receiver, methodName)}, nil
}

// methodResult adapts a reflected call's return values to (any, error).
// Callbacks in this package return either (any, error), (error), or
// nothing; any other shape is a programmer error caught at Method()
// registration time by the caller's own tests, not here.
func methodResult(out []reflect.Value) (any, error) {
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if err, ok := out[0].Interface().(error); ok {
			return nil, err
		}
		return out[0].Interface(), nil
	default:
		var err error
		if e, ok := out[1].Interface().(error); ok {
			err = e
		}
		return out[0].Interface(), err
	}
}
