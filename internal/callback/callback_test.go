package callback

import (
	"errors"
	"testing"
)

func TestInvokeOptionalEmptyIsNoop(t *testing.T) {
	var r Ref
	got, err := r.Invoke(false, 1, 2)
	if err != nil || got != nil {
		t.Fatalf("optional empty invoke = (%v, %v), want (nil, nil)", got, err)
	}
}

func TestInvokeRequiredEmptyReturnsErrMissing(t *testing.T) {
	var r Ref
	_, err := r.Invoke(true)
	if !errors.Is(err, ErrMissing) {
		t.Fatalf("required empty invoke err = %v, want ErrMissing", err)
	}
}

func TestInvokeDirect(t *testing.T) {
	r := New("double", func(args ...any) (any, error) {
		return args[0].(int) * 2, nil
	})
	got, err := r.Invoke(true, 21)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got.(int) != 42 {
		t.Errorf("got %v, want 42", got)
	}
}

type recorder struct{ calls []string }

func (r *recorder) OnFork(pid int, identifier string) (any, error) {
	r.calls = append(r.calls, identifier)
	return nil, nil
}

func TestMethodResolvesBoundMethod(t *testing.T) {
	rec := &recorder{}
	ref, err := Method(rec, "OnFork")
	if err != nil {
		t.Fatalf("Method: %v", err)
	}
	if _, err := ref.Invoke(true, 1234, "batch-1"); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if len(rec.calls) != 1 || rec.calls[0] != "batch-1" {
		t.Errorf("calls = %v", rec.calls)
	}
}

func TestMethodUnresolvableReturnsError(t *testing.T) {
	rec := &recorder{}
	if _, err := Method(rec, "NoSuchMethod"); err == nil {
		t.Fatal("expected error for unresolvable method")
	}
}
