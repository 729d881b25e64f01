package wire

import (
	"errors"
	"testing"

	"github.com/taskmesh/taskmesh/internal/taskerr"
)

func TestCodec_RoundTripsPlainValue(t *testing.T) {
	c := NewCodec()

	data, err := c.Encode(42)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var out int
	if err := c.Decode(data, &out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out != 42 {
		t.Errorf("got %d, want 42", out)
	}
}

func TestCodec_RoundTripsFailure(t *testing.T) {
	c := NewCodec()
	f := taskerr.New("add", errors.New("divide by zero"))

	data, err := c.Encode(f)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var out int
	err = c.Decode(data, &out)
	if err == nil {
		t.Fatalf("expected a failure error, got nil")
	}
	var got *taskerr.Failure
	if !errors.As(err, &got) {
		t.Fatalf("expected *taskerr.Failure, got %T", err)
	}
	if got.TaskName != "add" || got.Message != "divide by zero" {
		t.Errorf("got %+v, want task=add message=divide by zero", got)
	}
}

func TestCodec_DecodeAnyDistinguishesFailure(t *testing.T) {
	c := NewCodec()
	f := taskerr.NewPanic("boom", "nil pointer")

	data, err := c.Encode(f)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	v, err := c.DecodeAny(data)
	if v != nil {
		t.Errorf("expected nil value alongside failure, got %v", v)
	}
	var got *taskerr.Failure
	if !errors.As(err, &got) || !got.Panicked {
		t.Fatalf("expected panicked failure, got %#v err=%v", got, err)
	}
}
