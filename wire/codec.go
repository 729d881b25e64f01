package wire

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/taskmesh/taskmesh/internal/taskerr"
)

var api = jsoniter.ConfigCompatibleWithStandardLibrary

// stored is the envelope every payload frame is wrapped in before hitting
// the wire, so a receiving rank can tell a genuine value apart from a
// recorded task failure without attempting to type-assert the raw bytes.
type stored struct {
	Failure *taskerr.Failure `json:"failure,omitempty"`
	Value   jsoniter.RawMessage `json:"value,omitempty"`
}

// Codec serializes object-store values for transmission and caching.
// A *taskerr.Failure is recognized specially so a task's recorded error
// round-trips as a Failure rather than as an opaque blob: Decode returns
// it directly as an error, letting Get re-raise it on the caller's behalf.
type Codec struct{}

// NewCodec returns a ready-to-use Codec.
func NewCodec() Codec { return Codec{} }

// Encode marshals v into its wire form. If v is a *taskerr.Failure it is
// carried in the failure slot instead of the value slot.
func (Codec) Encode(v any) ([]byte, error) {
	if f, ok := v.(*taskerr.Failure); ok {
		return api.Marshal(stored{Failure: f})
	}
	raw, err := api.Marshal(v)
	if err != nil {
		return nil, err
	}
	return api.Marshal(stored{Value: raw})
}

// Decode unmarshals a wire-form payload into out. If the payload carries a
// recorded failure, Decode ignores out and returns the *taskerr.Failure as
// an error so callers can propagate it directly.
func (Codec) Decode(data []byte, out any) error {
	var s stored
	if err := api.Unmarshal(data, &s); err != nil {
		return err
	}
	if s.Failure != nil {
		return s.Failure
	}
	if s.Value == nil {
		return nil
	}
	return api.Unmarshal(s.Value, out)
}

// DecodeAny is like Decode but returns the failure or a generic value
// without requiring the caller to know the target type in advance; the
// controller's Get uses it to decode values fetched from another rank.
func (c Codec) DecodeAny(data []byte) (any, error) {
	var s stored
	if err := api.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.Failure != nil {
		return nil, s.Failure
	}
	var v any
	if s.Value == nil {
		return nil, nil
	}
	if err := api.Unmarshal(s.Value, &v); err != nil {
		return nil, err
	}
	return v, nil
}
