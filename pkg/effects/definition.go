package effects

import (
	"context"
	"encoding/json"
	"fmt"
)

// Definition is an external, idempotent call that can be memoized by the EffectCache.
// Invoke must be pure with respect to input for cached results to be sound.
type Definition interface {
	Id() string
	Invoke(ctx context.Context, input []byte) ([]byte, error)
}

// Caller is the effect surface exposed to handler code.
type Caller interface {
	Call(ctx context.Context, effectId string, input any) ([]byte, error)
}

// Effect is a typed Definition. Inputs and outputs are JSON encoded so results can be
// persisted and shared across process restarts.
type Effect[I any, O any] struct {
	id string
	fn func(ctx context.Context, input I) (O, error)
}

func NewEffect[I any, O any](id string, fn func(ctx context.Context, input I) (O, error)) *Effect[I, O] {
	return &Effect[I, O]{
		id: id,
		fn: fn,
	}
}

func (e *Effect[I, O]) Id() string {
	return e.id
}

func (e *Effect[I, O]) Invoke(ctx context.Context, input []byte) ([]byte, error) {
	var in I
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("failed to decode input for effect %s: %w", e.id, err)
	}
	out, err := e.fn(ctx, in)
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// Call runs the effect through caller and decodes the result.
func (e *Effect[I, O]) Call(ctx context.Context, caller Caller, input I) (O, error) {
	var out O
	raw, err := caller.Call(ctx, e.id, input)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("failed to decode output for effect %s: %w", e.id, err)
	}
	return out, nil
}
