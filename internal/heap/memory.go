// SPDX-License-Identifier: Apache-2.0

package heap

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MapObject is an Object backed by a map. Field values may be Go primitives
// (bool, int, int64, float64, string), *MapObject, Value or nil for a null
// reference.
type MapObject struct {
	Addr   uint64
	Type   string
	Fields map[string]any
}

func (o *MapObject) Address() uint64 { return o.Addr }
func (o *MapObject) TypeName() string { return o.Type }

func (o *MapObject) Field(name string) (Value, bool) {
	raw, ok := o.Fields[name]
	if !ok {
		return Value{}, false
	}
	return toValue(raw), true
}

func toValue(raw any) Value {
	switch v := raw.(type) {
	case nil:
		return NullValue()
	case Value:
		return v
	case bool:
		return BoolValue(v)
	case int:
		return IntValue(int64(v))
	case int32:
		return IntValue(int64(v))
	case int64:
		return IntValue(v)
	case uint64:
		return UintValue(v)
	case float64:
		return FloatValue(v)
	case string:
		return StringValue(v)
	case *MapObject:
		if v == nil {
			return NullValue()
		}
		return ObjectValue(v)
	case Object:
		return ObjectValue(v)
	default:
		return ArrayValue(fmt.Sprint(v))
	}
}

var ErrSnapshotClosed = errors.New("snapshot closed")

// MemorySnapshot keeps objects in discovery order.
type MemorySnapshot struct {
	mu      sync.Mutex
	objects []Object
	closed  bool
}

func NewMemorySnapshot(objects ...Object) *MemorySnapshot {
	return &MemorySnapshot{objects: objects}
}

func (s *MemorySnapshot) Enumerate(ctx context.Context, typeName string, fn func(Object) error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSnapshotClosed
	}
	objects := append([]Object(nil), s.objects...)
	s.mu.Unlock()

	for _, o := range objects {
		if err := ctx.Err(); err != nil {
			return err
		}
		if o.TypeName() != typeName {
			continue
		}
		if err := fn(o); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemorySnapshot) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
