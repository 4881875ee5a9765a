// SPDX-License-Identifier: Apache-2.0

// Package heap exposes read-only views over objects recovered from a process
// memory snapshot. Field access never panics: a missing field and a field of
// an unexpected shape are both reported to the caller.
package heap

import "context"

// Object is a read-only named-field accessor over one heap-resident object.
type Object interface {
	Address() uint64
	TypeName() string
	// Field returns the raw value of the named field. The bool is false when
	// the object layout has no such field.
	Field(name string) (Value, bool)
}

// Snapshot enumerates heap objects. Enumeration order is whatever the
// underlying dump yields and carries no temporal meaning.
type Snapshot interface {
	Enumerate(ctx context.Context, typeName string, fn func(Object) error) error
	Close() error
}
