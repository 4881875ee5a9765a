// SPDX-License-Identifier: Apache-2.0

// Package jsondump reads a heap export written as newline-delimited JSON, one
// object per line:
//
//	{"address":"0x2b1c3f0","type":"Bugfree.Spo.Analytics.Cli.Domain+Visit","fields":{...}}
//
// Nested objects are either full records with their own address/type/fields
// or plain JSON objects whose keys are field names. JSON null is a null
// reference.
package jsondump

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/ronnieholm/spo-analytics/internal/heap"
	"github.com/tidwall/gjson"
)

const maxLineBytes = 16 << 20

var ErrCorruptExport = errors.New("corrupt heap export")

type Snapshot struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	closed bool
}

// Open validates that path is readable. Objects are streamed on Enumerate.
func Open(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open heap export: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat heap export: %w", err)
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("open heap export: %s is a directory", path)
	}
	return &Snapshot{path: path, file: f}, nil
}

func (s *Snapshot) Enumerate(ctx context.Context, typeName string, fn func(heap.Object) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return heap.ErrSnapshotClosed
	}
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind heap export: %w", err)
	}

	scanner := bufio.NewScanner(s.file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return err
		}

		raw := scanner.Bytes()
		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}
		if !gjson.ValidBytes(raw) {
			return fmt.Errorf("%w: %s:%d: invalid json", ErrCorruptExport, s.path, line)
		}

		rec := gjson.ParseBytes(raw)
		if !rec.IsObject() {
			return fmt.Errorf("%w: %s:%d: expected object", ErrCorruptExport, s.path, line)
		}
		if rec.Get("type").String() != typeName {
			continue
		}

		obj, err := newObject(rec)
		if err != nil {
			return fmt.Errorf("%w: %s:%d: %v", ErrCorruptExport, s.path, line, err)
		}
		if err := fn(obj); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptExport, s.path, err)
	}
	return nil
}

func (s *Snapshot) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}

type object struct {
	addr   uint64
	typ    string
	fields gjson.Result
}

func newObject(rec gjson.Result) (*object, error) {
	addr, err := parseAddress(rec.Get("address"))
	if err != nil {
		return nil, err
	}
	fields := rec.Get("fields")
	if fields.Exists() && !fields.IsObject() {
		return nil, errors.New("fields must be an object")
	}
	return &object{addr: addr, typ: rec.Get("type").String(), fields: fields}, nil
}

func parseAddress(r gjson.Result) (uint64, error) {
	switch r.Type {
	case gjson.Null:
		return 0, nil
	case gjson.Number:
		return r.Uint(), nil
	case gjson.String:
		s := strings.TrimPrefix(strings.ToLower(r.Str), "0x")
		addr, err := strconv.ParseUint(s, 16, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid address %q", r.Str)
		}
		return addr, nil
	default:
		return 0, fmt.Errorf("invalid address %s", r.Raw)
	}
}

func (o *object) Address() uint64  { return o.addr }
func (o *object) TypeName() string { return o.typ }

func (o *object) Field(name string) (heap.Value, bool) {
	if !o.fields.Exists() {
		return heap.Value{}, false
	}
	r := o.fields.Get(gjson.Escape(name))
	if !r.Exists() {
		return heap.Value{}, false
	}
	return toValue(r), true
}

func toValue(r gjson.Result) heap.Value {
	switch r.Type {
	case gjson.Null:
		return heap.NullValue()
	case gjson.True:
		return heap.BoolValue(true)
	case gjson.False:
		return heap.BoolValue(false)
	case gjson.Number:
		if i, err := strconv.ParseInt(r.Raw, 10, 64); err == nil {
			return heap.IntValue(i)
		}
		// Packed fields like DateTime.dateData use the sign bit; parsing them
		// as a double would drop the low bits.
		if u, err := strconv.ParseUint(r.Raw, 10, 64); err == nil {
			return heap.UintValue(u)
		}
		return heap.FloatValue(r.Num)
	case gjson.String:
		return heap.StringValue(r.Str)
	}

	if r.IsObject() {
		if r.Get("fields").IsObject() {
			addr, _ := parseAddress(r.Get("address"))
			return heap.ObjectValue(&object{addr: addr, typ: r.Get("type").String(), fields: r.Get("fields")})
		}
		return heap.ObjectValue(&object{fields: r})
	}

	return heap.ArrayValue(r.Raw)
}
