// SPDX-License-Identifier: Apache-2.0

// Package reconstruct maps raw heap objects onto typed domain records. All
// raw field access for a Visit happens here.
package reconstruct

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/ronnieholm/spo-analytics/internal/domain"
	"github.com/ronnieholm/spo-analytics/internal/heap"
)

// Backing field names the F# compiler emits for the Visit record.
const (
	FieldCorrelationID     = "CorrelationId@"
	FieldTimestamp         = "Timestamp@"
	FieldLoginName         = "LoginName@"
	FieldSiteCollectionURL = "SiteCollectionUrl@"
	FieldVisitURL          = "VisitUrl@"
	FieldPageLoadTime      = "PageLoadTime@"
	FieldIP                = "IP@"
	FieldUserAgent         = "UserAgent@"

	// optionValueField is the payload field of FSharpOption<T>.
	optionValueField = "value"
)

// .NET DateTime ticks are 100ns intervals since 0001-01-01 UTC. The top two
// bits of dateData carry DateTimeKind.
const (
	ticksPerSecond   = 10_000_000
	unixEpochTicks   = 621_355_968_000_000_000
	dateDataTicksMsk = 0x3FFFFFFFFFFFFFFF
)

// Visit reconstructs one Visit from obj. Failures are
// *domain.MalformedRecordError naming the offending field.
func Visit(obj heap.Object) (domain.Visit, error) {
	r := reader{obj: obj}

	var v domain.Visit
	v.CorrelationID = r.guid(FieldCorrelationID)
	v.Timestamp = r.timestamp(FieldTimestamp)
	v.LoginName = r.text(FieldLoginName)
	v.SiteCollectionURL = r.text(FieldSiteCollectionURL)
	v.VisitURL = r.text(FieldVisitURL)
	v.PageLoadTime = r.optionalInt(FieldPageLoadTime)
	v.SourceAddress = r.ip(FieldIP)
	v.UserAgent = r.optionalText(FieldUserAgent)

	if r.err != nil {
		return domain.Visit{}, r.err
	}
	return v, nil
}

// reader records the first failure and turns later reads into no-ops.
type reader struct {
	obj heap.Object
	err *domain.MalformedRecordError
}

func (r *reader) fail(field, format string, args ...any) {
	if r.err != nil {
		return
	}
	r.err = &domain.MalformedRecordError{
		Address:  r.obj.Address(),
		TypeName: r.obj.TypeName(),
		Field:    field,
		Reason:   fmt.Sprintf(format, args...),
	}
}

func (r *reader) required(field string) (heap.Value, bool) {
	if r.err != nil {
		return heap.Value{}, false
	}
	v, ok := r.obj.Field(field)
	if !ok {
		r.fail(field, "missing")
		return heap.Value{}, false
	}
	if v.IsNull() {
		r.fail(field, "null")
		return heap.Value{}, false
	}
	return v, true
}

func (r *reader) text(field string) string {
	v, ok := r.required(field)
	if !ok {
		return ""
	}
	s, ok := v.Text()
	if !ok {
		r.fail(field, "expected string, got %s", v.Kind())
	}
	return s
}

func (r *reader) guid(field string) uuid.UUID {
	v, ok := r.required(field)
	if !ok {
		return uuid.Nil
	}
	s, ok := v.Text()
	if !ok {
		r.fail(field, "expected guid string, got %s", v.Kind())
		return uuid.Nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		r.fail(field, "invalid guid %q", s)
		return uuid.Nil
	}
	return id
}

// timestamp accepts RFC 3339 text, raw .NET ticks, or a DateTime struct
// exposing its dateData field.
func (r *reader) timestamp(field string) time.Time {
	v, ok := r.required(field)
	if !ok {
		return time.Time{}
	}

	switch v.Kind() {
	case heap.KindString:
		s, _ := v.Text()
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			r.fail(field, "invalid timestamp %q", s)
			return time.Time{}
		}
		return ts.UTC()
	case heap.KindInt, heap.KindUint, heap.KindFloat:
		ticks, ok := v.Int()
		if !ok || ticks < 0 {
			r.fail(field, "invalid ticks")
			return time.Time{}
		}
		return fromTicks(ticks)
	case heap.KindObject:
		obj, _ := v.Object()
		data, ok := obj.Field("dateData")
		if !ok {
			data, ok = obj.Field("_dateData")
		}
		if !ok {
			r.fail(field, "DateTime without dateData")
			return time.Time{}
		}
		raw, ok := data.Bits()
		if !ok {
			r.fail(field, "dateData is %s", data.Kind())
			return time.Time{}
		}
		// Local kind ticks are the dumped process's wall clock. The dump
		// does not carry that zone, so they are read as UTC unchanged.
		return fromTicks(int64(raw & dateDataTicksMsk))
	default:
		r.fail(field, "unsupported timestamp shape %s", v.Kind())
		return time.Time{}
	}
}

func fromTicks(ticks int64) time.Time {
	unixTicks := ticks - unixEpochTicks
	sec := unixTicks / ticksPerSecond
	nsec := (unixTicks % ticksPerSecond) * 100
	return time.Unix(sec, nsec).UTC()
}

// ip accepts textual addresses or a System.Net.IPAddress object holding an
// IPv4 address in m_Address / _addressOrScopeId.
func (r *reader) ip(field string) netip.Addr {
	v, ok := r.required(field)
	if !ok {
		return netip.Addr{}
	}

	switch v.Kind() {
	case heap.KindString:
		s, _ := v.Text()
		addr, err := netip.ParseAddr(s)
		if err != nil {
			r.fail(field, "invalid address %q", s)
			return netip.Addr{}
		}
		return addr
	case heap.KindObject:
		obj, _ := v.Object()
		for _, name := range []string{"m_Address", "_addressOrScopeId"} {
			f, ok := obj.Field(name)
			if !ok {
				continue
			}
			raw, ok := f.Int()
			if !ok || raw < 0 || raw > 0xFFFFFFFF {
				r.fail(field, "invalid %s", name)
				return netip.Addr{}
			}
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], uint32(raw))
			return netip.AddrFrom4(b)
		}
		r.fail(field, "IPAddress without IPv4 payload")
		return netip.Addr{}
	default:
		r.fail(field, "unsupported address shape %s", v.Kind())
		return netip.Addr{}
	}
}

// option resolves an FSharpOption field. A null reference is None. A missing
// field and a Some wrapping a null payload are treated as None as well.
func (r *reader) option(field string) (heap.Value, bool) {
	if r.err != nil {
		return heap.Value{}, false
	}
	v, ok := r.obj.Field(field)
	if !ok || v.IsNull() {
		return heap.Value{}, false
	}
	wrapper, ok := v.Object()
	if !ok {
		r.fail(field, "expected option object, got %s", v.Kind())
		return heap.Value{}, false
	}
	payload, ok := wrapper.Field(optionValueField)
	if !ok || payload.IsNull() {
		return heap.Value{}, false
	}
	return payload, true
}

func (r *reader) optionalInt(field string) domain.Optional[int] {
	payload, ok := r.option(field)
	if !ok {
		return domain.None[int]()
	}
	i, ok := payload.Int()
	if !ok {
		r.fail(field, "expected int payload, got %s", payload.Kind())
		return domain.None[int]()
	}
	if i < 0 || i > int64(^uint32(0)>>1) {
		r.fail(field, "out of range %d", i)
		return domain.None[int]()
	}
	return domain.Some(int(i))
}

func (r *reader) optionalText(field string) domain.Optional[string] {
	payload, ok := r.option(field)
	if !ok {
		return domain.None[string]()
	}
	s, ok := payload.Text()
	if !ok {
		r.fail(field, "expected string payload, got %s", payload.Kind())
		return domain.None[string]()
	}
	return domain.Some(s)
}
