// SPDX-License-Identifier: Apache-2.0

package reconstruct

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/ronnieholm/spo-analytics/internal/domain"
	"github.com/ronnieholm/spo-analytics/internal/heap"
)

const optionType = "Microsoft.FSharp.Core.FSharpOption`1"

func some(v any) *heap.MapObject {
	return &heap.MapObject{Addr: 0x900, Type: optionType, Fields: map[string]any{"value": v}}
}

func validFields() map[string]any {
	return map[string]any{
		FieldCorrelationID:     "3F2504E0-4F89-41D3-9A0C-0305E82C3301",
		FieldTimestamp:         "2016-08-01T18:51:09.123Z",
		FieldLoginName:         "i:0#.f|membership|alice@contoso.com",
		FieldSiteCollectionURL: "https://contoso.sharepoint.com/sites/intranet",
		FieldVisitURL:          "https://contoso.sharepoint.com/sites/intranet/SitePages/Home.aspx",
		FieldPageLoadTime:      some(1250),
		FieldIP:                "10.0.0.7",
		FieldUserAgent:         some("Mozilla/5.0"),
	}
}

func object(fields map[string]any) *heap.MapObject {
	return &heap.MapObject{Addr: 0x1000, Type: domain.VisitTypeName, Fields: fields}
}

func TestVisitValid(t *testing.T) {
	v, err := Visit(object(validFields()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if v.CorrelationID.String() != "3f2504e0-4f89-41d3-9a0c-0305e82c3301" {
		t.Fatalf("unexpected correlation id %s", v.CorrelationID)
	}
	want := time.Date(2016, 8, 1, 18, 51, 9, 123_000_000, time.UTC)
	if !v.Timestamp.Equal(want) {
		t.Fatalf("expected timestamp %s, got %s", want, v.Timestamp)
	}
	if v.LoginName != "i:0#.f|membership|alice@contoso.com" {
		t.Fatalf("unexpected login %s", v.LoginName)
	}
	if v.SourceAddress != netip.MustParseAddr("10.0.0.7") {
		t.Fatalf("unexpected address %s", v.SourceAddress)
	}
	if plt, ok := v.PageLoadTime.Get(); !ok || plt != 1250 {
		t.Fatalf("expected page load time 1250, got %d %v", plt, ok)
	}
	if ua, ok := v.UserAgent.Get(); !ok || ua != "Mozilla/5.0" {
		t.Fatalf("expected user agent, got %q %v", ua, ok)
	}
}

func TestVisitOptionalFidelity(t *testing.T) {
	cases := []struct {
		name        string
		pageLoad    any
		userAgent   any
		wantPLT     bool
		wantPLTVal  int
		wantUA      bool
		wantUAValue string
	}{
		{name: "present zero and empty", pageLoad: some(0), userAgent: some(""), wantPLT: true, wantPLTVal: 0, wantUA: true, wantUAValue: ""},
		{name: "none is null reference", pageLoad: nil, userAgent: nil},
		{name: "some wrapping null", pageLoad: some(nil), userAgent: some(nil)},
		{name: "present values", pageLoad: some(3000), userAgent: some("curl/8.0"), wantPLT: true, wantPLTVal: 3000, wantUA: true, wantUAValue: "curl/8.0"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fields := validFields()
			fields[FieldPageLoadTime] = tc.pageLoad
			fields[FieldUserAgent] = tc.userAgent

			v, err := Visit(object(fields))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			plt, ok := v.PageLoadTime.Get()
			if ok != tc.wantPLT || plt != tc.wantPLTVal {
				t.Fatalf("page load time: expected (%d, %v), got (%d, %v)", tc.wantPLTVal, tc.wantPLT, plt, ok)
			}
			ua, ok := v.UserAgent.Get()
			if ok != tc.wantUA || ua != tc.wantUAValue {
				t.Fatalf("user agent: expected (%q, %v), got (%q, %v)", tc.wantUAValue, tc.wantUA, ua, ok)
			}
		})
	}
}

func TestVisitOptionalFieldMissingFromLayout(t *testing.T) {
	fields := validFields()
	delete(fields, FieldPageLoadTime)
	delete(fields, FieldUserAgent)

	v, err := Visit(object(fields))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.PageLoadTime.IsPresent() || v.UserAgent.IsPresent() {
		t.Fatal("expected optional fields to be absent")
	}
}

func TestVisitRequiredFieldEnforcement(t *testing.T) {
	required := []string{
		FieldCorrelationID,
		FieldTimestamp,
		FieldLoginName,
		FieldSiteCollectionURL,
		FieldVisitURL,
		FieldIP,
	}

	for _, field := range required {
		t.Run(field+" missing", func(t *testing.T) {
			fields := validFields()
			delete(fields, field)
			assertMalformed(t, fields, field)
		})
		t.Run(field+" null", func(t *testing.T) {
			fields := validFields()
			fields[field] = nil
			assertMalformed(t, fields, field)
		})
	}
}

func TestVisitShapeMismatch(t *testing.T) {
	cases := []struct {
		field string
		value any
	}{
		{field: FieldLoginName, value: 42},
		{field: FieldCorrelationID, value: "not-a-guid"},
		{field: FieldTimestamp, value: "yesterday"},
		{field: FieldTimestamp, value: true},
		{field: FieldIP, value: "300.1.1.1"},
		{field: FieldPageLoadTime, value: some("slow")},
		{field: FieldPageLoadTime, value: some(-5)},
		{field: FieldPageLoadTime, value: 1200},
		{field: FieldUserAgent, value: some(7)},
	}

	for _, tc := range cases {
		t.Run(tc.field, func(t *testing.T) {
			fields := validFields()
			fields[tc.field] = tc.value
			assertMalformed(t, fields, tc.field)
		})
	}
}

func TestVisitTimestampFromTicks(t *testing.T) {
	want := time.Date(2016, 8, 1, 18, 51, 9, 0, time.UTC)
	ticks := want.Unix()*ticksPerSecond + unixEpochTicks

	fields := validFields()
	fields[FieldTimestamp] = ticks
	v, err := Visit(object(fields))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Timestamp.Equal(want) {
		t.Fatalf("expected %s, got %s", want, v.Timestamp)
	}

	// DateTimeKind.Utc sets bit 62 of dateData.
	fields[FieldTimestamp] = &heap.MapObject{Type: "System.DateTime", Fields: map[string]any{
		"dateData": int64(uint64(ticks) | 1<<62),
	}}
	v, err = Visit(object(fields))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Timestamp.Equal(want) {
		t.Fatalf("expected %s from dateData, got %s", want, v.Timestamp)
	}
}

func TestVisitTimestampDateDataKinds(t *testing.T) {
	want := time.Date(2016, 8, 1, 22, 0, 0, 0, time.UTC)
	ticks := uint64(636056856000000000)

	cases := map[string]any{
		"unspecified":     int64(ticks),
		"utc":             int64(ticks | 1<<62),
		"local":           ticks | 1<<63,
		"local ambiguous": ticks | 3<<62,
		"local signed":    int64(ticks | 1<<63),
	}
	for name, dateData := range cases {
		t.Run(name, func(t *testing.T) {
			fields := validFields()
			fields[FieldTimestamp] = &heap.MapObject{Type: "System.DateTime", Fields: map[string]any{
				"dateData": dateData,
			}}
			v, err := Visit(object(fields))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !v.Timestamp.Equal(want) {
				t.Fatalf("expected %s, got %s", want, v.Timestamp)
			}
		})
	}

	fields := validFields()
	fields[FieldTimestamp] = &heap.MapObject{Type: "System.DateTime", Fields: map[string]any{
		"dateData": 6.360568560000001e17,
	}}
	assertMalformed(t, fields, FieldTimestamp)
}

func TestVisitArrayInRequiredTextField(t *testing.T) {
	for _, field := range []string{FieldLoginName, FieldSiteCollectionURL, FieldVisitURL, FieldCorrelationID, FieldIP} {
		fields := validFields()
		fields[field] = []string{"alice", "bob"}
		assertMalformed(t, fields, field)
	}

	fields := validFields()
	fields[FieldUserAgent] = some([]string{"Mozilla/5.0"})
	assertMalformed(t, fields, FieldUserAgent)
}

func TestVisitIPAddressObject(t *testing.T) {
	fields := validFields()
	// 192.168.1.20 in memory order.
	fields[FieldIP] = &heap.MapObject{Type: "System.Net.IPAddress", Fields: map[string]any{
		"m_Address": int64(0x1401A8C0),
	}}

	v, err := Visit(object(fields))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.SourceAddress != netip.MustParseAddr("192.168.1.20") {
		t.Fatalf("unexpected address %s", v.SourceAddress)
	}

	fields[FieldIP] = &heap.MapObject{Type: "System.Net.IPAddress", Fields: map[string]any{}}
	assertMalformed(t, fields, FieldIP)
}

func TestVisitReportsFirstFailure(t *testing.T) {
	fields := validFields()
	delete(fields, FieldLoginName)
	delete(fields, FieldVisitURL)

	_, err := Visit(object(fields))
	var mre *domain.MalformedRecordError
	if !errors.As(err, &mre) {
		t.Fatalf("expected MalformedRecordError, got %v", err)
	}
	if mre.Field != FieldLoginName {
		t.Fatalf("expected first failing field %s, got %s", FieldLoginName, mre.Field)
	}
}

func assertMalformed(t *testing.T, fields map[string]any, field string) {
	t.Helper()

	v, err := Visit(object(fields))
	if !errors.Is(err, domain.ErrMalformedRecord) {
		t.Fatalf("expected ErrMalformedRecord for %s, got %v", field, err)
	}
	var mre *domain.MalformedRecordError
	if !errors.As(err, &mre) {
		t.Fatalf("expected MalformedRecordError, got %T", err)
	}
	if mre.Field != field {
		t.Fatalf("expected field %s, got %s", field, mre.Field)
	}
	if mre.Address != 0x1000 || mre.TypeName != domain.VisitTypeName {
		t.Fatalf("expected object identity in error, got 0x%x %s", mre.Address, mre.TypeName)
	}
	if v != (domain.Visit{}) {
		t.Fatal("expected zero Visit on failure")
	}
}
