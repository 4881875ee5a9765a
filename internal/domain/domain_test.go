// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestStageConstants(t *testing.T) {
	want := []string{"SCANNING", "RECONSTRUCTING", "ORDERING", "DISPATCHING", "DRAINING", "DONE"}
	if len(Stages) != len(want) {
		t.Fatalf("expected %d stages, got %d", len(want), len(Stages))
	}
	for i, s := range Stages {
		if string(s) != want[i] {
			t.Fatalf("unexpected stage %d: %s", i, s)
		}
	}
}

func TestOptionalPresentZeroIsNotAbsent(t *testing.T) {
	zero := Some(0)
	v, ok := zero.Get()
	if !ok || v != 0 {
		t.Fatalf("expected present(0), got (%d, %v)", v, ok)
	}

	empty := Some("")
	if !empty.IsPresent() {
		t.Fatal("expected empty string to be present")
	}

	absent := None[int]()
	if absent.IsPresent() {
		t.Fatal("expected absent")
	}
	if got := absent.OrElse(42); got != 42 {
		t.Fatalf("expected fallback 42, got %d", got)
	}

	var zeroValue Optional[string]
	if zeroValue.IsPresent() {
		t.Fatal("expected zero value Optional to be absent")
	}
}

func TestMalformedRecordError(t *testing.T) {
	var err error = &MalformedRecordError{
		Address:  0x2a,
		TypeName: VisitTypeName,
		Field:    "LoginName@",
		Reason:   "missing",
	}

	if !errors.Is(err, ErrMalformedRecord) {
		t.Fatal("expected error to match ErrMalformedRecord")
	}
	if !strings.Contains(err.Error(), "0x2a") || !strings.Contains(err.Error(), "LoginName@") {
		t.Fatalf("unexpected message: %s", err.Error())
	}

	var mre *MalformedRecordError
	if !errors.As(err, &mre) || mre.Field != "LoginName@" {
		t.Fatalf("expected errors.As to recover field, got %+v", mre)
	}
}
