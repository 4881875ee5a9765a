// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"errors"
	"fmt"
)

var ErrMalformedRecord = errors.New("malformed record")
var ErrAcquisitionFailure = errors.New("snapshot acquisition failed")
var ErrDrainTimeout = errors.New("drain timeout")

// MalformedRecordError describes one heap object that could not be turned into
// a Visit. Address and TypeName locate the object in the dump.
type MalformedRecordError struct {
	Address  uint64
	TypeName string
	Field    string
	Reason   string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record at 0x%x (%s): field %s: %s", e.Address, e.TypeName, e.Field, e.Reason)
}

func (e *MalformedRecordError) Unwrap() error {
	return ErrMalformedRecord
}
