// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"net/netip"
	"time"

	"github.com/google/uuid"
)

// Visit is one page-view event recovered from a memory snapshot. It is passed
// by value and never mutated after reconstruction.
type Visit struct {
	CorrelationID     uuid.UUID
	Timestamp         time.Time
	LoginName         string
	SiteCollectionURL string
	VisitURL          string
	// PageLoadTime is in milliseconds and only present when the browser load
	// event fired before the page was torn down.
	PageLoadTime  Optional[int]
	SourceAddress netip.Addr
	UserAgent     Optional[string]
}
